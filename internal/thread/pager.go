package thread

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"wainbox/server/internal/models"
)

// DefaultPageSize is the number of messages fetched per page
const DefaultPageSize = 1000

// ErrStale is returned when a page completes after the thread was reset
var ErrStale = errors.New("thread: result belongs to a previous conversation")

// MessageFetcher reads message history, newest first. When before is set only
// messages created strictly before it are returned.
type MessageFetcher interface {
	FetchMessages(ctx context.Context, chatID int64, before *time.Time, limit int) ([]models.Message, error)
}

// Ticket describes one page fetch in flight
type Ticket struct {
	ChatID     int64
	Before     time.Time
	Limit      int
	Generation uint64
}

// Page is the outcome of loading one page of older history
type Page struct {
	Changes   []Change
	Anchor    string // Key of the row that was first before the page was added
	Exhausted bool
}

// Pager loads older history for one conversation, one page at a time
type Pager struct {
	fetcher   MessageFetcher
	size      int
	chatID    int64
	inFlight  bool
	exhausted bool
}

// NewPager creates a pager that fetches size messages per page
func NewPager(fetcher MessageFetcher, size int) *Pager {
	if size <= 0 {
		size = DefaultPageSize
	}
	return &Pager{fetcher: fetcher, size: size}
}

// Reset points the pager at another conversation and clears its state
func (p *Pager) Reset(chatID int64) {
	p.chatID = chatID
	p.inFlight = false
	p.exhausted = false
}

// Exhausted reports whether the store has no older history left
func (p *Pager) Exhausted() bool {
	return p.exhausted
}

// Loading reports whether a fetch is in flight
func (p *Pager) Loading() bool {
	return p.inFlight
}

// MarkExhausted stops further paging, e.g. after the first page came back empty
func (p *Pager) MarkExhausted() {
	p.exhausted = true
}

// Begin claims the single fetch slot. It returns false while a fetch is in
// flight or once history is exhausted.
func (p *Pager) Begin(before time.Time, generation uint64) (Ticket, bool) {
	if p.inFlight || p.exhausted || p.chatID == 0 {
		return Ticket{}, false
	}
	p.inFlight = true
	return Ticket{
		ChatID:     p.chatID,
		Before:     before,
		Limit:      p.size,
		Generation: generation,
	}, true
}

// Fetch runs the query for a ticket and returns the page in ascending order.
// It does not touch pager state and may run on any goroutine.
func (p *Pager) Fetch(ctx context.Context, t Ticket) ([]Record, error) {
	before := t.Before
	msgs, err := p.fetcher.FetchMessages(ctx, t.ChatID, &before, t.Limit)
	if err != nil {
		return nil, fmt.Errorf("fetch page before %s: %w", before.Format(time.RFC3339), err)
	}
	slices.Reverse(msgs)
	return FromMessages(msgs), nil
}

// Latest fetches the newest page of a conversation in ascending order. Like
// Fetch it leaves pager state alone.
func (p *Pager) Latest(ctx context.Context, chatID int64) ([]Record, error) {
	msgs, err := p.fetcher.FetchMessages(ctx, chatID, nil, p.size)
	if err != nil {
		return nil, fmt.Errorf("fetch latest messages: %w", err)
	}
	slices.Reverse(msgs)
	return FromMessages(msgs), nil
}

// Complete releases the fetch slot. Results from an older generation are
// rejected with ErrStale and leave the pager untouched. An empty page marks
// history exhausted.
func (p *Pager) Complete(t Ticket, generation uint64, recs []Record, err error) error {
	if t.Generation != generation {
		return ErrStale
	}
	p.inFlight = false
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		p.exhausted = true
	}
	return nil
}

// LoadOlder fetches the page before the given time and prepends it to r. It
// is the synchronous form of Begin, Fetch and Complete. When the call is
// suppressed (in flight or exhausted) it returns an empty page.
func (p *Pager) LoadOlder(ctx context.Context, r *Reconciler, before time.Time) (Page, error) {
	t, ok := p.Begin(before, r.Generation())
	if !ok {
		return Page{Exhausted: p.exhausted}, nil
	}
	recs, fetchErr := p.Fetch(ctx, t)
	if err := p.Complete(t, r.Generation(), recs, fetchErr); err != nil {
		return Page{}, err
	}
	changes, anchor := r.Prepend(recs)
	return Page{Changes: changes, Anchor: anchor, Exhausted: p.exhausted}, nil
}
