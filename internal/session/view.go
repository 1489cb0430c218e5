// Package session implements the conversation view: the state of one
// operator's open chat, kept in sync with the change feed and updated
// optimistically on send. All state is owned by the goroutine running the
// view's loop; network calls report back to it.
package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"wainbox/server/internal/metrics"
	"wainbox/server/internal/models"
	"wainbox/server/internal/realtime"
	"wainbox/server/internal/sender"
	"wainbox/server/internal/thread"
)

var (
	// ErrWindowClosed is returned for a free-form send outside the window
	ErrWindowClosed = errors.New("conversation window is closed, send a template instead")
	// ErrNoConversation is returned when no chat is open
	ErrNoConversation = errors.New("no conversation open")
	// ErrUnknownMessage is returned when retrying a message the view does not hold
	ErrUnknownMessage = errors.New("no failed message with that id")
	// ErrClosed is returned once the view has stopped
	ErrClosed = errors.New("view closed")
)

// ContactLoader reads a single contact
type ContactLoader interface {
	GetContact(ctx context.Context, waID int64) (*models.Contact, error)
}

// Sender dispatches outbound messages
type Sender interface {
	Send(ctx context.Context, req sender.Request) (sender.Result, error)
}

// Deps are the collaborators of a view
type Deps struct {
	Messages thread.MessageFetcher
	Contacts ContactLoader
	Marker   thread.ReadMarker
	Sender   Sender
	Feed     realtime.Feed
	Log      *zap.Logger
	Metrics  *metrics.Metrics
	PageSize int
	Window   time.Duration
	Now      func() time.Time
}

// View is the conversation view of one operator
type View struct {
	deps Deps
	sink Sink

	cmds    chan func()
	results chan func()
	done    chan struct{}
	ctx     context.Context

	// Owned by the loop
	chatID     int64
	loaded     bool
	thread     *thread.Reconciler
	pager      *thread.Pager
	receipts   *thread.Receipts
	window     *thread.Window
	msgs       realtime.Stream
	contact    realtime.Stream
	outbox     map[string]sender.Request
	convCtx    context.Context
	convCancel context.CancelFunc
}

// New creates a view. Events go to sink once Run is started.
func New(deps Deps, sink Sink) *View {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(nil)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &View{
		deps:     deps,
		sink:     sink,
		cmds:     make(chan func()),
		results:  make(chan func(), 16),
		done:     make(chan struct{}),
		thread:   thread.NewReconciler(),
		pager:    thread.NewPager(deps.Messages, deps.PageSize),
		receipts: thread.NewReceipts(),
		window:   thread.NewWindow(deps.Window, deps.Now),
		outbox:   make(map[string]sender.Request),
	}
}

// Run processes commands, results and feed changes until ctx is cancelled
func (v *View) Run(ctx context.Context) {
	v.ctx = ctx
	v.deps.Metrics.OpenViews.Inc()
	defer func() {
		v.teardown()
		v.deps.Metrics.OpenViews.Dec()
		close(v.done)
	}()

	for {
		var msgChanges, contactChanges <-chan realtime.Change
		if v.msgs != nil {
			msgChanges = v.msgs.Changes()
		}
		if v.contact != nil {
			contactChanges = v.contact.Changes()
		}

		select {
		case <-ctx.Done():
			return
		case cmd := <-v.cmds:
			cmd()
		case res := <-v.results:
			res()
		case ch := <-msgChanges:
			v.onMessageChange(ch)
		case ch := <-contactChanges:
			v.onContactChange(ch)
		}
	}
}

// Done is closed when Run has returned
func (v *View) Done() <-chan struct{} {
	return v.done
}

// Open switches the view to the conversation with waID
func (v *View) Open(waID int64) error {
	return v.call(func() error {
		v.open(waID)
		return nil
	})
}

// LoadOlder requests the page before the oldest loaded message. It is a
// no-op while a page is loading or once history is exhausted.
func (v *View) LoadOlder() error {
	return v.call(func() error {
		v.loadOlder()
		return nil
	})
}

// Close leaves the current conversation
func (v *View) Close() error {
	return v.call(func() error {
		v.teardown()
		v.thread.Reset()
		v.pager.Reset(0)
		v.receipts.Reset()
		v.window.Reset()
		v.chatID = 0
		v.loaded = false
		clear(v.outbox)
		return nil
	})
}

// ChatID returns the open conversation, zero when none
func (v *View) ChatID() int64 {
	var id int64
	_ = v.call(func() error {
		id = v.chatID
		return nil
	})
	return id
}

// Snapshot returns the current thread
func (v *View) Snapshot() []thread.Record {
	var recs []thread.Record
	_ = v.call(func() error {
		recs = v.thread.Snapshot()
		return nil
	})
	return recs
}

func (v *View) call(f func() error) error {
	reply := make(chan error, 1)
	select {
	case v.cmds <- func() { reply <- f() }:
	case <-v.done:
		return ErrClosed
	}
	return <-reply
}

// post hands a result back to the loop
func (v *View) post(f func()) {
	select {
	case v.results <- f:
	case <-v.done:
	}
}

func (v *View) emit(t EventType, payload any) {
	v.sink(Event{Type: t, ChatID: v.chatID, Payload: payload})
}

func (v *View) emitError(scope string, err error) {
	v.emit(EventError, ErrorInfo{Scope: scope, Message: err.Error()})
}

func (v *View) stale(op string) {
	v.deps.Metrics.StaleResults.WithLabelValues(op).Inc()
	v.deps.Log.Debug("stale_result_dropped", zap.String("op", op))
}

func (v *View) open(waID int64) {
	v.teardown()
	gen := v.thread.Reset()
	v.chatID = waID
	v.loaded = false
	v.pager.Reset(waID)
	v.receipts.Reset()
	v.window.Reset()
	clear(v.outbox)
	v.convCtx, v.convCancel = context.WithCancel(v.ctx)

	id := models.FormatWaID(waID)
	v.msgs = v.deps.Feed.Watch("messages",
		realtime.Eq(realtime.Insert, "messages", "chat_id", id),
		realtime.Eq(realtime.Update, "messages", "chat_id", id),
	)
	v.contact = v.deps.Feed.Watch("contact",
		realtime.Eq(realtime.Update, "contacts", "wa_id", id),
	)

	v.deps.Log.Info("conversation_opened", zap.Int64("chat_id", waID), zap.Uint64("generation", gen))
	v.fetchContact(gen)
	v.fetchLatest(gen, ScopeLoad)
}

func (v *View) teardown() {
	if v.msgs != nil {
		v.msgs.Close()
		v.msgs = nil
	}
	if v.contact != nil {
		v.contact.Close()
		v.contact = nil
	}
	if v.convCancel != nil {
		v.convCancel()
		v.convCancel = nil
	}
}

func (v *View) fetchContact(gen uint64) {
	ctx, chatID := v.convCtx, v.chatID
	go func() {
		c, err := v.deps.Contacts.GetContact(ctx, chatID)
		v.post(func() { v.onContact(gen, c, err) })
	}()
}

func (v *View) onContact(gen uint64, c *models.Contact, err error) {
	if gen != v.thread.Generation() {
		v.stale("contact")
		return
	}
	if err != nil {
		v.deps.Log.Warn("contact_fetch_failed", zap.Int64("chat_id", v.chatID), zap.Error(err))
		v.emitError(ScopeContact, err)
		return
	}
	v.window.Load(c.LastMessageReceivedAt)
	v.emit(EventContactLoaded, ContactLoaded{Contact: c, Window: v.windowInfo()})
}

func (v *View) fetchLatest(gen uint64, scope string) {
	ctx, chatID := v.convCtx, v.chatID
	go func() {
		recs, err := v.pager.Latest(ctx, chatID)
		v.post(func() { v.onLatest(gen, scope, recs, err) })
	}()
}

func (v *View) onLatest(gen uint64, scope string, recs []thread.Record, err error) {
	if gen != v.thread.Generation() {
		v.stale(scope)
		return
	}
	if err != nil {
		v.deps.Log.Warn("messages_fetch_failed", zap.Int64("chat_id", v.chatID), zap.String("scope", scope), zap.Error(err))
		v.emitError(scope, err)
		return
	}
	v.thread.Merge(recs)
	if len(recs) == 0 && !v.loaded {
		v.pager.MarkExhausted()
	}
	v.loaded = true

	marker, _ := v.thread.UnreadMarker()
	v.emit(EventThreadLoaded, ThreadLoaded{
		Messages:     v.thread.Snapshot(),
		UnreadMarker: marker,
		Exhausted:    v.pager.Exhausted(),
	})
	v.markRead(recs)
}

func (v *View) loadOlder() {
	if !v.loaded {
		return
	}
	before, ok := v.thread.Oldest()
	if !ok {
		return
	}
	gen := v.thread.Generation()
	t, ok := v.pager.Begin(before, gen)
	if !ok {
		return
	}
	ctx := v.convCtx
	go func() {
		recs, err := v.pager.Fetch(ctx, t)
		v.post(func() { v.onPage(t, recs, err) })
	}()
}

func (v *View) onPage(t thread.Ticket, recs []thread.Record, err error) {
	err = v.pager.Complete(t, v.thread.Generation(), recs, err)
	if errors.Is(err, thread.ErrStale) {
		v.stale("page")
		return
	}
	if err != nil {
		v.deps.Log.Warn("page_fetch_failed", zap.Int64("chat_id", v.chatID), zap.Error(err))
		v.emitError(ScopePage, err)
		return
	}

	changes, anchor := v.thread.Prepend(recs)
	merged := make([]thread.Record, 0, len(changes))
	for _, c := range changes {
		merged = append(merged, c.Record)
	}
	v.emit(EventMessagesPrepended, MessagesPrepended{
		Messages:  merged,
		Anchor:    anchor,
		Exhausted: v.pager.Exhausted(),
	})
	v.markRead(recs)
}

func (v *View) onMessageChange(ch realtime.Change) {
	switch ch.Type {
	case realtime.Resync:
		v.deps.Log.Info("conversation_resync", zap.Int64("chat_id", v.chatID))
		v.fetchLatest(v.thread.Generation(), ScopeLoad)
		return
	case realtime.Insert, realtime.Update:
	default:
		return
	}

	var m models.Message
	if err := ch.Decode(&m); err != nil {
		v.deps.Log.Warn("bad_message_change", zap.String("type", string(ch.Type)), zap.Error(err))
		return
	}
	if m.ChatID != v.chatID {
		return
	}

	rec := thread.Record{Message: m}
	var c thread.Change
	if ch.Type == realtime.Insert {
		c = v.thread.ApplyInsert(rec)
		if c.Op == thread.OpReplaced {
			v.deps.Metrics.Dedups.Inc()
		}
	} else {
		c = v.thread.ApplyUpdate(rec)
	}
	v.emitChange(c)

	if ch.Type == realtime.Insert {
		v.markRead([]thread.Record{c.Record})
	}
}

func (v *View) onContactChange(ch realtime.Change) {
	if ch.Type == realtime.Resync {
		v.fetchContact(v.thread.Generation())
		return
	}
	var c models.Contact
	if err := ch.Decode(&c); err != nil {
		v.deps.Log.Warn("bad_contact_change", zap.Error(err))
		return
	}
	if c.WaID != v.chatID {
		return
	}
	if _, changed := v.window.Observe(c.LastMessageReceivedAt); changed {
		v.emit(EventWindowChanged, v.windowInfo())
	}
}

func (v *View) emitChange(c thread.Change) {
	switch c.Op {
	case thread.OpInserted, thread.OpReplaced:
		v.emit(EventMessageUpserted, MessageUpserted{
			Key:     c.Record.Key(),
			PrevKey: c.PrevKey,
			Message: c.Record,
		})
	case thread.OpRemoved:
		v.emit(EventMessageRemoved, MessageRemoved{Key: c.PrevKey})
	}
}

// markRead reports unread inbound messages once. Failures are logged only.
func (v *View) markRead(recs []thread.Record) {
	ids := v.receipts.Collect(recs)
	if len(ids) == 0 {
		return
	}
	ctx, chatID := v.convCtx, v.chatID
	go func() {
		if err := v.deps.Marker.MarkAsRead(ctx, chatID, ids); err != nil {
			v.deps.Metrics.MarkReadFailures.Inc()
			v.deps.Log.Warn("mark_read_failed",
				zap.Int64("chat_id", chatID),
				zap.Int("count", len(ids)),
				zap.Error(err))
		}
	}()
}

func (v *View) windowInfo() WindowInfo {
	info := WindowInfo{State: v.window.State()}
	if exp, ok := v.window.ExpiresAt(); ok {
		info.ExpiresAt = &exp
		info.Remaining = v.window.Remaining()
	}
	return info
}
