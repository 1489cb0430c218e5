package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wainbox/server/internal/models"
	"wainbox/server/internal/realtime"
	"wainbox/server/internal/sender"
	"wainbox/server/internal/store"
)

var now = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

const chatA int64 = 31612345678

func ago(d time.Duration) *time.Time {
	t := now.Add(-d)
	return &t
}

func message(id int64, wam string, minutesAgo int, received bool, body string) models.Message {
	return models.Message{
		ID:         id,
		ChatID:     chatA,
		WamID:      wam,
		IsReceived: received,
		CreatedAt:  now.Add(-time.Duration(minutesAgo) * time.Minute),
		Message: models.Payload{
			ID:   wam,
			Type: models.KindText,
			Text: &models.TextBody{Body: body},
		},
	}
}

type markCall struct {
	chatID int64
	ids    []int64
}

// fakeStore serves contacts and histories from memory. A chat with a gate
// blocks its message fetches until the gate is closed.
type fakeStore struct {
	mu       sync.Mutex
	history  map[int64][]models.Message // ascending
	contacts map[int64]*models.Contact
	gates    map[int64]chan struct{}
	fetches  int
	fetchErr error
	marks    chan markCall
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		history:  map[int64][]models.Message{},
		contacts: map[int64]*models.Contact{},
		gates:    map[int64]chan struct{}{},
		marks:    make(chan markCall, 16),
	}
}

func (s *fakeStore) FetchMessages(ctx context.Context, chatID int64, before *time.Time, limit int) ([]models.Message, error) {
	s.mu.Lock()
	gate := s.gates[chatID]
	s.fetches++
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	msgs := s.history[chatID]
	var out []models.Message
	for i := len(msgs) - 1; i >= 0 && len(out) < limit; i-- {
		if before != nil && !msgs[i].CreatedAt.Before(*before) {
			continue
		}
		out = append(out, msgs[i])
	}
	return out, nil
}

func (s *fakeStore) GetContact(_ context.Context, waID int64) (*models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[waID]
	if !ok {
		return nil, store.ErrContactNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *fakeStore) MarkAsRead(_ context.Context, chatID int64, ids []int64) error {
	s.marks <- markCall{chatID: chatID, ids: ids}
	return nil
}

func (s *fakeStore) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

type sendCall struct {
	req   sender.Request
	reply chan sendReply
}

type sendReply struct {
	res sender.Result
	err error
}

// fakeSender hands every request to the test, which answers it
type fakeSender struct {
	calls chan sendCall
}

func newFakeSender() *fakeSender {
	return &fakeSender{calls: make(chan sendCall, 8)}
}

func (f *fakeSender) Send(ctx context.Context, req sender.Request) (sender.Result, error) {
	call := sendCall{req: req, reply: make(chan sendReply, 1)}
	f.calls <- call
	select {
	case r := <-call.reply:
		return r.res, r.err
	case <-ctx.Done():
		return sender.Result{}, ctx.Err()
	}
}

func (f *fakeSender) next(t *testing.T) sendCall {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("no send call")
		return sendCall{}
	}
}

type fakeStream struct {
	name    string
	filters []realtime.Filter
	ch      chan realtime.Change
	done    chan struct{}
	once    sync.Once
}

func (s *fakeStream) Changes() <-chan realtime.Change { return s.ch }
func (s *fakeStream) Done() <-chan struct{}           { return s.done }
func (s *fakeStream) Close()                          { s.once.Do(func() { close(s.done) }) }

func (s *fakeStream) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

type fakeFeed struct {
	mu      sync.Mutex
	streams []*fakeStream
}

func (f *fakeFeed) Watch(name string, filters ...realtime.Filter) realtime.Stream {
	s := &fakeStream{name: name, filters: filters, ch: make(chan realtime.Change, 8), done: make(chan struct{})}
	f.mu.Lock()
	f.streams = append(f.streams, s)
	f.mu.Unlock()
	return s
}

// latest returns the most recent stream opened under name
func (f *fakeFeed) latest(name string) *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.streams) - 1; i >= 0; i-- {
		if f.streams[i].name == name {
			return f.streams[i]
		}
	}
	return nil
}

func pushRow(t *testing.T, s *fakeStream, typ realtime.EventType, table string, row any) {
	t.Helper()
	raw, err := json.Marshal(row)
	require.NoError(t, err)
	s.ch <- realtime.Change{Type: typ, Table: table, Record: raw}
}

type harness struct {
	view   *View
	store  *fakeStore
	sender *fakeSender
	feed   *fakeFeed
	events chan Event
}

func newHarness(t *testing.T, pageSize int) *harness {
	t.Helper()
	h := &harness{
		store:  newFakeStore(),
		sender: newFakeSender(),
		feed:   &fakeFeed{},
		events: make(chan Event, 256),
	}
	h.view = New(Deps{
		Messages: h.store,
		Contacts: h.store,
		Marker:   h.store,
		Sender:   h.sender,
		Feed:     h.feed,
		PageSize: pageSize,
		Window:   24 * time.Hour,
		Now:      func() time.Time { return now },
	}, func(e Event) { h.events <- e })

	ctx, cancel := context.WithCancel(context.Background())
	go h.view.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.view.Done()
	})
	return h
}

// await returns the next event of type typ, skipping others
func (h *harness) await(t *testing.T, typ EventType) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-h.events:
			if e.Type == typ {
				return e
			}
		case <-deadline:
			t.Fatalf("no %s event", typ)
			return Event{}
		}
	}
}

// quiet asserts that no event of type typ arrives for a short while
func (h *harness) quiet(t *testing.T, typ EventType) {
	t.Helper()
	deadline := time.After(150 * time.Millisecond)
	for {
		select {
		case e := <-h.events:
			if e.Type == typ {
				t.Fatalf("unexpected %s event: %+v", typ, e.Payload)
			}
		case <-deadline:
			return
		}
	}
}

// openLoaded opens a chat and waits for both the contact and the thread,
// which arrive in either order
func (h *harness) openLoaded(t *testing.T, chatID int64) (ContactLoaded, ThreadLoaded) {
	t.Helper()
	require.NoError(t, h.view.Open(chatID))

	var contact *ContactLoaded
	var loaded *ThreadLoaded
	deadline := time.After(5 * time.Second)
	for contact == nil || loaded == nil {
		select {
		case e := <-h.events:
			switch p := e.Payload.(type) {
			case ContactLoaded:
				contact = &p
			case ThreadLoaded:
				loaded = &p
			}
		case <-deadline:
			t.Fatal("conversation did not load")
		}
	}
	return *contact, *loaded
}

var errUpstream = errors.New("upstream failed")
