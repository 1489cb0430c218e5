package badge

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wainbox/server/internal/realtime"
)

type fakeCounter struct {
	mu    sync.Mutex
	n     int
	err   error
	calls int
}

func (f *fakeCounter) TotalUnread(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.n, f.err
}

func (f *fakeCounter) set(n int) {
	f.mu.Lock()
	f.n = n
	f.mu.Unlock()
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "", Label(0))
	assert.Equal(t, "", Label(-3))
	assert.Equal(t, "1", Label(1))
	assert.Equal(t, "99", Label(99))
	assert.Equal(t, "99+", Label(100))
	assert.Equal(t, "99+", Label(4500))
}

func TestService_UsesCacheUntilExpired(t *testing.T) {
	clock := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	counter := &fakeCounter{n: 7}
	svc := NewService(counter, NewMemoryCache(func() time.Time { return clock }), 30*time.Second, nil)

	b, err := svc.Unread(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Badge{Count: 7, Label: "7"}, b)

	counter.set(8)
	b, err = svc.Unread(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, b.Count)
	assert.Equal(t, 1, counter.calls)

	clock = clock.Add(31 * time.Second)
	b, err = svc.Unread(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, b.Count)
	assert.Equal(t, 2, counter.calls)
}

func TestService_RefreshReportsChanges(t *testing.T) {
	counter := &fakeCounter{n: 120}
	svc := NewService(counter, nil, time.Minute, nil)

	b, changed, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "99+", b.Label)

	_, changed, err = svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, changed)

	counter.set(0)
	b, changed, err = svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "", b.Label)
}

func TestService_StoreError(t *testing.T) {
	svc := NewService(&fakeCounter{err: errors.New("db down")}, nil, time.Minute, nil)
	_, err := svc.Unread(context.Background())
	assert.ErrorContains(t, err, "db down")
}

type stream struct {
	ch   chan realtime.Change
	done chan struct{}
	once sync.Once
}

func (s *stream) Changes() <-chan realtime.Change { return s.ch }
func (s *stream) Done() <-chan struct{}           { return s.done }
func (s *stream) Close()                          { s.once.Do(func() { close(s.done) }) }

type feed struct {
	mu      sync.Mutex
	streams map[string]*stream
}

func (f *feed) Watch(name string, _ ...realtime.Filter) realtime.Stream {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &stream{ch: make(chan realtime.Change, 8), done: make(chan struct{})}
	f.streams[name] = s
	return s
}

func (f *feed) get(name string) *stream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[name]
}

type published struct {
	event   string
	payload any
}

func TestWatcher_PublishesBadgeAndDebouncedBroadcasts(t *testing.T) {
	counter := &fakeCounter{n: 3}
	svc := NewService(counter, nil, time.Minute, nil)
	fd := &feed{streams: map[string]*stream{}}
	events := make(chan published, 16)
	w := NewWatcher(fd, svc, 50*time.Millisecond, func(e string, p any) {
		events <- published{e, p}
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	first := <-events
	assert.Equal(t, EventUnreadBadge, first.event)
	assert.Equal(t, Badge{Count: 3, Label: "3"}, first.payload)

	require.Eventually(t, func() bool { return fd.get("broadcasts") != nil }, time.Second, 5*time.Millisecond)

	counter.set(4)
	fd.get("unread").ch <- realtime.Change{Type: realtime.Update, Table: "contacts"}
	next := <-events
	assert.Equal(t, Badge{Count: 4, Label: "4"}, next.payload)

	for i := 0; i < 3; i++ {
		fd.get("broadcasts").ch <- realtime.Change{Type: realtime.Insert, Table: "broadcast"}
	}
	select {
	case e := <-events:
		assert.Equal(t, EventBroadcastsChanged, e.event)
	case <-time.After(2 * time.Second):
		t.Fatal("no broadcasts_changed event")
	}
	select {
	case e := <-events:
		t.Fatalf("unexpected event %s", e.event)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	c, err := NewRedisCache(addr)
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Invalidate(ctx))
	_, ok, err := c.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, 42, time.Minute))
	n, ok, err := c.Get(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 42, n)
}
