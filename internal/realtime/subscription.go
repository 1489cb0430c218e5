package realtime

import (
	"context"
	"sync"
)

// Subscription is one joined channel
type Subscription struct {
	topic   string
	filters []Filter
	ch      chan Change
	done    chan struct{}
	client  *Client
	once    sync.Once

	// guarded by client.mu
	joined bool
	resync bool
}

// Topic returns the channel topic
func (s *Subscription) Topic() string {
	return s.topic
}

// Changes delivers row changes in the order the server emitted them. The
// channel is never closed; select on Done as well.
func (s *Subscription) Changes() <-chan Change {
	return s.ch
}

// Done is closed once the subscription is closed
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close leaves the channel. Pending changes are dropped.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.client.leave(s)
	})
}

func (s *Subscription) deliver(ctx context.Context, c Change) {
	select {
	case s.ch <- c:
	case <-s.done:
	case <-ctx.Done():
	}
}

// Stream is a live subscription to row changes
type Stream interface {
	Changes() <-chan Change
	Done() <-chan struct{}
	Close()
}

// Feed opens change subscriptions. *Client implements it.
type Feed interface {
	Watch(name string, filters ...Filter) Stream
}

// Watch is Subscribe returning the Stream interface
func (c *Client) Watch(name string, filters ...Filter) Stream {
	return c.Subscribe(name, filters...)
}
