package badge

import (
	"context"
	"time"

	"go.uber.org/zap"

	"wainbox/server/internal/realtime"
)

// Events pushed to every operator
const (
	EventUnreadBadge       = "unread_badge"
	EventBroadcastsChanged = "broadcasts_changed"
)

// Publish delivers a server-wide event to all connected operators
type Publish func(event string, payload any)

// Watcher recomputes the badge on every contacts change and announces
// broadcast changes, debounced.
type Watcher struct {
	feed     realtime.Feed
	svc      *Service
	debounce time.Duration
	publish  Publish
	log      *zap.Logger
}

// NewWatcher creates a watcher publishing through publish
func NewWatcher(feed realtime.Feed, svc *Service, debounce time.Duration, publish Publish, log *zap.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{feed: feed, svc: svc, debounce: debounce, publish: publish, log: log}
}

// Run watches until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) {
	contacts := w.feed.Watch("unread", realtime.Table(realtime.All, "contacts"))
	defer contacts.Close()
	broadcasts := w.feed.Watch("broadcasts", realtime.Table(realtime.All, "broadcast"))
	defer broadcasts.Close()

	w.refresh(ctx)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-contacts.Changes():
			w.refresh(ctx)
		case <-broadcasts.Changes():
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.publish(EventBroadcastsChanged, nil)
		}
	}
}

func (w *Watcher) refresh(ctx context.Context) {
	b, changed, err := w.svc.Refresh(ctx)
	if err != nil {
		w.log.Warn("badge_refresh_failed", zap.Error(err))
		return
	}
	if changed {
		w.publish(EventUnreadBadge, b)
	}
}
