// Package realtime is a client for the backend's change feed: Phoenix
// channels over a websocket, carrying postgres row changes.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultHeartbeat is the interval between keep-alive messages
const DefaultHeartbeat = 25 * time.Second

var errNotConnected = errors.New("realtime: not connected")

// Options configures a Client
type Options struct {
	URL         string // ws(s)://<project>/realtime/v1/websocket
	APIKey      string
	Token       string // Access token applied to every channel
	Heartbeat   time.Duration
	Limiter     *rate.Limiter // Paces connection attempts
	Logger      *zap.Logger
	OnReconnect func()
}

// Client holds one websocket connection and the channels joined over it. It
// reconnects when the connection drops and rejoins every channel.
type Client struct {
	url         string
	heartbeat   time.Duration
	limiter     *rate.Limiter
	log         *zap.Logger
	onReconnect func()
	dialer      *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	token   string
	ref     uint64
	seq     uint64
	subs    map[string]*Subscription
	pending map[string]*Subscription // Join ref -> subscription

	writeMu sync.Mutex
}

// NewClient creates a client. Call Run to connect.
func NewClient(opts Options) (*Client, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid realtime url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid realtime url scheme %q", u.Scheme)
	}
	q := u.Query()
	if opts.APIKey != "" {
		q.Set("apikey", opts.APIKey)
	}
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()

	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	if opts.Limiter == nil {
		opts.Limiter = rate.NewLimiter(rate.Every(2*time.Second), 1)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.OnReconnect == nil {
		opts.OnReconnect = func() {}
	}

	return &Client{
		url:         u.String(),
		heartbeat:   opts.Heartbeat,
		limiter:     opts.Limiter,
		log:         opts.Logger,
		onReconnect: opts.OnReconnect,
		dialer:      &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		token:       opts.Token,
		subs:        make(map[string]*Subscription),
		pending:     make(map[string]*Subscription),
	}, nil
}

// Run keeps the connection up until ctx is cancelled
func (c *Client) Run(ctx context.Context) error {
	connected := false
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("realtime_dial_failed", zap.Error(err))
			continue
		}
		if connected {
			c.onReconnect()
			c.log.Info("realtime_reconnected")
		}
		connected = true

		c.serve(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Subscribe joins a channel receiving the changes matched by filters. The
// channel is joined now if connected, otherwise as soon as the connection is
// up.
func (c *Client) Subscribe(name string, filters ...Filter) *Subscription {
	c.mu.Lock()
	c.seq++
	s := &Subscription{
		topic:   fmt.Sprintf("realtime:%s-%d", name, c.seq),
		filters: filters,
		ch:      make(chan Change, 64),
		done:    make(chan struct{}),
		client:  c,
	}
	c.subs[s.topic] = s
	connected := c.conn != nil
	c.mu.Unlock()

	if connected {
		c.join(s)
	}
	return s
}

// SetAuth applies a rotated access token to every joined channel and to
// future joins.
func (c *Client) SetAuth(token string) {
	c.mu.Lock()
	c.token = token
	var joined []*Subscription
	for _, s := range c.subs {
		if s.joined {
			joined = append(joined, s)
		}
	}
	c.mu.Unlock()

	for _, s := range joined {
		if err := c.send(outgoing{
			Topic:   s.topic,
			Event:   eventAccessToken,
			Payload: tokenPayload{AccessToken: token},
			Ref:     c.nextRef(),
		}); err != nil {
			c.log.Warn("realtime_set_auth_failed", zap.String("topic", s.topic), zap.Error(err))
		}
	}
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.conn = conn
	subs := make([]*Subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go c.keepAlive(ctx)

	for _, s := range subs {
		c.join(s)
	}

	for {
		conn.SetReadDeadline(time.Now().Add(2 * c.heartbeat))
		var msg incoming
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() == nil {
				c.log.Warn("realtime_connection_lost", zap.Error(err))
			}
			break
		}
		c.handle(ctx, msg)
	}

	c.mu.Lock()
	c.conn = nil
	for _, s := range c.subs {
		s.joined = false
		s.resync = true
	}
	clear(c.pending)
	c.mu.Unlock()
}

func (c *Client) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := c.send(outgoing{
				Topic:   topicPhoenix,
				Event:   eventHeartbeat,
				Payload: struct{}{},
				Ref:     c.nextRef(),
			})
			if err != nil {
				c.log.Debug("realtime_heartbeat_failed", zap.Error(err))
				return
			}
		}
	}
}

func (c *Client) handle(ctx context.Context, msg incoming) {
	if msg.Topic == topicPhoenix {
		return
	}

	switch msg.Event {
	case eventReply:
		c.mu.Lock()
		s, ok := c.pending[msg.Ref]
		delete(c.pending, msg.Ref)
		c.mu.Unlock()
		if !ok {
			return
		}
		var reply replyPayload
		if err := json.Unmarshal(msg.Payload, &reply); err != nil || reply.Status != "ok" {
			c.log.Warn("realtime_join_rejected",
				zap.String("topic", s.topic),
				zap.ByteString("response", reply.Response))
			return
		}
		c.mu.Lock()
		s.joined = true
		resync := s.resync
		s.resync = false
		c.mu.Unlock()
		if resync {
			s.deliver(ctx, Change{Type: Resync, At: time.Now()})
		}

	case eventChanges:
		s := c.lookup(msg.Topic)
		if s == nil {
			return
		}
		var p changesPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.log.Warn("realtime_bad_change", zap.String("topic", msg.Topic), zap.Error(err))
			return
		}
		s.deliver(ctx, p.Data.change())

	case eventError:
		s := c.lookup(msg.Topic)
		if s == nil {
			return
		}
		c.log.Warn("realtime_channel_error", zap.String("topic", msg.Topic))
		c.mu.Lock()
		s.joined = false
		s.resync = true
		c.mu.Unlock()
		c.join(s)

	case eventClose, eventSystem:
		c.log.Debug("realtime_channel_event", zap.String("topic", msg.Topic), zap.String("event", msg.Event))
	}
}

func (c *Client) join(s *Subscription) {
	ref := c.nextRef()
	c.mu.Lock()
	if _, live := c.subs[s.topic]; !live {
		c.mu.Unlock()
		return
	}
	c.pending[ref] = s
	token := c.token
	c.mu.Unlock()

	err := c.send(outgoing{
		Topic: s.topic,
		Event: eventJoin,
		Payload: joinPayload{
			Config: joinConfig{
				Broadcast:       map[string]bool{"self": false},
				Presence:        map[string]string{"key": ""},
				PostgresChanges: s.filters,
			},
			AccessToken: token,
		},
		Ref:     ref,
		JoinRef: ref,
	})
	if err != nil && !errors.Is(err, errNotConnected) {
		c.log.Warn("realtime_join_failed", zap.String("topic", s.topic), zap.Error(err))
	}
}

func (c *Client) leave(s *Subscription) {
	c.mu.Lock()
	delete(c.subs, s.topic)
	joined := s.joined
	s.joined = false
	c.mu.Unlock()

	if joined {
		_ = c.send(outgoing{Topic: s.topic, Event: eventLeave, Payload: struct{}{}, Ref: c.nextRef()})
	}
}

func (c *Client) lookup(topic string) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[topic]
}

func (c *Client) send(msg outgoing) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(msg)
}

func (c *Client) nextRef() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ref++
	return strconv.FormatUint(c.ref, 10)
}
