package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"wainbox/server/internal/auth"
	"wainbox/server/internal/metrics"
	"wainbox/server/internal/realtime"
	"wainbox/server/internal/session"
	ws "wainbox/server/internal/websocket"
)

// ViewFactory builds the conversation view behind one operator connection.
// Each view gets its own realtime connection carrying the operator's token,
// so row level security applies to the changes it receives.
type ViewFactory struct {
	RealtimeURL string
	APIKey      string
	JWTSecret   string
	Heartbeat   time.Duration
	Deps        session.Deps // Template; Feed is set per view
	Metrics     *metrics.Metrics
	Log         *zap.Logger
}

// Conversation is a running view and the realtime connection it listens on
type Conversation struct {
	*session.View
	Feed *realtime.Client
}

// Start connects a realtime client for sess and starts a view on it. Both
// stop when ctx is cancelled.
func (f *ViewFactory) Start(ctx context.Context, sess *auth.Session, sink session.Sink) (*Conversation, error) {
	log := f.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("user_id", sess.UserID))

	rt, err := realtime.NewClient(realtime.Options{
		URL:       f.RealtimeURL,
		APIKey:    f.APIKey,
		Token:     sess.AccessToken,
		Heartbeat: f.Heartbeat,
		Logger:    log,
		OnReconnect: func() {
			if f.Metrics != nil {
				f.Metrics.Reconnects.Inc()
			}
		},
	})
	if err != nil {
		return nil, err
	}

	deps := f.Deps
	deps.Feed = rt
	deps.Log = log
	if f.Metrics != nil {
		deps.Metrics = f.Metrics
	}
	view := session.New(deps, sink)

	go func() {
		if err := rt.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("realtime_stopped", zap.Error(err))
		}
	}()
	go view.Run(ctx)

	return &Conversation{View: view, Feed: rt}, nil
}

// Authorizer returns the token rotation hook of a connection. A new token must
// be valid and belong to the same operator.
func (f *ViewFactory) Authorizer(sess *auth.Session, rt *realtime.Client) func(token string) error {
	return func(token string) error {
		next, err := auth.ValidateToken(f.JWTSecret, token)
		if err != nil {
			return err
		}
		if next.UserID != sess.UserID {
			return errors.New("token belongs to another user")
		}
		rt.SetAuth(token)
		return nil
	}
}

// WebSocketUpgrade checks if the request should be upgraded to WebSocket
func WebSocketUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}

	return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
		"success": false,
		"error":   "WebSocket upgrade required",
	})
}

// WebSocketHandler serves one operator connection
func (h *Handlers) WebSocketHandler(c *websocket.Conn) {
	sess, ok := c.Locals("session").(*auth.Session)
	if !ok || sess == nil || h.Views == nil || h.Hub == nil {
		c.Close()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := ws.NewClient(sess.UserID, c, h.Hub, h.log())
	conv, err := h.Views.Start(ctx, sess, client.ViewSink())
	if err != nil {
		h.log().Error("view_start_failed", zap.String("user_id", sess.UserID), zap.Error(err))
		c.Close()
		return
	}
	client.View = conv
	client.Authorize = h.Views.Authorizer(sess, conv.Feed)

	if !h.Hub.Join(client) {
		c.Close()
		return
	}
	client.SendMessage(ws.WSMessage{Type: ws.EventConnect, Timestamp: h.now()})

	go client.WritePump()
	client.ReadPump() // This blocks until connection closes
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handlers) GetWebSocketStats(c *fiber.Ctx) error {
	if h.Hub == nil {
		return fail(c, fiber.StatusServiceUnavailable, "WebSocket hub not initialized")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"onlineUsers": h.Hub.GetOnlineCount(),
			"userIds":     h.Hub.GetOnlineUsers(),
		},
	})
}

// liveView returns the connection of userID that has waID open
func (h *Handlers) liveView(userID string, waID int64) *ws.Client {
	if h.Hub == nil || userID == "" {
		return nil
	}
	for _, client := range h.Hub.ClientsOf(userID) {
		if client.View != nil && client.View.ChatID() == waID {
			return client
		}
	}
	return nil
}
