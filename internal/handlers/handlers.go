package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"wainbox/server/internal/badge"
	"wainbox/server/internal/models"
	"wainbox/server/internal/session"
	"wainbox/server/internal/store"
	"wainbox/server/internal/thread"
	ws "wainbox/server/internal/websocket"
)

// Store is the data access the handlers need
type Store interface {
	GetContact(ctx context.Context, waID int64) (*models.Contact, error)
	ListContacts(ctx context.Context, f store.ContactFilter) ([]models.Contact, error)
	FetchMessages(ctx context.Context, chatID int64, before *time.Time, limit int) ([]models.Message, error)
	MarkAsRead(ctx context.Context, chatID int64, messageIDs []int64) error
}

// BadgeSource returns the unread badge
type BadgeSource interface {
	Unread(ctx context.Context) (badge.Badge, error)
}

// Handlers holds the dependencies of the HTTP API
type Handlers struct {
	Store            Store
	Badges           BadgeSource
	Sender           session.Sender
	Hub              *ws.Hub
	Views            *ViewFactory // Nil disables the websocket endpoint
	Log              *zap.Logger
	PageSize         int
	ContactsPageSize int
	Window           time.Duration
	Now              func() time.Time
}

func (h *Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *Handlers) window() time.Duration {
	if h.Window > 0 {
		return h.Window
	}
	return thread.DefaultWindow
}

func (h *Handlers) log() *zap.Logger {
	if h.Log != nil {
		return h.Log
	}
	return zap.NewNop()
}

// windowInfo computes the window state of a contact at request time
func (h *Handlers) windowInfo(c *models.Contact) session.WindowInfo {
	w := thread.NewWindow(h.window(), h.now)
	info := session.WindowInfo{State: w.Load(c.LastMessageReceivedAt)}
	if exp, ok := w.ExpiresAt(); ok {
		info.ExpiresAt = &exp
		info.Remaining = w.Remaining()
	}
	return info
}

func fail(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}

func waIDParam(c *fiber.Ctx) (int64, error) {
	return models.ParseWaID(c.Params("waId"))
}
