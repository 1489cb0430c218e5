package routes

import (
	"net/http"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"wainbox/server/internal/handlers"
	"wainbox/server/internal/middleware"
)

// SetupRoutes configures all application routes. metrics may be nil.
func SetupRoutes(app *fiber.App, h *handlers.Handlers, jwtSecret string, metrics http.Handler) {
	if metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(metrics))
	}

	// API v1 group
	api := app.Group("/api/v1")

	// Health check (public)
	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"message": "wainbox API is running",
		})
	})

	auth := middleware.Auth(jwtSecret)

	// Chat routes (protected)
	chats := api.Group("/chats", auth)
	chats.Get("/", middleware.RelaxedRateLimiter(), h.GetChats)
	chats.Get("/unread", middleware.RelaxedRateLimiter(), h.GetUnreadBadge)
	chats.Get("/:waId", h.GetContact)
	chats.Get("/:waId/messages", middleware.RelaxedRateLimiter(), h.GetMessages)
	chats.Post("/:waId/messages", middleware.SendRateLimiter(), middleware.MediaRateLimiter(), h.SendMessage)
	chats.Put("/:waId/read", middleware.SendRateLimiter(), h.MarkAsRead)

	// WebSocket route (protected)
	api.Get("/ws", auth, handlers.WebSocketUpgrade, websocket.New(h.WebSocketHandler))

	// WebSocket stats (protected, for debugging)
	api.Get("/ws/stats", auth, h.GetWebSocketStats)
}
