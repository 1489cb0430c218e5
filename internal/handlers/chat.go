package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"wainbox/server/internal/badge"
	"wainbox/server/internal/models"
	"wainbox/server/internal/store"
)

// ChatListItem represents a chat in the list
type ChatListItem struct {
	models.Contact
	DisplayName string `json:"display_name"`
	WindowOpen  bool   `json:"window_open"`
	UnreadLabel string `json:"unread_label"`
}

// GetChats returns one page of the chat list. tab=active lists contacts whose
// conversation window is open, tab=inactive the rest.
func (h *Handlers) GetChats(c *fiber.Ctx) error {
	tab := c.Query("tab", "active")
	if tab != "active" && tab != "inactive" {
		return fail(c, fiber.StatusBadRequest, "tab must be active or inactive")
	}
	page, _ := strconv.Atoi(c.Query("page", "1"))
	if page < 1 {
		page = 1
	}
	limit := h.ContactsPageSize
	if limit <= 0 {
		limit = 50
	}

	now := h.now()
	contacts, err := h.Store.ListContacts(c.Context(), store.ContactFilter{
		Active: tab == "active",
		Since:  now.Add(-h.window()),
		Limit:  limit,
		Offset: (page - 1) * limit,
	})
	if err != nil {
		h.log().Error("list_contacts_failed", zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "Failed to load chats")
	}

	items := make([]ChatListItem, 0, len(contacts))
	for i := range contacts {
		ct := &contacts[i]
		items = append(items, ChatListItem{
			Contact:     *ct,
			DisplayName: ct.DisplayName(),
			WindowOpen:  tab == "active",
			UnreadLabel: badge.Label(ct.UnreadCount),
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"chats":    items,
			"page":     page,
			"has_more": len(contacts) == limit,
		},
	})
}

// GetUnreadBadge returns the unread total over all chats
func (h *Handlers) GetUnreadBadge(c *fiber.Ctx) error {
	b, err := h.Badges.Unread(c.Context())
	if err != nil {
		h.log().Error("unread_badge_failed", zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "Failed to count unread messages")
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    b,
	})
}
