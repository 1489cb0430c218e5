package handlers

import (
	"encoding/json"
	"errors"
	"slices"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"wainbox/server/internal/middleware"
	"wainbox/server/internal/models"
	"wainbox/server/internal/sender"
	"wainbox/server/internal/session"
	"wainbox/server/internal/store"
	"wainbox/server/internal/thread"
	ws "wainbox/server/internal/websocket"
)

// MarkAsReadRequest represents mark as read request
type MarkAsReadRequest struct {
	MessageIDs []int64 `json:"message_ids"`
}

// GetMessages returns a page of a conversation in ascending order. before
// (RFC3339) selects the page preceding that time.
func (h *Handlers) GetMessages(c *fiber.Ctx) error {
	waID, err := waIDParam(c)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}

	limit := h.PageSize
	if limit <= 0 {
		limit = thread.DefaultPageSize
	}
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l < limit {
		limit = l
	}

	var before *time.Time
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return fail(c, fiber.StatusBadRequest, "before must be an RFC3339 timestamp")
		}
		before = &t
	}

	messages, err := h.Store.FetchMessages(c.Context(), waID, before, limit)
	if err != nil {
		h.log().Error("fetch_messages_failed", zap.Int64("wa_id", waID), zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "Failed to load messages")
	}
	slices.Reverse(messages)

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"messages": messages,
			"has_more": len(messages) == limit,
		},
	})
}

// MarkAsRead marks inbound messages as read by the operator
func (h *Handlers) MarkAsRead(c *fiber.Ctx) error {
	waID, err := waIDParam(c)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}

	var req MarkAsReadRequest
	if err := c.BodyParser(&req); err != nil || len(req.MessageIDs) == 0 {
		return fail(c, fiber.StatusBadRequest, "message_ids is required")
	}

	if err := h.Store.MarkAsRead(c.Context(), waID, req.MessageIDs); err != nil {
		h.log().Error("mark_read_failed", zap.Int64("wa_id", waID), zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "Failed to mark messages as read")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Messages marked as read",
	})
}

// SendMessage sends a message from multipart form data: message, optional
// fileType plus file, or a template JSON document. When the operator has the
// chat open over the websocket the send goes through that view, so the
// pending row shows up there.
func (h *Handlers) SendMessage(c *fiber.Ctx) error {
	waID, err := waIDParam(c)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}

	req := session.SendRequest{Text: c.FormValue("message")}
	if raw := c.FormValue("template"); raw != "" {
		var tpl models.TemplateRequest
		if err := json.Unmarshal([]byte(raw), &tpl); err != nil {
			return fail(c, fiber.StatusBadRequest, "Invalid template JSON")
		}
		req.Template = &tpl
	}
	if fileType := c.FormValue("fileType"); fileType != "" {
		file, err := readAttachment(c, fileType)
		if err != nil {
			return fail(c, fiber.StatusBadRequest, err.Error())
		}
		req.File = file
	}

	if client := h.liveView(middleware.GetUserID(c), waID); client != nil {
		tempID, err := client.View.Send(req)
		if err != nil {
			return h.sendError(c, err)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"success": true,
			"data":    fiber.Map{"temp_id": tempID},
		})
	}

	out := sender.Request{To: waID, Text: req.Text, File: req.File, Template: req.Template}
	if err := out.Validate(); err != nil {
		return h.sendError(c, err)
	}
	if out.Template == nil {
		contact, err := h.Store.GetContact(c.Context(), waID)
		if errors.Is(err, store.ErrContactNotFound) {
			return fail(c, fiber.StatusNotFound, "Contact not found")
		}
		if err != nil {
			h.log().Error("get_contact_failed", zap.Int64("wa_id", waID), zap.Error(err))
			return fail(c, fiber.StatusInternalServerError, "Failed to load contact")
		}
		if contact.LastMessageReceivedAt == nil || !thread.IsOpen(*contact.LastMessageReceivedAt, h.now(), h.window()) {
			return h.sendError(c, session.ErrWindowClosed)
		}
	}

	res, err := h.Sender.Send(c.Context(), out)
	if err != nil {
		return h.sendError(c, err)
	}
	if h.Hub != nil {
		h.Hub.BroadcastToUser(middleware.GetUserID(c), ws.WSMessage{
			Type:      ws.EventSendAccepted,
			ChatID:    waID,
			Payload:   ws.SendAcceptedPayload{WamID: res.WamID},
			Timestamp: h.now(),
		})
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    fiber.Map{"wam_id": res.WamID},
	})
}

func (h *Handlers) sendError(c *fiber.Ctx, err error) error {
	var se *sender.StatusError
	switch {
	case errors.Is(err, session.ErrWindowClosed):
		return fail(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, sender.ErrEmptyMessage), errors.Is(err, sender.ErrInvalidRequest):
		return fail(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrClosed):
		return fail(c, fiber.StatusServiceUnavailable, err.Error())
	case errors.As(err, &se):
		h.log().Warn("send_rejected", zap.Int("status", se.Code), zap.String("body", se.Body))
		return fail(c, fiber.StatusBadGateway, "Message was not accepted")
	default:
		h.log().Error("send_failed", zap.Error(err))
		return fail(c, fiber.StatusBadGateway, "Failed to send message")
	}
}
