package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"wainbox/server/internal/store"
)

// GetContact returns a contact with its conversation window
func (h *Handlers) GetContact(c *fiber.Ctx) error {
	waID, err := waIDParam(c)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}

	contact, err := h.Store.GetContact(c.Context(), waID)
	if errors.Is(err, store.ErrContactNotFound) {
		return fail(c, fiber.StatusNotFound, "Contact not found")
	}
	if err != nil {
		h.log().Error("get_contact_failed", zap.Int64("wa_id", waID), zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "Failed to load contact")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"contact":      contact,
			"display_name": contact.DisplayName(),
			"window":       h.windowInfo(contact),
		},
	})
}
