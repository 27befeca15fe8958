package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/stealthpay/channels/internal/http/dto"
	"github.com/stealthpay/channels/internal/repositories"
	"github.com/stealthpay/channels/internal/services"
	"go.uber.org/zap"
)

type ActivityHandler struct {
	channelService *services.ChannelService
	log            *zap.Logger
}

func NewActivityHandler(channelService *services.ChannelService, log *zap.Logger) *ActivityHandler {
	return &ActivityHandler{channelService: channelService, log: log}
}

// ListActivity returns the log newest first.
// GET /activity?limit&offset&channel_id&type
func (h *ActivityHandler) ListActivity(c *fiber.Ctx) error {
	filter := repositories.ActivityFilter{
		Limit:     50,
		ChannelID: c.Query("channel_id"),
		Type:      c.Query("type"),
	}

	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}

	list, err := h.channelService.ListActivity(c.Context(), filter)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: list})
}

// ClearActivity empties the log. Channels are untouched.
// DELETE /activity
func (h *ActivityHandler) ClearActivity(c *fiber.Ctx) error {
	if err := h.channelService.ClearActivity(c.Context()); err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}
