package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/stealthpay/channels/internal/http/dto"
	"github.com/stealthpay/channels/internal/services"
	"go.uber.org/zap"
)

type ChannelHandler struct {
	channelService *services.ChannelService
	ops            *services.OperationRegistry
	log            *zap.Logger
}

func NewChannelHandler(channelService *services.ChannelService, ops *services.OperationRegistry, log *zap.Logger) *ChannelHandler {
	return &ChannelHandler{channelService: channelService, ops: ops, log: log}
}

func (h *ChannelHandler) CreateChannel(c *fiber.Ctx) error {
	var req dto.CreateChannelRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if req.Recipient == "" || req.Amount == "" {
		return badRequest(c, "recipient and amount are required")
	}

	op := startOperation(c, h.ops, services.OpCreate)
	defer h.ops.Finish(op)

	res, err := h.channelService.CreateChannel(c.Context(), op, services.CreateChannelInput{
		Recipient: req.Recipient,
		Token:     req.Token,
		Amount:    req.Amount,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: dto.CreateChannelResponse{
		Channel:  res.Channel,
		Anchored: res.Anchored,
		Message:  res.Message,
	}})
}

func (h *ChannelHandler) ListChannels(c *fiber.Ctx) error {
	channels, err := h.channelService.ListChannels(c.Context())
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: channels})
}

func (h *ChannelHandler) GetChannel(c *fiber.Ctx) error {
	ch, err := h.channelService.GetChannel(c.Context(), c.Params("id"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: ch})
}

func (h *ChannelHandler) Transfer(c *fiber.Ctx) error {
	var req dto.TransferRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	op := startOperation(c, h.ops, services.OpTransfer)
	defer h.ops.Finish(op)

	ch, err := h.channelService.Transfer(c.Context(), op, services.TransferInput{
		ChannelID:   c.Params("id"),
		Destination: req.To,
		Amount:      req.Amount,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: ch})
}

func (h *ChannelHandler) Fund(c *fiber.Ctx) error {
	var req dto.FundRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	op := startOperation(c, h.ops, services.OpFund)
	defer h.ops.Finish(op)

	ch, err := h.channelService.Fund(c.Context(), op, services.FundInput{
		ChannelID: c.Params("id"),
		Amount:    req.Amount,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: ch})
}

func (h *ChannelHandler) Close(c *fiber.Ctx) error {
	op := startOperation(c, h.ops, services.OpClose)
	defer h.ops.Finish(op)

	res, err := h.channelService.Close(c.Context(), op, c.Params("id"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.CloseChannelResponse{
		Channel:         res.Channel,
		TxHash:          res.TxHash,
		TxHashIsReal:    res.TxHashIsReal,
		SettledAmount:   res.SettledAmount,
		SettlementToken: res.SettlementToken,
	}})
}

func (h *ChannelHandler) Discover(c *fiber.Ctx) error {
	var req dto.DiscoverRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	op := startOperation(c, h.ops, services.OpDiscover)
	defer h.ops.Finish(op)

	res, err := h.channelService.Discover(c.Context(), op, services.DiscoverInput{
		ViewingSK:  req.ViewingSK,
		SpendingPK: req.SpendingPK,
		SpendingSK: req.SpendingSK,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: res})
}

// Overview is the UI's initial prefetch.
// GET /overview
func (h *ChannelHandler) Overview(c *fiber.Ctx) error {
	ov, err := h.channelService.Overview(c.Context())
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: ov})
}
