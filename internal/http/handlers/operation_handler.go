package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/stealthpay/channels/internal/http/dto"
	"github.com/stealthpay/channels/internal/services"
	"go.uber.org/zap"
)

const HeaderOperationID = "X-Operation-ID"

// startOperation registers the flow under the caller's X-Operation-ID, or a
// fresh id, and echoes the id back so the caller can cancel it.
func startOperation(c *fiber.Ctx, ops *services.OperationRegistry, kind string) *services.Operation {
	op := ops.Start(kind, c.Get(HeaderOperationID))
	c.Set(HeaderOperationID, op.ID)
	return op
}

type OperationHandler struct {
	ops *services.OperationRegistry
	log *zap.Logger
}

func NewOperationHandler(ops *services.OperationRegistry, log *zap.Logger) *OperationHandler {
	return &OperationHandler{ops: ops, log: log}
}

// Cancel stops an operation from committing. Cancelling an id that has not
// started yet is allowed; cancelling a finished one is a conflict.
// POST /operations/:id/cancel
func (h *OperationHandler) Cancel(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "operation id is required")
	}

	if !h.ops.Cancel(id) {
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: "operation already finished"})
	}
	h.log.Info("operation cancelled", zap.String("operation_id", id))
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.CancelResponse{OperationID: id, Cancelled: true}})
}
