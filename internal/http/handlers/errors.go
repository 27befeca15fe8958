package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/stealthpay/channels/internal/http/dto"
	"github.com/stealthpay/channels/internal/middleware"
	"github.com/stealthpay/channels/internal/services"
	"go.uber.org/zap"
)

var kindStatus = map[services.ErrorKind]int{
	services.KindValidation: fiber.StatusBadRequest,
	services.KindWallet:     fiber.StatusPreconditionFailed,
	services.KindNotFound:   fiber.StatusNotFound,
	services.KindCancelled:  fiber.StatusConflict,
	services.KindResolution: fiber.StatusUnprocessableEntity,
	services.KindBackend:    fiber.StatusBadGateway,
	services.KindSession:    fiber.StatusBadGateway,
	services.KindOnChain:    fiber.StatusBadGateway,
	services.KindStore:      fiber.StatusInternalServerError,
}

// writeError maps a service error onto a status and the error envelope.
// Store failures are logged and hidden behind a generic message.
func writeError(c *fiber.Ctx, log *zap.Logger, err error) error {
	reqID, _ := c.Locals(middleware.CtxRequestID).(string)

	var oe *services.OpError
	if !errors.As(err, &oe) {
		log.Error("unclassified handler error", zap.String("request_id", reqID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error", RequestID: reqID})
	}

	status, ok := kindStatus[oe.Kind]
	if !ok {
		status = fiber.StatusInternalServerError
	}
	msg := oe.Error()
	if oe.Kind == services.KindStore {
		log.Error("store failure", zap.String("op", oe.Op), zap.String("request_id", reqID), zap.Error(err))
		msg = "internal error"
	}
	return c.Status(status).JSON(dto.ErrorResponse{Error: msg, Code: oe.Code, RequestID: reqID})
}

func badRequest(c *fiber.Ctx, msg string) error {
	reqID, _ := c.Locals(middleware.CtxRequestID).(string)
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: msg, Code: services.CodeInvalidInput, RequestID: reqID})
}
