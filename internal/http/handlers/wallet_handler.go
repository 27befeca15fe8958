package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/stealthpay/channels/internal/http/dto"
	"github.com/stealthpay/channels/internal/services"
	"go.uber.org/zap"
)

type WalletHandler struct {
	walletService *services.WalletService
	log           *zap.Logger
}

func NewWalletHandler(walletService *services.WalletService, log *zap.Logger) *WalletHandler {
	return &WalletHandler{walletService: walletService, log: log}
}

// ConnectWallet asks the wallet endpoint for its account and checks the network.
// POST /wallet/connect
func (h *WalletHandler) ConnectWallet(c *fiber.Ctx) error {
	st, err := h.walletService.Connect(c.Context())
	if err != nil {
		h.log.Debug("wallet connect failed", zap.Error(err))
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: st})
}

// DisconnectWallet forgets the wallet session.
// DELETE /wallet
func (h *WalletHandler) DisconnectWallet(c *fiber.Ctx) error {
	h.walletService.Disconnect(c.Context())
	return c.JSON(dto.SuccessResponse{OK: true})
}

// GET /wallet
func (h *WalletHandler) GetWallet(c *fiber.Ctx) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: h.walletService.Status()})
}
