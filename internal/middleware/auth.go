package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/stealthpay/channels/internal/auth"
	"github.com/stealthpay/channels/internal/config"
	"go.uber.org/zap"
)

const CtxClientID = "client_id"

func AuthMiddleware(cfg *config.Config, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization header"})
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenStr == authHeader {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid authorization format"})
		}

		claims, err := auth.ParseJWT(cfg.JWTSecret, tokenStr)
		if err != nil {
			log.Debug("jwt parse error", zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
		}

		c.Locals(CtxClientID, claims.ClientID)

		return c.Next()
	}
}

func GetClientID(c *fiber.Ctx) string {
	id, _ := c.Locals(CtxClientID).(string)
	return id
}
