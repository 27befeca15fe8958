package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/stealthpay/channels/internal/config"
	"github.com/stealthpay/channels/internal/http/handlers"
	"github.com/stealthpay/channels/internal/metrics"
	"github.com/stealthpay/channels/internal/middleware"
	"go.uber.org/zap"
)

// SetupRouter mounts the API. rdb may be nil, in which case requests are not
// rate limited.
func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	recorder metrics.Recorder,
	gatherer prometheus.Gatherer,
	channelHandler *handlers.ChannelHandler,
	activityHandler *handlers.ActivityHandler,
	walletHandler *handlers.WalletHandler,
	operationHandler *handlers.OperationHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:  "*",
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, X-Request-ID, X-Operation-ID",
		ExposeHeaders: "X-Request-ID, X-Operation-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))
	app.Use(middleware.MetricsMiddleware(recorder))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := app.Group("/api/v1")

	protected := api.Group("", middleware.AuthMiddleware(cfg, log))
	if rdb != nil && cfg.RateLimitPerMinute > 0 {
		protected.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMinute, time.Minute))
	}

	// Wallet session
	protected.Post("/wallet/connect", walletHandler.ConnectWallet)
	protected.Get("/wallet", walletHandler.GetWallet)
	protected.Delete("/wallet", walletHandler.DisconnectWallet)

	protected.Get("/overview", channelHandler.Overview)

	// Channels
	protected.Get("/channels", channelHandler.ListChannels)
	protected.Post("/channels", channelHandler.CreateChannel)
	protected.Post("/channels/discover", channelHandler.Discover)
	protected.Get("/channels/:id", channelHandler.GetChannel)
	protected.Post("/channels/:id/transfer", channelHandler.Transfer)
	protected.Post("/channels/:id/fund", channelHandler.Fund)
	protected.Post("/channels/:id/close", channelHandler.Close)

	// Activity
	protected.Get("/activity", activityHandler.ListActivity)
	protected.Delete("/activity", activityHandler.ClearActivity)

	// Operations
	protected.Post("/operations/:id/cancel", operationHandler.Cancel)

	// WebSocket
	if wsHub != nil {
		app.Use("/ws", handlers.WSUpgradeMiddleware())
		app.Get("/ws", websocket.New(wsHub.HandleWS))
	}
}
