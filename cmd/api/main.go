package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/stealthpay/channels/internal/clearnode"
	"github.com/stealthpay/channels/internal/config"
	"github.com/stealthpay/channels/internal/custody"
	"github.com/stealthpay/channels/internal/db"
	"github.com/stealthpay/channels/internal/events"
	apphttp "github.com/stealthpay/channels/internal/http"
	"github.com/stealthpay/channels/internal/http/handlers"
	"github.com/stealthpay/channels/internal/metrics"
	"github.com/stealthpay/channels/internal/registrar"
	"github.com/stealthpay/channels/internal/repositories"
	"github.com/stealthpay/channels/internal/resolver"
	"github.com/stealthpay/channels/internal/services"
	"github.com/stealthpay/channels/internal/signer"
	"go.uber.org/zap"
)

type eventBus interface {
	events.Publisher
	events.Subscriber
}

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	kv, err := db.OpenKV(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open store", zap.String("backend", cfg.StoreBackend), zap.Error(err))
	}
	defer kv.Close()

	// Redis (optional): event bus and rate limiting
	var rdb *redis.Client
	var bus eventBus = events.NewLocalBus(log)
	if cfg.RedisURL != "" {
		rdb, err = db.NewRedisClient(ctx, cfg.RedisURL, log)
		if err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()
		bus = events.NewRedisBus(rdb, log)
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.New(reg)

	// Repositories
	channelRepo := repositories.NewChannelRepo(kv, log)
	activityRepo := repositories.NewActivityRepo(kv, log)

	// Adapters
	registrarClient := registrar.NewClient(cfg.RegistrarURL, log)
	resolverClient := resolver.NewClient(cfg.ResolverURL, cfg.ResolverCacheMB, cfg.ResolverCacheTTL, log)
	sessionClient := clearnode.NewClient(cfg.ClearNodeURL, cfg.SessionTimeout, log)
	defer sessionClient.Close()
	opener := custody.NewRPCOpener(cfg.CustodyReceiptTimeout, log)

	// Services
	walletService := services.NewWalletService(signer.NewWalletClient(cfg.WalletRPCURL, log), cfg.ChainID, bus, log)
	channelService := services.NewChannelService(
		channelRepo, activityRepo,
		resolverClient, registrarClient, sessionClient, opener,
		walletService, bus, recorder, cfg, log,
	)
	ops := services.NewOperationRegistry(0)

	// Handlers
	channelHandler := handlers.NewChannelHandler(channelService, ops, log)
	activityHandler := handlers.NewActivityHandler(channelService, log)
	walletHandler := handlers.NewWalletHandler(walletService, log)
	operationHandler := handlers.NewOperationHandler(ops, log)
	wsHub := handlers.NewWSHub(cfg, bus, log)

	if err := wsHub.Start(ctx); err != nil {
		log.Fatal("failed to start ws hub", zap.Error(err))
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, recorder, reg, channelHandler, activityHandler, walletHandler, operationHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server",
		zap.String("addr", addr),
		zap.String("store", cfg.StoreBackend),
		zap.Bool("custody", cfg.CustodyEnabled()),
	)
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
