package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/stealthpay/channels/internal/config"
	"github.com/stealthpay/channels/internal/db"
	"github.com/stealthpay/channels/internal/events"
	"go.uber.org/zap"
)

// notify-bridge subscribes to the Redis notification stream and forwards
// each notification to NOTIFY_WEBHOOK_URL, so toasts can reach a desktop
// notifier or a chat hook while no UI is open.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	if cfg.RedisURL == "" || cfg.NotifyWebhookURL == "" {
		log.Fatal("REDIS_URL and NOTIFY_WEBHOOK_URL are required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	bus := events.NewRedisBus(rdb, log)
	fwd := &forwarder{
		url:  cfg.NotifyWebhookURL,
		http: &http.Client{Timeout: 15 * time.Second},
		log:  log,
	}

	if err := bus.Subscribe(ctx, events.StreamNotify, func(event events.Event) {
		fwd.forward(ctx, event)
	}); err != nil {
		log.Fatal("failed to subscribe", zap.String("stream", events.StreamNotify), zap.Error(err))
	}

	log.Info("notify-bridge started", zap.String("stream", events.StreamNotify))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down notify-bridge")
	cancel()
}

type forwarder struct {
	url  string
	http *http.Client
	log  *zap.Logger
}

type webhookBody struct {
	Level   string `json:"level"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

func (f *forwarder) forward(ctx context.Context, event events.Event) {
	if event.Type != events.EventNotification {
		return
	}
	if err := f.post(ctx, bodyFor(event)); err != nil {
		f.log.Warn("failed to forward notification", zap.Error(err))
	}
}

func bodyFor(event events.Event) webhookBody {
	str := func(k string) string {
		s, _ := event.Payload[k].(string)
		return s
	}
	b := webhookBody{Level: str("level"), Title: str("title"), Message: str("message")}
	if b.Title == "" {
		b.Title = fmt.Sprintf("Event: %s", event.Type)
	}
	return b
}

func (f *forwarder) post(ctx context.Context, body webhookBody) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.http.Do(req)
	if err != nil {
		return fmt.Errorf("webhook unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
