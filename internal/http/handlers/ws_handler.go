package handlers

import (
	"context"
	"sync"

	"github.com/goccy/go-json"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/stealthpay/channels/internal/auth"
	"github.com/stealthpay/channels/internal/config"
	"github.com/stealthpay/channels/internal/events"
	"go.uber.org/zap"
)

// WSHub fans activity and notification events out to every authenticated
// websocket client.
type WSHub struct {
	cfg         *config.Config
	subscriber  events.Subscriber
	log         *zap.Logger
	mu          sync.Mutex
	connections map[string][]*websocket.Conn
}

func NewWSHub(cfg *config.Config, subscriber events.Subscriber, log *zap.Logger) *WSHub {
	return &WSHub{
		cfg:         cfg,
		subscriber:  subscriber,
		log:         log,
		connections: make(map[string][]*websocket.Conn),
	}
}

func (h *WSHub) Start(ctx context.Context) error {
	for _, stream := range []string{events.StreamChannels, events.StreamNotify} {
		if err := h.subscriber.Subscribe(ctx, stream, h.broadcast); err != nil {
			return err
		}
	}
	return nil
}

func (h *WSHub) broadcast(event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Warn("ws: marshal event", zap.String("type", event.Type), zap.Error(err))
		return
	}

	// one writer per connection at a time
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, conns := range h.connections {
		for _, conn := range conns {
			_ = conn.WriteMessage(websocket.TextMessage, data)
		}
	}
}

// Clients returns the number of open connections.
func (h *WSHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, conns := range h.connections {
		n += len(conns)
	}
	return n
}

// WSUpgradeMiddleware checks for websocket upgrade
func WSUpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

func (h *WSHub) HandleWS(conn *websocket.Conn) {
	tokenStr := conn.Query("token")
	if tokenStr == "" {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"missing token"}`))
		conn.Close()
		return
	}

	claims, err := auth.ParseJWT(h.cfg.JWTSecret, tokenStr)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token"}`))
		conn.Close()
		return
	}

	clientID := claims.ClientID

	h.mu.Lock()
	h.connections[clientID] = append(h.connections[clientID], conn)
	h.mu.Unlock()
	h.log.Debug("ws client connected", zap.String("client_id", clientID))

	defer func() {
		h.mu.Lock()
		conns := h.connections[clientID]
		for i, c := range conns {
			if c == conn {
				h.connections[clientID] = append(conns[:i], conns[i+1:]...)
				break
			}
		}
		if len(h.connections[clientID]) == 0 {
			delete(h.connections, clientID)
		}
		h.mu.Unlock()
		conn.Close()
	}()

	// Read loop (keep alive / pings)
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}
