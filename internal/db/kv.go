package db

import (
	"context"
	"fmt"
	"sync"

	"github.com/stealthpay/channels/internal/config"
	"go.uber.org/zap"
)

// KV is a durable key-value store. Every record is written whole.
type KV interface {
	// Get returns nil, nil when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// OpenKV opens the backend selected by cfg.StoreBackend.
func OpenKV(ctx context.Context, cfg *config.Config, log *zap.Logger) (KV, error) {
	switch cfg.StoreBackend {
	case config.StoreBolt, "":
		return OpenBoltKV(cfg.BoltPath, log)
	case config.StoreRedis:
		rdb, err := NewRedisClient(ctx, cfg.RedisURL, log)
		if err != nil {
			return nil, err
		}
		return NewRedisKV(rdb, true), nil
	case config.StorePostgres:
		pool, err := NewPostgresPool(ctx, cfg.PostgresDSN, log)
		if err != nil {
			return nil, err
		}
		if err := RunMigrations(ctx, pool, cfg.MigrationsDir, log); err != nil {
			pool.Close()
			return nil, err
		}
		return NewPostgresKV(pool, true), nil
	case config.StoreMemory:
		log.Warn("using in-memory store, channels will not survive a restart")
		return NewMemoryKV(), nil
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}

// MemoryKV keeps records in process memory.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryKV) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryKV) Close() error { return nil }
