package repositories

import (
	"context"
	"sync"

	"github.com/goccy/go-json"
	"github.com/stealthpay/channels/internal/db"
	"github.com/stealthpay/channels/internal/models"
	"go.uber.org/zap"
)

const ActivityKey = "privchan:activity"

// ActivityRepo is the append-only activity log, most recent first. The only
// mutations are prepending new events and clearing everything.
type ActivityRepo struct {
	kv  db.KV
	log *zap.Logger
	mu  sync.Mutex
}

func NewActivityRepo(kv db.KV, log *zap.Logger) *ActivityRepo {
	return &ActivityRepo{kv: kv, log: log}
}

func (r *ActivityRepo) Load(ctx context.Context) ([]models.ActivityEvent, error) {
	raw, err := r.kv.Get(ctx, ActivityKey)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return []models.ActivityEvent{}, nil
	}

	var list []models.ActivityEvent
	if err := json.Unmarshal(raw, &list); err != nil {
		r.log.Debug("ignoring malformed activity record", zap.Error(err))
		return []models.ActivityEvent{}, nil
	}
	if list == nil {
		list = []models.ActivityEvent{}
	}
	return list, nil
}

// Record prepends events one by one in the order given, so the last
// argument ends up at the head of the log.
func (r *ActivityRepo) Record(ctx context.Context, events ...models.ActivityEvent) error {
	if len(events) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	list, err := r.Load(ctx)
	if err != nil {
		return err
	}

	out := make([]models.ActivityEvent, 0, len(list)+len(events))
	for i := len(events) - 1; i >= 0; i-- {
		out = append(out, events[i])
	}
	out = append(out, list...)

	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return r.kv.Put(ctx, ActivityKey, data)
}

func (r *ActivityRepo) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.kv.Put(ctx, ActivityKey, []byte("[]"))
}

type ActivityFilter struct {
	ChannelID string
	Type      string
	Limit     int
	Offset    int
}

func (r *ActivityRepo) List(ctx context.Context, f ActivityFilter) ([]models.ActivityEvent, error) {
	list, err := r.Load(ctx)
	if err != nil {
		return nil, err
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	out := []models.ActivityEvent{}
	skipped := 0
	for _, e := range list {
		if f.ChannelID != "" && e.ChannelID != f.ChannelID {
			continue
		}
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		out = append(out, e)
		if len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}
