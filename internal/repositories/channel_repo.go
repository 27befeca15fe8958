package repositories

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"github.com/stealthpay/channels/internal/db"
	"github.com/stealthpay/channels/internal/models"
	"go.uber.org/zap"
)

const ChannelsKey = "privchan:channels"

var (
	ErrChannelNotFound  = errors.New("channel not found")
	ErrDuplicateChannel = errors.New("duplicate channel id")
)

// ChannelRepo is the persisted channel collection. Every write replaces the
// whole record; mu is the single serialization point for writers in this
// process.
type ChannelRepo struct {
	kv  db.KV
	log *zap.Logger
	mu  sync.Mutex
}

func NewChannelRepo(kv db.KV, log *zap.Logger) *ChannelRepo {
	return &ChannelRepo{kv: kv, log: log}
}

// Load returns every stored channel. Absent or malformed data is an empty list.
func (r *ChannelRepo) Load(ctx context.Context) ([]models.LocalChannel, error) {
	raw, err := r.kv.Get(ctx, ChannelsKey)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return []models.LocalChannel{}, nil
	}

	var list []models.LocalChannel
	if err := json.Unmarshal(raw, &list); err != nil {
		r.log.Debug("ignoring malformed channel record", zap.Error(err))
		return []models.LocalChannel{}, nil
	}
	if list == nil {
		list = []models.LocalChannel{}
	}
	return list, nil
}

// ReplaceAll overwrites the stored collection with list.
func (r *ChannelRepo) ReplaceAll(ctx context.Context, list []models.LocalChannel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.write(ctx, list)
}

func (r *ChannelRepo) write(ctx context.Context, list []models.LocalChannel) error {
	seen := make(map[string]struct{}, len(list))
	for _, ch := range list {
		if _, dup := seen[ch.ChannelID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateChannel, ch.ChannelID)
		}
		seen[ch.ChannelID] = struct{}{}
	}

	if list == nil {
		list = []models.LocalChannel{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return r.kv.Put(ctx, ChannelsKey, data)
}

func (r *ChannelRepo) Get(ctx context.Context, channelID string) (*models.LocalChannel, error) {
	list, err := r.Load(ctx)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].ChannelID == channelID {
			ch := list[i]
			return &ch, nil
		}
	}
	return nil, ErrChannelNotFound
}

func (r *ChannelRepo) Exists(ctx context.Context, channelID string) (bool, error) {
	_, err := r.Get(ctx, channelID)
	if errors.Is(err, ErrChannelNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Insert prepends a new channel. An existing channel_id is rejected.
func (r *ChannelRepo) Insert(ctx context.Context, ch models.LocalChannel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	list, err := r.Load(ctx)
	if err != nil {
		return err
	}
	for _, c := range list {
		if c.ChannelID == ch.ChannelID {
			return fmt.Errorf("%w: %s", ErrDuplicateChannel, ch.ChannelID)
		}
	}
	return r.write(ctx, append([]models.LocalChannel{ch}, list...))
}

// Update applies fn to the latest stored copy of a channel and writes the
// collection back. A status change must be a valid transition.
func (r *ChannelRepo) Update(ctx context.Context, channelID string, fn func(ch *models.LocalChannel) error) (*models.LocalChannel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list, err := r.Load(ctx)
	if err != nil {
		return nil, err
	}

	idx := -1
	for i := range list {
		if list[i].ChannelID == channelID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrChannelNotFound
	}

	updated := list[idx]
	if err := fn(&updated); err != nil {
		return nil, err
	}
	updated.ChannelID = channelID
	if updated.Status != list[idx].Status && !models.IsValidChannelTransition(list[idx].Status, updated.Status) {
		return nil, fmt.Errorf("invalid transition from %s to %s", list[idx].Status, updated.Status)
	}

	list[idx] = updated
	if err := r.write(ctx, list); err != nil {
		return nil, err
	}
	return &updated, nil
}

// Merge adds discovered channels that are not already stored. Existing
// entries win; new ones are prepended in the order given. It returns the
// channels that were actually added.
func (r *ChannelRepo) Merge(ctx context.Context, discovered []models.LocalChannel) ([]models.LocalChannel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list, err := r.Load(ctx)
	if err != nil {
		return nil, err
	}

	known := make(map[string]struct{}, len(list)+len(discovered))
	for _, c := range list {
		known[c.ChannelID] = struct{}{}
	}

	var added []models.LocalChannel
	for _, c := range discovered {
		if c.ChannelID == "" {
			continue
		}
		if _, ok := known[c.ChannelID]; ok {
			continue
		}
		known[c.ChannelID] = struct{}{}
		added = append(added, c)
	}
	if len(added) == 0 {
		return nil, nil
	}

	merged := make([]models.LocalChannel, 0, len(added)+len(list))
	merged = append(merged, added...)
	merged = append(merged, list...)
	if err := r.write(ctx, merged); err != nil {
		return nil, err
	}
	return added, nil
}

// CountByStatus is used for the channel gauges.
func (r *ChannelRepo) CountByStatus(ctx context.Context) (map[string]int, error) {
	list, err := r.Load(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, c := range list {
		counts[c.Status]++
	}
	return counts, nil
}
