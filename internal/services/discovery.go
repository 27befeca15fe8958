package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/stealthpay/channels/internal/events"
	"github.com/stealthpay/channels/internal/models"
	"github.com/stealthpay/channels/internal/registrar"
	"go.uber.org/zap"
)

// DiscoverInput holds the user's scanning keys. They are passed through to
// the registrar and never stored or logged.
type DiscoverInput struct {
	ViewingSK  string
	SpendingPK string
	SpendingSK string
}

type DiscoverResult struct {
	Found int                   `json:"found"`
	Added []models.LocalChannel `json:"added"`
}

// Discover asks the registrar for channels addressed to the user's keys and
// merges the ones not known locally.
func (s *ChannelService) Discover(ctx context.Context, op *Operation, in DiscoverInput) (_ *DiscoverResult, err error) {
	start := s.now()
	defer func() { s.finish(ctx, OpDiscover, op, start, err) }()

	if strings.TrimSpace(in.ViewingSK) == "" || strings.TrimSpace(in.SpendingPK) == "" || strings.TrimSpace(in.SpendingSK) == "" {
		return nil, validationErr(OpDiscover, "viewing_sk, spending_pk and spending_sk are required")
	}

	found, err := s.registrar.DiscoverChannels(ctx, registrar.DiscoverRequest{
		ViewingSK:  in.ViewingSK,
		SpendingPK: in.SpendingPK,
		SpendingSK: in.SpendingSK,
	})
	if err != nil {
		return nil, backendErr(OpDiscover, err)
	}

	candidates := make([]models.LocalChannel, 0, len(found))
	for _, d := range found {
		ch, ok := s.fromDiscovered(d)
		if ok {
			candidates = append(candidates, ch)
		}
	}

	if err := op.Err(); err != nil {
		return nil, cancelledErr(OpDiscover)
	}

	added, err := s.channels.Merge(ctx, candidates)
	if err != nil {
		return nil, storeErr(OpDiscover, err)
	}

	if len(added) > 0 {
		now := s.now()
		evs := make([]models.ActivityEvent, 0, len(added))
		for _, ch := range added {
			ev := models.NewActivityEvent(now, models.ActivityChannelDiscovered, ch.ChannelID, ch.Amount, ch.Token,
				fmt.Sprintf("Discovered %s channel at %s", ch.Status, shortAddr(ch.StealthAddress)))
			ev.To = ch.StealthAddress
			evs = append(evs, ev)
		}
		s.record(ctx, evs...)
	}

	msg := "No new channels found"
	if len(added) > 0 {
		msg = fmt.Sprintf("Found %d new channel(s)", len(added))
	}
	s.notify(ctx, events.LevelInfo, "Discovery complete", msg)

	s.log.Info("discovery finished", zap.Int("found", len(found)), zap.Int("added", len(added)))

	if added == nil {
		added = []models.LocalChannel{}
	}
	return &DiscoverResult{Found: len(found), Added: added}, nil
}

// fromDiscovered converts a registrar record. Status and amount are taken
// verbatim; records that would break store invariants are skipped.
func (s *ChannelService) fromDiscovered(d registrar.DiscoveredChannel) (models.LocalChannel, bool) {
	if d.ChannelID == "" {
		s.log.Warn("skipping discovered channel without id")
		return models.LocalChannel{}, false
	}
	if !models.IsKnownChannelStatus(d.Status) {
		s.log.Warn("skipping discovered channel with unknown status",
			zap.String("channel_id", d.ChannelID),
			zap.String("status", d.Status),
		)
		return models.LocalChannel{}, false
	}

	amount := d.Amount
	if amount == "" {
		amount = "0"
	}
	if _, err := models.ParseAmount(amount); err != nil {
		s.log.Warn("skipping discovered channel with invalid amount",
			zap.String("channel_id", d.ChannelID),
			zap.String("amount", amount),
		)
		return models.LocalChannel{}, false
	}

	token := d.Token
	if token == "" {
		token = s.cfg.DefaultToken
	}
	createdAt := d.DiscoveredAt
	if createdAt <= 0 {
		createdAt = s.now().Unix()
	}

	return models.LocalChannel{
		ChannelID:      d.ChannelID,
		StealthAddress: d.StealthAddress,
		EthPrivateKey:  d.EthPrivateKey,
		Status:         d.Status,
		Token:          token,
		Amount:         amount,
		CreatedAt:      createdAt,
	}, true
}
