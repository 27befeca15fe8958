package services

import (
	"context"

	"github.com/stealthpay/channels/internal/clearnode"
	"github.com/stealthpay/channels/internal/models"
	"github.com/stealthpay/channels/internal/registrar"
	"github.com/stealthpay/channels/internal/repositories"
	"github.com/stealthpay/channels/internal/signer"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func (s *ChannelService) ListChannels(ctx context.Context) ([]models.LocalChannel, error) {
	list, err := s.channels.Load(ctx)
	if err != nil {
		return nil, storeErr("list", err)
	}
	return list, nil
}

func (s *ChannelService) GetChannel(ctx context.Context, channelID string) (*models.LocalChannel, error) {
	return s.loadChannel(ctx, "get", channelID)
}

func (s *ChannelService) ListActivity(ctx context.Context, f repositories.ActivityFilter) ([]models.ActivityEvent, error) {
	list, err := s.activity.List(ctx, f)
	if err != nil {
		return nil, storeErr("activity", err)
	}
	return list, nil
}

func (s *ChannelService) ClearActivity(ctx context.Context) error {
	if err := s.activity.Clear(ctx); err != nil {
		return storeErr("activity", err)
	}
	s.log.Info("activity log cleared")
	return nil
}

// Overview is the initial prefetch a UI needs: network configuration and
// the wallet's off-chain balances. Each half fails independently.
type Overview struct {
	Network       *registrar.NetworkConfig `json:"network,omitempty"`
	NetworkError  string                   `json:"network_error,omitempty"`
	Wallet        string                   `json:"wallet,omitempty"`
	Balances      []clearnode.Balance      `json:"balances"`
	BalancesError string                   `json:"balances_error,omitempty"`
	Channels      map[string]int           `json:"channels"`
}

func (s *ChannelService) Overview(ctx context.Context) (*Overview, error) {
	out := &Overview{Balances: []clearnode.Balance{}}
	wallet := s.wallets.Current()
	if wallet != nil {
		out.Wallet = wallet.Address()
	}

	var g errgroup.Group

	g.Go(func() error {
		cfg, err := s.registrar.GetConfig(ctx)
		if err != nil {
			s.log.Warn("overview: registrar config unavailable", zap.Error(err))
			out.NetworkError = err.Error()
			return nil
		}
		out.Network = cfg
		return nil
	})

	g.Go(func() error {
		if wallet == nil {
			out.BalancesError = signer.ErrWalletRequired.Error()
			return nil
		}
		if err := s.sessions.Connect(ctx); err != nil {
			out.BalancesError = err.Error()
			return nil
		}
		balances, err := s.sessions.GetLedgerBalances(ctx, wallet, wallet.Address())
		if err != nil {
			s.log.Warn("overview: ledger balances unavailable", zap.Error(err))
			out.BalancesError = err.Error()
			return nil
		}
		if balances != nil {
			out.Balances = balances
		}
		return nil
	})

	counts, err := s.channels.CountByStatus(ctx)
	_ = g.Wait()
	if err != nil {
		return nil, storeErr("overview", err)
	}
	out.Channels = counts
	return out, nil
}
