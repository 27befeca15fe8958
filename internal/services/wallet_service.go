package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stealthpay/channels/internal/events"
	"github.com/stealthpay/channels/internal/signer"
	"go.uber.org/zap"
)

type WalletStatus struct {
	Connected   bool       `json:"connected"`
	Address     string     `json:"address,omitempty"`
	ChainID     int64      `json:"chain_id,omitempty"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
}

// WalletService holds the external wallet session. It is the
// WalletProvider the channel service signs and submits transactions with.
type WalletService struct {
	client    *signer.WalletClient
	chainID   int64
	publisher events.Publisher
	log       *zap.Logger

	mu          sync.RWMutex
	current     *signer.WalletSigner
	connectedAt time.Time
	now         func() time.Time
}

func NewWalletService(client *signer.WalletClient, chainID int64, publisher events.Publisher, log *zap.Logger) *WalletService {
	return &WalletService{
		client:    client,
		chainID:   chainID,
		publisher: publisher,
		log:       log,
		now:       time.Now,
	}
}

// Connect asks the wallet for its first account and checks the network.
func (s *WalletService) Connect(ctx context.Context) (*WalletStatus, error) {
	accounts, err := s.client.Accounts(ctx)
	if err != nil {
		return nil, walletErr("wallet", fmt.Errorf("wallet unavailable: %w", err))
	}
	if len(accounts) == 0 {
		return nil, walletErr("wallet", errors.New("wallet has no unlocked accounts"))
	}

	chainID, err := s.client.ChainID(ctx)
	if err != nil {
		return nil, walletErr("wallet", fmt.Errorf("read chain id: %w", err))
	}
	if s.chainID != 0 && chainID != s.chainID {
		return nil, walletErr("wallet", fmt.Errorf("%w: expected chain %d, got %d", signer.ErrWrongNetwork, s.chainID, chainID))
	}

	s.mu.Lock()
	s.current = signer.NewWalletSigner(s.client, accounts[0])
	s.connectedAt = s.now()
	s.mu.Unlock()

	s.log.Info("wallet connected", zap.String("address", accounts[0]), zap.Int64("chain_id", chainID))
	if s.publisher != nil {
		_ = s.publisher.Publish(ctx, events.StreamNotify,
			events.Notification(events.LevelSuccess, "Wallet connected", accounts[0]))
	}

	st := s.Status()
	st.ChainID = chainID
	return &st, nil
}

func (s *WalletService) Disconnect(ctx context.Context) {
	s.mu.Lock()
	prev := s.current
	s.current = nil
	s.mu.Unlock()

	if prev != nil {
		s.log.Info("wallet disconnected", zap.String("address", prev.Address()))
	}
}

func (s *WalletService) Status() WalletStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return WalletStatus{}
	}
	at := s.connectedAt
	return WalletStatus{
		Connected:   true,
		Address:     s.current.Address(),
		ChainID:     s.chainID,
		ConnectedAt: &at,
	}
}

// Current implements WalletProvider.
func (s *WalletService) Current() signer.TxSender {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	return s.current
}
