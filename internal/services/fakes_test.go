package services

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stealthpay/channels/internal/clearnode"
	"github.com/stealthpay/channels/internal/config"
	"github.com/stealthpay/channels/internal/custody"
	"github.com/stealthpay/channels/internal/db"
	"github.com/stealthpay/channels/internal/events"
	"github.com/stealthpay/channels/internal/metrics"
	"github.com/stealthpay/channels/internal/registrar"
	"github.com/stealthpay/channels/internal/repositories"
	"github.com/stealthpay/channels/internal/signer"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	walletKey  = "0x0000000000000000000000000000000000000000000000000000000000000001"
	channelKey = "0x0000000000000000000000000000000000000000000000000000000000000002"
	realHash   = "0x" + "ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12"
)

type fakeResolver struct {
	meta  map[string]string
	err   error
	calls int
}

func (f *fakeResolver) Resolve(_ context.Context, name string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.meta[name], nil
}

type fakeRegistrar struct {
	createRes   *registrar.CreateChannelResult
	createErr   error
	closeRes    *registrar.CloseChannelResult
	closeErr    error
	discovered  []registrar.DiscoveredChannel
	discoverErr error
	netCfg      *registrar.NetworkConfig
	cfgErr      error

	createReqs []registrar.CreateChannelRequest
	closeIDs   []string
}

func (f *fakeRegistrar) CreateChannel(_ context.Context, req registrar.CreateChannelRequest) (*registrar.CreateChannelResult, error) {
	f.createReqs = append(f.createReqs, req)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.createRes, nil
}

func (f *fakeRegistrar) CloseChannel(_ context.Context, id string) (*registrar.CloseChannelResult, error) {
	f.closeIDs = append(f.closeIDs, id)
	if f.closeErr != nil {
		return nil, f.closeErr
	}
	return f.closeRes, nil
}

func (f *fakeRegistrar) DiscoverChannels(_ context.Context, _ registrar.DiscoverRequest) ([]registrar.DiscoveredChannel, error) {
	return f.discovered, f.discoverErr
}

func (f *fakeRegistrar) GetConfig(context.Context) (*registrar.NetworkConfig, error) {
	return f.netCfg, f.cfgErr
}

type fakeSessions struct {
	connectErr error
	createErr  error
	sendErr    error
	closeErr   error
	sessionID  string
	balances   []clearnode.Balance

	connects int
	sessions []clearnode.CreateSessionRequest
	payments []clearnode.PaymentRequest
	closes   []clearnode.CloseRequest

	// run after the call succeeds, before returning
	afterCreate func()
	afterSend   func()
}

func (f *fakeSessions) Connect(context.Context) error {
	f.connects++
	return f.connectErr
}

func (f *fakeSessions) CreateSession(_ context.Context, req clearnode.CreateSessionRequest) (string, error) {
	f.sessions = append(f.sessions, req)
	if f.createErr != nil {
		return "", f.createErr
	}
	if f.afterCreate != nil {
		f.afterCreate()
	}
	return f.sessionID, nil
}

func (f *fakeSessions) SendPayment(_ context.Context, req clearnode.PaymentRequest) error {
	f.payments = append(f.payments, req)
	if f.sendErr != nil {
		return f.sendErr
	}
	if f.afterSend != nil {
		f.afterSend()
	}
	return nil
}

func (f *fakeSessions) CloseSession(_ context.Context, req clearnode.CloseRequest) error {
	f.closes = append(f.closes, req)
	return f.closeErr
}

func (f *fakeSessions) GetLedgerBalances(context.Context, signer.Signer, string) ([]clearnode.Balance, error) {
	return f.balances, nil
}

type fakeOpener struct {
	anchor custody.Anchor
	err    error
	calls  int
	amount *big.Int
}

func (f *fakeOpener) Open(_ context.Context, _ custody.Config, _ signer.TxSender, amount *big.Int) (custody.Anchor, error) {
	f.calls++
	f.amount = amount
	return f.anchor, f.err
}

// testWallet is a wallet-kind TxSender backed by a local key.
type testWallet struct {
	*signer.PrivateKeySigner
}

func (w testWallet) Kind() signer.Kind                      { return signer.KindWallet }
func (w testWallet) ChainID(context.Context) (int64, error) { return 11155111, nil }
func (w testWallet) SendTransaction(context.Context, signer.Transaction) (string, error) {
	return realHash, nil
}

type fakeWallets struct {
	w signer.TxSender
}

func (f *fakeWallets) Current() signer.TxSender { return f.w }

type capturedEvents struct {
	mu     sync.Mutex
	events map[string][]events.Event
}

func (c *capturedEvents) Publish(_ context.Context, stream string, ev events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.events == nil {
		c.events = make(map[string][]events.Event)
	}
	c.events[stream] = append(c.events[stream], ev)
	return nil
}

func (c *capturedEvents) on(stream string) []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.Event(nil), c.events[stream]...)
}

type harness struct {
	svc       *ChannelService
	channels  *repositories.ChannelRepo
	activity  *repositories.ActivityRepo
	resolver  *fakeResolver
	registrar *fakeRegistrar
	sessions  *fakeSessions
	opener    *fakeOpener
	wallets   *fakeWallets
	bus       *capturedEvents
	cfg       *config.Config
	slept     time.Duration
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	key, err := signer.NewPrivateKeySigner(walletKey)
	require.NoError(t, err)

	kv := db.NewMemoryKV()
	log := zap.NewNop()
	cfg := &config.Config{
		ChainID:            11155111,
		CustodyAddress:     "0x1111111111111111111111111111111111111111",
		AdjudicatorAddress: "0x2222222222222222222222222222222222222222",
		SettlementWait:     3 * time.Second,
		DefaultToken:       "USDC",
		TokenDecimals:      map[string]int32{"USDC": 6, "ETH": 18},
	}

	h := &harness{
		channels:  repositories.NewChannelRepo(kv, log),
		activity:  repositories.NewActivityRepo(kv, log),
		resolver:  &fakeResolver{meta: map[string]string{}},
		registrar: &fakeRegistrar{},
		sessions:  &fakeSessions{sessionID: "sess_1"},
		opener:    &fakeOpener{},
		wallets:   &fakeWallets{w: testWallet{key}},
		bus:       &capturedEvents{},
		cfg:       cfg,
	}
	h.svc = NewChannelService(h.channels, h.activity, h.resolver, h.registrar, h.sessions, h.opener, h.wallets, h.bus, metrics.Noop{}, cfg, log)
	h.svc.now = func() time.Time { return time.UnixMilli(1700000000123) }
	h.svc.sleep = func(_ context.Context, d time.Duration) { h.slept += d }
	return h
}
