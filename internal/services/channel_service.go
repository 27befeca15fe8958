package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stealthpay/channels/internal/clearnode"
	"github.com/stealthpay/channels/internal/config"
	"github.com/stealthpay/channels/internal/custody"
	"github.com/stealthpay/channels/internal/events"
	"github.com/stealthpay/channels/internal/metrics"
	"github.com/stealthpay/channels/internal/models"
	"github.com/stealthpay/channels/internal/registrar"
	"github.com/stealthpay/channels/internal/repositories"
	"github.com/stealthpay/channels/internal/resolver"
	"github.com/stealthpay/channels/internal/signer"
	"go.uber.org/zap"
)

type Resolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

type Registrar interface {
	CreateChannel(ctx context.Context, req registrar.CreateChannelRequest) (*registrar.CreateChannelResult, error)
	CloseChannel(ctx context.Context, channelID string) (*registrar.CloseChannelResult, error)
	DiscoverChannels(ctx context.Context, req registrar.DiscoverRequest) ([]registrar.DiscoveredChannel, error)
	GetConfig(ctx context.Context) (*registrar.NetworkConfig, error)
}

type SessionClient interface {
	Connect(ctx context.Context) error
	CreateSession(ctx context.Context, req clearnode.CreateSessionRequest) (string, error)
	SendPayment(ctx context.Context, req clearnode.PaymentRequest) error
	CloseSession(ctx context.Context, req clearnode.CloseRequest) error
	GetLedgerBalances(ctx context.Context, s signer.Signer, account string) ([]clearnode.Balance, error)
}

// WalletProvider returns the connected wallet, or nil when none is.
type WalletProvider interface {
	Current() signer.TxSender
}

// ChannelService is the channel lifecycle coordinator. It is the only writer
// of the channel store and the activity log.
type ChannelService struct {
	channels  *repositories.ChannelRepo
	activity  *repositories.ActivityRepo
	resolver  Resolver
	registrar Registrar
	sessions  SessionClient
	opener    custody.Opener
	wallets   WalletProvider
	publisher events.Publisher
	metrics   metrics.Recorder
	cfg       *config.Config
	log       *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

func NewChannelService(
	channels *repositories.ChannelRepo,
	activity *repositories.ActivityRepo,
	resolver Resolver,
	registrar Registrar,
	sessions SessionClient,
	opener custody.Opener,
	wallets WalletProvider,
	publisher events.Publisher,
	recorder metrics.Recorder,
	cfg *config.Config,
	log *zap.Logger,
) *ChannelService {
	if recorder == nil {
		recorder = metrics.Noop{}
	}
	return &ChannelService{
		channels:  channels,
		activity:  activity,
		resolver:  resolver,
		registrar: registrar,
		sessions:  sessions,
		opener:    opener,
		wallets:   wallets,
		publisher: publisher,
		metrics:   recorder,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// sleepCtx waits for d or until ctx ends, whichever is first.
func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

type CreateChannelInput struct {
	Recipient string
	Token     string
	Amount    string
}

type CreateChannelResult struct {
	Channel  models.LocalChannel
	Anchored bool
	Message  string
}

// notAnchored is the fallback branch of the on-chain step.
type notAnchored struct {
	reason error
}

type anchorOutcome = fn.Either[custody.Anchor, notAnchored]

// CreateChannel resolves the recipient, optionally anchors the channel
// on-chain, registers it with the backend, funds an off-chain session and
// records the result.
func (s *ChannelService) CreateChannel(ctx context.Context, op *Operation, in CreateChannelInput) (_ *CreateChannelResult, err error) {
	start := s.now()
	defer func() { s.finish(ctx, OpCreate, op, start, err) }()

	label := strings.TrimSpace(in.Recipient)
	if label == "" {
		return nil, validationErr(OpCreate, "recipient is required")
	}
	amount := strings.TrimSpace(in.Amount)
	if _, err := models.ParsePositiveAmount(amount); err != nil {
		return nil, validationErr(OpCreate, err.Error())
	}
	token := s.normalizeToken(in.Token)
	decimals, ok := s.cfg.Decimals(token)
	if !ok {
		return nil, validationErr(OpCreate, fmt.Sprintf("unsupported token %s", token))
	}
	units, err := models.ToSmallestUnit(amount, decimals)
	if err != nil {
		return nil, validationErr(OpCreate, err.Error())
	}

	// 1. Resolve recipient
	recipientID, err := s.resolveRecipient(ctx, label)
	if err != nil {
		return nil, err
	}

	wallet := s.wallets.Current()
	if wallet == nil {
		return nil, walletErr(OpCreate, signer.ErrWalletRequired)
	}

	// 2. Anchor on-chain (best effort)
	outcome := s.anchor(ctx, wallet, units)

	// 3. Register with backend
	req := registrar.CreateChannelRequest{
		Recipient: recipientID,
		Token:     token,
		Amount:    amount,
	}
	outcome.WhenLeft(func(a custody.Anchor) {
		req.ChannelID = a.ChannelID
	})

	reg, err := s.registrar.CreateChannel(ctx, req)
	if err != nil {
		return nil, backendErr(OpCreate, err)
	}
	exists, err := s.channels.Exists(ctx, reg.ChannelID)
	if err != nil {
		return nil, storeErr(OpCreate, err)
	}
	if exists {
		return nil, backendErr(OpCreate, fmt.Errorf("registrar returned existing channel id %s", reg.ChannelID))
	}

	// 4. Fund the off-chain session
	sessionID, err := s.openSession(ctx, wallet, reg.StealthAddress, token, units)
	if err != nil {
		s.log.Warn("channel registered but session funding failed, local record abandoned",
			zap.String("channel_id", reg.ChannelID),
			zap.Error(err),
		)
		return nil, err
	}

	// 5. Finalize
	if err := op.Err(); err != nil {
		s.log.Warn("create cancelled before commit",
			zap.String("operation_id", op.ID),
			zap.String("channel_id", reg.ChannelID),
		)
		return nil, cancelledErr(OpCreate)
	}

	now := s.now()
	ch := models.LocalChannel{
		ChannelID:      reg.ChannelID,
		StealthAddress: reg.StealthAddress,
		Status:         models.ChannelStatusOpen,
		Token:          token,
		Amount:         amount,
		Recipient:      label,
		CreatedAt:      now.Unix(),
		SessionID:      sessionID,
	}
	outcome.WhenLeft(func(a custody.Anchor) {
		ch.TxHash = a.TxHash
	})

	if err := s.channels.Insert(ctx, ch); err != nil {
		return nil, storeErr(OpCreate, err)
	}

	created := models.NewActivityEvent(now, models.ActivityChannelCreated, ch.ChannelID, amount, token, "")
	created.From = wallet.Address()
	created.To = ch.StealthAddress
	created.TxHash = reg.TxHash
	outcome.WhenLeft(func(a custody.Anchor) {
		created.TxHash = a.TxHash
		created.Details = fmt.Sprintf("Channel to %s anchored on-chain and registered", label)
	})
	outcome.WhenRight(func(notAnchored) {
		created.Details = fmt.Sprintf("Channel to %s registered off-chain (not anchored on-chain)", label)
	})
	created.TxHashIsPlaceholder = created.TxHash != "" && !models.IsRealTxHash(created.TxHash)

	funded := models.NewActivityEvent(now, models.ActivityChannelFunded, ch.ChannelID, amount, token,
		fmt.Sprintf("Session funded with %s %s", amount, token))
	funded.SessionID = sessionID
	funded.To = ch.StealthAddress

	s.record(ctx, created, funded)

	msg := fmt.Sprintf("Channel %s is open and anchored on-chain", ch.ChannelID)
	if outcome.IsRight() {
		msg = fmt.Sprintf("Channel %s is open (off-chain only, on-chain anchoring was skipped)", ch.ChannelID)
	}
	s.notify(ctx, events.LevelSuccess, "Channel created", msg)

	s.log.Info("channel created",
		zap.String("channel_id", ch.ChannelID),
		zap.String("token", token),
		zap.Bool("anchored", outcome.IsLeft()),
	)

	return &CreateChannelResult{Channel: ch, Anchored: outcome.IsLeft(), Message: msg}, nil
}

func (s *ChannelService) resolveRecipient(ctx context.Context, raw string) (string, error) {
	if resolver.LooksLikeMetaAddress(raw) {
		return raw, nil
	}
	meta, err := s.resolver.Resolve(ctx, raw)
	if err != nil {
		return "", resolutionErr(OpCreate, err)
	}
	return meta, nil
}

// anchor runs the optional on-chain step. Every failure, including a
// missing custody configuration, is the right branch.
func (s *ChannelService) anchor(ctx context.Context, wallet signer.TxSender, units *big.Int) anchorOutcome {
	if s.opener == nil || !s.cfg.CustodyEnabled() {
		s.metrics.IncAnchor("skipped")
		return fn.NewRight[custody.Anchor](notAnchored{reason: custody.ErrNotConfigured})
	}

	cfg := custody.Config{
		CustodyAddress:     s.cfg.CustodyAddress,
		AdjudicatorAddress: s.cfg.AdjudicatorAddress,
		ChainID:            s.cfg.ChainID,
		WSURL:              s.cfg.ChainWSURL,
		RPCURL:             s.cfg.ChainRPCURL,
	}
	a, err := s.opener.Open(ctx, cfg, wallet, units)
	if err != nil {
		s.metrics.IncAnchor("failed")
		s.log.Warn("on-chain anchoring failed, continuing off-chain", zap.Error(err))
		return fn.NewRight[custody.Anchor](notAnchored{reason: err})
	}

	s.metrics.IncAnchor("anchored")
	return fn.NewLeft[custody.Anchor, notAnchored](a)
}

// openSession connects the session client and opens a session that gives
// partner the whole allocation.
func (s *ChannelService) openSession(ctx context.Context, wallet signer.TxSender, partner, token string, units *big.Int) (string, error) {
	if err := s.sessions.Connect(ctx); err != nil {
		return "", sessionErr(OpCreate, err)
	}
	id, err := s.sessions.CreateSession(ctx, clearnode.CreateSessionRequest{
		Signer:         wallet,
		UserAddress:    wallet.Address(),
		PartnerAddress: partner,
		Asset:          assetID(token),
		AmountUser:     big.NewInt(0),
		AmountPartner:  units,
	})
	if err != nil {
		return "", sessionErr(OpCreate, err)
	}
	return id, nil
}

// signerFor picks the signer for one operation on ch.
func (s *ChannelService) signerFor(opName string, ch *models.LocalChannel) (signer.Signer, error) {
	sig, err := signer.Select(ch.EthPrivateKey, s.wallets.Current())
	if err != nil {
		if errors.Is(err, signer.ErrWalletRequired) {
			return nil, walletErr(opName, err)
		}
		return nil, validationErr(opName, "channel key is unusable: "+err.Error())
	}
	return sig, nil
}

func (s *ChannelService) loadChannel(ctx context.Context, opName, channelID string) (*models.LocalChannel, error) {
	ch, err := s.channels.Get(ctx, channelID)
	if errors.Is(err, repositories.ErrChannelNotFound) {
		return nil, notFoundErr(opName, channelID)
	}
	if err != nil {
		return nil, storeErr(opName, err)
	}
	return ch, nil
}

func (s *ChannelService) normalizeToken(token string) string {
	token = strings.ToUpper(strings.TrimSpace(token))
	if token == "" {
		return s.cfg.DefaultToken
	}
	return token
}

// assetID is the session ledger's name for a token symbol.
func assetID(token string) string {
	return strings.ToLower(token)
}

// record appends events to the activity log and broadcasts them. A failed
// write is logged; the operation it describes has already happened.
func (s *ChannelService) record(ctx context.Context, evs ...models.ActivityEvent) {
	if err := s.activity.Record(ctx, evs...); err != nil {
		s.log.Error("failed to record activity", zap.Int("events", len(evs)), zap.Error(err))
		return
	}
	for _, ev := range evs {
		s.publish(ctx, events.StreamChannels, events.Event{
			Type: events.EventChannelActivity,
			Payload: map[string]any{
				"activity": ev,
			},
		})
	}
	s.refreshGauges(ctx)
}

func (s *ChannelService) notify(ctx context.Context, level, title, message string) {
	s.publish(ctx, events.StreamNotify, events.Notification(level, title, message))
}

func (s *ChannelService) publish(ctx context.Context, stream string, ev events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, stream, ev); err != nil {
		s.log.Warn("failed to publish event", zap.String("stream", stream), zap.String("type", ev.Type), zap.Error(err))
	}
}

func (s *ChannelService) refreshGauges(ctx context.Context) {
	counts, err := s.channels.CountByStatus(ctx)
	if err != nil {
		return
	}
	for _, st := range []string{models.ChannelStatusPending, models.ChannelStatusOpen, models.ChannelStatusClosing, models.ChannelStatusClosed} {
		s.metrics.SetChannels(st, counts[st])
	}
}

var operationTitles = map[string]string{
	OpCreate:   "Channel creation failed",
	OpTransfer: "Transfer failed",
	OpFund:     "Funding failed",
	OpClose:    "Close failed",
	OpDiscover: "Discovery failed",
}

// finish records metrics for a flow and surfaces its error, if any, on the
// notification stream.
func (s *ChannelService) finish(ctx context.Context, kind string, op *Operation, start time.Time, err error) {
	s.metrics.ObserveOperationDuration(kind, s.now().Sub(start))

	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
		s.notify(ctx, events.LevelError, operationTitles[kind], err.Error())
		s.log.Info("operation failed",
			zap.String("kind", kind),
			zap.String("outcome", outcome),
			zap.String("operation_id", opID(op)),
			zap.Error(err),
		)
	}
	s.metrics.IncOperation(kind, outcome)
}

func opID(op *Operation) string {
	if op == nil {
		return ""
	}
	return op.ID
}
