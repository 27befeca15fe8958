package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/stealthpay/channels/internal/clearnode"
	"github.com/stealthpay/channels/internal/events"
	"github.com/stealthpay/channels/internal/models"
	"github.com/stealthpay/channels/internal/registrar"
	"github.com/stealthpay/channels/internal/signer"
	"go.uber.org/zap"
)

// notOpenError reports a channel that is no longer open when its balance
// is about to be written.
type notOpenError struct{ status string }

func (e *notOpenError) Error() string {
	return fmt.Sprintf("channel is %s, not open", e.status)
}

func requireOpen(c *models.LocalChannel) error {
	if c.Status != models.ChannelStatusOpen {
		return &notOpenError{status: c.Status}
	}
	return nil
}

// updateErr keeps a channel closed mid-operation a validation failure
// rather than a store one.
func updateErr(op string, err error) error {
	var notOpen *notOpenError
	if errors.As(err, &notOpen) {
		return validationErr(op, notOpen.Error())
	}
	return storeErr(op, err)
}

type TransferInput struct {
	ChannelID   string
	Destination string
	Amount      string
}

// Transfer sends an off-chain payment funded by the channel's balance. The
// stored balance only changes after the payment went through.
func (s *ChannelService) Transfer(ctx context.Context, op *Operation, in TransferInput) (_ *models.LocalChannel, err error) {
	start := s.now()
	defer func() { s.finish(ctx, OpTransfer, op, start, err) }()

	dest := strings.TrimSpace(in.Destination)
	if dest == "" {
		return nil, validationErr(OpTransfer, "destination is required")
	}
	amount := strings.TrimSpace(in.Amount)
	if _, err := models.ParsePositiveAmount(amount); err != nil {
		return nil, validationErr(OpTransfer, err.Error())
	}

	ch, err := s.loadChannel(ctx, OpTransfer, in.ChannelID)
	if err != nil {
		return nil, err
	}
	if err := requireOpen(ch); err != nil {
		return nil, validationErr(OpTransfer, err.Error())
	}
	decimals, ok := s.cfg.Decimals(ch.Token)
	if !ok {
		return nil, validationErr(OpTransfer, fmt.Sprintf("unsupported token %s", ch.Token))
	}

	sig, err := s.signerFor(OpTransfer, ch)
	if err != nil {
		return nil, err
	}

	if err := s.sessions.Connect(ctx); err != nil {
		return nil, sessionErr(OpTransfer, err)
	}
	units, err := models.ToSmallestUnit(amount, decimals)
	if err != nil {
		return nil, validationErr(OpTransfer, err.Error())
	}
	err = s.sessions.SendPayment(ctx, clearnode.PaymentRequest{
		Signer:        sig,
		SenderAddress: sig.Address(),
		Recipient:     dest,
		Asset:         assetID(ch.Token),
		Amount:        units,
	})
	if err != nil {
		return nil, sessionErr(OpTransfer, err)
	}

	if err := op.Err(); err != nil {
		return nil, cancelledErr(OpTransfer)
	}

	updated, err := s.channels.Update(ctx, ch.ChannelID, func(c *models.LocalChannel) error {
		if err := requireOpen(c); err != nil {
			return err
		}
		if c.Token != ch.Token {
			return fmt.Errorf("channel token changed from %s to %s", ch.Token, c.Token)
		}
		bal, err := models.SubtractFloor(c.Amount, amount)
		if err != nil {
			return err
		}
		c.Amount = bal
		return nil
	})
	if err != nil {
		return nil, updateErr(OpTransfer, err)
	}

	ev := models.NewActivityEvent(s.now(), models.ActivityTransferSent, ch.ChannelID, amount, ch.Token,
		fmt.Sprintf("Sent %s %s to %s", amount, ch.Token, shortAddr(dest)))
	ev.From = sig.Address()
	ev.To = dest
	s.record(ctx, ev)
	s.notify(ctx, events.LevelSuccess, "Transfer sent", fmt.Sprintf("Sent %s %s", amount, ch.Token))

	s.log.Info("transfer sent",
		zap.String("channel_id", ch.ChannelID),
		zap.String("signer", string(sig.Kind())),
		zap.String("amount", amount),
	)
	return updated, nil
}

type FundInput struct {
	ChannelID string
	Amount    string
}

// Fund tops the channel up through a fresh session carrying the new total.
func (s *ChannelService) Fund(ctx context.Context, op *Operation, in FundInput) (_ *models.LocalChannel, err error) {
	start := s.now()
	defer func() { s.finish(ctx, OpFund, op, start, err) }()

	amount := strings.TrimSpace(in.Amount)
	if _, err := models.ParsePositiveAmount(amount); err != nil {
		return nil, validationErr(OpFund, err.Error())
	}

	ch, err := s.loadChannel(ctx, OpFund, in.ChannelID)
	if err != nil {
		return nil, err
	}
	if err := requireOpen(ch); err != nil {
		return nil, validationErr(OpFund, err.Error())
	}
	decimals, ok := s.cfg.Decimals(ch.Token)
	if !ok {
		return nil, validationErr(OpFund, fmt.Sprintf("unsupported token %s", ch.Token))
	}

	// funding always comes from the wallet, even for self-custodied channels
	wallet := s.wallets.Current()
	if wallet == nil {
		return nil, walletErr(OpFund, signer.ErrWalletRequired)
	}

	current, err := models.ToSmallestUnit(ch.Amount, decimals)
	if err != nil {
		return nil, storeErr(OpFund, fmt.Errorf("stored balance %q: %w", ch.Amount, err))
	}
	added, err := models.ToSmallestUnit(amount, decimals)
	if err != nil {
		return nil, validationErr(OpFund, err.Error())
	}
	total := new(big.Int).Add(current, added)

	if err := s.sessions.Connect(ctx); err != nil {
		return nil, sessionErr(OpFund, err)
	}
	sessionID, err := s.sessions.CreateSession(ctx, clearnode.CreateSessionRequest{
		Signer:         wallet,
		UserAddress:    wallet.Address(),
		PartnerAddress: ch.StealthAddress,
		Asset:          assetID(ch.Token),
		AmountUser:     big.NewInt(0),
		AmountPartner:  total,
	})
	if err != nil {
		return nil, sessionErr(OpFund, err)
	}

	if err := op.Err(); err != nil {
		return nil, cancelledErr(OpFund)
	}

	updated, err := s.channels.Update(ctx, ch.ChannelID, func(c *models.LocalChannel) error {
		if err := requireOpen(c); err != nil {
			return err
		}
		bal, err := models.AddAmounts(c.Amount, amount)
		if err != nil {
			return err
		}
		c.Amount = bal
		c.SessionID = sessionID
		return nil
	})
	if err != nil {
		return nil, updateErr(OpFund, err)
	}

	ev := models.NewActivityEvent(s.now(), models.ActivityChannelFunded, ch.ChannelID, amount, ch.Token,
		fmt.Sprintf("Added %s %s to the channel", amount, ch.Token))
	ev.SessionID = sessionID
	ev.From = wallet.Address()
	ev.To = ch.StealthAddress
	s.record(ctx, ev)
	s.notify(ctx, events.LevelSuccess, "Channel funded", fmt.Sprintf("Added %s %s", amount, ch.Token))

	s.log.Info("channel funded",
		zap.String("channel_id", ch.ChannelID),
		zap.String("session_id", sessionID),
		zap.String("amount", amount),
	)
	return updated, nil
}

type CloseResult struct {
	Channel         models.LocalChannel
	TxHash          string
	TxHashIsReal    bool
	SettledAmount   string
	SettlementToken string
}

// Close cooperatively closes the session, records the close with the
// backend, waits for settlement and marks the channel closed.
func (s *ChannelService) Close(ctx context.Context, op *Operation, channelID string) (_ *CloseResult, err error) {
	start := s.now()
	defer func() { s.finish(ctx, OpClose, op, start, err) }()

	ch, err := s.loadChannel(ctx, OpClose, channelID)
	if err != nil {
		return nil, err
	}
	if ch.IsClosed() {
		return nil, validationErr(OpClose, "channel is already closed")
	}

	sig, err := s.signerFor(OpClose, ch)
	if err != nil {
		return nil, err
	}

	// 1. Cooperative close
	if err := s.sessions.Connect(ctx); err != nil {
		return nil, sessionErr(OpClose, err)
	}
	err = s.sessions.CloseSession(ctx, clearnode.CloseRequest{
		Signer:           sig,
		SenderAddress:    sig.Address(),
		ChannelID:        ch.ChannelID,
		FundsDestination: ch.StealthAddress,
	})
	if err != nil {
		return nil, sessionErr(OpClose, err)
	}

	// 2. Backend close
	res, err := s.registrar.CloseChannel(ctx, ch.ChannelID)
	if err != nil {
		return nil, backendErr(OpClose, err)
	}

	// 3. Settlement wait
	s.sleep(ctx, s.cfg.SettlementWait)

	// 4. Complete
	if err := op.Err(); err != nil {
		return nil, cancelledErr(OpClose)
	}

	settled := settledAmount(res.FinalBalances, ch.Token, ch.Amount)
	if _, err := models.ParseAmount(settled); err != nil {
		s.log.Warn("registrar reported unusable settled amount, keeping local balance",
			zap.String("channel_id", ch.ChannelID),
			zap.String("amount", settled),
		)
		settled = ch.Amount
	}

	updated, err := s.channels.Update(ctx, ch.ChannelID, func(c *models.LocalChannel) error {
		c.Status = models.ChannelStatusClosed
		c.Amount = settled
		return nil
	})
	if err != nil {
		return nil, storeErr(OpClose, err)
	}

	isReal := !res.TxHashIsPlaceholder && models.IsRealTxHash(res.TxHash)
	details := "Channel closed, settlement submitted on-chain"
	if !isReal {
		details = "Channel closed, settlement pending (tracking reference only)"
	}
	ev := models.NewActivityEvent(s.now(), models.ActivityChannelClosed, ch.ChannelID, settled, ch.Token, details)
	ev.TxHash = res.TxHash
	ev.TxHashIsPlaceholder = !isReal
	ev.To = ch.StealthAddress
	s.record(ctx, ev)
	s.notify(ctx, events.LevelSuccess, "Channel closed", fmt.Sprintf("Settled %s %s to %s", settled, ch.Token, shortAddr(ch.StealthAddress)))

	s.log.Info("channel closed",
		zap.String("channel_id", ch.ChannelID),
		zap.String("tx_hash", res.TxHash),
		zap.Bool("tx_hash_is_real", isReal),
	)

	return &CloseResult{
		Channel:         *updated,
		TxHash:          res.TxHash,
		TxHashIsReal:    isReal,
		SettledAmount:   settled,
		SettlementToken: ch.Token,
	}, nil
}

// settledAmount picks the backend's balance for token, else the first
// balance it reported, else the local one.
func settledAmount(balances []registrar.Balance, token, local string) string {
	for _, b := range balances {
		if strings.EqualFold(b.Token, token) && b.Amount != "" {
			return b.Amount
		}
	}
	if len(balances) > 0 && balances[0].Amount != "" {
		return balances[0].Amount
	}
	return local
}

func shortAddr(a string) string {
	if len(a) <= 12 {
		return a
	}
	return a[:6] + "…" + a[len(a)-4:]
}
