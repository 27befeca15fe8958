// Package custody anchors a new channel on the base ledger by calling the
// custody contract through the connected wallet.
package custody

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/stealthpay/channels/internal/signer"
	"go.uber.org/zap"
)

var (
	ErrNotConfigured = errors.New("custody contract not configured")
	ErrReverted      = errors.New("custody transaction reverted")
)

type Config struct {
	CustodyAddress     string
	AdjudicatorAddress string
	ChainID            int64
	WSURL              string
	RPCURL             string
}

// Anchor identifies a channel created on the base ledger.
type Anchor struct {
	ChannelID string
	TxHash    string
}

type Opener interface {
	Open(ctx context.Context, cfg Config, sender signer.TxSender, amount *big.Int) (Anchor, error)
}

var createChannelSelector = signer.Keccak256([]byte("createChannel(bytes32,address,uint256)"))[:4]

// RPCOpener submits createChannel through the wallet and, when an RPC URL is
// configured, waits for the receipt.
type RPCOpener struct {
	httpClient     *http.Client
	log            *zap.Logger
	receiptTimeout time.Duration
	pollInterval   time.Duration
	now            func() time.Time
	rpcID          atomic.Uint64
}

func NewRPCOpener(receiptTimeout time.Duration, log *zap.Logger) *RPCOpener {
	if receiptTimeout <= 0 {
		receiptTimeout = 2 * time.Minute
	}
	return &RPCOpener{
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log:            log,
		receiptTimeout: receiptTimeout,
		pollInterval:   2 * time.Second,
		now:            time.Now,
	}
}

func (o *RPCOpener) Open(ctx context.Context, cfg Config, sender signer.TxSender, amount *big.Int) (Anchor, error) {
	if cfg.CustodyAddress == "" || cfg.AdjudicatorAddress == "" {
		return Anchor{}, ErrNotConfigured
	}
	if sender == nil {
		return Anchor{}, signer.ErrWalletRequired
	}
	if amount == nil || amount.Sign() <= 0 {
		return Anchor{}, fmt.Errorf("invalid lock amount")
	}

	chainID, err := sender.ChainID(ctx)
	if err != nil {
		return Anchor{}, fmt.Errorf("read wallet chain id: %w", err)
	}
	if cfg.ChainID != 0 && chainID != cfg.ChainID {
		return Anchor{}, fmt.Errorf("%w: wallet on %d, custody on %d", signer.ErrWrongNetwork, chainID, cfg.ChainID)
	}

	channelID, err := ChannelID(sender.Address(), cfg.AdjudicatorAddress, chainID, uint64(o.now().UnixNano()))
	if err != nil {
		return Anchor{}, err
	}
	data, err := CreateChannelCalldata(channelID, cfg.AdjudicatorAddress, amount)
	if err != nil {
		return Anchor{}, err
	}

	txHash, err := sender.SendTransaction(ctx, signer.Transaction{
		From: sender.Address(),
		To:   cfg.CustodyAddress,
		Data: "0x" + hex.EncodeToString(data),
	})
	if err != nil {
		return Anchor{}, fmt.Errorf("submit createChannel: %w", err)
	}

	anchor := Anchor{ChannelID: "0x" + hex.EncodeToString(channelID), TxHash: txHash}
	o.log.Info("custody createChannel submitted",
		zap.String("channel_id", anchor.ChannelID),
		zap.String("tx_hash", txHash),
	)

	if cfg.RPCURL == "" {
		return anchor, nil
	}
	if err := o.waitReceipt(ctx, cfg.RPCURL, txHash); err != nil {
		return Anchor{}, err
	}
	return anchor, nil
}

type receipt struct {
	Status      string `json:"status"`
	BlockNumber string `json:"blockNumber"`
}

func (o *RPCOpener) waitReceipt(ctx context.Context, rpcURL, txHash string) error {
	ctx, cancel := context.WithTimeout(ctx, o.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		var r *receipt
		err := signer.CallJSONRPC(ctx, o.httpClient, rpcURL, o.rpcID.Add(1), "eth_getTransactionReceipt", []any{txHash}, &r)
		if err != nil && ctx.Err() == nil {
			o.log.Debug("receipt poll failed", zap.String("tx_hash", txHash), zap.Error(err))
		}
		if r != nil {
			if r.Status == "0x1" {
				return nil
			}
			return fmt.Errorf("%w: %s", ErrReverted, txHash)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for receipt %s: %w", txHash, ctx.Err())
		case <-ticker.C:
		}
	}
}

// ChannelID derives the custody channel id the same way the contract does:
// keccak256 of the ABI-encoded (owner, adjudicator, chainId, nonce).
func ChannelID(owner, adjudicator string, chainID int64, nonce uint64) ([]byte, error) {
	ownerWord, err := addressWord(owner)
	if err != nil {
		return nil, fmt.Errorf("owner: %w", err)
	}
	adjWord, err := addressWord(adjudicator)
	if err != nil {
		return nil, fmt.Errorf("adjudicator: %w", err)
	}
	return signer.Keccak256(
		ownerWord,
		adjWord,
		uintWord(big.NewInt(chainID)),
		uintWord(new(big.Int).SetUint64(nonce)),
	), nil
}

func CreateChannelCalldata(channelID []byte, adjudicator string, amount *big.Int) ([]byte, error) {
	if len(channelID) != 32 {
		return nil, fmt.Errorf("channel id must be 32 bytes")
	}
	adjWord, err := addressWord(adjudicator)
	if err != nil {
		return nil, fmt.Errorf("adjudicator: %w", err)
	}

	out := make([]byte, 0, 4+32*3)
	out = append(out, createChannelSelector...)
	out = append(out, channelID...)
	out = append(out, adjWord...)
	out = append(out, uintWord(amount)...)
	return out, nil
}

func addressWord(addr string) ([]byte, error) {
	raw, err := signer.DecodeHex(addr)
	if err != nil {
		return nil, err
	}
	if len(raw) != 20 {
		return nil, fmt.Errorf("address must be 20 bytes, got %d", len(raw))
	}
	word := make([]byte, 32)
	copy(word[12:], raw)
	return word, nil
}

func uintWord(v *big.Int) []byte {
	word := make([]byte, 32)
	v.FillBytes(word)
	return word
}
