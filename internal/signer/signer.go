// Package signer provides the two signing identities the coordinator can act
// with: a stealth-address private key held by the channel itself, or an
// external wallet reached over JSON-RPC. Both produce EIP-191 message
// signatures; only the wallet can submit base-ledger transactions.
package signer

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrWalletRequired = errors.New("wallet not connected")
	ErrWrongNetwork   = errors.New("wallet is connected to the wrong network")
)

type Kind string

const (
	KindPrivateKey Kind = "private_key"
	KindWallet     Kind = "wallet"
)

// Signer signs off-chain messages.
type Signer interface {
	Kind() Kind
	Address() string
	SignMessage(ctx context.Context, msg []byte) (string, error)
}

// TxSender is a Signer that can also submit base-ledger transactions.
type TxSender interface {
	Signer
	ChainID(ctx context.Context) (int64, error)
	SendTransaction(ctx context.Context, tx Transaction) (string, error)
}

// Transaction is an unsigned call handed to the wallet for signing and
// broadcast. Data and Value are 0x-prefixed hex.
type Transaction struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Data  string `json:"data,omitempty"`
	Value string `json:"value,omitempty"`
	Gas   string `json:"gas,omitempty"`
}

// Select picks the signer for one operation: the channel's own key when it
// has one, otherwise the connected wallet. wallet may be nil.
func Select(channelKey string, wallet TxSender) (Signer, error) {
	if strings.TrimSpace(channelKey) != "" {
		s, err := NewPrivateKeySigner(channelKey)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	if wallet == nil {
		return nil, ErrWalletRequired
	}
	return wallet, nil
}
