package models

import "strings"

// Channel statuses
const (
	ChannelStatusPending = "pending"
	ChannelStatusOpen    = "open"
	ChannelStatusClosing = "closing"
	ChannelStatusClosed  = "closed"
)

// Valid state transitions: from -> []to. Nothing leaves closed.
var ValidChannelTransitions = map[string][]string{
	ChannelStatusPending: {ChannelStatusOpen, ChannelStatusClosing, ChannelStatusClosed},
	ChannelStatusOpen:    {ChannelStatusClosing, ChannelStatusClosed},
	ChannelStatusClosing: {ChannelStatusClosed},
	ChannelStatusClosed:  {},
}

func IsValidChannelTransition(from, to string) bool {
	allowed, ok := ValidChannelTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

func IsKnownChannelStatus(s string) bool {
	_, ok := ValidChannelTransitions[s]
	return ok
}

// LocalChannel is one channel as known to this client.
type LocalChannel struct {
	ChannelID      string `json:"channel_id"`
	StealthAddress string `json:"stealth_address"`
	// Present only for discovered channels whose stealth key the user holds.
	EthPrivateKey       string `json:"eth_private_key,omitempty"`
	Status              string `json:"status"`
	Token               string `json:"token"`
	Amount              string `json:"amount"` // decimal as string
	Recipient           string `json:"recipient,omitempty"`
	CreatedAt           int64  `json:"created_at"` // unix seconds
	TxHash              string `json:"tx_hash,omitempty"`
	TxHashIsPlaceholder bool   `json:"tx_hash_is_placeholder,omitempty"`
	SessionID           string `json:"session_id,omitempty"`
}

// SelfCustodied reports whether the channel carries its own signing key.
func (c *LocalChannel) SelfCustodied() bool {
	return strings.TrimSpace(c.EthPrivateKey) != ""
}

func (c *LocalChannel) IsClosed() bool {
	return c.Status == ChannelStatusClosed
}

// HasRealTxHash reports whether TxHash is a base-ledger hash rather than a
// tracking reference.
func (c *LocalChannel) HasRealTxHash() bool {
	return !c.TxHashIsPlaceholder && IsRealTxHash(c.TxHash)
}
