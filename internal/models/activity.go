package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Activity event types
const (
	ActivityChannelCreated    = "channel_created"
	ActivityChannelFunded     = "channel_funded"
	ActivityTransferSent      = "transfer_sent"
	ActivityTransferReceived  = "transfer_received"
	ActivityChannelClosed     = "channel_closed"
	ActivityChannelDiscovered = "channel_discovered"
)

var AllActivityTypes = []string{
	ActivityChannelCreated,
	ActivityChannelFunded,
	ActivityTransferSent,
	ActivityTransferReceived,
	ActivityChannelClosed,
	ActivityChannelDiscovered,
}

// ActivityEvent is an immutable record of one lifecycle operation.
type ActivityEvent struct {
	ID                  string `json:"id"`
	Type                string `json:"type"`
	Timestamp           int64  `json:"timestamp"` // unix ms
	ChannelID           string `json:"channel_id"`
	Amount              string `json:"amount"`
	Token               string `json:"token"`
	Details             string `json:"details"`
	TxHash              string `json:"tx_hash,omitempty"`
	TxHashIsPlaceholder bool   `json:"tx_hash_is_placeholder,omitempty"`
	SessionID           string `json:"session_id,omitempty"`
	From                string `json:"from,omitempty"`
	To                  string `json:"to,omitempty"`
}

// NewActivityEvent stamps a new event with an id and timestamp taken from now.
func NewActivityEvent(now time.Time, typ, channelID, amount, token, details string) ActivityEvent {
	return ActivityEvent{
		ID:        NewActivityID(now),
		Type:      typ,
		Timestamp: now.UnixMilli(),
		ChannelID: channelID,
		Amount:    amount,
		Token:     token,
		Details:   details,
	}
}

// NewActivityID returns "<unix-ms>-<random suffix>".
func NewActivityID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("%d-%s", now.UnixMilli(), suffix)
}
