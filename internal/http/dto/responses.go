package dto

import "github.com/stealthpay/channels/internal/models"

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type CreateChannelResponse struct {
	Channel  models.LocalChannel `json:"channel"`
	Anchored bool                `json:"anchored"`
	Message  string              `json:"message"`
}

type CloseChannelResponse struct {
	Channel         models.LocalChannel `json:"channel"`
	TxHash          string              `json:"tx_hash"`
	TxHashIsReal    bool                `json:"tx_hash_is_real"`
	SettledAmount   string              `json:"settled_amount"`
	SettlementToken string              `json:"settlement_token"`
}

type CancelResponse struct {
	OperationID string `json:"operation_id"`
	Cancelled   bool   `json:"cancelled"`
}
