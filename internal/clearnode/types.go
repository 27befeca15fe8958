package clearnode

import (
	"math/big"

	"github.com/goccy/go-json"
	"github.com/stealthpay/channels/internal/signer"
)

const (
	protocolVersion = "NitroRPC/0.2"

	methodCreateSession  = "create_app_session"
	methodTransfer       = "transfer"
	methodCloseChannel   = "close_channel"
	methodLedgerBalances = "get_ledger_balances"
	methodError          = "error"
)

// frame is one websocket message. Requests carry Req, responses carry Res.
type frame struct {
	Req json.RawMessage   `json:"req,omitempty"`
	Res []json.RawMessage `json:"res,omitempty"`
	Sig []string          `json:"sig"`
}

type CreateSessionRequest struct {
	Signer         signer.Signer
	UserAddress    string
	PartnerAddress string
	Asset          string
	AmountUser     *big.Int
	AmountPartner  *big.Int
}

type PaymentRequest struct {
	Signer        signer.Signer
	SenderAddress string
	Recipient     string
	Asset         string
	Amount        *big.Int
}

type CloseRequest struct {
	Signer           signer.Signer
	SenderAddress    string
	ChannelID        string
	FundsDestination string
}

type Balance struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type sessionDefinition struct {
	Protocol     string   `json:"protocol"`
	Participants []string `json:"participants"`
	Weights      []int    `json:"weights"`
	Quorum       int      `json:"quorum"`
	Challenge    int      `json:"challenge"`
	Nonce        int64    `json:"nonce"`
}

type allocation struct {
	Participant string `json:"participant"`
	Asset       string `json:"asset"`
	Amount      string `json:"amount"`
}

type createSessionParams struct {
	Definition  sessionDefinition `json:"definition"`
	Allocations []allocation      `json:"allocations"`
}

type createSessionResult struct {
	AppSessionID string `json:"app_session_id"`
	Status       string `json:"status"`
}

type assetAmount struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type transferParams struct {
	Destination string        `json:"destination"`
	Allocations []assetAmount `json:"allocations"`
}

type closeParams struct {
	ChannelID        string `json:"channel_id"`
	FundsDestination string `json:"funds_destination"`
}

type ledgerBalancesResult struct {
	LedgerBalances []Balance `json:"ledger_balances"`
}
