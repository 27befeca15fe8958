package dto

type CreateChannelRequest struct {
	Recipient string `json:"recipient"`
	Token     string `json:"token"`
	Amount    string `json:"amount"`
}

type TransferRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type FundRequest struct {
	Amount string `json:"amount"`
}

// DiscoverRequest carries scanning keys. Handlers must not log it.
type DiscoverRequest struct {
	ViewingSK  string `json:"viewing_sk"`
	SpendingPK string `json:"spending_pk"`
	SpendingSK string `json:"spending_sk"`
}
