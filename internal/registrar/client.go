// Package registrar is the HTTP client for the backend registrar that
// allocates stealth addresses, registers and closes channels, and answers
// discovery queries.
package registrar

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewClient(baseURL string, log *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log,
	}
}

type CreateChannelRequest struct {
	Recipient string `json:"recipient"`
	Token     string `json:"token"`
	Amount    string `json:"amount"`
	ChannelID string `json:"channel_id,omitempty"`
}

type CreateChannelResult struct {
	ChannelID      string `json:"channel_id"`
	StealthAddress string `json:"stealth_address"`
	TxHash         string `json:"tx_hash"`
}

type Balance struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type CloseChannelResult struct {
	TxHash              string    `json:"tx_hash"`
	TxHashIsPlaceholder bool      `json:"tx_hash_is_placeholder,omitempty"`
	FinalBalances       []Balance `json:"final_balances"`
}

// DiscoverRequest carries the user's scanning keys. It is never logged.
type DiscoverRequest struct {
	ViewingSK  string `json:"viewing_sk"`
	SpendingPK string `json:"spending_pk"`
	SpendingSK string `json:"spending_sk"`
}

type DiscoveredChannel struct {
	ChannelID      string `json:"channel_id"`
	StealthAddress string `json:"stealth_address"`
	EthPrivateKey  string `json:"eth_private_key,omitempty"`
	Status         string `json:"status"`
	Token          string `json:"token,omitempty"`
	Amount         string `json:"amount,omitempty"`
	DiscoveredAt   int64  `json:"discovered_at"`
}

type TokenInfo struct {
	Symbol   string `json:"symbol"`
	Address  string `json:"address"`
	Decimals int32  `json:"decimals"`
}

type NetworkConfig struct {
	CustodyAddress     string      `json:"custody_address"`
	AdjudicatorAddress string      `json:"adjudicator_address"`
	ChainID            int64       `json:"chain_id"`
	ClearNodeURL       string      `json:"clearnode_url"`
	Tokens             []TokenInfo `json:"tokens"`
}

func (c *Client) CreateChannel(ctx context.Context, req CreateChannelRequest) (*CreateChannelResult, error) {
	var result CreateChannelResult
	if err := c.post(ctx, "/api/channels", req, &result); err != nil {
		return nil, err
	}
	if result.ChannelID == "" || result.StealthAddress == "" {
		return nil, fmt.Errorf("registrar returned incomplete channel")
	}
	return &result, nil
}

func (c *Client) CloseChannel(ctx context.Context, channelID string) (*CloseChannelResult, error) {
	var result CloseChannelResult
	if err := c.post(ctx, "/api/channels/close", map[string]string{"channel_id": channelID}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) DiscoverChannels(ctx context.Context, req DiscoverRequest) ([]DiscoveredChannel, error) {
	var result struct {
		Channels []DiscoveredChannel `json:"channels"`
	}
	if err := c.post(ctx, "/api/channels/discover", req, &result); err != nil {
		return nil, err
	}
	return result.Channels, nil
}

func (c *Client) GetConfig(ctx context.Context) (*NetworkConfig, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/config", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registrar unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("registrar returned %d: %s", resp.StatusCode, string(body))
	}

	var cfg NetworkConfig
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("registrar unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("registrar returned %d: %s", resp.StatusCode, errorText(b))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode registrar response: %w", err)
	}
	return nil
}

// errorText prefers the {"error": "..."} message when the body has one.
func errorText(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}
