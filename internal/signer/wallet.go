package signer

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// WalletClient talks JSON-RPC 2.0 to an external signer (a browser bridge,
// Clef, or any node exposing personal_sign / eth_sendTransaction).
type WalletClient struct {
	url        string
	httpClient *http.Client
	log        *zap.Logger
	nextID     atomic.Uint64
}

func NewWalletClient(url string, log *zap.Logger) *WalletClient {
	return &WalletClient{
		url: strings.TrimRight(url, "/"),
		httpClient: &http.Client{
			// signing may wait on a human confirming in the wallet
			Timeout: 2 * time.Minute,
		},
		log: log,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// CallJSONRPC performs one JSON-RPC 2.0 call over HTTP.
func CallJSONRPC(ctx context.Context, hc *http.Client, url string, id uint64, method string, params []any, out any) error {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s: rpc unavailable: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: rpc returned %d: %s", method, resp.StatusCode, string(b))
	}

	var r rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if r.Error != nil {
		return fmt.Errorf("%s: %w", method, r.Error)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(r.Result, out)
}

func (c *WalletClient) call(ctx context.Context, method string, params []any, out any) error {
	return CallJSONRPC(ctx, c.httpClient, c.url, c.nextID.Add(1), method, params, out)
}

func (c *WalletClient) Accounts(ctx context.Context) ([]string, error) {
	var accounts []string
	if err := c.call(ctx, "eth_accounts", nil, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (c *WalletClient) ChainID(ctx context.Context) (int64, error) {
	var hexID string
	if err := c.call(ctx, "eth_chainId", nil, &hexID); err != nil {
		return 0, err
	}
	return ParseHexInt(hexID)
}

func (c *WalletClient) PersonalSign(ctx context.Context, address string, msg []byte) (string, error) {
	var sig string
	err := c.call(ctx, "personal_sign", []any{"0x" + hex.EncodeToString(msg), address}, &sig)
	return sig, err
}

func (c *WalletClient) SendTransaction(ctx context.Context, tx Transaction) (string, error) {
	var hash string
	err := c.call(ctx, "eth_sendTransaction", []any{tx}, &hash)
	return hash, err
}

// WalletSigner is the connected external wallet account.
type WalletSigner struct {
	client  *WalletClient
	address string
}

func NewWalletSigner(client *WalletClient, address string) *WalletSigner {
	return &WalletSigner{client: client, address: address}
}

func (w *WalletSigner) Kind() Kind      { return KindWallet }
func (w *WalletSigner) Address() string { return w.address }

func (w *WalletSigner) SignMessage(ctx context.Context, msg []byte) (string, error) {
	return w.client.PersonalSign(ctx, w.address, msg)
}

func (w *WalletSigner) ChainID(ctx context.Context) (int64, error) {
	return w.client.ChainID(ctx)
}

func (w *WalletSigner) SendTransaction(ctx context.Context, tx Transaction) (string, error) {
	if tx.From == "" {
		tx.From = w.address
	}
	return w.client.SendTransaction(ctx, tx)
}

// ParseHexInt parses a 0x-prefixed quantity such as "0xaa36a7".
func ParseHexInt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return strconv.ParseInt(s, 10, 64)
	}
	return strconv.ParseInt(s[2:], 16, 64)
}
