// Package clearnode is a client for the off-chain session ledger. It keeps a
// single websocket connection and multiplexes signed requests over it.
package clearnode

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stealthpay/channels/internal/signer"
	"go.uber.org/zap"
)

var (
	ErrNotConnected = errors.New("clearnode: not connected")
	ErrClosed       = errors.New("clearnode: connection closed")
)

// RPCError is an error frame returned by the ledger service.
type RPCError struct {
	Method  string
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("clearnode %s: %s", e.Method, e.Message)
}

type response struct {
	method string
	result json.RawMessage
	err    error
}

// pendingCall is a request waiting on the connection it was written to.
type pendingCall struct {
	ch   chan response
	conn *websocket.Conn
}

type Client struct {
	url     string
	timeout time.Duration
	log     *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	pending map[uint64]pendingCall
	nextID  atomic.Uint64
}

func NewClient(url string, timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		url:     url,
		timeout: timeout,
		log:     log,
		now:     time.Now,
		pending: make(map[uint64]pendingCall),
	}
}

// Connect dials the ledger service. Calling it on a live connection is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}
	if c.url == "" {
		return errors.New("clearnode: url not configured")
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("clearnode dial: %w", err)
	}

	c.conn = conn
	go c.readLoop(conn)

	c.log.Info("clearnode connected", zap.String("url", c.url))
	return nil
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close drops the connection and fails every request still waiting.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	_ = conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	c.writeMu.Unlock()

	return conn.Close()
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.dropConn(conn, err)
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil || len(f.Res) < 3 {
			c.log.Debug("clearnode: ignoring malformed frame", zap.Error(err))
			continue
		}

		var id uint64
		var method string
		if err := json.Unmarshal(f.Res[0], &id); err != nil {
			c.log.Debug("clearnode: frame without numeric id")
			continue
		}
		_ = json.Unmarshal(f.Res[1], &method)

		c.mu.Lock()
		call, ok := c.pending[id]
		if ok && call.conn == conn {
			delete(c.pending, id)
		} else {
			ok = false
		}
		c.mu.Unlock()
		if !ok {
			// server push (balance updates, pings)
			c.log.Debug("clearnode: unsolicited frame", zap.String("method", method))
			continue
		}

		resp := response{method: method, result: f.Res[2]}
		if method == methodError {
			var e struct {
				Error string `json:"error"`
			}
			_ = json.Unmarshal(f.Res[2], &e)
			resp.err = &RPCError{Method: method, Message: e.Error}
		}
		call.ch <- resp
	}
}

func (c *Client) dropConn(conn *websocket.Conn, cause error) {
	// only requests written to this connection are failed; a reconnect may
	// already have new ones in flight
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	var failed []chan response
	for id, call := range c.pending {
		if call.conn == conn {
			failed = append(failed, call.ch)
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()

	for _, ch := range failed {
		ch <- response{err: ErrClosed}
	}
	conn.Close()

	if !errors.Is(cause, net.ErrClosed) && !websocket.IsCloseError(cause, websocket.CloseNormalClosure) {
		c.log.Warn("clearnode connection lost", zap.Error(cause))
	}
}

// call signs and sends one request, then waits for the matching response.
func (c *Client) call(ctx context.Context, s signer.Signer, method string, params any, out any) error {
	id := c.nextID.Add(1)
	req := []any{id, method, params, c.now().UnixMilli()}

	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}

	sigs := []string{}
	if s != nil {
		sig, err := s.SignMessage(ctx, payload)
		if err != nil {
			return fmt.Errorf("sign %s: %w", method, err)
		}
		sigs = append(sigs, sig)
	}

	data, err := json.Marshal(frame{Req: payload, Sig: sigs})
	if err != nil {
		return err
	}

	ch := make(chan response, 1)
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.pending[id] = pendingCall{ch: ch, conn: conn}
	c.mu.Unlock()

	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return fmt.Errorf("clearnode %s: write: %w", method, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.err != nil {
			return resp.err
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(resp.result, out); err != nil {
			return fmt.Errorf("clearnode %s: decode result: %w", method, err)
		}
		return nil
	case <-timer.C:
		c.forget(id)
		return fmt.Errorf("clearnode %s: timed out after %s", method, c.timeout)
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// CreateSession opens an application session with the given allocation and
// returns the session id.
func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (string, error) {
	params := createSessionParams{
		Definition: sessionDefinition{
			Protocol:     protocolVersion,
			Participants: []string{req.UserAddress, req.PartnerAddress},
			Weights:      []int{100, 0},
			Quorum:       100,
			Challenge:    0,
			Nonce:        c.now().UnixMilli(),
		},
		Allocations: []allocation{
			{Participant: req.UserAddress, Asset: req.Asset, Amount: amountString(req.AmountUser)},
			{Participant: req.PartnerAddress, Asset: req.Asset, Amount: amountString(req.AmountPartner)},
		},
	}

	var result createSessionResult
	if err := c.call(ctx, req.Signer, methodCreateSession, []any{params}, &result); err != nil {
		return "", err
	}
	if result.AppSessionID == "" {
		return "", fmt.Errorf("clearnode %s: empty session id", methodCreateSession)
	}
	return result.AppSessionID, nil
}

// SendPayment moves amount of asset from the signer's ledger account to
// recipient.
func (c *Client) SendPayment(ctx context.Context, req PaymentRequest) error {
	params := transferParams{
		Destination: req.Recipient,
		Allocations: []assetAmount{{Asset: req.Asset, Amount: amountString(req.Amount)}},
	}
	return c.call(ctx, req.Signer, methodTransfer, []any{params}, nil)
}

// CloseSession asks the ledger to cooperatively close channelID.
func (c *Client) CloseSession(ctx context.Context, req CloseRequest) error {
	params := closeParams{
		ChannelID:        req.ChannelID,
		FundsDestination: req.FundsDestination,
	}
	if params.FundsDestination == "" {
		params.FundsDestination = req.SenderAddress
	}
	return c.call(ctx, req.Signer, methodCloseChannel, []any{params}, nil)
}

// GetLedgerBalances returns the unified ledger balances of account.
func (c *Client) GetLedgerBalances(ctx context.Context, s signer.Signer, account string) ([]Balance, error) {
	var result ledgerBalancesResult
	err := c.call(ctx, s, methodLedgerBalances, []any{map[string]string{"participant": account}}, &result)
	if err != nil {
		return nil, err
	}
	return result.LedgerBalances, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
