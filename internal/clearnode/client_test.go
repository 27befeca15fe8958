package clearnode

import (
	"context"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stealthpay/channels/internal/signer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testKey = "0x0000000000000000000000000000000000000000000000000000000000000001"

type seenRequest struct {
	ID        uint64
	Method    string
	Params    json.RawMessage
	Recovered string
}

type fakeNode struct {
	t       *testing.T
	mu      sync.Mutex
	seen    []seenRequest
	conns   int
	handler func(method string, params json.RawMessage) (string, any)
}

func (n *fakeNode) requests() []seenRequest {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]seenRequest(nil), n.seen...)
}

func (n *fakeNode) serve(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	n.mu.Lock()
	n.conns++
	n.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		require.NoError(n.t, json.Unmarshal(data, &f))

		var req []json.RawMessage
		require.NoError(n.t, json.Unmarshal(f.Req, &req))
		var id uint64
		var method string
		require.NoError(n.t, json.Unmarshal(req[0], &id))
		require.NoError(n.t, json.Unmarshal(req[1], &method))

		var recovered string
		if len(f.Sig) > 0 {
			recovered, _ = signer.RecoverAddress(f.Req, f.Sig[0])
		}

		n.mu.Lock()
		n.seen = append(n.seen, seenRequest{ID: id, Method: method, Params: req[2], Recovered: recovered})
		n.mu.Unlock()

		if n.handler == nil {
			continue
		}
		respMethod, result := n.handler(method, req[2])
		if respMethod == "" {
			continue
		}
		out, _ := json.Marshal(map[string]any{
			"res": []any{id, respMethod, result, time.Now().UnixMilli()},
			"sig": []string{},
		})
		require.NoError(n.t, conn.WriteMessage(websocket.TextMessage, out))
	}
}

func startNode(t *testing.T, handler func(string, json.RawMessage) (string, any)) (*fakeNode, string) {
	t.Helper()
	n := &fakeNode{t: t, handler: handler}
	srv := httptest.NewServer(http.HandlerFunc(n.serve))
	t.Cleanup(srv.Close)
	return n, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testSigner(t *testing.T) *signer.PrivateKeySigner {
	t.Helper()
	s, err := signer.NewPrivateKeySigner(testKey)
	require.NoError(t, err)
	return s
}

func TestClient_ConnectIsIdempotent(t *testing.T) {
	node, url := startNode(t, nil)
	c := NewClient(url, time.Second, zap.NewNop())
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Connect(ctx))
	assert.True(t, c.Connected())

	require.Eventually(t, func() bool {
		node.mu.Lock()
		defer node.mu.Unlock()
		return node.conns == 1
	}, time.Second, 10*time.Millisecond)
}

func TestClient_CreateSession(t *testing.T) {
	node, url := startNode(t, func(method string, _ json.RawMessage) (string, any) {
		return method, map[string]string{"app_session_id": "sess_1", "status": "open"}
	})
	c := NewClient(url, time.Second, zap.NewNop())
	defer c.Close()
	require.NoError(t, c.Connect(context.Background()))

	s := testSigner(t)
	id, err := c.CreateSession(context.Background(), CreateSessionRequest{
		Signer:         s,
		UserAddress:    s.Address(),
		PartnerAddress: "0xdef",
		Asset:          "USDC",
		AmountUser:     big.NewInt(0),
		AmountPartner:  big.NewInt(100_000_000),
	})
	require.NoError(t, err)
	assert.Equal(t, "sess_1", id)

	reqs := node.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, methodCreateSession, reqs[0].Method)
	assert.True(t, signer.SameAddress(s.Address(), reqs[0].Recovered))

	var params []createSessionParams
	require.NoError(t, json.Unmarshal(reqs[0].Params, &params))
	require.Len(t, params, 1)
	assert.Equal(t, []string{s.Address(), "0xdef"}, params[0].Definition.Participants)
	assert.Equal(t, "0", params[0].Allocations[0].Amount)
	assert.Equal(t, "100000000", params[0].Allocations[1].Amount)
}

func TestClient_ErrorFrame(t *testing.T) {
	_, url := startNode(t, func(string, json.RawMessage) (string, any) {
		return methodError, map[string]string{"error": "insufficient funds"}
	})
	c := NewClient(url, time.Second, zap.NewNop())
	defer c.Close()
	require.NoError(t, c.Connect(context.Background()))

	err := c.SendPayment(context.Background(), PaymentRequest{
		Signer:    testSigner(t),
		Recipient: "0x999",
		Asset:     "USDC",
		Amount:    big.NewInt(30_000_000),
	})
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, "insufficient funds", rpcErr.Message)
}

func TestClient_CloseSessionDefaultsDestination(t *testing.T) {
	node, url := startNode(t, func(method string, _ json.RawMessage) (string, any) {
		return method, map[string]string{}
	})
	c := NewClient(url, time.Second, zap.NewNop())
	defer c.Close()
	require.NoError(t, c.Connect(context.Background()))

	s := testSigner(t)
	require.NoError(t, c.CloseSession(context.Background(), CloseRequest{
		Signer:        s,
		SenderAddress: s.Address(),
		ChannelID:     "ch_1",
	}))

	var params []closeParams
	require.NoError(t, json.Unmarshal(node.requests()[0].Params, &params))
	assert.Equal(t, "ch_1", params[0].ChannelID)
	assert.Equal(t, s.Address(), params[0].FundsDestination)
}

func TestClient_Timeout(t *testing.T) {
	_, url := startNode(t, func(string, json.RawMessage) (string, any) { return "", nil })
	c := NewClient(url, 50*time.Millisecond, zap.NewNop())
	defer c.Close()
	require.NoError(t, c.Connect(context.Background()))

	_, err := c.GetLedgerBalances(context.Background(), nil, "0xabc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestClient_NotConnected(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1", time.Second, zap.NewNop())
	err := c.SendPayment(context.Background(), PaymentRequest{Amount: big.NewInt(1)})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClient_LedgerBalances(t *testing.T) {
	_, url := startNode(t, func(method string, _ json.RawMessage) (string, any) {
		return method, map[string]any{"ledger_balances": []Balance{{Asset: "USDC", Amount: "12.5"}}}
	})
	c := NewClient(url, time.Second, zap.NewNop())
	defer c.Close()
	require.NoError(t, c.Connect(context.Background()))

	balances, err := c.GetLedgerBalances(context.Background(), nil, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, []Balance{{Asset: "USDC", Amount: "12.5"}}, balances)
}

func TestClient_StaleReaderKeepsReconnectedRequests(t *testing.T) {
	_, url := startNode(t, func(method string, _ json.RawMessage) (string, any) {
		return method, map[string]any{"ledger_balances": []Balance{{Asset: "USDC", Amount: "1"}}}
	})
	c := NewClient(url, time.Second, zap.NewNop())
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))
	c.mu.Lock()
	oldConn := c.conn
	c.mu.Unlock()

	require.NoError(t, c.Close())
	require.NoError(t, c.Connect(ctx))

	c.mu.Lock()
	newConn := c.conn
	inflight := make(chan response, 1)
	c.pending[999] = pendingCall{ch: inflight, conn: newConn}
	c.pending[998] = pendingCall{ch: make(chan response, 1), conn: oldConn}
	c.mu.Unlock()
	require.NotSame(t, oldConn, newConn)

	// the old connection's reader exits after the reconnect
	c.dropConn(oldConn, net.ErrClosed)

	assert.True(t, c.Connected())
	c.mu.Lock()
	_, kept := c.pending[999]
	_, dropped := c.pending[998]
	c.mu.Unlock()
	assert.True(t, kept)
	assert.False(t, dropped)
	assert.Empty(t, inflight)

	c.forget(999)
	balances, err := c.GetLedgerBalances(ctx, nil, "0xabc")
	require.NoError(t, err)
	assert.Len(t, balances, 1)
}
