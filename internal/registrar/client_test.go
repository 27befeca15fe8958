package registrar

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newServer(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", zap.NewNop())
}

func TestCreateChannel(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/channels", func(w http.ResponseWriter, r *http.Request) {
		var req CreateChannelRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "0xabc", req.Recipient)
		assert.Equal(t, "USDC", req.Token)
		assert.Equal(t, "100", req.Amount)
		assert.Empty(t, req.ChannelID)

		_ = json.NewEncoder(w).Encode(CreateChannelResult{ChannelID: "ch_1", StealthAddress: "0xdef", TxHash: "ref123"})
	})
	c := newServer(t, mux)

	res, err := c.CreateChannel(context.Background(), CreateChannelRequest{Recipient: "0xabc", Token: "USDC", Amount: "100"})
	require.NoError(t, err)
	assert.Equal(t, "ch_1", res.ChannelID)
	assert.Equal(t, "0xdef", res.StealthAddress)
	assert.Equal(t, "ref123", res.TxHash)
}

func TestCreateChannel_ErrorBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/channels", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"unknown token"}`))
	})
	c := newServer(t, mux)

	_, err := c.CreateChannel(context.Background(), CreateChannelRequest{})
	require.Error(t, err)
	assert.Equal(t, "registrar returned 400: unknown token", err.Error())
}

func TestCreateChannel_Incomplete(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/channels", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"channel_id":"ch_1"}`))
	})
	c := newServer(t, mux)

	_, err := c.CreateChannel(context.Background(), CreateChannelRequest{})
	assert.Error(t, err)
}

func TestCloseChannel(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/channels/close", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "ch_1", req["channel_id"])
		_, _ = w.Write([]byte(`{"tx_hash":"settle-1","tx_hash_is_placeholder":true,"final_balances":[{"token":"USDC","amount":"70"}]}`))
	})
	c := newServer(t, mux)

	res, err := c.CloseChannel(context.Background(), "ch_1")
	require.NoError(t, err)
	assert.Equal(t, "settle-1", res.TxHash)
	assert.True(t, res.TxHashIsPlaceholder)
	assert.Equal(t, []Balance{{Token: "USDC", Amount: "70"}}, res.FinalBalances)
}

func TestDiscoverChannels(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/channels/discover", func(w http.ResponseWriter, r *http.Request) {
		var req DiscoverRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "vsk", req.ViewingSK)
		_, _ = w.Write([]byte(`{"channels":[{"channel_id":"ch_9","stealth_address":"0x9","eth_private_key":"0x01","status":"open","discovered_at":1700000000}]}`))
	})
	c := newServer(t, mux)

	chans, err := c.DiscoverChannels(context.Background(), DiscoverRequest{ViewingSK: "vsk", SpendingPK: "spk", SpendingSK: "ssk"})
	require.NoError(t, err)
	require.Len(t, chans, 1)
	assert.Equal(t, "ch_9", chans[0].ChannelID)
	assert.Equal(t, "0x01", chans[0].EthPrivateKey)
	assert.Empty(t, chans[0].Token)
}

func TestGetConfig(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/config", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"custody_address":"0xc","adjudicator_address":"0xa","chain_id":11155111,"clearnode_url":"wss://node","tokens":[{"symbol":"USDC","address":"0xu","decimals":6}]}`))
	})
	c := newServer(t, mux)

	cfg, err := c.GetConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(11155111), cfg.ChainID)
	assert.Equal(t, int32(6), cfg.Tokens[0].Decimals)
}

func TestUnavailable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", zap.NewNop())
	_, err := c.CloseChannel(context.Background(), "ch_1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registrar unavailable")
}
