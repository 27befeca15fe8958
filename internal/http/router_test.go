package http

import (
	"context"
	"errors"
	"io"
	"math/big"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stealthpay/channels/internal/auth"
	"github.com/stealthpay/channels/internal/clearnode"
	"github.com/stealthpay/channels/internal/config"
	"github.com/stealthpay/channels/internal/custody"
	"github.com/stealthpay/channels/internal/db"
	"github.com/stealthpay/channels/internal/http/handlers"
	"github.com/stealthpay/channels/internal/metrics"
	"github.com/stealthpay/channels/internal/registrar"
	"github.com/stealthpay/channels/internal/repositories"
	"github.com/stealthpay/channels/internal/services"
	"github.com/stealthpay/channels/internal/signer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

type stubResolver struct{}

func (stubResolver) Resolve(context.Context, string) (string, error) { return "st:eth:0xabc", nil }

type stubRegistrar struct{ n int }

func (r *stubRegistrar) CreateChannel(context.Context, registrar.CreateChannelRequest) (*registrar.CreateChannelResult, error) {
	r.n++
	return &registrar.CreateChannelResult{ChannelID: "ch_" + string(rune('0'+r.n)), StealthAddress: "0xdef", TxHash: "ref"}, nil
}

func (r *stubRegistrar) CloseChannel(context.Context, string) (*registrar.CloseChannelResult, error) {
	return nil, errors.New("registrar unavailable")
}

func (r *stubRegistrar) DiscoverChannels(context.Context, registrar.DiscoverRequest) ([]registrar.DiscoveredChannel, error) {
	return nil, nil
}

func (r *stubRegistrar) GetConfig(context.Context) (*registrar.NetworkConfig, error) {
	return &registrar.NetworkConfig{ChainID: 11155111}, nil
}

type stubSessions struct{}

func (stubSessions) Connect(context.Context) error { return nil }
func (stubSessions) CreateSession(context.Context, clearnode.CreateSessionRequest) (string, error) {
	return "sess_1", nil
}
func (stubSessions) SendPayment(context.Context, clearnode.PaymentRequest) error { return nil }
func (stubSessions) CloseSession(context.Context, clearnode.CloseRequest) error  { return nil }
func (stubSessions) GetLedgerBalances(context.Context, signer.Signer, string) ([]clearnode.Balance, error) {
	return nil, nil
}

type stubOpener struct{}

func (stubOpener) Open(context.Context, custody.Config, signer.TxSender, *big.Int) (custody.Anchor, error) {
	return custody.Anchor{}, custody.ErrNotConfigured
}

type localWallet struct{ *signer.PrivateKeySigner }

func (localWallet) ChainID(context.Context) (int64, error) { return 11155111, nil }
func (localWallet) SendTransaction(context.Context, signer.Transaction) (string, error) {
	return "", errors.New("not supported")
}

type switchableWallets struct{ w signer.TxSender }

func (s *switchableWallets) Current() signer.TxSender { return s.w }

type testAPI struct {
	app      *fiber.App
	token    string
	wallets  *switchableWallets
	channels *repositories.ChannelRepo
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	log := zap.NewNop()
	cfg := &config.Config{
		JWTSecret:      testSecret,
		ChainID:        11155111,
		DefaultToken:   "USDC",
		TokenDecimals:  map[string]int32{"USDC": 6},
		SettlementWait: time.Millisecond,
	}

	key, err := signer.NewPrivateKeySigner("0x0000000000000000000000000000000000000000000000000000000000000001")
	require.NoError(t, err)

	kv := db.NewMemoryKV()
	channels := repositories.NewChannelRepo(kv, log)
	activity := repositories.NewActivityRepo(kv, log)
	wallets := &switchableWallets{w: localWallet{key}}

	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)

	svc := services.NewChannelService(channels, activity, stubResolver{}, &stubRegistrar{}, stubSessions{}, stubOpener{}, wallets, nil, rec, cfg, log)
	ops := services.NewOperationRegistry(time.Minute)
	walletSvc := services.NewWalletService(signer.NewWalletClient("http://127.0.0.1:1", log), cfg.ChainID, nil, log)

	app := fiber.New()
	SetupRouter(app, cfg, log, nil, rec, reg,
		handlers.NewChannelHandler(svc, ops, log),
		handlers.NewActivityHandler(svc, log),
		handlers.NewWalletHandler(walletSvc, log),
		handlers.NewOperationHandler(ops, log),
		nil,
	)

	token, err := auth.GenerateJWT(testSecret, "ui", time.Hour)
	require.NoError(t, err)

	return &testAPI{app: app, token: token, wallets: wallets, channels: channels}
}

func (a *testAPI) do(t *testing.T, method, path, body string, headers map[string]string) (*nethttp.Response, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.token)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func TestRouter_HealthIsPublic(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(fiber.MethodGet, "/health", nil)
	resp, err := api.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestRouter_RequiresToken(t *testing.T) {
	api := newTestAPI(t)
	for _, hdr := range []string{"", "Token abc", "Bearer garbage"} {
		req := httptest.NewRequest(fiber.MethodGet, "/api/v1/channels", nil)
		if hdr != "" {
			req.Header.Set("Authorization", hdr)
		}
		resp, err := api.app.Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode, hdr)
	}
}

func TestRouter_CreateChannelEchoesOperationID(t *testing.T) {
	api := newTestAPI(t)

	resp, body := api.do(t, fiber.MethodPost, "/api/v1/channels", `{"recipient":"bob.eth","amount":"100"}`,
		map[string]string{handlers.HeaderOperationID: "op-42"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode, body)
	assert.Equal(t, "op-42", resp.Header.Get(handlers.HeaderOperationID))

	data := body["data"].(map[string]any)
	assert.Equal(t, false, data["anchored"])
	ch := data["channel"].(map[string]any)
	assert.Equal(t, "ch_1", ch["channel_id"])
	assert.Equal(t, "open", ch["status"])

	resp, body = api.do(t, fiber.MethodGet, "/api/v1/activity?channel_id=ch_1", "", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, body["data"], 2)

	resp, _ = api.do(t, fiber.MethodGet, "/api/v1/channels/ch_1", "", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestRouter_ErrorMapping(t *testing.T) {
	api := newTestAPI(t)

	resp, body := api.do(t, fiber.MethodGet, "/api/v1/channels/nope", "", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, services.CodeNotFound, body["code"])
	assert.NotEmpty(t, body["request_id"])

	resp, body = api.do(t, fiber.MethodPost, "/api/v1/channels", `{"recipient":"bob.eth","amount":"-1"}`, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, services.CodeInvalidInput, body["code"])

	resp, _ = api.do(t, fiber.MethodPost, "/api/v1/channels", `{not json`, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	api.wallets.w = nil
	resp, body = api.do(t, fiber.MethodPost, "/api/v1/channels", `{"recipient":"bob.eth","amount":"1"}`, nil)
	assert.Equal(t, fiber.StatusPreconditionFailed, resp.StatusCode)
	assert.Equal(t, services.CodeWalletRequired, body["code"])
}

func TestRouter_BackendFailureIsBadGateway(t *testing.T) {
	api := newTestAPI(t)
	resp, _ := api.do(t, fiber.MethodPost, "/api/v1/channels", `{"recipient":"bob.eth","amount":"1"}`, nil)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	resp, body := api.do(t, fiber.MethodPost, "/api/v1/channels/ch_1/close", "", nil)
	assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, services.CodeBackendFailed, body["code"])

	ch, err := api.channels.Get(context.Background(), "ch_1")
	require.NoError(t, err)
	assert.Equal(t, "open", ch.Status)
}

func TestRouter_CancelBeforeStart(t *testing.T) {
	api := newTestAPI(t)

	resp, _ := api.do(t, fiber.MethodPost, "/api/v1/operations/op-9/cancel", "", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, body := api.do(t, fiber.MethodPost, "/api/v1/channels", `{"recipient":"bob.eth","amount":"1"}`,
		map[string]string{handlers.HeaderOperationID: "op-9"})
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	assert.Equal(t, services.CodeOperationCancelled, body["code"])

	list, err := api.channels.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)

	// finished operations cannot be cancelled
	resp, _ = api.do(t, fiber.MethodPost, "/api/v1/operations/op-9/cancel", "", nil)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
}

func TestRouter_WalletStatusAndMetrics(t *testing.T) {
	api := newTestAPI(t)

	resp, body := api.do(t, fiber.MethodGet, "/api/v1/wallet", "", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["data"].(map[string]any)["connected"])

	req := httptest.NewRequest(fiber.MethodGet, "/metrics", nil)
	resp, err := api.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	raw, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(raw), "privchan_http_requests_total")
}
