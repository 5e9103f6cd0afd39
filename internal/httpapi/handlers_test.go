package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"x402_gateway/internal/auth"
	"x402_gateway/internal/config"
	"x402_gateway/internal/middleware"
	"x402_gateway/internal/models"
	"x402_gateway/internal/refund"
	"x402_gateway/internal/storage"
	"x402_gateway/internal/upstream"
	"x402_gateway/internal/utils"
)

type stubLedger struct {
	pending  []*models.Payment
	refunded map[uuid.UUID]string
}

func (l *stubLedger) PendingRefunds(ctx context.Context, minAmount float64) ([]*models.Payment, error) {
	var out []*models.Payment
	for _, p := range l.pending {
		if _, done := l.refunded[p.ID]; done {
			continue
		}
		if p.RefundAmount >= minAmount {
			out = append(out, p)
		}
	}
	return out, nil
}

func (l *stubLedger) MarkRefunded(ctx context.Context, id uuid.UUID, refundTxHash string) error {
	if _, done := l.refunded[id]; done {
		return storage.ErrAlreadyDisbursed
	}
	l.refunded[id] = refundTxHash
	return nil
}

func testDeps(cfg *config.Config) *Dependencies {
	return &Dependencies{
		Config: cfg,
		logger: utils.NewLogger("httpapi-test"),
	}
}

func TestHandleRoot(t *testing.T) {
	deps := testDeps(&config.Config{})

	rr := httptest.NewRecorder()
	deps.handleRoot(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "x402 AI Gateway", body["service"])

	rr = httptest.NewRecorder()
	deps.handleRoot(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleHealth_NoBackends(t *testing.T) {
	deps := testDeps(&config.Config{})

	rr := httptest.NewRecorder()
	deps.handleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
}

func TestHandleAdminLogin(t *testing.T) {
	hash, err := auth.HashPassword("correct horse")
	require.NoError(t, err)
	cfg := &config.Config{
		JWTSecret:         []byte("test-secret"),
		AdminPasswordHash: hash,
	}
	deps := testDeps(cfg)

	t.Run("not configured", func(t *testing.T) {
		bare := testDeps(&config.Config{JWTSecret: []byte("test-secret")})
		rr := httptest.NewRecorder()
		bare.handleAdminLogin(rr, httptest.NewRequest(http.MethodPost, "/admin/auth/login", strings.NewReader(`{"password":"x"}`)))
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("wrong password", func(t *testing.T) {
		rr := httptest.NewRecorder()
		deps.handleAdminLogin(rr, httptest.NewRequest(http.MethodPost, "/admin/auth/login", strings.NewReader(`{"password":"wrong"}`)))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("issued token opens the admin surface", func(t *testing.T) {
		rr := httptest.NewRecorder()
		deps.handleAdminLogin(rr, httptest.NewRequest(http.MethodPost, "/admin/auth/login", strings.NewReader(`{"password":"correct horse"}`)))
		require.Equal(t, http.StatusOK, rr.Code)

		var resp loginResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		require.NotEmpty(t, resp.Token)

		protected := middleware.AdminJWT(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		req := httptest.NewRequest(http.MethodGet, "/admin/refunds/stats", nil)
		req.Header.Set("Authorization", "Bearer "+resp.Token)
		rr = httptest.NewRecorder()
		protected.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}

func TestHandleAdminRefunds(t *testing.T) {
	ledger := &stubLedger{
		pending: []*models.Payment{
			{ID: uuid.New(), PayerAddress: "0xpayer", Currency: "USDC", Blockchain: "base", RefundAmount: 0.25, Status: models.PaymentStatusPartialRefund},
			{ID: uuid.New(), PayerAddress: "0xpayer", Currency: "USDC", Blockchain: "base", RefundAmount: 0.50, Status: models.PaymentStatusPartialRefund},
		},
		refunded: make(map[uuid.UUID]string),
	}
	deps := testDeps(&config.Config{})
	deps.Refunds = refund.NewService(ledger, refund.NewStubDisburser(), 0.0001)

	rr := httptest.NewRecorder()
	deps.handleAdminRefundsStats(rr, httptest.NewRequest(http.MethodGet, "/admin/refunds/stats", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var stats refund.Stats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Total)
	assert.InDelta(t, 0.75, stats.TotalAmount, 1e-12)

	rr = httptest.NewRecorder()
	deps.handleAdminRefundsProcess(rr, httptest.NewRequest(http.MethodPost, "/admin/refunds/process", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Processed)
	assert.Len(t, ledger.refunded, 2)

	// Nothing left afterwards
	rr = httptest.NewRecorder()
	deps.handleAdminRefundsStats(rr, httptest.NewRequest(http.MethodGet, "/admin/refunds/stats", nil))
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Equal(t, 0, stats.Total)
}

func TestHandleResponses_RelaysUpstream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/responses", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"resp_1","usage":{"completion_tokens":3}}`))
	}))
	defer server.Close()

	deps := testDeps(&config.Config{})
	deps.Upstream = upstream.NewClient(upstream.Config{BaseURL: server.URL, APIKey: "sk-test"})

	req := httptest.NewRequest(http.MethodPost, "/v1/responses", strings.NewReader(`{"model":"gpt-4o"}`))
	rr := httptest.NewRecorder()
	deps.handleResponses(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "resp_1")
}

func TestHandleResponses_UpstreamUnreachable(t *testing.T) {
	deps := testDeps(&config.Config{})
	deps.Upstream = upstream.NewClient(upstream.Config{BaseURL: "http://127.0.0.1:1"})

	req := httptest.NewRequest(http.MethodPost, "/v1/responses", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	deps.handleResponses(rr, req)

	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestHandleResponses_MethodNotAllowed(t *testing.T) {
	deps := testDeps(&config.Config{})

	rr := httptest.NewRecorder()
	deps.handleResponses(rr, httptest.NewRequest(http.MethodGet, "/v1/responses", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
