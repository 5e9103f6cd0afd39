package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"x402_gateway/internal/config"
	"x402_gateway/internal/metrics"
	"x402_gateway/internal/models"
	"x402_gateway/internal/pricing"
	"x402_gateway/internal/x402"
)

type fakeFacilitator struct {
	verifyResp  *x402.VerifyResponse
	settleResp  *x402.SettleResponse
	verifyCalls int
	settleCalls int
}

func (f *fakeFacilitator) Verify(ctx context.Context, payment *x402.PaymentPayload, requirement x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	f.verifyCalls++
	return f.verifyResp, nil
}

func (f *fakeFacilitator) Settle(ctx context.Context, payment *x402.PaymentPayload, requirement x402.PaymentRequirements) (*x402.SettleResponse, error) {
	f.settleCalls++
	return f.settleResp, nil
}

type fakeRecorder struct {
	records []*models.EscrowRecord
}

func (f *fakeRecorder) Enqueue(ctx context.Context, record *models.EscrowRecord) error {
	f.records = append(f.records, record)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		DevMode: true,
		Payment: config.PaymentConfig{
			TestnetWalletAddress:  "0x1111111111111111111111111111111111111111",
			MaxTimeoutSeconds:     60,
			MinRefundThresholdUSD: 1e-12,
		},
	}
}

func validFacilitator() *fakeFacilitator {
	return &fakeFacilitator{
		verifyResp: &x402.VerifyResponse{IsValid: true, Payer: "0xpayer"},
		settleResp: &x402.SettleResponse{
			Success:     true,
			Transaction: "0xsettletx",
			Network:     x402.NetworkBaseSepolia,
			Payer:       "0xpayer",
		},
	}
}

func paymentHeader(t *testing.T) string {
	t.Helper()
	header, err := x402.EncodePayment(&x402.PaymentPayload{
		X402Version: x402.Version,
		Scheme:      x402.SchemeExact,
		Network:     x402.NetworkBaseSepolia,
		Payload:     json.RawMessage(`{"signature":"0xsig"}`),
	})
	require.NoError(t, err)
	return header
}

// upstreamStub plays the proxied API: echoes a fixed usage object.
func upstreamStub(status int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	})
}

func TestGate_MissingPaymentHeader(t *testing.T) {
	cfg := testConfig()
	facilitator := validFacilitator()
	gate := NewGate(cfg, facilitator, &fakeRecorder{}, metrics.New())

	called := false
	handler := gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/responses", strings.NewReader(`{"model":"gpt-4o","input":"hello","max_output_tokens":16}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.False(t, called, "upstream must not run without payment")
	assert.Equal(t, 0, facilitator.settleCalls)
	require.Equal(t, http.StatusPaymentRequired, rr.Code)

	var resp x402.PaymentRequiredResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, x402.Version, resp.X402Version)
	assert.Equal(t, "X-PAYMENT header is required", resp.Error)
	require.Len(t, resp.Accepts, 1)
	assert.Equal(t, x402.SchemeExact, resp.Accepts[0].Scheme)
	assert.Equal(t, x402.NetworkBaseSepolia, resp.Accepts[0].Network)
	assert.Equal(t, cfg.Payment.TestnetWalletAddress, resp.Accepts[0].PayTo)
	assert.NotEmpty(t, resp.Accepts[0].MaxAmountRequired)
}

func TestGate_MalformedPaymentHeader(t *testing.T) {
	gate := NewGate(testConfig(), validFacilitator(), &fakeRecorder{}, metrics.New())
	handler := gate.Middleware(upstreamStub(http.StatusOK, `{}`))

	req := httptest.NewRequest(http.MethodPost, "/v1/responses", strings.NewReader(`{"model":"gpt-4o"}`))
	req.Header.Set(x402.PaymentHeader, "not-base64!!!")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusPaymentRequired, rr.Code)
}

func TestGate_InvalidProof(t *testing.T) {
	facilitator := validFacilitator()
	facilitator.verifyResp = &x402.VerifyResponse{IsValid: false, InvalidReason: "insufficient funds"}
	gate := NewGate(testConfig(), facilitator, &fakeRecorder{}, metrics.New())

	called := false
	handler := gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/responses", strings.NewReader(`{"model":"gpt-4o"}`))
	req.Header.Set(x402.PaymentHeader, paymentHeader(t))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.False(t, called)
	assert.Equal(t, 0, facilitator.settleCalls, "invalid proof must never settle")
	require.Equal(t, http.StatusPaymentRequired, rr.Code)

	var resp x402.PaymentRequiredResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "insufficient funds", resp.Error)
}

func TestGate_SettlementFailureIsFatal(t *testing.T) {
	facilitator := validFacilitator()
	facilitator.settleResp = &x402.SettleResponse{Success: false, ErrorReason: "proof already spent"}
	recorder := &fakeRecorder{}
	gate := NewGate(testConfig(), facilitator, recorder, metrics.New())

	called := false
	handler := gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/responses", strings.NewReader(`{"model":"gpt-4o"}`))
	req.Header.Set(x402.PaymentHeader, paymentHeader(t))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.False(t, called, "failed settlement must not reach upstream")
	assert.Equal(t, 1, facilitator.settleCalls, "settle is never retried")
	assert.Empty(t, recorder.records)
	require.Equal(t, http.StatusPaymentRequired, rr.Code)

	var resp x402.PaymentRequiredResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "proof already spent", resp.Error)
}

func TestGate_HappyPathWithRefund(t *testing.T) {
	cfg := testConfig()
	facilitator := validFacilitator()
	recorder := &fakeRecorder{}
	gate := NewGate(cfg, facilitator, recorder, metrics.New())

	// 8 of the 16 allowed output tokens were used, so roughly half the
	// output escrow comes back.
	upstreamBody := `{"id":"resp_1","output":"ok","usage":{"completion_tokens":8}}`
	handler := gate.Middleware(upstreamStub(http.StatusOK, upstreamBody))

	reqBody := `{"model":"gpt-4o","input":"hello, gate","max_output_tokens":16}`
	req := httptest.NewRequest(http.MethodPost, "/v1/responses", strings.NewReader(reqBody))
	req.Header.Set(x402.PaymentHeader, paymentHeader(t))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, facilitator.verifyCalls)
	assert.Equal(t, 1, facilitator.settleCalls)
	assert.JSONEq(t, upstreamBody, rr.Body.String(), "upstream body is relayed unmodified")

	// Settlement receipt attached and decodable
	receipt := rr.Header().Get(x402.PaymentResponseHeader)
	require.NotEmpty(t, receipt)
	settlement, err := x402.DecodeSettlement(receipt)
	require.NoError(t, err)
	assert.Equal(t, "0xsettletx", settlement.Transaction)

	require.Len(t, recorder.records, 1)
	record := recorder.records[0]
	assert.Equal(t, "0xsettletx", record.Payment.TxHash)
	assert.Equal(t, "0xpayer", record.Payment.PayerAddress)
	assert.Equal(t, models.PaymentStatusPartialRefund, record.Payment.Status)
	assert.Nil(t, record.Payment.RefundTxHash)

	engine := pricing.NewEngine(true)
	inputTokens := record.APICall.InputTokens
	estimated := engine.EstimateCost("gpt-4o", inputTokens, 16)
	actual := engine.ActualCost("gpt-4o", inputTokens, 8)
	assert.InDelta(t, estimated, record.Payment.AmountEscrowed, 1e-15)
	assert.InDelta(t, estimated-actual, record.Payment.RefundAmount, 1e-15)

	require.NotNil(t, record.APICall)
	assert.Equal(t, record.Payment.ID, record.APICall.PaymentID)
	assert.Equal(t, "gpt-4o", record.APICall.Model)
	assert.Equal(t, "/v1/responses", record.APICall.Endpoint)
	assert.Equal(t, 8, record.APICall.OutputTokens)
	assert.Equal(t, http.StatusOK, record.APICall.StatusCode)
}

func TestGate_UpstreamFailureKeepsSettlement(t *testing.T) {
	facilitator := validFacilitator()
	recorder := &fakeRecorder{}
	gate := NewGate(testConfig(), facilitator, recorder, metrics.New())

	handler := gate.Middleware(upstreamStub(http.StatusServiceUnavailable, `{"error":"overloaded"}`))

	req := httptest.NewRequest(http.MethodPost, "/v1/responses", strings.NewReader(`{"model":"gpt-4o","input":"hi"}`))
	req.Header.Set(x402.PaymentHeader, paymentHeader(t))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	// The upstream's failure is relayed as-is; the escrow stands.
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "overloaded")
	assert.Equal(t, 1, facilitator.settleCalls)

	require.Len(t, recorder.records, 1)
	record := recorder.records[0]
	assert.Nil(t, record.APICall, "no usage data, no audit row")
	assert.Zero(t, record.Payment.RefundAmount)
	assert.Equal(t, models.PaymentStatusSettledNoRefund, record.Payment.Status)
}

func TestGate_MissingUsageRecordsZeroRefund(t *testing.T) {
	recorder := &fakeRecorder{}
	gate := NewGate(testConfig(), validFacilitator(), recorder, metrics.New())

	handler := gate.Middleware(upstreamStub(http.StatusOK, `{"id":"resp_1","output":"ok"}`))

	req := httptest.NewRequest(http.MethodPost, "/v1/responses", strings.NewReader(`{"model":"gpt-4o","input":"hi"}`))
	req.Header.Set(x402.PaymentHeader, paymentHeader(t))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	// Accounting failure is recovered locally: the caller still gets the
	// response.
	assert.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, recorder.records, 1)
	assert.Zero(t, recorder.records[0].Payment.RefundAmount)
	assert.Equal(t, models.PaymentStatusSettledNoRefund, recorder.records[0].Payment.Status)
	assert.Nil(t, recorder.records[0].APICall)
}

func TestGate_DustRefundBelowThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.Payment.MinRefundThresholdUSD = 1.0 // everything is dust
	recorder := &fakeRecorder{}
	gate := NewGate(cfg, validFacilitator(), recorder, metrics.New())

	handler := gate.Middleware(upstreamStub(http.StatusOK, `{"usage":{"completion_tokens":1}}`))

	req := httptest.NewRequest(http.MethodPost, "/v1/responses", strings.NewReader(`{"model":"gpt-4o","input":"hi","max_output_tokens":500}`))
	req.Header.Set(x402.PaymentHeader, paymentHeader(t))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, recorder.records, 1)
	record := recorder.records[0]
	assert.Equal(t, models.PaymentStatusSettledNoRefund, record.Payment.Status)
	require.NotNil(t, record.APICall, "audit row still written for dust refunds")

	// A refund exactly at the threshold is still dust. Replay the same
	// request with the threshold pinned to the refund the first run
	// computed, so the comparison is an exact equality.
	cfg2 := testConfig()
	cfg2.Payment.MinRefundThresholdUSD = record.Payment.RefundAmount
	recorder2 := &fakeRecorder{}
	gate2 := NewGate(cfg2, validFacilitator(), recorder2, metrics.New())
	handler2 := gate2.Middleware(upstreamStub(http.StatusOK, `{"usage":{"completion_tokens":1}}`))

	req2 := httptest.NewRequest(http.MethodPost, "/v1/responses", strings.NewReader(`{"model":"gpt-4o","input":"hi","max_output_tokens":500}`))
	req2.Header.Set(x402.PaymentHeader, paymentHeader(t))
	rr2 := httptest.NewRecorder()
	handler2.ServeHTTP(rr2, req2)

	require.Equal(t, http.StatusOK, rr2.Code)
	require.Len(t, recorder2.records, 1)
	boundary := recorder2.records[0]
	assert.Equal(t, record.Payment.RefundAmount, boundary.Payment.RefundAmount)
	assert.Equal(t, models.PaymentStatusSettledNoRefund, boundary.Payment.Status)
}

func TestGate_UnprotectedPathsPassThrough(t *testing.T) {
	facilitator := validFacilitator()
	gate := NewGate(testConfig(), facilitator, &fakeRecorder{}, metrics.New())

	called := false
	handler := gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	// GET requests and paths outside /v1/ skip the gate entirely
	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/v1/responses", nil),
		httptest.NewRequest(http.MethodPost, "/health", nil),
	} {
		called = false
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.True(t, called)
		assert.Equal(t, http.StatusOK, rr.Code)
	}
	assert.Equal(t, 0, facilitator.verifyCalls)
}

func TestGate_DefaultsAppliedToSparseRequest(t *testing.T) {
	recorder := &fakeRecorder{}
	gate := NewGate(testConfig(), validFacilitator(), recorder, metrics.New())

	handler := gate.Middleware(upstreamStub(http.StatusOK, `{"usage":{"completion_tokens":2}}`))

	// No model, no max_output_tokens
	req := httptest.NewRequest(http.MethodPost, "/v1/responses", strings.NewReader(`{"input":"hi"}`))
	req.Header.Set(x402.PaymentHeader, paymentHeader(t))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, recorder.records, 1)
	require.NotNil(t, recorder.records[0].APICall)
	assert.Equal(t, "gpt-3.5-turbo", recorder.records[0].APICall.Model)

	engine := pricing.NewEngine(true)
	inputTokens := recorder.records[0].APICall.InputTokens
	expected := engine.EstimateCost("gpt-3.5-turbo", inputTokens, 1000)
	assert.InDelta(t, expected, recorder.records[0].Payment.AmountEscrowed, 1e-15)
}

func TestGate_InvalidJSONBody(t *testing.T) {
	gate := NewGate(testConfig(), validFacilitator(), &fakeRecorder{}, metrics.New())
	handler := gate.Middleware(upstreamStub(http.StatusOK, `{}`))

	req := httptest.NewRequest(http.MethodPost, "/v1/responses", strings.NewReader(`{garbage`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
