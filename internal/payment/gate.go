// Package payment implements the per-request escrow protocol. The Gate
// middleware estimates a worst-case cost for each inference request, demands
// an x402 payment proof covering it, settles the proof through the
// facilitator before any upstream work happens, and records the refund
// obligation once the actual cost is known.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"x402_gateway/internal/config"
	"x402_gateway/internal/metrics"
	"x402_gateway/internal/models"
	"x402_gateway/internal/pricing"
	"x402_gateway/internal/tokens"
	"x402_gateway/internal/upstream"
	"x402_gateway/internal/utils"
	"x402_gateway/internal/x402"
)

const (
	defaultModel           = "gpt-3.5-turbo"
	defaultMaxOutputTokens = 1000
)

// Facilitator verifies and settles payment proofs. Satisfied by
// x402.FacilitatorClient; a fake stands in for it in tests.
type Facilitator interface {
	Verify(ctx context.Context, payment *x402.PaymentPayload, requirement x402.PaymentRequirements) (*x402.VerifyResponse, error)
	Settle(ctx context.Context, payment *x402.PaymentPayload, requirement x402.PaymentRequirements) (*x402.SettleResponse, error)
}

// Recorder accepts escrow records for asynchronous persistence. Satisfied by
// storage.RecordQueueWorker.
type Recorder interface {
	Enqueue(ctx context.Context, record *models.EscrowRecord) error
}

// Gate wires the token counter, pricing engine and facilitator around the
// upstream call for every protected request.
type Gate struct {
	cfg         *config.Config
	counter     *tokens.Counter
	pricing     *pricing.Engine
	facilitator Facilitator
	recorder    Recorder
	metrics     *metrics.Metrics
	logger      *utils.Logger
}

// NewGate creates the payment gate middleware.
func NewGate(cfg *config.Config, facilitator Facilitator, recorder Recorder, m *metrics.Metrics) *Gate {
	return &Gate{
		cfg:         cfg,
		counter:     tokens.NewCounter(),
		pricing:     pricing.NewEngine(cfg.DevMode),
		facilitator: facilitator,
		recorder:    recorder,
		metrics:     m,
		logger:      utils.NewLogger("payment"),
	}
}

// requestEstimate is what the gate derives from the request body before any
// payment work happens.
type requestEstimate struct {
	Model           string
	InputTokens     int
	MaxOutputTokens int
	EstimatedCost   float64
}

// Middleware enforces the escrow protocol on POST /v1/* requests. All other
// requests pass through untouched.
//
// Flow:
//  1. Parse body, count input tokens, estimate worst-case cost
//  2. Build payment requirements for the estimate
//  3. Missing/invalid/unverifiable proof: 402 with the accepts list
//  4. Settle the exact escrow amount (fatal on failure, never retried)
//  5. Run the upstream call with the response buffered
//  6. Compute actual cost from response usage, derive the refund delta
//  7. Enqueue the escrow record; reply with X-PAYMENT-RESPONSE attached
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasPrefix(r.URL.Path, "/v1/") {
			next.ServeHTTP(w, r)
			return
		}

		g.metrics.ActiveRequests.Inc()
		defer g.metrics.ActiveRequests.Dec()

		ctx := r.Context()

		body, err := io.ReadAll(r.Body)
		if err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		estimate, err := g.estimate(body)
		if err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}

		requirements, err := g.buildRequirements(estimate.EstimatedCost, requestResource(r))
		if err != nil {
			g.logger.Error("Failed to build payment requirements", "error", err)
			utils.RespondWithError(w, http.StatusInternalServerError, "internal error")
			return
		}
		accepts := []x402.PaymentRequirements{requirements}

		payload, requirement, ok := g.verifyPayment(ctx, w, r, accepts)
		if !ok {
			return
		}

		settlement, err := g.facilitator.Settle(ctx, payload, requirement)
		if err != nil {
			g.metrics.PaymentsRejected.WithLabelValues("settle_error").Inc()
			g.respondPaymentRequired(w, fmt.Sprintf("payment settlement failed: %v", err), accepts)
			return
		}
		if !settlement.Success {
			reason := settlement.ErrorReason
			if reason == "" {
				reason = "payment settlement failed"
			}
			g.metrics.PaymentsRejected.WithLabelValues("settle_rejected").Inc()
			g.respondPaymentRequired(w, reason, accepts)
			return
		}

		settlementHeader, err := x402.EncodeSettlement(settlement)
		if err != nil {
			// The caller paid; losing the receipt header is not worth
			// failing the request over.
			g.logger.Error("Failed to encode settlement header", "error", err)
		}

		rec := newResponseRecorder()
		next.ServeHTTP(rec, r)

		record := g.settleAccounts(estimate, settlement, rec, r.URL.Path)
		if err := g.recorder.Enqueue(ctx, record); err != nil {
			// The caller already has their answer coming; an enqueue
			// failure is an operator problem, not a caller problem.
			g.logger.Error("Failed to enqueue escrow record",
				"error", err,
				"tx_hash", settlement.Transaction,
			)
		}

		g.metrics.APICalls.WithLabelValues(estimate.Model, strconv.Itoa(rec.status)).Inc()

		rec.writeTo(w, settlementHeader)
	})
}

// estimate parses the request body and prices the worst case: all requested
// output tokens consumed.
func (g *Gate) estimate(body []byte) (requestEstimate, error) {
	var req struct {
		Model           string          `json:"model"`
		Input           json.RawMessage `json:"input"`
		MaxOutputTokens int             `json:"max_output_tokens"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return requestEstimate{}, fmt.Errorf("invalid JSON body")
	}

	if req.Model == "" {
		req.Model = defaultModel
	}
	if req.MaxOutputTokens <= 0 {
		req.MaxOutputTokens = defaultMaxOutputTokens
	}

	inputTokens := g.countInput(req.Input, req.Model)
	estimated := g.pricing.EstimateCost(req.Model, inputTokens, req.MaxOutputTokens)

	g.logger.Debug("Estimated request cost",
		"model", req.Model,
		"input_tokens", inputTokens,
		"max_output_tokens", req.MaxOutputTokens,
		"estimated_cost", estimated,
	)

	return requestEstimate{
		Model:           req.Model,
		InputTokens:     inputTokens,
		MaxOutputTokens: req.MaxOutputTokens,
		EstimatedCost:   estimated,
	}, nil
}

// countInput handles the input field's accepted shapes: a plain string, a
// chat message list, or any other JSON value (counted from its serialized
// form). Counting never fails; an absent input counts as zero.
func (g *Gate) countInput(input json.RawMessage, model string) int {
	if len(input) == 0 {
		return 0
	}

	var text string
	if err := json.Unmarshal(input, &text); err == nil {
		return g.counter.Count(text, model)
	}

	var messages []tokens.Message
	if err := json.Unmarshal(input, &messages); err == nil {
		return g.counter.CountMessages(messages, model)
	}

	return g.counter.Count(string(input), model)
}

// buildRequirements converts the USD estimate into an exact-scheme payment
// requirement on the configured network.
func (g *Gate) buildRequirements(estimatedCost float64, resource string) (x402.PaymentRequirements, error) {
	network := g.cfg.Network()

	amount, asset, extra, err := x402.USDToAtomicAmount(estimatedCost, network)
	if err != nil {
		return x402.PaymentRequirements{}, fmt.Errorf("invalid price %v: %w", estimatedCost, err)
	}

	return x402.PaymentRequirements{
		Scheme:            x402.SchemeExact,
		Network:           network,
		MaxAmountRequired: amount,
		Resource:          resource,
		Description:       "Metered inference API access",
		MimeType:          "application/json",
		PayTo:             g.cfg.WalletAddress(),
		MaxTimeoutSeconds: g.cfg.Payment.MaxTimeoutSeconds,
		Asset:             asset,
		Extra:             extra,
	}, nil
}

// verifyPayment decodes and verifies the X-PAYMENT header. On any failure it
// writes the 402 response and returns ok=false.
func (g *Gate) verifyPayment(ctx context.Context, w http.ResponseWriter, r *http.Request, accepts []x402.PaymentRequirements) (*x402.PaymentPayload, x402.PaymentRequirements, bool) {
	header := r.Header.Get(x402.PaymentHeader)
	if header == "" {
		g.metrics.PaymentsRejected.WithLabelValues("missing_header").Inc()
		g.respondPaymentRequired(w, "X-PAYMENT header is required", accepts)
		return nil, x402.PaymentRequirements{}, false
	}

	payload, err := x402.DecodePayment(header)
	if err != nil {
		g.metrics.PaymentsRejected.WithLabelValues("malformed").Inc()
		g.respondPaymentRequired(w, err.Error(), accepts)
		return nil, x402.PaymentRequirements{}, false
	}

	requirement := accepts[0]
	if match := x402.FindMatchingRequirements(accepts, payload); match != nil {
		requirement = *match
	}

	verification, err := g.facilitator.Verify(ctx, payload, requirement)
	if err != nil {
		g.metrics.PaymentsRejected.WithLabelValues("verify_error").Inc()
		g.respondPaymentRequired(w, err.Error(), accepts)
		return nil, x402.PaymentRequirements{}, false
	}
	if !verification.IsValid {
		reason := verification.InvalidReason
		if reason == "" {
			reason = "payment verification failed"
		}
		g.metrics.PaymentsRejected.WithLabelValues("invalid").Inc()
		g.respondPaymentRequired(w, reason, accepts)
		return nil, x402.PaymentRequirements{}, false
	}

	return payload, requirement, true
}

// settleAccounts computes the actual cost and refund delta from the buffered
// upstream response and assembles the escrow record.
//
// An upstream failure or missing usage data never fails the request: the
// refund obligation is recorded as zero, the discrepancy is logged, and the
// settled escrow stands.
func (g *Gate) settleAccounts(estimate requestEstimate, settlement *x402.SettleResponse, rec *responseRecorder, endpoint string) *models.EscrowRecord {
	now := time.Now().UTC()
	payment := models.Payment{
		ID:             uuid.New(),
		TxHash:         settlement.Transaction,
		PayerAddress:   settlement.Payer,
		Currency:       "USDC",
		Blockchain:     g.cfg.Network(),
		AmountEscrowed: estimate.EstimatedCost,
		Status:         models.PaymentStatusSettledNoRefund,
		CreatedAt:      now,
	}

	if rec.status < 200 || rec.status >= 300 {
		g.logger.Warn("Upstream call failed after settlement; no refund computed",
			"status", rec.status,
			"tx_hash", settlement.Transaction,
		)
		return &models.EscrowRecord{Payment: payment}
	}

	usage := upstream.ExtractUsage(rec.body.Bytes())
	if !usage.Found {
		g.logger.Warn("Usage data missing from upstream response; refund recorded as zero",
			"model", estimate.Model,
			"tx_hash", settlement.Transaction,
		)
		return &models.EscrowRecord{Payment: payment}
	}

	actualCost := g.pricing.ActualCost(estimate.Model, estimate.InputTokens, usage.OutputTokens)
	refund := pricing.Refund(estimate.EstimatedCost, actualCost)

	payment.RefundAmount = refund
	// Refunds at or below the threshold are dust and stay settled.
	if refund > g.cfg.Payment.MinRefundThresholdUSD {
		payment.Status = models.PaymentStatusPartialRefund
	}

	g.metrics.CostPerRequest.Observe(actualCost)
	g.metrics.RefundPerRequest.Observe(refund)
	g.logger.Info("Escrow settled",
		"model", estimate.Model,
		"estimated_cost", estimate.EstimatedCost,
		"actual_cost", actualCost,
		"refund", refund,
		"status", string(payment.Status),
	)

	call := &models.APICall{
		ID:            uuid.New(),
		PaymentID:     payment.ID,
		RequestID:     uuid.New(),
		Model:         estimate.Model,
		Endpoint:      endpoint,
		InputTokens:   estimate.InputTokens,
		OutputTokens:  usage.OutputTokens,
		EstimatedCost: estimate.EstimatedCost,
		ActualCost:    actualCost,
		StatusCode:    rec.status,
		CreatedAt:     now,
	}

	return &models.EscrowRecord{Payment: payment, APICall: call}
}

func (g *Gate) respondPaymentRequired(w http.ResponseWriter, reason string, accepts []x402.PaymentRequirements) {
	utils.RespondWithJSON(w, http.StatusPaymentRequired, x402.NewPaymentRequiredResponse(reason, accepts))
}

func requestResource(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s%s", scheme, r.Host, r.URL.Path)
}
