// Package pricing maps model identifiers and token counts to USD costs.
// The rate table is process-wide and read-only after startup; concurrent
// reads need no synchronization.
package pricing

// Rates holds per-1000-token prices in USD for one model.
type Rates struct {
	Input  float64
	Output float64
}

// Model pricing (per 1000 tokens) - Last updated: January 2025
// Source: https://openai.com/api/pricing/
var modelRates = map[string]Rates{
	// GPT-4o family
	"gpt-4o":      {Input: 0.006, Output: 0.018},
	"gpt-4o-mini": {Input: 0.00015, Output: 0.0006},

	// GPT-4 family
	"gpt-4-turbo": {Input: 0.01, Output: 0.03},
	"gpt-4":       {Input: 0.03, Output: 0.06},

	// GPT-3.5 family
	"gpt-3.5-turbo": {Input: 0.0005, Output: 0.0015},

	// o1 reasoning models
	"o1":         {Input: 0.15, Output: 0.6},
	"o1-preview": {Input: 0.015, Output: 0.06},
	"o1-mini":    {Input: 0.003, Output: 0.012},
}

// DefaultModel is used for rate lookup when the requested model is unknown.
// Lookup never fails the request.
const DefaultModel = "gpt-3.5-turbo"

// DevModeDivisor scales all rates down in development mode so test payments
// are one millionth of production prices.
const DevModeDivisor = 1_000_000

// Engine computes estimated and actual costs from the rate table.
type Engine struct {
	devMode bool
}

// NewEngine creates a pricing engine. With devMode set, all rates are
// divided by DevModeDivisor.
func NewEngine(devMode bool) *Engine {
	return &Engine{devMode: devMode}
}

// Rates returns the rates for a model, adjusted for dev mode. Unknown models
// fall back to DefaultModel's rates.
func (e *Engine) Rates(model string) Rates {
	rates, ok := modelRates[model]
	if !ok {
		rates = modelRates[DefaultModel]
	}
	if e.devMode {
		rates.Input /= DevModeDivisor
		rates.Output /= DevModeDivisor
	}
	return rates
}

// EstimateCost returns the worst-case cost assuming the declared output cap
// is fully consumed. This is the escrow amount: it must never be less than
// the true cost of a compliant response.
func (e *Engine) EstimateCost(model string, inputTokens, maxOutputTokens int) float64 {
	rates := e.Rates(model)
	return (float64(inputTokens)/1000)*rates.Input + (float64(maxOutputTokens)/1000)*rates.Output
}

// ActualCost returns the cost from measured usage after the call completes.
func (e *Engine) ActualCost(model string, inputTokens, outputTokens int) float64 {
	rates := e.Rates(model)
	return (float64(inputTokens)/1000)*rates.Input + (float64(outputTokens)/1000)*rates.Output
}

// Refund returns the amount owed back to the caller, clamped at zero.
// Actual cost exceeding the estimate (tokenizer drift between the gateway
// and the upstream's own accounting) is an absorbed loss, never a negative
// refund.
func Refund(estimated, actual float64) float64 {
	refund := estimated - actual
	if refund < 0 {
		return 0
	}
	return refund
}
