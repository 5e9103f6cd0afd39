// Package x402 implements the gateway's side of the x402 payment protocol:
// the wire types exchanged with callers and the facilitator, header
// encoding, requirement matching, and atomic-amount conversion. The
// cryptographic verification and settlement of payment proofs is delegated
// entirely to an external facilitator service.
package x402

import "encoding/json"

// Version is the x402 protocol version spoken by this gateway.
const Version = 1

// Header names used on protected resources.
const (
	PaymentHeader         = "X-PAYMENT"
	PaymentResponseHeader = "X-PAYMENT-RESPONSE"
)

// SchemeExact is the only payment scheme the gateway constructs: the caller
// authorizes a transfer of exactly the escrow amount.
const SchemeExact = "exact"

// PaymentRequirements is one acceptable payment option, constructed fresh
// per request from the estimated cost. Immutable once constructed and never
// persisted.
type PaymentRequirements struct {
	Scheme            string         `json:"scheme"`
	Network           string         `json:"network"`
	MaxAmountRequired string         `json:"maxAmountRequired"`
	Resource          string         `json:"resource"`
	Description       string         `json:"description"`
	MimeType          string         `json:"mimeType"`
	PayTo             string         `json:"payTo"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds"`
	Asset             string         `json:"asset"`
	OutputSchema      map[string]any `json:"outputSchema,omitempty"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// PaymentPayload is the caller-supplied payment proof, decoded from the
// X-PAYMENT header. The inner payload is opaque to the gateway and is routed
// to the facilitator as-is.
type PaymentPayload struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     string          `json:"network"`
	Payload     json.RawMessage `json:"payload"`
}

// PaymentRequiredResponse is the 402 body returned when payment is missing
// or invalid. The accepts list lets a well-behaved caller retry with a valid
// proof.
type PaymentRequiredResponse struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// VerifyResponse is the facilitator's answer to a verify call.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse is the facilitator's answer to a settle call. On success it
// is the settlement record: transaction reference, network, payer, payee and
// amount, encoded into the X-PAYMENT-RESPONSE header for the caller to
// audit.
type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer,omitempty"`
	Payee       string `json:"payee,omitempty"`
	Amount      string `json:"amount,omitempty"`
}

// NewPaymentRequiredResponse builds the structured 402 rejection payload.
func NewPaymentRequiredResponse(reason string, accepts []PaymentRequirements) PaymentRequiredResponse {
	return PaymentRequiredResponse{
		X402Version: Version,
		Error:       reason,
		Accepts:     accepts,
	}
}

// FindMatchingRequirements returns the first requirement whose scheme and
// network match the payment proof, or nil if none match.
func FindMatchingRequirements(accepts []PaymentRequirements, payment *PaymentPayload) *PaymentRequirements {
	for i := range accepts {
		if accepts[i].Scheme == payment.Scheme && accepts[i].Network == payment.Network {
			return &accepts[i]
		}
	}
	return nil
}
