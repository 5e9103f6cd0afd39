package models

import (
	"time"

	"github.com/google/uuid"
)

// APICall is one proxied call (api_calls table), correlated to a Payment.
// It carries the measured token counts and computed costs: the audit trail
// that justifies a refund amount.
type APICall struct {
	ID            uuid.UUID `db:"id" json:"id"`
	PaymentID     uuid.UUID `db:"payment_id" json:"payment_id"`
	RequestID     uuid.UUID `db:"request_id" json:"request_id"`
	Model         string    `db:"model" json:"model"`
	Endpoint      string    `db:"endpoint" json:"endpoint"`
	InputTokens   int       `db:"input_tokens" json:"input_tokens"`
	OutputTokens  int       `db:"output_tokens" json:"output_tokens"`
	EstimatedCost float64   `db:"estimated_cost" json:"estimated_cost"`
	ActualCost    float64   `db:"actual_cost" json:"actual_cost"`
	StatusCode    int       `db:"status_code" json:"status_code"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}
