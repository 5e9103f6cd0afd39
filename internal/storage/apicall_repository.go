package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"x402_gateway/internal/models"
)

// APICallRepository handles API call audit records
type APICallRepository struct {
	db *DB
}

// NewAPICallRepository creates a new API call repository
func NewAPICallRepository(db *DB) *APICallRepository {
	return &APICallRepository{db: db}
}

// Create inserts a new API call record
func (r *APICallRepository) Create(ctx context.Context, call *models.APICall) error {
	if call.ID == uuid.Nil {
		call.ID = uuid.New()
	}
	if call.CreatedAt.IsZero() {
		call.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO api_calls (
			id, payment_id, request_id, model, endpoint,
			input_tokens, output_tokens, estimated_cost, actual_cost,
			status_code, created_at
		) VALUES (
			:id, :payment_id, :request_id, :model, :endpoint,
			:input_tokens, :output_tokens, :estimated_cost, :actual_cost,
			:status_code, :created_at
		)
	`

	_, err := r.db.conn.NamedExecContext(ctx, query, call)
	if err != nil {
		return fmt.Errorf("failed to insert API call: %w", err)
	}

	return nil
}

// GetByPaymentID retrieves the API call that justifies a payment's refund
func (r *APICallRepository) GetByPaymentID(ctx context.Context, paymentID uuid.UUID) (*models.APICall, error) {
	var call models.APICall
	query := `
		SELECT id, payment_id, request_id, model, endpoint,
		       input_tokens, output_tokens, estimated_cost, actual_cost,
		       status_code, created_at
		FROM api_calls
		WHERE payment_id = $1
	`

	err := r.db.conn.GetContext(ctx, &call, query, paymentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrAPICallNotFound
		}
		return nil, fmt.Errorf("failed to get API call: %w", err)
	}

	return &call, nil
}
