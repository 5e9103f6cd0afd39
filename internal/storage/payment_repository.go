package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"x402_gateway/internal/models"
)

// PaymentRepository handles payment database operations
type PaymentRepository struct {
	db *DB
}

// NewPaymentRepository creates a new payment repository
func NewPaymentRepository(db *DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create inserts a new payment record
func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO payments (
			id, tx_hash, payer_address, currency, blockchain,
			amount_escrowed, refund_amount, refund_tx_hash, refund_processed_at,
			status, created_at
		) VALUES (
			:id, :tx_hash, :payer_address, :currency, :blockchain,
			:amount_escrowed, :refund_amount, :refund_tx_hash, :refund_processed_at,
			:status, :created_at
		)
	`

	_, err := r.db.conn.NamedExecContext(ctx, query, payment)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}

	return nil
}

// GetByID retrieves a payment by ID
func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	query := `
		SELECT id, tx_hash, payer_address, currency, blockchain,
		       amount_escrowed, refund_amount, refund_tx_hash, refund_processed_at,
		       status, created_at
		FROM payments
		WHERE id = $1
	`

	err := r.db.conn.GetContext(ctx, &payment, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}

	return &payment, nil
}

// PendingRefunds returns payments with a recorded refund obligation at or
// above minAmount that have no disbursement reference yet. The
// refund_tx_hash IS NULL filter is what makes batch processing idempotent.
func (r *PaymentRepository) PendingRefunds(ctx context.Context, minAmount float64) ([]*models.Payment, error) {
	query := `
		SELECT id, tx_hash, payer_address, currency, blockchain,
		       amount_escrowed, refund_amount, refund_tx_hash, refund_processed_at,
		       status, created_at
		FROM payments
		WHERE status = $1
		  AND refund_amount >= $2
		  AND refund_tx_hash IS NULL
		ORDER BY created_at
	`

	var payments []*models.Payment
	err := r.db.conn.SelectContext(ctx, &payments, query, models.PaymentStatusPartialRefund, minAmount)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending refunds: %w", err)
	}

	return payments, nil
}

// MarkRefunded atomically stamps the disbursement reference, sets the
// processed timestamp and flips the status to refunded. The conditional
// WHERE clause guarantees a payment is disbursed at most once, even under
// concurrent batch runs; losing the race returns ErrAlreadyDisbursed.
func (r *PaymentRepository) MarkRefunded(ctx context.Context, id uuid.UUID, refundTxHash string) error {
	query := `
		UPDATE payments
		SET refund_tx_hash = $2,
		    refund_processed_at = $3,
		    status = $4
		WHERE id = $1
		  AND refund_tx_hash IS NULL
	`

	result, err := r.db.conn.ExecContext(ctx, query, id, refundTxHash, time.Now().UTC(), models.PaymentStatusRefunded)
	if err != nil {
		return fmt.Errorf("failed to mark payment refunded: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrAlreadyDisbursed
	}

	return nil
}
