// Package refund disburses recorded refund obligations back to payers, in
// batches, outside the request path. Idempotence lives in the ledger: a
// payment is only stamped refunded when its refund_tx_hash is still unset,
// so two concurrent processors cannot double-pay.
package refund

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"x402_gateway/internal/models"
	"x402_gateway/internal/storage"
	"x402_gateway/internal/utils"
)

// Ledger is the slice of the payment store the refund service needs.
// Satisfied by storage.PaymentRepository.
type Ledger interface {
	PendingRefunds(ctx context.Context, minAmount float64) ([]*models.Payment, error)
	MarkRefunded(ctx context.Context, id uuid.UUID, refundTxHash string) error
}

// Stats summarizes one disbursement batch. After ProcessAllPending every
// selected row ends up in Processed or Failed, so Total = Processed +
// Failed; PendingStats fills only Total and TotalAmount.
type Stats struct {
	Total       int     `json:"total"`
	Processed   int     `json:"processed"`
	Failed      int     `json:"failed"`
	TotalAmount float64 `json:"total_amount"`
}

// Service processes pending refunds against the ledger.
type Service struct {
	ledger       Ledger
	disburser    Disburser
	minThreshold float64
	logger       *utils.Logger
}

// NewService creates a refund service. Refunds below minThreshold are left
// pending indefinitely (they should not exist: the gate records dust as
// settled_no_refund).
func NewService(ledger Ledger, disburser Disburser, minThreshold float64) *Service {
	return &Service{
		ledger:       ledger,
		disburser:    disburser,
		minThreshold: minThreshold,
		logger:       utils.NewLogger("refund"),
	}
}

// ProcessRefund disburses a single pending refund and stamps the ledger.
// Returns false without error when the payment was already disbursed by a
// concurrent processor.
func (s *Service) ProcessRefund(ctx context.Context, payment *models.Payment) (bool, error) {
	if payment.RefundAmount <= 0 {
		s.logger.Warn("Skipping refund with non-positive amount", "payment_id", payment.ID)
		return false, nil
	}
	if payment.PayerAddress == "" {
		// Without a payer address there is nowhere to send the money.
		s.logger.Error("Refund has no payer address", "payment_id", payment.ID)
		return false, errors.New("payment has no payer address")
	}

	txHash, err := s.disburser.Send(ctx, payment.PayerAddress, payment.RefundAmount, payment.Currency, payment.Blockchain)
	if err != nil {
		s.logger.Error("Refund disbursement failed",
			"payment_id", payment.ID,
			"error", err,
		)
		return false, err
	}

	if err := s.ledger.MarkRefunded(ctx, payment.ID, txHash); err != nil {
		if errors.Is(err, storage.ErrAlreadyDisbursed) {
			// Lost the race; the other processor's stamp stands. The
			// duplicate send is logged for operator reconciliation.
			s.logger.Warn("Refund already disbursed elsewhere",
				"payment_id", payment.ID,
				"duplicate_tx_hash", txHash,
			)
			return false, nil
		}
		return false, err
	}

	s.logger.Info("Refund processed",
		"payment_id", payment.ID,
		"refund_tx_hash", txHash,
		"refund_amount", payment.RefundAmount,
	)
	return true, nil
}

// PendingStats summarizes what the next batch would disburse without
// touching anything.
func (s *Service) PendingStats(ctx context.Context) (Stats, error) {
	pending, err := s.ledger.PendingRefunds(ctx, s.minThreshold)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Total: len(pending)}
	for _, payment := range pending {
		stats.TotalAmount += payment.RefundAmount
	}
	return stats, nil
}

// ProcessAllPending disburses every pending refund above the threshold and
// returns batch statistics. A failed refund does not stop the batch.
func (s *Service) ProcessAllPending(ctx context.Context) (Stats, error) {
	pending, err := s.ledger.PendingRefunds(ctx, s.minThreshold)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Total: len(pending)}
	for _, payment := range pending {
		// ProcessRefund logs its own errors. Errors and skips (already
		// disbursed, non-positive amount) both count as failed, keeping
		// Total = Processed + Failed.
		if ok, _ := s.ProcessRefund(ctx, payment); ok {
			stats.Processed++
			stats.TotalAmount += payment.RefundAmount
		} else {
			stats.Failed++
		}
	}

	s.logger.Info("Refund batch complete",
		"total", stats.Total,
		"processed", stats.Processed,
		"failed", stats.Failed,
		"total_amount", stats.TotalAmount,
	)
	return stats, nil
}
