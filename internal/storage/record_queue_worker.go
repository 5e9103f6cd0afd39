package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"x402_gateway/internal/models"
	"x402_gateway/internal/queue"
	"x402_gateway/internal/utils"
)

// RecordQueueWorker persists escrow records asynchronously. The gateway
// enqueues one EscrowRecord per settled request after the response is
// written; this worker drains the queue in batches so a slow database never
// adds latency to proxied calls.
type RecordQueueWorker struct {
	queue       queue.Queue
	dlq         queue.DeadLetterQueue
	db          *DB
	config      *queue.Config
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewRecordQueueWorker creates a new escrow record queue worker
func NewRecordQueueWorker(q queue.Queue, dlq queue.DeadLetterQueue, db *DB, config *queue.Config) *RecordQueueWorker {
	if config == nil {
		config = queue.DefaultConfig("escrow-records")
	}

	return &RecordQueueWorker{
		queue:       q,
		dlq:         dlq,
		db:          db,
		config:      config,
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the worker goroutine
func (w *RecordQueueWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop gracefully stops the worker
func (w *RecordQueueWorker) Stop() error {
	close(w.stopChan)
	<-w.stoppedChan
	return nil
}

// Enqueue adds an escrow record to the queue
func (w *RecordQueueWorker) Enqueue(ctx context.Context, record *models.EscrowRecord) error {
	return w.queue.Enqueue(ctx, record)
}

// run is the main worker loop
func (w *RecordQueueWorker) run(ctx context.Context) {
	defer close(w.stoppedChan)

	logger := utils.NewLogger("record-worker")

	for {
		select {
		case <-w.stopChan:
			logger.Info("Record worker stopping")
			return
		case <-ctx.Done():
			logger.Info("Record worker context cancelled")
			return
		default:
			w.processBatch(ctx, logger)
		}
	}
}

// processBatch processes a batch of escrow records
func (w *RecordQueueWorker) processBatch(ctx context.Context, logger *utils.Logger) {
	records, err := w.queue.DequeueWithTimeout(ctx, w.config.BatchSize, w.config.BatchTimeout)
	if err != nil {
		logger.Error("Failed to dequeue escrow records", "error", err)
		time.Sleep(1 * time.Second) // Back off on error
		return
	}

	if len(records) == 0 {
		return
	}

	logger.Debug("Processing escrow record batch", "count", len(records))

	for _, record := range records {
		if err := w.processItem(ctx, record, logger); err != nil {
			logger.Error("Failed to process escrow record", "error", err)
		}
	}
}

// insertRecord inserts the payment and its API call row in one transaction,
// so a refund obligation never appears without its audit trail.
func (w *RecordQueueWorker) insertRecord(ctx context.Context, record *models.EscrowRecord) error {
	tx, err := w.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	payment := &record.Payment
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO payments (
			id, tx_hash, payer_address, currency, blockchain,
			amount_escrowed, refund_amount, refund_tx_hash, refund_processed_at,
			status, created_at
		) VALUES (
			:id, :tx_hash, :payer_address, :currency, :blockchain,
			:amount_escrowed, :refund_amount, :refund_tx_hash, :refund_processed_at,
			:status, :created_at
		)
	`, payment)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}

	if record.APICall != nil {
		call := record.APICall
		call.PaymentID = payment.ID
		if call.ID == uuid.Nil {
			call.ID = uuid.New()
		}
		if call.CreatedAt.IsZero() {
			call.CreatedAt = time.Now().UTC()
		}

		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO api_calls (
				id, payment_id, request_id, model, endpoint,
				input_tokens, output_tokens, estimated_cost, actual_cost,
				status_code, created_at
			) VALUES (
				:id, :payment_id, :request_id, :model, :endpoint,
				:input_tokens, :output_tokens, :estimated_cost, :actual_cost,
				:status_code, :created_at
			)
		`, call)
		if err != nil {
			return fmt.Errorf("failed to insert API call: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// processItem processes a single escrow record with retries
func (w *RecordQueueWorker) processItem(ctx context.Context, record *models.EscrowRecord, logger *utils.Logger) error {
	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			backoff := w.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			logger.Debug("Retrying escrow record", "attempt", attempt, "backoff", backoff)
			time.Sleep(backoff)
		}

		if err := w.insertRecord(ctx, record); err != nil {
			lastErr = err
			logger.Error("Failed to insert escrow record", "attempt", attempt, "error", err)
			continue
		}

		logger.Debug("Escrow record inserted", "payment_id", record.Payment.ID)
		return nil
	}

	// Max retries exceeded - add to dead letter queue
	if w.dlq != nil {
		if err := w.dlq.Add(ctx, record, lastErr); err != nil {
			logger.Error("Failed to add to dead letter queue", "error", err)
		} else {
			logger.Warn("Escrow record moved to DLQ", "payment_id", record.Payment.ID, "error", lastErr)
		}
	}

	return fmt.Errorf("%w: %v", queue.ErrMaxRetriesExceeded, lastErr)
}

// GetQueueLength returns the current queue length
func (w *RecordQueueWorker) GetQueueLength(ctx context.Context) (int, error) {
	return w.queue.Length(ctx)
}

// GetDeadLetterItems returns items from the dead letter queue
func (w *RecordQueueWorker) GetDeadLetterItems(ctx context.Context, maxItems int) ([]queue.DeadLetterItem, error) {
	if w.dlq == nil {
		return nil, fmt.Errorf("dead letter queue not configured")
	}
	return w.dlq.List(ctx, maxItems)
}
