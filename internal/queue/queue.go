// Package queue buffers settled escrow records between the payment gate and
// the database writer. The gate enqueues one EscrowRecord per settled
// request after the response has been written; a batch worker drains the
// queue into the payments and api_calls tables, so a slow database never
// adds latency to proxied calls.
//
// Two backends implement the same interface:
//
//   - MemoryQueue: channel-based, nothing survives a restart. For
//     standalone and development deployments.
//   - RedisQueue: Redis-list-based, records survive restarts and can be
//     drained by workers in other processes.
//
// Records that exhaust their insert retries land in a dead letter queue for
// operator inspection instead of being dropped.
package queue

import (
	"context"
	"time"

	"x402_gateway/internal/models"
)

// Queue carries escrow records from the payment gate to the record worker.
type Queue interface {
	// Enqueue adds a settled escrow record to the queue.
	Enqueue(ctx context.Context, record *models.EscrowRecord) error

	// Dequeue blocks until at least one record is available or the context
	// is cancelled, then returns up to maxItems records.
	Dequeue(ctx context.Context, maxItems int) ([]*models.EscrowRecord, error)

	// DequeueWithTimeout returns up to maxItems records, or an empty batch
	// once the timeout elapses with nothing queued.
	DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]*models.EscrowRecord, error)

	// Length returns the number of records waiting to be persisted.
	Length(ctx context.Context) (int, error)

	// Close shuts down the queue.
	Close() error
}

// DeadLetterQueue holds escrow records whose database insert kept failing.
// Every parked record is a settled payment whose refund obligation is not
// yet in the ledger, so nothing here is ever silently discarded.
type DeadLetterQueue interface {
	// Add parks a record together with the error that exhausted its retries.
	Add(ctx context.Context, record *models.EscrowRecord, err error) error

	// List returns up to maxItems parked records.
	List(ctx context.Context, maxItems int) ([]DeadLetterItem, error)

	// Remove deletes a parked record by ID, after an operator has replayed
	// or written it off.
	Remove(ctx context.Context, id string) error

	// Close shuts down the dead letter queue.
	Close() error
}

// DeadLetterItem is one parked escrow record with its failure context.
type DeadLetterItem struct {
	ID        string               `json:"id"`
	Record    *models.EscrowRecord `json:"record"`
	Error     string               `json:"error"`
	Timestamp time.Time            `json:"timestamp"`
	Retries   int                  `json:"retries"`
}

// Config holds queue and record-worker tuning.
type Config struct {
	// BatchSize caps how many records one drain pass takes off the queue.
	BatchSize int

	// BatchTimeout is how long a drain pass waits before persisting a
	// partial batch.
	BatchTimeout time.Duration

	// MaxRetries bounds insert attempts per record before it goes to the
	// dead letter queue.
	MaxRetries int

	// RetryBackoff is the initial backoff between insert retries; it
	// doubles per attempt.
	RetryBackoff time.Duration

	// UseRedis selects the Redis backend over the in-memory one.
	UseRedis bool

	// RedisAddr, RedisPassword and RedisDB configure the Redis backend.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// QueueName distinguishes queue keys when several gateways share one
	// Redis instance.
	QueueName string
}

// DefaultConfig returns the standard tuning for an escrow record queue.
func DefaultConfig(queueName string) *Config {
	return &Config{
		BatchSize:    100,
		BatchTimeout: 5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 1 * time.Second,
		UseRedis:     false,
		QueueName:    queueName,
	}
}
