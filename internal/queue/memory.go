package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"x402_gateway/internal/models"
)

// MemoryQueue is the channel-backed escrow record queue. Records are lost
// on restart, which in dev mode only costs accounting rows: the payments
// were already settled on-chain.
type MemoryQueue struct {
	records chan *models.EscrowRecord
	mu      sync.RWMutex
	closed  bool
}

// NewMemoryQueue creates an in-memory escrow record queue. The buffer holds
// ten full batches before Enqueue blocks.
func NewMemoryQueue(config *Config) *MemoryQueue {
	if config == nil {
		config = DefaultConfig("memory")
	}

	return &MemoryQueue{
		records: make(chan *models.EscrowRecord, config.BatchSize*10),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, record *models.EscrowRecord) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.records <- record:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context, maxItems int) ([]*models.EscrowRecord, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	var batch []*models.EscrowRecord

	// Block for the first record, then take whatever else is ready.
	select {
	case record := <-q.records:
		batch = append(batch, record)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return q.fillBatch(batch, maxItems), nil
}

func (q *MemoryQueue) DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]*models.EscrowRecord, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	var batch []*models.EscrowRecord

	select {
	case record := <-q.records:
		batch = append(batch, record)
	case <-time.After(timeout):
		return batch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return q.fillBatch(batch, maxItems), nil
}

// fillBatch drains ready records without blocking, up to maxItems.
func (q *MemoryQueue) fillBatch(batch []*models.EscrowRecord, maxItems int) []*models.EscrowRecord {
	for len(batch) < maxItems {
		select {
		case record := <-q.records:
			batch = append(batch, record)
		default:
			return batch
		}
	}
	return batch
}

func (q *MemoryQueue) Length(ctx context.Context) (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return 0, ErrQueueClosed
	}

	return len(q.records), nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	q.closed = true
	close(q.records)
	return nil
}

// MemoryDeadLetterQueue parks failed escrow records in process memory.
type MemoryDeadLetterQueue struct {
	items  []DeadLetterItem
	mu     sync.RWMutex
	closed bool
}

// NewMemoryDeadLetterQueue creates an in-memory dead letter queue.
func NewMemoryDeadLetterQueue() *MemoryDeadLetterQueue {
	return &MemoryDeadLetterQueue{
		items: make([]DeadLetterItem, 0),
	}
}

func (q *MemoryDeadLetterQueue) Add(ctx context.Context, record *models.EscrowRecord, err error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	q.items = append(q.items, DeadLetterItem{
		ID:        uuid.NewString(),
		Record:    record,
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
	})
	return nil
}

func (q *MemoryDeadLetterQueue) List(ctx context.Context, maxItems int) ([]DeadLetterItem, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	if maxItems <= 0 || maxItems > len(q.items) {
		maxItems = len(q.items)
	}

	result := make([]DeadLetterItem, maxItems)
	copy(result, q.items[:maxItems])
	return result, nil
}

func (q *MemoryDeadLetterQueue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	for i, item := range q.items {
		if item.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return nil
		}
	}

	return ErrItemNotFound
}

func (q *MemoryDeadLetterQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.items = nil
	return nil
}
