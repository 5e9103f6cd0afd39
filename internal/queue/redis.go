package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"x402_gateway/internal/models"
)

// RedisQueue is the Redis-list-backed escrow record queue. Records are
// stored as JSON under a per-gateway list key, so refund obligations
// survive restarts and can be drained by a worker in another process.
type RedisQueue struct {
	client *redis.Client
	qKey   string
}

// NewRedisQueue creates a Redis-backed escrow record queue and verifies the
// connection before returning.
func NewRedisQueue(config *Config) (*RedisQueue, error) {
	client, err := newRedisClient(config)
	if err != nil {
		return nil, err
	}

	return &RedisQueue{
		client: client,
		qKey:   fmt.Sprintf("gateway:records:%s", config.QueueName),
	}, nil
}

func newRedisClient(config *Config) (*redis.Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, record *models.EscrowRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal escrow record: %w", err)
	}

	if err := q.client.RPush(ctx, q.qKey, data).Err(); err != nil {
		return fmt.Errorf("failed to push escrow record: %w", err)
	}

	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, maxItems int) ([]*models.EscrowRecord, error) {
	// Block until the first record arrives.
	result, err := q.client.BLPop(ctx, 0, q.qKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to pop escrow record: %w", err)
	}

	// result[0] is the key, result[1] is the payload.
	first, err := decodeRecord([]byte(result[1]))
	if err != nil {
		return nil, err
	}

	return q.fillBatch(ctx, []*models.EscrowRecord{first}, maxItems), nil
}

func (q *RedisQueue) DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]*models.EscrowRecord, error) {
	result, err := q.client.BLPop(ctx, timeout, q.qKey).Result()
	if err == redis.Nil {
		// Timeout with nothing queued.
		return []*models.EscrowRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop escrow record: %w", err)
	}

	first, err := decodeRecord([]byte(result[1]))
	if err != nil {
		return nil, err
	}

	return q.fillBatch(ctx, []*models.EscrowRecord{first}, maxItems), nil
}

// fillBatch takes ready records without blocking, up to maxItems. Payloads
// that fail to decode are skipped; errors on LPop end the batch with what
// was collected so far.
func (q *RedisQueue) fillBatch(ctx context.Context, batch []*models.EscrowRecord, maxItems int) []*models.EscrowRecord {
	for len(batch) < maxItems {
		result, err := q.client.LPop(ctx, q.qKey).Result()
		if err != nil {
			return batch
		}
		record, err := decodeRecord([]byte(result))
		if err != nil {
			continue
		}
		batch = append(batch, record)
	}
	return batch
}

func decodeRecord(data []byte) (*models.EscrowRecord, error) {
	var record models.EscrowRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal escrow record: %w", err)
	}
	return &record, nil
}

func (q *RedisQueue) Length(ctx context.Context) (int, error) {
	length, err := q.client.LLen(ctx, q.qKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}
	return int(length), nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// RedisDeadLetterQueue parks failed escrow records in a Redis hash keyed by
// item ID, so an operator can replay them from any process.
type RedisDeadLetterQueue struct {
	client *redis.Client
	dlKey  string
}

// NewRedisDeadLetterQueue creates a Redis-backed dead letter queue.
func NewRedisDeadLetterQueue(config *Config) (*RedisDeadLetterQueue, error) {
	client, err := newRedisClient(config)
	if err != nil {
		return nil, err
	}

	return &RedisDeadLetterQueue{
		client: client,
		dlKey:  fmt.Sprintf("gateway:records:%s:dead", config.QueueName),
	}, nil
}

func (q *RedisDeadLetterQueue) Add(ctx context.Context, record *models.EscrowRecord, cause error) error {
	item := DeadLetterItem{
		ID:        uuid.NewString(),
		Record:    record,
		Error:     cause.Error(),
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter item: %w", err)
	}

	if err := q.client.HSet(ctx, q.dlKey, item.ID, data).Err(); err != nil {
		return fmt.Errorf("failed to park escrow record: %w", err)
	}

	return nil
}

func (q *RedisDeadLetterQueue) List(ctx context.Context, maxItems int) ([]DeadLetterItem, error) {
	results, err := q.client.HGetAll(ctx, q.dlKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letter items: %w", err)
	}

	items := make([]DeadLetterItem, 0, len(results))
	for _, data := range results {
		var item DeadLetterItem
		if err := json.Unmarshal([]byte(data), &item); err != nil {
			continue
		}
		items = append(items, item)

		if maxItems > 0 && len(items) >= maxItems {
			break
		}
	}

	return items, nil
}

func (q *RedisDeadLetterQueue) Remove(ctx context.Context, id string) error {
	if err := q.client.HDel(ctx, q.dlKey, id).Err(); err != nil {
		return fmt.Errorf("failed to remove dead letter item: %w", err)
	}
	return nil
}

func (q *RedisDeadLetterQueue) Close() error {
	return q.client.Close()
}
