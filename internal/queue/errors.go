package queue

import "errors"

var (
	// ErrQueueClosed is returned when enqueuing or draining after Close.
	ErrQueueClosed = errors.New("queue is closed")

	// ErrItemNotFound is returned when removing a dead letter item whose ID
	// is not parked.
	ErrItemNotFound = errors.New("item not found")

	// ErrMaxRetriesExceeded wraps the last insert error when a record is
	// moved to the dead letter queue.
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)
