package queue

import (
	"context"
	"errors"
	"time"
)

// Message is a task reference. It never carries file bytes: workers find the
// document through the record store and the staging areas.
type Message struct {
	TaskID     int64     `json:"task_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

var (
	ErrQueueClosed = errors.New("queue: closed")
	ErrQueueFull   = errors.New("queue: full")
)

// Publisher is the producer side: ingest tooling, the retry controller and
// the folder monitor all publish through it.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Consumer feeds the worker pool. Delivery is at-least-once for the system
// as a whole: a reference lost in flight is re-published by the monitor's
// watermark sweep, and duplicates are shed by the relocation conflict.
type Consumer interface {
	Messages() <-chan Message
	Close() error
}
