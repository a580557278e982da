package queue

import (
	"context"
	"sync"
)

// Broker is the in-process queue: a bounded channel shared by producers and
// the worker pool. Suited to single-process deployments; references lost on
// a crash are restored by the folder monitor.
type Broker struct {
	mu     sync.Mutex
	msgs   chan Message
	closed bool
}

func NewBroker(size int) *Broker {
	if size <= 0 {
		size = 256
	}
	return &Broker{msgs: make(chan Message, size)}
}

// Publish enqueues without blocking. A full queue is an error the caller
// decides on: ingest surfaces it, the monitor just tries again next sweep.
func (b *Broker) Publish(_ context.Context, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrQueueClosed
	}
	select {
	case b.msgs <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

func (b *Broker) Messages() <-chan Message {
	return b.msgs
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.msgs)
	}
	return nil
}
