package queue

import (
	"context"
	"fmt"
	"sync"
)

// Message is one inbound delivery: an opaque body plus its delivery
// headers (x-retry-count, reply-to, priority).
type Message struct {
	Body       []byte
	RetryCount int
	ReplyTo    string
	Priority   int
}

// Queue is the contract the Message Consumer drives. A durable broker
// client (AMQP, Kafka, NATS) implements this the same way the in-memory
// Queue below does; pkg/consumer never sees the difference.
type Queue interface {
	// Receive blocks for the next message or until ctx is cancelled.
	Receive(ctx context.Context) (Message, error)
	// Ack acknowledges successful, terminal processing of a message.
	Ack(ctx context.Context, msg Message) error
	// Nack negatively acknowledges a message. requeue=true redelivers it
	// (with RetryCount incremented by the caller before requeuing);
	// requeue=false routes it to the dead-letter destination with reason.
	Nack(ctx context.Context, msg Message, requeue bool, reason string) error
	// Publish sends body to the named destination (the reply-to queue) as
	// content-type application/json. Dead-lettering goes through Nack.
	Publish(ctx context.Context, destination string, body []byte) error
}

// InMemory is a channel-backed Queue for tests and single-process
// deployments. Priority is honored on Enqueue only at the granularity of
// "front of the line" for priority 9 and "back of the line" otherwise —
// good enough for tests; a production broker provides the real ordering
// guarantee.
type InMemory struct {
	mu      sync.Mutex
	pending []Message
	notify  chan struct{}
	dlq     []dlqEntry
	replies map[string][][]byte
}

type dlqEntry struct {
	Body   []byte
	Reason string
}

// NewInMemory returns an empty InMemory queue.
func NewInMemory() *InMemory {
	return &InMemory{
		notify:  make(chan struct{}, 1),
		replies: make(map[string][][]byte),
	}
}

// Enqueue adds msg to the queue, used by producers (tests, or an adapter
// translating from a real broker's delivery callback into this queue).
func (q *InMemory) Enqueue(msg Message) {
	q.mu.Lock()
	if msg.Priority >= 9 {
		q.pending = append([]Message{msg}, q.pending...)
	} else {
		q.pending = append(q.pending, msg)
	}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *InMemory) Receive(ctx context.Context) (Message, error) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			msg := q.pending[0]
			q.pending = q.pending[1:]
			q.mu.Unlock()
			return msg, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *InMemory) Ack(ctx context.Context, msg Message) error {
	return nil
}

func (q *InMemory) Nack(ctx context.Context, msg Message, requeue bool, reason string) error {
	if requeue {
		q.Enqueue(msg)
		return nil
	}
	q.mu.Lock()
	q.dlq = append(q.dlq, dlqEntry{Body: msg.Body, Reason: reason})
	q.mu.Unlock()
	return nil
}

func (q *InMemory) Publish(ctx context.Context, destination string, body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.replies[destination] = append(q.replies[destination], append([]byte(nil), body...))
	return nil
}

// DeadLettered returns the bodies routed to the DLQ so far, for assertions
// in tests.
func (q *InMemory) DeadLettered() []dlqEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]dlqEntry, len(q.dlq))
	copy(out, q.dlq)
	return out
}

// PublishedTo returns the bodies published to destination so far, for
// assertions in tests.
func (q *InMemory) PublishedTo(destination string) [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([][]byte, len(q.replies[destination]))
	copy(out, q.replies[destination])
	return out
}

func (e dlqEntry) String() string {
	return fmt.Sprintf("dlq(reason=%s, body=%s)", e.Reason, string(e.Body))
}
