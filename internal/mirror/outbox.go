// Package mirror pushes geoid/SCAR writes to the optional graph mirror.
//
// The mirror is best-effort by contract: authoritative writes enqueue an
// event in the outbox, a worker drains the queue to NATS with bounded
// retries, and publish failures are logged, never propagated to the caller.
package mirror

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Op is the mirror operation carried by an event.
type Op string

const (
	OpUpsertNode Op = "upsert_node"
	OpUpsertEdge Op = "upsert_edge"
	OpDeleteNode Op = "delete_node"
)

// Event is one pending mirror update.
type Event struct {
	ID         string    `json:"id"`
	Op         Op        `json:"op"`
	EntityKind string    `json:"entity_kind"` // "geoid" or "scar"
	EntityID   string    `json:"entity_id"`
	Payload    []byte    `json:"payload"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewEvent builds an event, JSON-encoding the entity payload.
func NewEvent(op Op, entityKind, entityID string, entity any) (Event, error) {
	payload, err := json.Marshal(entity)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:         uuid.New().String(),
		Op:         op,
		EntityKind: entityKind,
		EntityID:   entityID,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Outbox is a FIFO queue of pending mirror events.
//
// Enqueue never blocks and never fails the enqueueing write; the publisher
// drains the queue asynchronously.
type Outbox struct {
	mu     sync.Mutex
	queue  []Event
	notify chan struct{}
}

// NewOutbox creates an empty Outbox.
func NewOutbox() *Outbox {
	return &Outbox{notify: make(chan struct{}, 1)}
}

// Enqueue appends an event and wakes the publisher.
func (o *Outbox) Enqueue(ev Event) {
	o.mu.Lock()
	o.queue = append(o.queue, ev)
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
}

// Dequeue pops the oldest event. The second return is false when the queue
// is empty.
func (o *Outbox) Dequeue() (Event, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queue) == 0 {
		return Event{}, false
	}
	ev := o.queue[0]
	o.queue = o.queue[1:]
	return ev, true
}

// Requeue puts a failed event at the back of the queue.
func (o *Outbox) Requeue(ev Event) {
	o.mu.Lock()
	o.queue = append(o.queue, ev)
	o.mu.Unlock()
}

// Len returns the number of pending events.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// Notify returns the wake-up channel for the publisher.
func (o *Outbox) Notify() <-chan struct{} {
	return o.notify
}
