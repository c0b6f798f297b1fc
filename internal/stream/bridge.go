// Package stream connects the orchestrator goroutine to the HTTP writer with a
// bounded channel.
package stream

import (
	"context"
	"sync"

	"github.com/af-corp/thinkrelay/internal/types"
)

// DefaultCapacity is the number of events buffered between producer and consumer.
const DefaultCapacity = 100

// Sink receives unified events. Send reports false once the consumer is gone;
// the producer must stop emitting at that point.
type Sink interface {
	Send(ctx context.Context, ev types.StreamEvent) bool
}

// Bridge is a bounded, single-producer event channel. The producer blocks
// while the buffer is full.
type Bridge struct {
	events    chan types.StreamEvent
	done      chan struct{}
	closeOnce sync.Once
	finOnce   sync.Once
}

func NewBridge(capacity int) *Bridge {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bridge{
		events: make(chan types.StreamEvent, capacity),
		done:   make(chan struct{}),
	}
}

// Send blocks until the event is buffered, the consumer closes the bridge or
// ctx ends.
func (b *Bridge) Send(ctx context.Context, ev types.StreamEvent) bool {
	select {
	case <-b.done:
		return false
	default:
	}

	select {
	case b.events <- ev:
		return true
	case <-b.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Finish is called by the producer after its last Send.
func (b *Bridge) Finish() {
	b.finOnce.Do(func() { close(b.events) })
}

// Close is called by the consumer when it stops reading.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

// Events is drained by the consumer until it is closed by Finish.
func (b *Bridge) Events() <-chan types.StreamEvent {
	return b.events
}

// Recorder is a Sink that keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []types.StreamEvent
	// Limit makes Send fail after that many events when positive.
	Limit int
}

func (r *Recorder) Send(_ context.Context, ev types.StreamEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Limit > 0 && len(r.events) >= r.Limit {
		return false
	}
	r.events = append(r.events, ev)
	return true
}

func (r *Recorder) Events() []types.StreamEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.StreamEvent, len(r.events))
	copy(out, r.events)
	return out
}
