package chain

import (
	"sync"

	"github.com/albatross-go/node/internal/primitives"
)

// EventType discriminates the four notifications the push algorithm emits.
type EventType string

const (
	EventExtended       EventType = "Extended"
	EventRebranched      EventType = "Rebranched"
	EventFinalized       EventType = "Finalized"
	EventEpochFinalized  EventType = "EpochFinalized"
)

// Event is one push-algorithm notification, consumed by every other
// component that reacts to chain progress (Tendermint pipelining, ZK proof
// extension, mempool eviction).
type Event struct {
	Type EventType

	// Hash is set for Extended/Finalized/EpochFinalized.
	Hash primitives.Hash

	// OldHead/NewHead/Reverted/Adopted are set for Rebranched.
	OldHead  primitives.Hash
	NewHead  primitives.Hash
	Reverted []primitives.Hash
	Adopted  []primitives.Hash
}

// EventHandler receives chain events. Handlers run synchronously on the
// goroutine that calls Notifier.Emit, so a slow handler backs up the
// pipeline — long-running reactions should hand off to their own
// goroutine instead of blocking here.
type EventHandler func(Event)

// Notifier is the block pipeline's event stream: push, register a
// handler, or drain the channel directly, mirroring the teacher's
// EventWatcher (Events() <-chan plus RegisterHandler) adapted from
// contract-log events to chain-pipeline events.
type Notifier struct {
	mu       sync.RWMutex
	handlers []EventHandler
	events   chan Event
}

// NewNotifier creates a Notifier whose channel buffers up to bufferSize
// pending events before Emit blocks.
func NewNotifier(bufferSize int) *Notifier {
	return &Notifier{events: make(chan Event, bufferSize)}
}

// Subscribe registers a handler invoked synchronously for every emitted
// event, in registration order.
func (n *Notifier) Subscribe(h EventHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers = append(n.handlers, h)
}

// Events returns the channel a consumer may range over instead of (or in
// addition to) registering a handler.
func (n *Notifier) Events() <-chan Event {
	return n.events
}

// Emit runs every registered handler then pushes ev onto the channel.
// Blocks if the channel is full and nothing is draining it.
func (n *Notifier) Emit(ev Event) {
	n.mu.RLock()
	handlers := append([]EventHandler(nil), n.handlers...)
	n.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
	n.events <- ev
}
