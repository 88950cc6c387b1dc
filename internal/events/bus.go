// Package events fans the cognitive loop's Decision and Outcome stream out
// to any number of subscribers (spec.md section 4.10's DecisionStream).
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sonu96/project-athena-sub001/internal/domain"
	"github.com/sonu96/project-athena-sub001/pkg/logger"
)

// Type is the closed set of events the core emits.
type Type string

const (
	DecisionEmitted Type = "decision_emitted"
	OutcomeRecorded Type = "outcome_recorded"
	CycleCompleted  Type = "cycle_completed"
)

// Event is one published item. Payload holds a domain.Decision,
// domain.Outcome, or domain.CycleRecord depending on Type.
type Event struct {
	Type      Type        `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Handler receives published events; it must not block, since Emit calls it
// synchronously from the cognitive loop's own goroutine.
type Handler func(Event)

// Bus is a simple in-process pub/sub fan-out, one set of subscribers per
// Type. There is no buffering or persistence: a subscriber that attaches
// after an event was emitted never sees it, matching the DecisionStream's
// "observers subscribe" wording (spec.md section 4.10) rather than a
// replay log.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Type][]Handler
	log         zerolog.Logger
}

// NewBus builds an empty bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subscribers: make(map[Type][]Handler),
		log:         logger.Scoped(log, "events.bus"),
	}
}

// Subscribe registers handler for eventType. Handlers are invoked in
// registration order.
func (b *Bus) Subscribe(eventType Type, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Emit publishes an event to every subscriber of its type.
func (b *Bus) Emit(eventType Type, payload interface{}) {
	evt := Event{Type: eventType, Timestamp: time.Now(), Payload: payload}

	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[eventType]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(evt)
	}
	b.log.Debug().Str("event_type", string(eventType)).Int("subscribers", len(handlers)).Msg("event emitted")
}

// EmitDecision is a typed convenience wrapper for DecisionEmitted.
func (b *Bus) EmitDecision(d domain.Decision) { b.Emit(DecisionEmitted, d) }

// EmitOutcome is a typed convenience wrapper for OutcomeRecorded.
func (b *Bus) EmitOutcome(o domain.Outcome) { b.Emit(OutcomeRecorded, o) }

// EmitCycle is a typed convenience wrapper for CycleCompleted.
func (b *Bus) EmitCycle(c domain.CycleRecord) { b.Emit(CycleCompleted, c) }
