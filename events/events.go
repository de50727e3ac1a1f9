// Package events implements the shared lifecycle event channel named in
// §4.9/§6: Registry and Executor publish typed events; consumers outside
// the core subscribe. Grounded on the teacher's agent/event.go Event
// interface (Type/Payload/Time accessors over a closed set of concrete
// event structs) and its EventBus Publish/Subscribe/Unsubscribe shape,
// adapted from per-agent lifecycle events to per-provider/tenant ones.
package events

import (
	"context"
	"sync"
	"time"
)

// Type is one of the event kinds named in §4.9/§6. No type beyond this
// set is invented (SPEC_FULL.md Part D).
type Type string

const (
	ProviderCreated        Type = "PROVIDER_CREATED"
	ProviderUpdated        Type = "PROVIDER_UPDATED"
	ProviderDeleted        Type = "PROVIDER_DELETED"
	ProviderDisabled       Type = "PROVIDER_DISABLED"
	ProviderHealthChanged  Type = "HEALTH_CHANGED"
	ProviderExecutionOK    Type = "PROVIDER_EXECUTION_SUCCESS"
	ProviderExecutionFail  Type = "PROVIDER_EXECUTION_FAILED"
	AllProvidersFailed     Type = "ALL_PROVIDERS_FAILED"
)

// Event is the uniform envelope every published event satisfies.
type Event struct {
	EventType  Type           `json:"type"`
	ProviderID string         `json:"provider_id,omitempty"`
	TenantID   string         `json:"tenant_id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Handler consumes one event. A returned error is passed to the sink set
// with OnHandlerError (and dropped if none is set); it never blocks or
// cancels publication to other handlers.
type Handler func(ctx context.Context, e Event) error

// Bus is a small in-process pub/sub fan-out, the shared event channel of
// §6. One Bus instance is shared across Registry/Executor/HealthProbe.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
	onError  func(Type, error)
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[Type][]Handler)}
}

// OnHandlerError registers a sink for handler errors; nil is a no-op.
func (b *Bus) OnHandlerError(fn func(Type, error)) {
	b.onError = fn
}

func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// Publish invokes every handler registered for e.EventType synchronously,
// in registration order. A nil Timestamp is stamped with now.
func (b *Bus) Publish(ctx context.Context, e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	hs := append([]Handler(nil), b.handlers[e.EventType]...)
	b.mu.RUnlock()

	for _, h := range hs {
		if err := h(ctx, e); err != nil && b.onError != nil {
			b.onError(e.EventType, err)
		}
	}
}
