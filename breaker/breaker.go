// Package breaker implements the per-provider CircuitBreaker of §4.4,
// grounded on the state-machine shape of llm/resilience.go's
// simpleCircuitBreaker (teacher), generalized from a single in-process
// breaker to a per-provider table and from the teacher's
// SuccessThreshold=2/2-consecutive-success close rule to the spec's
// single-success-closes rule.
package breaker

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status is the circuit-breaker state (§4.4, §3 "circuit-breaker status").
type Status int

const (
	Closed Status = iota
	Open
	HalfOpen
)

func (s Status) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config holds the breaker's thresholds (§6: breaker threshold default 5,
// cool-down default 60s).
type Config struct {
	FailureThreshold int
	Cooldown         time.Duration
}

func DefaultConfig() Config {
	return Config{FailureThreshold: 5, Cooldown: 60 * time.Second}
}

type entry struct {
	status       Status
	failureCount int
	openedAt     time.Time
	nextRetryAt  time.Time
}

// Breaker is the per-provider CircuitBreaker table (§4.4). Safe for
// concurrent use; a single mutex guards the whole table (the coarse
// locking §5 allows), not one lock per provider key.
type Breaker struct {
	cfg    Config
	mu     sync.Mutex
	states map[string]*entry
	logger *zap.Logger

	// OnStateChange, when set, is invoked after every transition. Used to
	// publish PROVIDER circuit-state events onto the shared event channel
	// (§4.9) without this package importing the events package.
	OnStateChange func(providerID string, from, to Status)
}

func New(cfg Config, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		cfg:    cfg,
		states: make(map[string]*entry),
		logger: logger,
	}
}

func (b *Breaker) get(providerID string) *entry {
	e, ok := b.states[providerID]
	if !ok {
		e = &entry{status: Closed}
		b.states[providerID] = e
	}
	return e
}

// Allow implements the §4.4 allow(providerId) decision table, including
// the OPEN->HALF_OPEN transition on cool-down expiry (P4: monotonic
// CLOSED->OPEN->HALF_OPEN->CLOSED, no shortcuts).
func (b *Breaker) Allow(providerID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.get(providerID)
	now := time.Now()

	switch e.status {
	case Closed:
		return true
	case Open:
		if now.Before(e.nextRetryAt) {
			return false
		}
		b.transition(providerID, e, HalfOpen)
		return true
	case HalfOpen:
		// Concurrent half-open probes are acceptable (§4.4): any single
		// success closes the breaker.
		return true
	default:
		return true
	}
}

// Status reports the current breaker status for providerID (CLOSED if
// never observed).
func (b *Breaker) Status(providerID string) Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.get(providerID).status
}

// RecordSuccess implements §4.4 recordSuccess: decrements failureCount
// toward 0; HALF_OPEN immediately closes with count reset to 0.
func (b *Breaker) RecordSuccess(providerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.get(providerID)
	if e.status == HalfOpen {
		e.failureCount = 0
		b.transition(providerID, e, Closed)
		return
	}
	if e.failureCount > 0 {
		e.failureCount--
	}
}

// RecordFailure implements §4.4 recordFailure: increments failureCount;
// crossing the threshold (from CLOSED) or any failure while HALF_OPEN
// (re-)opens with a fresh cool-down timer.
func (b *Breaker) RecordFailure(providerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.get(providerID)
	e.failureCount++

	switch e.status {
	case HalfOpen:
		b.open(providerID, e)
	case Closed:
		if e.failureCount >= b.cfg.FailureThreshold {
			b.open(providerID, e)
		}
	}
}

func (b *Breaker) open(providerID string, e *entry) {
	now := time.Now()
	e.openedAt = now
	e.nextRetryAt = now.Add(b.cfg.Cooldown)
	b.transition(providerID, e, Open)
}

func (b *Breaker) transition(providerID string, e *entry, to Status) {
	from := e.status
	if from == to {
		return
	}
	e.status = to
	b.logger.Info("circuit breaker transition",
		zap.String("provider_id", providerID),
		zap.String("from", from.String()),
		zap.String("to", to.String()))
	if b.OnStateChange != nil {
		b.OnStateChange(providerID, from, to)
	}
}

// Reset clears state for providerID back to CLOSED. Idempotent (§4.4),
// used by operators.
func (b *Breaker) Reset(providerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.states, providerID)
}

// Evict removes all state for providerID. Used by Registry on delete (§3
// Ownership: "breaker and limit tables... must be evicted on delete").
func (b *Breaker) Evict(providerID string) {
	b.Reset(providerID)
}
