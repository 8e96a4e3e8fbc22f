package metadata

import (
	"log/slog"
	"sync"
	"time"

	"github.com/docutag/linkmeta/metrics"
	"github.com/docutag/linkmeta/models"
)

type circuitState int

const (
	stateClosed   circuitState = iota // Normal operation
	stateOpen                         // Platform failing, skip its adapter
	stateHalfOpen                     // Allow one attempt to test recovery
)

// circuitBreaker stops calling a platform's API after repeated hard
// failures. While open, the platform falls back to the generic adapter.
type circuitBreaker struct {
	mu               sync.Mutex
	failures         map[models.Platform]int
	lastFailure      map[models.Platform]time.Time
	state            map[models.Platform]circuitState
	failureThreshold int
	openDuration     time.Duration
	now              func() time.Time
}

func newCircuitBreaker(threshold int, openDuration time.Duration) *circuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if openDuration <= 0 {
		openDuration = 5 * time.Minute
	}
	return &circuitBreaker{
		failures:         make(map[models.Platform]int),
		lastFailure:      make(map[models.Platform]time.Time),
		state:            make(map[models.Platform]circuitState),
		failureThreshold: threshold,
		openDuration:     openDuration,
		now:              time.Now,
	}
}

// canAttempt reports whether the platform adapter may be called
func (cb *circuitBreaker) canAttempt(p models.Platform) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state[p] {
	case stateOpen:
		if cb.now().Sub(cb.lastFailure[p]) > cb.openDuration {
			cb.state[p] = stateHalfOpen
			slog.Info("circuit half-open", "platform", p)
			return true
		}
		return false
	default:
		return true
	}
}

func (cb *circuitBreaker) recordSuccess(p models.Platform) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state[p] != stateClosed {
		slog.Info("circuit closed", "platform", p)
		metrics.CircuitOpen.WithLabelValues(string(p)).Set(0)
	}
	delete(cb.failures, p)
	delete(cb.lastFailure, p)
	cb.state[p] = stateClosed
}

func (cb *circuitBreaker) recordFailure(p models.Platform, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures[p]++
	cb.lastFailure[p] = cb.now()
	count := cb.failures[p]

	// A failed half-open probe reopens immediately
	if count >= cb.failureThreshold || cb.state[p] == stateHalfOpen {
		if cb.state[p] != stateOpen {
			slog.Warn("circuit opened", "platform", p, "failures", count, "error", err)
			metrics.CircuitOpen.WithLabelValues(string(p)).Set(1)
		}
		cb.state[p] = stateOpen
		return
	}
	slog.Debug("platform failure recorded", "platform", p, "failures", count, "threshold", cb.failureThreshold, "error", err)
}
