// Package circuit provides per-model circuit breaking for upstream calls.
package circuit

import (
	"fmt"
	"sync"
	"time"
)

// State represents the current state of a circuit breaker.
type State int

// Circuit breaker states.
const (
	Closed   State = iota // Normal operation
	Open                  // Failing, reject requests
	HalfOpen              // Probing whether the upstream recovered
)

func (s State) String() string {
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

// Config defines circuit breaker behavior.
type Config struct {
	FailureThreshold int           `yaml:"failure_threshold"` // Consecutive failures before opening
	CoolDown         time.Duration `yaml:"cool_down"`         // Time to wait before allowing a probe
}

// DefaultConfig provides reasonable defaults.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	FailureThreshold: 3,
	CoolDown:         30 * time.Second,
}

// Error is returned when a request is rejected because the circuit is not
// accepting traffic. Callers can short-circuit on it with errors.As instead
// of waiting out a timeout.
type Error struct {
	Model string
	State State
}

func (e *Error) Error() string {
	return fmt.Sprintf("circuit breaker for %s is %s", e.Model, e.State)
}

// Snapshot is a point-in-time view of one breaker, cheap enough for a
// readiness probe (no network call, single mutex acquisition).
type Snapshot struct {
	Model        string `json:"model"`
	State        State  `json:"-"`
	StateLabel   string `json:"state"`
	FailureCount int    `json:"failure_count"`
}

// Breaker tracks consecutive failures for one upstream model.
// All transitions are atomic under the breaker's mutex.
type Breaker struct {
	model           string
	config          Config
	mu              sync.Mutex
	state           State
	failureCount    int
	lastFailureTime time.Time
	probeInFlight   bool

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a closed breaker for the given model.
func New(model string, config Config) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultConfig.FailureThreshold
	}
	if config.CoolDown <= 0 {
		config.CoolDown = DefaultConfig.CoolDown
	}
	return &Breaker{
		model:  model,
		config: config,
		state:  Closed,
		now:    time.Now,
	}
}

// Allow reports whether a request may proceed. While OPEN it rejects until
// the cool-down elapses, then transitions to HALF_OPEN and admits exactly
// one trial request; further callers are rejected until that probe reports.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return nil

	case Open:
		if b.now().Sub(b.lastFailureTime) >= b.config.CoolDown {
			b.state = HalfOpen
			b.probeInFlight = true
			return nil
		}
		return &Error{Model: b.model, State: Open}

	case HalfOpen:
		if b.probeInFlight {
			return &Error{Model: b.model, State: HalfOpen}
		}
		b.probeInFlight = true
		return nil

	default:
		return &Error{Model: b.model, State: b.state}
	}
}

// Record reports the outcome of an allowed request.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.onSuccess()
	} else {
		b.onFailure()
	}
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case Closed:
		// Failures must be consecutive to trip the breaker.
		b.failureCount = 0
	case HalfOpen:
		b.state = Closed
		b.failureCount = 0
		b.probeInFlight = false
	case Open:
		// Stale result from before the trip; ignore.
	}
}

func (b *Breaker) onFailure() {
	b.lastFailureTime = b.now()

	switch b.state {
	case Closed:
		b.failureCount++
		if b.failureCount >= b.config.FailureThreshold {
			b.state = Open
		}
	case HalfOpen:
		// Failed probe reopens and restarts the cool-down.
		b.state = Open
		b.failureCount++
		b.probeInFlight = false
	case Open:
		b.failureCount++
	}
}

// GetState returns the current state.
func (b *Breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the breaker's observable state for health reporting.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Model:        b.model,
		State:        b.state,
		StateLabel:   b.state.String(),
		FailureCount: b.failureCount,
	}
}

// Reset forces the breaker back to CLOSED. Administrative use only.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failureCount = 0
	b.probeInFlight = false
}
