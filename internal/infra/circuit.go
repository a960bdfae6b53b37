// Package infra provides process-lifetime infrastructure primitives shared
// across orchestration runs, currently the per-tool circuit breaker.
package infra

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a breaker is open and calls short-circuit.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	// Name identifies this breaker, typically a tool name.
	Name string

	// FailureThreshold is the number of failures within the window before
	// the breaker opens. Default: 3.
	FailureThreshold int

	// Window is the rolling window for counting failures and the time the
	// breaker stays open. Once the window elapses after the last failure the
	// counter resets and calls flow again. Default: 5 minutes.
	Window time.Duration

	// OnStateChange is called when the breaker opens or closes.
	OnStateChange func(name string, open bool)
}

// Breaker is a failure-counting gate that temporarily disables a dependency
// after repeated failures. Failures older than the window are forgotten; a
// success resets the counter outright.
type Breaker struct {
	config BreakerConfig

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	open        bool
}

// NewBreaker creates a breaker with the given config, applying defaults.
func NewBreaker(config BreakerConfig) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}
	if config.Window <= 0 {
		config.Window = 5 * time.Minute
	}
	return &Breaker{config: config}
}

// Allow reports whether a call may proceed. When the breaker is open and the
// window has not yet elapsed since the last failure, it returns
// ErrCircuitOpen. When the window has elapsed the breaker closes and the
// failure counter resets.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.expireLocked()
	if b.open {
		return ErrCircuitOpen
	}
	return nil
}

// RecordSuccess clears the failure counter and closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.open {
		b.setOpenLocked(false)
	}
}

// RecordFailure increments the failure counter. Reaching the threshold
// within the window opens the breaker.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.expireLocked()
	b.failures++
	b.lastFailure = time.Now()
	if !b.open && b.failures >= b.config.FailureThreshold {
		b.setOpenLocked(true)
	}
}

// Open reports whether the breaker is currently open.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.expireLocked()
	return b.open
}

// Reset closes the breaker and clears all failure state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.lastFailure = time.Time{}
	if b.open {
		b.setOpenLocked(false)
	}
}

// expireLocked forgets failures once the window has elapsed. Callers must
// hold b.mu.
func (b *Breaker) expireLocked() {
	if b.failures == 0 {
		return
	}
	if time.Since(b.lastFailure) >= b.config.Window {
		b.failures = 0
		if b.open {
			b.setOpenLocked(false)
		}
	}
}

func (b *Breaker) setOpenLocked(open bool) {
	b.open = open
	if b.config.OnStateChange != nil {
		// Call asynchronously to avoid blocking under b.mu.
		go b.config.OnStateChange(b.config.Name, open)
	}
}

// Stats is a point-in-time snapshot of a breaker.
type Stats struct {
	Name        string
	Open        bool
	Failures    int
	LastFailure time.Time
}

// Stats returns a snapshot of the breaker state.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.expireLocked()
	return Stats{
		Name:        b.config.Name,
		Open:        b.open,
		Failures:    b.failures,
		LastFailure: b.lastFailure,
	}
}

// BreakerRegistry manages one breaker per name. It is an explicit
// process-scoped store injected into the executor, so tests can construct
// isolated instances per test case instead of sharing a module-level
// singleton.
type BreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	defaults BreakerConfig
}

// NewBreakerRegistry creates a registry with the given default config.
func NewBreakerRegistry(defaults BreakerConfig) *BreakerRegistry {
	if defaults.FailureThreshold <= 0 {
		defaults.FailureThreshold = 3
	}
	if defaults.Window <= 0 {
		defaults.Window = 5 * time.Minute
	}
	return &BreakerRegistry{
		breakers: make(map[string]*Breaker),
		defaults: defaults,
	}
}

// Get returns or creates the breaker for the given name.
func (r *BreakerRegistry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring the write lock.
	if b, ok := r.breakers[name]; ok {
		return b
	}

	config := r.defaults
	config.Name = name
	b = NewBreaker(config)
	r.breakers[name] = b
	return b
}

// OpenCircuits returns the names of all currently open breakers.
func (r *BreakerRegistry) OpenCircuits() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var open []string
	for name, b := range r.breakers {
		if b.Open() {
			open = append(open, name)
		}
	}
	return open
}

// Stats returns snapshots for all breakers.
func (r *BreakerRegistry) Stats() []Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make([]Stats, 0, len(r.breakers))
	for _, b := range r.breakers {
		stats = append(stats, b.Stats())
	}
	return stats
}

// ResetAll closes every breaker in the registry.
func (r *BreakerRegistry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.breakers {
		b.Reset()
	}
}
