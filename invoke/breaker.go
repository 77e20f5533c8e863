package invoke

import (
	"sort"
	"sync"
	"time"
)

// BreakerState is the position of one circuit-breaker target.
type BreakerState int

const (
	// StateClosed allows calls through. Consecutive failures are counted
	// and trip the breaker at the failure threshold.
	StateClosed BreakerState = iota

	// StateOpen rejects calls without attempting them. After the reset
	// timeout elapses the breaker moves to half-open on the next
	// observation.
	StateOpen

	// StateHalfOpen lets probe traffic through. Enough successes close
	// the breaker again; a single failure reopens it with a fresh reset
	// window.
	StateHalfOpen
)

// String returns the lowercase wire name of the state.
func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Default circuit-breaker tuning.
const (
	// DefaultFailureThreshold is how many consecutive failures trip a
	// closed breaker.
	DefaultFailureThreshold = 3

	// DefaultResetTimeout is how long an open breaker rejects calls
	// before allowing probes.
	DefaultResetTimeout = 60 * time.Second

	// DefaultSuccessThreshold is how many probe successes close a
	// half-open breaker.
	DefaultSuccessThreshold = 1
)

// BreakerConfig tunes CircuitBreaker behavior.
//
// Zero fields take the package defaults, so the zero value is usable:
//
//	breaker := invoke.NewCircuitBreaker(invoke.BreakerConfig{})
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that trips a
	// closed breaker. Defaults to DefaultFailureThreshold.
	FailureThreshold int

	// ResetTimeout is how long a tripped breaker stays open before
	// probes are allowed. Defaults to DefaultResetTimeout.
	ResetTimeout time.Duration

	// SuccessThreshold is how many probe successes close a half-open
	// breaker. Defaults to DefaultSuccessThreshold.
	SuccessThreshold int

	// OnStateChange, when set, is called after a target changes state.
	// The callback runs outside the breaker's lock, so it may call back
	// into the breaker. Typical uses are logging and metrics.
	OnStateChange func(target string, from, to BreakerState)
}

// DefaultBreakerConfig returns the package-default breaker tuning.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: DefaultFailureThreshold,
		ResetTimeout:     DefaultResetTimeout,
		SuccessThreshold: DefaultSuccessThreshold,
	}
}

// CircuitBreaker tracks failure state per target and decides whether calls
// may proceed.
//
// A target is usually a tool name, or the host of a URL-addressed tool, so
// one unhealthy API does not block tools talking to healthy ones. Targets
// are created lazily on first use and start closed.
//
// State decays lazily: an open breaker moves to half-open when an observer
// (IsOpen, State, the runtime's pre-call check) notices the reset timeout
// has elapsed. No background goroutine is involved.
//
// A failure recorded while open, which can happen when a caller bypasses
// the pre-call check, restarts the reset window.
//
// CircuitBreaker is safe for concurrent use. All state lives behind one
// mutex per breaker; state-change callbacks fire after the lock is
// released.
type CircuitBreaker struct {
	mu      sync.Mutex
	cfg     BreakerConfig
	targets map[string]*breakerRecord
}

// breakerRecord is the per-target state.
type breakerRecord struct {
	state       BreakerState
	failures    int
	successes   int
	openedAt    time.Time
	lastFailure time.Time
	lastSuccess time.Time
}

// BreakerSnapshot is a point-in-time copy of one target's state.
type BreakerSnapshot struct {
	Target      string       `json:"target"`
	State       BreakerState `json:"-"`
	StateName   string       `json:"state"`
	Failures    int          `json:"failures"`
	Successes   int          `json:"successes"`
	OpenedAt    time.Time    `json:"openedAt,omitempty"`
	LastFailure time.Time    `json:"lastFailure,omitempty"`
	LastSuccess time.Time    `json:"lastSuccess,omitempty"`
}

// NewCircuitBreaker creates a CircuitBreaker with the given config.
// Zero config fields fall back to the package defaults.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultResetTimeout
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultSuccessThreshold
	}
	return &CircuitBreaker{
		cfg:     cfg,
		targets: make(map[string]*breakerRecord),
	}
}

// transition captures a state change to report after unlock.
type transition struct {
	target   string
	from, to BreakerState
}

// record returns the target's state, creating it closed on first use.
// Callers must hold the lock.
func (b *CircuitBreaker) record(target string) *breakerRecord {
	rec, ok := b.targets[target]
	if !ok {
		rec = &breakerRecord{state: StateClosed}
		b.targets[target] = rec
	}
	return rec
}

// refresh applies lazy decay: an open target whose reset timeout elapsed
// becomes half-open. Callers must hold the lock. Returns the transition
// performed, if any.
func (b *CircuitBreaker) refresh(target string, rec *breakerRecord, now time.Time) *transition {
	if rec.state == StateOpen && now.Sub(rec.openedAt) >= b.cfg.ResetTimeout {
		rec.state = StateHalfOpen
		rec.successes = 0
		return &transition{target: target, from: StateOpen, to: StateHalfOpen}
	}
	return nil
}

// IsOpen reports whether calls to target should be rejected right now.
//
// Observing an expired open state moves the target to half-open first, so
// a true result always means the reset window is still running.
func (b *CircuitBreaker) IsOpen(target string) bool {
	b.mu.Lock()
	rec := b.record(target)
	tr := b.refresh(target, rec, time.Now())
	open := rec.state == StateOpen
	b.mu.Unlock()

	b.notify(tr)
	return open
}

// State returns the target's current state, applying lazy decay first.
func (b *CircuitBreaker) State(target string) BreakerState {
	b.mu.Lock()
	rec := b.record(target)
	tr := b.refresh(target, rec, time.Now())
	state := rec.state
	b.mu.Unlock()

	b.notify(tr)
	return state
}

// RecordSuccess notes a successful call against target.
//
// In half-open state, successes accumulate toward the success threshold
// and close the breaker when they reach it. In closed state, a success
// clears the consecutive-failure count. A success while open is treated as
// a probe result and may close the breaker the same way.
func (b *CircuitBreaker) RecordSuccess(target string) {
	now := time.Now()

	b.mu.Lock()
	rec := b.record(target)
	tr := b.refresh(target, rec, now)
	rec.lastSuccess = now

	var tr2 *transition
	switch rec.state {
	case StateClosed:
		rec.failures = 0
	case StateOpen, StateHalfOpen:
		rec.successes++
		if rec.successes >= b.cfg.SuccessThreshold {
			tr2 = &transition{target: target, from: rec.state, to: StateClosed}
			rec.state = StateClosed
			rec.failures = 0
			rec.successes = 0
			rec.openedAt = time.Time{}
		}
	}
	b.mu.Unlock()

	b.notify(tr)
	b.notify(tr2)
}

// RecordFailure notes a failed call against target.
//
// In closed state, failures accumulate and trip the breaker open at the
// failure threshold. In half-open state, a single failure reopens the
// breaker with a fresh reset window. A failure while open also restarts
// the reset window.
func (b *CircuitBreaker) RecordFailure(target string) {
	now := time.Now()

	b.mu.Lock()
	rec := b.record(target)
	tr := b.refresh(target, rec, now)
	rec.lastFailure = now
	rec.failures++

	var tr2 *transition
	switch rec.state {
	case StateClosed:
		if rec.failures >= b.cfg.FailureThreshold {
			tr2 = &transition{target: target, from: StateClosed, to: StateOpen}
			rec.state = StateOpen
			rec.openedAt = now
		}
	case StateHalfOpen:
		tr2 = &transition{target: target, from: StateHalfOpen, to: StateOpen}
		rec.state = StateOpen
		rec.openedAt = now
		rec.successes = 0
	case StateOpen:
		rec.openedAt = now
	}
	b.mu.Unlock()

	b.notify(tr)
	b.notify(tr2)
}

// Reset returns one target to a fresh closed state.
//
// Administrative operation: the runtime never calls it on its own.
func (b *CircuitBreaker) Reset(target string) {
	b.mu.Lock()
	rec, ok := b.targets[target]
	var tr *transition
	if ok && rec.state != StateClosed {
		tr = &transition{target: target, from: rec.state, to: StateClosed}
	}
	delete(b.targets, target)
	b.mu.Unlock()

	b.notify(tr)
}

// ResetAll returns every target to a fresh closed state.
//
// Administrative operation: the runtime never calls it on its own.
func (b *CircuitBreaker) ResetAll() {
	b.mu.Lock()
	var trs []*transition
	for target, rec := range b.targets {
		if rec.state != StateClosed {
			trs = append(trs, &transition{target: target, from: rec.state, to: StateClosed})
		}
	}
	b.targets = make(map[string]*breakerRecord)
	b.mu.Unlock()

	for _, tr := range trs {
		b.notify(tr)
	}
}

// Targets returns the sorted names of all targets the breaker has seen.
func (b *CircuitBreaker) Targets() []string {
	b.mu.Lock()
	names := make([]string, 0, len(b.targets))
	for target := range b.targets {
		names = append(names, target)
	}
	b.mu.Unlock()

	sort.Strings(names)
	return names
}

// Snapshot returns a point-in-time copy of every target's state, sorted by
// target name. Lazy decay is applied first, so the snapshot never shows an
// open breaker whose reset window already elapsed.
func (b *CircuitBreaker) Snapshot() []BreakerSnapshot {
	now := time.Now()

	b.mu.Lock()
	var trs []*transition
	result := make([]BreakerSnapshot, 0, len(b.targets))
	for target, rec := range b.targets {
		if tr := b.refresh(target, rec, now); tr != nil {
			trs = append(trs, tr)
		}
		result = append(result, BreakerSnapshot{
			Target:      target,
			State:       rec.state,
			StateName:   rec.state.String(),
			Failures:    rec.failures,
			Successes:   rec.successes,
			OpenedAt:    rec.openedAt,
			LastFailure: rec.lastFailure,
			LastSuccess: rec.lastSuccess,
		})
	}
	b.mu.Unlock()

	for _, tr := range trs {
		b.notify(tr)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Target < result[j].Target })
	return result
}

// notify fires the state-change callback for a transition, if both exist.
// Must be called without the lock held.
func (b *CircuitBreaker) notify(tr *transition) {
	if tr == nil || b.cfg.OnStateChange == nil {
		return
	}
	b.cfg.OnStateChange(tr.target, tr.from, tr.to)
}
