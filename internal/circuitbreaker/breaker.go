package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Allow while the breaker is rejecting calls.
var ErrOpen = errors.New("circuit breaker is open")

// State is the breaker state.
type State int

const (
	StateClosed   State = iota // normal operation
	StateOpen                  // upstream failing, calls rejected
	StateHalfOpen              // probing whether the upstream recovered
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker guards the upstream chain client. Consecutive failures open
// it; after cooldown a half-open probe decides whether it closes again.
type Breaker struct {
	mu            sync.Mutex
	state         State
	failures      int
	probeSuccess  int
	maxFailures   int
	probeRequired int
	cooldown      time.Duration
	openedAt      time.Time
	nowFn         func() time.Time
	onStateChange func(from, to State)
}

// Config configures a breaker. Zero values fall back to defaults.
type Config struct {
	MaxFailures   int           // consecutive failures before opening (default 5)
	ProbeRequired int           // half-open successes needed to close (default 2)
	Cooldown      time.Duration // open duration before probing (default 30s)
	OnStateChange func(from, to State)
}

func New(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ProbeRequired <= 0 {
		cfg.ProbeRequired = 2
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{
		state:         StateClosed,
		maxFailures:   cfg.MaxFailures,
		probeRequired: cfg.ProbeRequired,
		cooldown:      cfg.Cooldown,
		nowFn:         time.Now,
		onStateChange: cfg.OnStateChange,
	}
}

// Allow reports whether a call may proceed. While open it returns
// ErrOpen until the cooldown elapses, then flips to half-open.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.nowFn().Sub(b.openedAt) < b.cooldown {
			return ErrOpen
		}
		b.transition(StateHalfOpen)
	}
	return nil
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == StateHalfOpen {
		b.probeSuccess++
		if b.probeSuccess >= b.probeRequired {
			b.transition(StateClosed)
		}
	}
}

// RecordFailure records a failed call. A failure during half-open
// reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.probeSuccess = 0
	switch b.state {
	case StateHalfOpen:
		b.openedAt = b.nowFn()
		b.transition(StateOpen)
	case StateClosed:
		if b.failures >= b.maxFailures {
			b.openedAt = b.nowFn()
			b.transition(StateOpen)
		}
	}
}

// State returns the current state without advancing it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.probeSuccess = 0
	if to == StateClosed {
		b.failures = 0
	}
	if b.onStateChange != nil {
		b.onStateChange(from, to)
	}
}
