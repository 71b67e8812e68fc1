package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Do] while the breaker is open and
// its cool-off has not yet elapsed.
var ErrBreakerOpen = errors.New("persistence breaker is open")

// BreakerState is the operating mode of a [Breaker].
type BreakerState int

const (
	// BreakerClosed forwards all calls.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects calls with [ErrBreakerOpen] until the cool-off
	// elapses.
	BreakerOpen

	// BreakerProbing lets a limited number of calls through to test whether
	// the store has recovered.
	BreakerProbing
)

// String returns the human-readable state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerProbing:
		return "probing"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero-value fields get defaults.
type BreakerConfig struct {
	// Name labels the breaker in log messages, typically the store it guards.
	Name string

	// Threshold is the consecutive-failure count that opens the breaker.
	// Default: 5.
	Threshold int

	// CoolOff is how long the breaker stays open before probing. Default: 15s.
	CoolOff time.Duration

	// Probes is how many probe calls are allowed before deciding. Default: 2.
	Probes int
}

// Breaker is a three-state circuit breaker around persistence calls.
// Safe for concurrent use.
type Breaker struct {
	name      string
	threshold int
	coolOff   time.Duration
	probes    int

	mu          sync.Mutex
	state       BreakerState
	failures    int
	openedAt    time.Time
	probeCalls  int
	probeFailed bool
}

// NewBreaker creates a [Breaker] from cfg, applying defaults to zero fields.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.CoolOff <= 0 {
		cfg.CoolOff = 15 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 2
	}
	return &Breaker{
		name:      cfg.Name,
		threshold: cfg.Threshold,
		coolOff:   cfg.CoolOff,
		probes:    cfg.Probes,
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Do runs fn unless the breaker is open. Failures in the closed state count
// towards the threshold; any probe failure re-opens the breaker, and a full
// set of successful probes closes it.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.record(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if time.Since(b.openedAt) < b.coolOff {
			return ErrBreakerOpen
		}
		b.state = BreakerProbing
		b.probeCalls = 0
		b.probeFailed = false
		slog.Info("persistence breaker probing", "name", b.name)
	case BreakerProbing:
		if b.probeCalls >= b.probes {
			return ErrBreakerOpen
		}
	}
	if b.state == BreakerProbing {
		b.probeCalls++
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		if err == nil {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.threshold {
			b.state = BreakerOpen
			b.openedAt = time.Now()
			slog.Warn("persistence breaker opened",
				"name", b.name, "failures", b.failures)
		}
	case BreakerProbing:
		if err != nil {
			b.probeFailed = true
		}
		if b.probeFailed {
			b.state = BreakerOpen
			b.openedAt = time.Now()
			slog.Warn("persistence breaker re-opened", "name", b.name)
			return
		}
		if b.probeCalls >= b.probes {
			b.state = BreakerClosed
			b.failures = 0
			slog.Info("persistence breaker closed", "name", b.name)
		}
	}
}
