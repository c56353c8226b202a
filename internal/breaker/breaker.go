// Package breaker guards calls to the remote database with a
// closed/open/half-open circuit breaker.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is the breaker position; its numeric value is exported as a gauge.
type State int

const (
	Closed State = iota
	HalfOpen
	Open
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case HalfOpen:
		return "half-open"
	case Open:
		return "open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned without calling the operation while the breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// Config holds the breaker tunables.
type Config struct {
	MaxFailures  int           // consecutive failures before opening
	ResetTimeout time.Duration // time spent open before a trial call
}

// DefaultConfig opens after 5 failures and retries after 30 seconds.
func DefaultConfig() Config {
	return Config{MaxFailures: 5, ResetTimeout: 30 * time.Second}
}

// Breaker is safe for concurrent use.
type Breaker struct {
	name   string
	cfg    Config
	logger zerolog.Logger

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trial    bool // a half-open call is in flight

	onChange func(State)
	now      func() time.Time
}

// New builds a breaker. onChange, when non-nil, is called after every state
// transition, outside the breaker lock.
func New(name string, cfg Config, logger zerolog.Logger, onChange func(State)) *Breaker {
	def := DefaultConfig()
	if cfg.MaxFailures < 1 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	b := &Breaker{
		name:     name,
		cfg:      cfg,
		logger:   logger.With().Str("component", "breaker").Str("breaker", name).Logger(),
		onChange: onChange,
		now:      time.Now,
	}
	b.logger.Debug().Int("max_failures", cfg.MaxFailures).Dur("reset_timeout", cfg.ResetTimeout).Msg("Breaker created")
	return b
}

// Execute runs op unless the breaker is open. While open it fast-fails with
// ErrOpen until the reset timeout has elapsed, then lets a single trial call
// through.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := op(ctx)
	// Cancellation by the caller says nothing about the remote side.
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		b.release()
		return err
	}
	b.record(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	var changed bool
	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			b.mu.Unlock()
			b.logger.Debug().Msg("Fast fail, breaker open")
			return ErrOpen
		}
		b.state = HalfOpen
		b.trial = true
		changed = true
	case HalfOpen:
		if b.trial {
			b.mu.Unlock()
			return ErrOpen
		}
		b.trial = true
	}
	b.mu.Unlock()
	if changed {
		b.logger.Info().Msg("Breaker half-open, trying one call")
		b.emit(HalfOpen)
	}
	return nil
}

func (b *Breaker) release() {
	b.mu.Lock()
	b.trial = false
	b.mu.Unlock()
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	prev := b.state
	b.trial = false
	if err == nil {
		b.failures = 0
		b.state = Closed
	} else {
		b.failures++
		if b.state == HalfOpen || b.failures >= b.cfg.MaxFailures {
			b.state = Open
			b.openedAt = b.now()
		}
	}
	next, failures := b.state, b.failures
	b.mu.Unlock()

	if err != nil {
		b.logger.Warn().Err(err).Int("failures", failures).Msg("Guarded call failed")
	}
	if next != prev {
		if next == Open {
			b.logger.Error().Int("failures", failures).Msg("Breaker opened")
		} else {
			b.logger.Info().Str("from", prev.String()).Msg("Breaker closed")
		}
		b.emit(next)
	}
}

func (b *Breaker) emit(s State) {
	if b.onChange != nil {
		b.onChange(s)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
