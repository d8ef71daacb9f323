// Package resilience guards calls to optional infrastructure so that an
// outage there degrades side work instead of slowing billing writes.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// ErrOpenCircuit is returned by Do while the breaker is rejecting calls.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State is the breaker's position.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerState exposes each breaker's position: 0 closed, 1 open, 2 half-open.
var BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "breaker_state",
	Help: "Current breaker state: 0=closed,1=open,2=half-open",
}, []string{"target"})

// RegisterMetrics adds the breaker collectors to reg.
func RegisterMetrics(reg prometheus.Registerer) error {
	err := reg.Register(BreakerState)
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		return nil
	}
	return err
}

// Breaker opens after Threshold consecutive failures and stays open for
// Cooldown. The first call after that runs as a half-open probe: success
// closes the breaker, failure reopens it.
type Breaker struct {
	Target    string
	Threshold int
	Cooldown  time.Duration
	Log       zerolog.Logger
	Now       func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

func (b *Breaker) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// State reports the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Do runs fn unless the breaker is open. Context cancellation is not counted
// as a failure.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if !b.allow() {
		return ErrOpenCircuit
	}
	err := fn(ctx)
	b.report(err == nil || errors.Is(err, context.Canceled))
	return err
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Open:
		cooldown := b.Cooldown
		if cooldown <= 0 {
			cooldown = 30 * time.Second
		}
		if b.now().Sub(b.openedAt) < cooldown {
			return false
		}
		b.transition(HalfOpen)
		b.probing = true
		return true
	case HalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

func (b *Breaker) report(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == HalfOpen {
		b.probing = false
		if ok {
			b.transition(Closed)
		} else {
			b.transition(Open)
		}
		return
	}
	if ok {
		b.failures = 0
		return
	}
	b.failures++
	threshold := b.Threshold
	if threshold <= 0 {
		threshold = 5
	}
	if b.state == Closed && b.failures >= threshold {
		b.transition(Open)
	}
}

func (b *Breaker) transition(next State) {
	prev := b.state
	b.state = next
	b.failures = 0
	if next == Open {
		b.openedAt = b.now()
	}
	target := b.Target
	if target == "" {
		target = "default"
	}
	BreakerState.WithLabelValues(target).Set(float64(next))
	b.Log.Warn().Str("target", target).Str("from_state", prev.String()).Str("to_state", next.String()).Msg("breaker_transition")
}
