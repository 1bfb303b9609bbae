// Package breaker wraps the circuit breaker protecting the AI provider
// call. The breaker trips open when the failure ratio over the rolling
// window crosses the configured threshold after a minimum call volume;
// while open, calls fail fast without touching the provider. After the open
// timeout, a single half-open trial decides whether to close again.
//
// The per-call timeout is enforced here, independently of the breaker: a
// call that overruns its budget counts as a failure even if the provider
// would eventually have answered.
package breaker

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

// ErrOpen is returned when the breaker rejects a call without invoking the
// wrapped function.
var ErrOpen = gobreaker.ErrOpenState

// Settings parameterizes one breaker.
type Settings struct {
	Name            string
	VolumeThreshold uint32        // minimum calls in the window before tripping
	FailureRatio    float64       // trip when failures/requests meets this
	OpenTimeout     time.Duration // how long to stay open before half-open
	CallTimeout     time.Duration // per-call budget, enforced via context
}

// Breaker guards a single downstream dependency.
type Breaker struct {
	cb          *gobreaker.CircuitBreaker
	callTimeout time.Duration
}

// New constructs a Breaker. Half-open allows exactly one trial call
// (MaxRequests=1); its outcome closes or re-opens the breaker.
func New(s Settings) *Breaker {
	if s.FailureRatio <= 0 {
		s.FailureRatio = 0.5
	}
	if s.VolumeThreshold == 0 {
		s.VolumeThreshold = 10
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.VolumeThreshold {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= s.FailureRatio
		},
	})
	return &Breaker{cb: cb, callTimeout: s.CallTimeout}
}

// Do executes fn through the breaker with the per-call timeout applied to
// its context. Fast-fail while open returns ErrOpen without invoking fn.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	return b.cb.Execute(func() (any, error) {
		callCtx := ctx
		if b.callTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, b.callTimeout)
			defer cancel()
		}
		v, err := fn(callCtx)
		if err == nil && callCtx.Err() != nil {
			// fn ignored the deadline; the call still blew its budget.
			return nil, callCtx.Err()
		}
		return v, err
	})
}

// State reports the current breaker state ("closed", "half-open", "open").
func (b *Breaker) State() string {
	return b.cb.State().String()
}
