// Package resilience provides circuit breaker and rate limiter
// primitives. engine/selection's two LLMClient providers (ChatProvider,
// GenerativeProvider) each guard their HTTP call through a Breaker so a
// run of consecutive 5xx/429/network failures from one provider trips
// fast instead of burning every chunk's retry budget against a
// provider that is clearly down; engine/ingest.Sender runs every
// outbound Telegram send through a Limiter to stay under the per-account
// send rate proactively, rather than only reacting to FLOOD_WAIT after
// the platform has already rejected a call.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lifeexplorer230/newsdigest/pkg/fn"
)

// State is the breaker's position: closed (calls flow), open (calls
// rejected), or half-open (a bounded number of probes flow).
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
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

var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerOpts configures the circuit breaker.
type BreakerOpts struct {
	// FailThreshold is how many consecutive failures trip the breaker.
	FailThreshold int
	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration
	// HalfOpenMax bounds concurrent probe calls while half-open.
	HalfOpenMax int
	// OnStateChange, when set, observes every transition. Called outside
	// the breaker's lock; the LLM providers log transitions through it so
	// a tripped provider is visible in the run log, not just as a string
	// of ErrCircuitOpen chunk skips.
	OnStateChange func(from, to State)
}

// DefaultBreakerOpts trips after five straight failures and probes
// again after thirty seconds, one probe at a time. That matches the
// selection stage's shape: with chunked calls arriving every few
// seconds, five consecutive failures is a provider outage, not noise.
var DefaultBreakerOpts = BreakerOpts{
	FailThreshold: 5,
	Timeout:       30 * time.Second,
	HalfOpenMax:   1,
}

// Breaker trips open after FailThreshold consecutive failures, rejects
// calls while open, and probes with up to HalfOpenMax calls once
// Timeout has elapsed. A successful probe closes it; a failed probe
// re-opens it for another Timeout.
type Breaker struct {
	mu            sync.Mutex
	opts          BreakerOpts
	state         State
	failures      int
	openedAt      time.Time
	halfOpenCount int
	now           func() time.Time
}

// NewBreaker creates a circuit breaker, filling unset options from
// DefaultBreakerOpts.
func NewBreaker(opts BreakerOpts) *Breaker {
	if opts.FailThreshold <= 0 {
		opts.FailThreshold = DefaultBreakerOpts.FailThreshold
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultBreakerOpts.Timeout
	}
	if opts.HalfOpenMax <= 0 {
		opts.HalfOpenMax = DefaultBreakerOpts.HalfOpenMax
	}
	return &Breaker{opts: opts, now: time.Now}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	st, notify := b.currentState()
	b.mu.Unlock()
	run(notify)
	return st
}

// currentState returns the state after applying the open -> half-open
// timeout transition, plus the notification that transition owes. Must
// hold mu.
func (b *Breaker) currentState() (State, func()) {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.opts.Timeout {
		b.halfOpenCount = 0
		return b.transition(StateHalfOpen)
	}
	return b.state, nil
}

// transition moves to next and returns the deferred OnStateChange
// notification, so the callback runs after mu is released. Must hold mu.
func (b *Breaker) transition(next State) (State, func()) {
	prev := b.state
	b.state = next
	if prev == next || b.opts.OnStateChange == nil {
		return next, nil
	}
	cb := b.opts.OnStateChange
	return next, func() { cb(prev, next) }
}

// acquire decides whether one call may proceed, claiming a probe slot
// when half-open.
func (b *Breaker) acquire() error {
	b.mu.Lock()
	st, notify := b.currentState()
	switch st {
	case StateOpen:
		b.mu.Unlock()
		run(notify)
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.halfOpenCount >= b.opts.HalfOpenMax {
			b.mu.Unlock()
			run(notify)
			return ErrCircuitOpen
		}
		b.halfOpenCount++
	}
	b.mu.Unlock()
	run(notify)
	return nil
}

// settle folds one finished call's outcome into the state machine: any
// failure while half-open, or the FailThreshold'th consecutive failure
// while closed, opens the breaker; a half-open success closes it.
func (b *Breaker) settle(failed bool) {
	b.mu.Lock()
	var notify func()
	if failed {
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.opts.FailThreshold {
			_, notify = b.transition(StateOpen)
			b.openedAt = b.now()
			b.failures = 0
			b.halfOpenCount = 0
		}
	} else {
		if b.state == StateHalfOpen {
			_, notify = b.transition(StateClosed)
		}
		b.failures = 0
	}
	b.mu.Unlock()
	run(notify)
}

func run(f func()) {
	if f != nil {
		f()
	}
}

// Call executes f through the breaker, returning ErrCircuitOpen without
// invoking f when the breaker rejects the call.
func (b *Breaker) Call(ctx context.Context, f func(context.Context) error) error {
	if err := b.acquire(); err != nil {
		return err
	}
	err := f(ctx)
	b.settle(err != nil)
	return err
}

// CallResult is Call for Result-shaped work, sharing the same
// acquire/settle state machine.
func CallResult[T any](b *Breaker, ctx context.Context, f func(context.Context) fn.Result[T]) fn.Result[T] {
	if err := b.acquire(); err != nil {
		return fn.Err[T](err)
	}
	result := f(ctx)
	b.settle(result.IsErr())
	return result
}

// BreakerStage guards an fn.Stage with the breaker.
func BreakerStage[In, Out any](b *Breaker, stage fn.Stage[In, Out]) fn.Stage[In, Out] {
	return func(ctx context.Context, in In) fn.Result[Out] {
		return CallResult(b, ctx, func(ctx context.Context) fn.Result[Out] {
			return stage(ctx, in)
		})
	}
}
