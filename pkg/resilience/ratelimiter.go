package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lifeexplorer230/newsdigest/pkg/fn"
)

var ErrRateLimited = errors.New("rate limited")

// adaptive multiplier bounds: a fully penalized limiter runs at 1/32 of
// its configured rate, and rewardStreak consecutive successes halve the
// multiplier back toward 1.
const (
	maxMultiplier = 32.0
	rewardStreak  = 10
)

// LimiterOpts configures the platform-call pacer: a token bucket for the
// steady rate plus an optional sliding-window cap for short bursts the
// bucket alone would admit. The Telegram sender runs one limiter per
// account (rate + window) and one per destination chat (rate only).
type LimiterOpts struct {
	// Rate is the steady token refill, tokens per second.
	Rate float64
	// Burst is the bucket capacity, the most calls admitted back to back.
	Burst int
	// Window and WindowLimit cap admissions to WindowLimit per Window on
	// top of the bucket. Zero Window disables the cap.
	Window time.Duration
	// WindowLimit is the admission cap per Window.
	WindowLimit int
}

// Limiter admits calls when both the token bucket and the sliding
// window agree. It also carries an adaptive delay multiplier: Penalize
// (called when the platform answers with a flood-wait) divides the
// effective refill rate, and sustained successes recorded by Call and
// CallWait narrow it back, so pacing tightens exactly while the account
// is being throttled and relaxes once the platform stops pushing back.
type Limiter struct {
	mu         sync.Mutex
	opts       LimiterOpts
	tokens     float64
	last       time.Time
	admitted   []time.Time // admission instants within opts.Window, oldest first
	multiplier float64     // >= 1; divides the effective refill rate
	successes  int         // consecutive successes since the last penalty
	now        func() time.Time
}

// NewLimiter builds a Limiter starting with a full bucket and no
// penalty.
func NewLimiter(opts LimiterOpts) *Limiter {
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &Limiter{
		opts:       opts,
		tokens:     float64(opts.Burst),
		multiplier: 1,
		now:        time.Now,
	}
}

// Allow admits one call if both the bucket and the window have room,
// without blocking.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.admit(l.now())
}

// Wait blocks until the limiter admits one call or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()
		if l.admit(now) {
			l.mu.Unlock()
			return nil
		}
		pause := l.nextSlot(now)
		l.mu.Unlock()

		if pause < time.Millisecond {
			pause = time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pause):
		}
	}
}

// Penalize widens the pacing after a platform flood-wait: the effective
// refill rate halves on each call, down to 1/32 of the configured rate.
func (l *Limiter) Penalize() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.successes = 0
	if l.multiplier < maxMultiplier {
		l.multiplier *= 2
	}
}

// Multiplier reports the current adaptive delay multiplier.
func (l *Limiter) Multiplier() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.multiplier
}

// Call executes f if a call is admitted right now, otherwise returns
// ErrRateLimited.
func (l *Limiter) Call(ctx context.Context, f func(context.Context) error) error {
	if !l.Allow() {
		return ErrRateLimited
	}
	return l.record(f(ctx))
}

// CallWait waits for admission, then executes f.
func (l *Limiter) CallWait(ctx context.Context, f func(context.Context) error) error {
	if err := l.Wait(ctx); err != nil {
		return err
	}
	return l.record(f(ctx))
}

// record feeds f's outcome back into the adaptive multiplier: every
// rewardStreak consecutive successes halve it toward 1. Failures only
// reset the streak; widening is reserved for explicit Penalize calls,
// since an unrelated send error says nothing about platform throttling.
func (l *Limiter) record(err error) error {
	l.mu.Lock()
	if err != nil {
		l.successes = 0
	} else {
		l.successes++
		if l.successes >= rewardStreak && l.multiplier > 1 {
			l.successes = 0
			l.multiplier /= 2
			if l.multiplier < 1 {
				l.multiplier = 1
			}
		}
	}
	l.mu.Unlock()
	return err
}

// admit refills the bucket, prunes the window, and takes one slot from
// both if available. Must hold mu.
func (l *Limiter) admit(now time.Time) bool {
	l.refill(now)
	l.prune(now)
	if l.tokens < 1 || !l.windowHasRoom() {
		return false
	}
	l.tokens--
	if l.opts.Window > 0 {
		l.admitted = append(l.admitted, now)
	}
	return true
}

// refill credits tokens for the time elapsed since the last refill, at
// the penalty-adjusted rate. Must hold mu.
func (l *Limiter) refill(now time.Time) {
	if !l.last.IsZero() {
		l.tokens += now.Sub(l.last).Seconds() * l.opts.Rate / l.multiplier
		if l.tokens > float64(l.opts.Burst) {
			l.tokens = float64(l.opts.Burst)
		}
	}
	l.last = now
}

// prune drops admission records older than the window. Must hold mu.
func (l *Limiter) prune(now time.Time) {
	if l.opts.Window <= 0 {
		return
	}
	cutoff := now.Add(-l.opts.Window)
	i := 0
	for i < len(l.admitted) && !l.admitted[i].After(cutoff) {
		i++
	}
	l.admitted = l.admitted[i:]
}

func (l *Limiter) windowHasRoom() bool {
	if l.opts.Window <= 0 || l.opts.WindowLimit <= 0 {
		return true
	}
	return len(l.admitted) < l.opts.WindowLimit
}

// nextSlot estimates how long until admit can succeed: the longer of
// the token deficit at the penalized rate and the expiry of the oldest
// window entry. Must hold mu.
func (l *Limiter) nextSlot(now time.Time) time.Duration {
	var pause time.Duration
	if l.tokens < 1 && l.opts.Rate > 0 {
		pause = time.Duration((1 - l.tokens) * l.multiplier / l.opts.Rate * float64(time.Second))
	}
	if !l.windowHasRoom() && len(l.admitted) > 0 {
		windowPause := l.admitted[0].Add(l.opts.Window).Sub(now)
		if windowPause > pause {
			pause = windowPause
		}
	}
	return pause
}

// LimiterStage guards an fn.Stage without blocking: a limited call
// fails with ErrRateLimited instead of waiting.
func LimiterStage[In, Out any](l *Limiter, stage fn.Stage[In, Out]) fn.Stage[In, Out] {
	return func(ctx context.Context, in In) fn.Result[Out] {
		if !l.Allow() {
			return fn.Err[Out](ErrRateLimited)
		}
		return stage(ctx, in)
	}
}

// LimiterStageWait guards an fn.Stage, waiting for admission first.
func LimiterStageWait[In, Out any](l *Limiter, stage fn.Stage[In, Out]) fn.Stage[In, Out] {
	return func(ctx context.Context, in In) fn.Result[Out] {
		if err := l.Wait(ctx); err != nil {
			return fn.Err[Out](err)
		}
		return stage(ctx, in)
	}
}
