package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lifeexplorer230/newsdigest/pkg/fn"
)

func TestLimiterAllow(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 10, Burst: 3})
	// Should allow burst
	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("expected allow on call %d", i)
		}
	}
	// 4th should be rejected
	if l.Allow() {
		t.Fatal("expected rejection after burst exhausted")
	}
}

func TestLimiterBurstDefault(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 10, Burst: 0}) // 0 → default 1
	if !l.Allow() {
		t.Fatal("expected at least 1 token")
	}
	if l.Allow() {
		t.Fatal("expected rejection with burst=1")
	}
}

func TestLimiterRefill(t *testing.T) {
	now := time.Now()
	l := NewLimiter(LimiterOpts{Rate: 10, Burst: 5})
	l.now = func() time.Time { return now }

	// Drain all tokens
	for i := 0; i < 5; i++ {
		l.Allow()
	}
	if l.Allow() {
		t.Fatal("should be empty")
	}

	// Advance 500ms → 5 tokens refilled
	now = now.Add(500 * time.Millisecond)
	for i := 0; i < 5; i++ {
		if !l.Allow() {
			t.Fatalf("expected allow after refill, call %d", i)
		}
	}
	if l.Allow() {
		t.Fatal("should be empty again")
	}
}

func TestLimiterRefillCap(t *testing.T) {
	now := time.Now()
	l := NewLimiter(LimiterOpts{Rate: 10, Burst: 3})
	l.now = func() time.Time { return now }

	// Drain all
	l.Allow()
	l.Allow()
	l.Allow()

	// Advance 10 seconds → 100 tokens earned, but cap at burst=3
	now = now.Add(10 * time.Second)
	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("expected token %d after refill", i)
		}
	}
	if l.Allow() {
		t.Fatal("should be capped at burst")
	}
}

// TestLimiterWindowCapsBurst exercises the sliding-window side of the
// account limiter: a bucket generous enough to admit every call still
// stops at WindowLimit admissions per Window, and frees slots only as
// old admissions age out.
func TestLimiterWindowCapsBurst(t *testing.T) {
	now := time.Now()
	l := NewLimiter(LimiterOpts{Rate: 1000, Burst: 1000, Window: 10 * time.Second, WindowLimit: 4})
	l.now = func() time.Time { return now }

	for i := 0; i < 4; i++ {
		if !l.Allow() {
			t.Fatalf("expected window slot %d", i)
		}
	}
	if l.Allow() {
		t.Fatal("expected rejection once the window is full, tokens notwithstanding")
	}

	// Age the whole window out
	now = now.Add(11 * time.Second)
	if !l.Allow() {
		t.Fatal("expected admission after the window emptied")
	}
}

// TestLimiterPenalizeWidensPacing exercises the adaptive multiplier: a
// flood-wait penalty halves the effective refill rate, so the same
// elapsed time earns half the tokens.
func TestLimiterPenalizeWidensPacing(t *testing.T) {
	now := time.Now()
	l := NewLimiter(LimiterOpts{Rate: 10, Burst: 10})
	l.now = func() time.Time { return now }

	// Drain, establishing l.last
	for i := 0; i < 10; i++ {
		l.Allow()
	}

	l.Penalize()
	if l.Multiplier() != 2 {
		t.Fatalf("expected multiplier 2 after one penalty, got %v", l.Multiplier())
	}

	// 1s at rate 10 with multiplier 2 → 5 tokens, not 10
	now = now.Add(time.Second)
	admitted := 0
	for l.Allow() {
		admitted++
	}
	if admitted != 5 {
		t.Fatalf("expected 5 admissions at the penalized rate, got %d", admitted)
	}
}

// TestLimiterSuccessStreakNarrowsMultiplier: after a penalty, a run of
// successful calls recorded by CallWait halves the multiplier back
// toward 1.
func TestLimiterSuccessStreakNarrowsMultiplier(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 100000, Burst: 100})
	ctx := context.Background()

	l.Penalize()
	l.Penalize()
	if l.Multiplier() != 4 {
		t.Fatalf("expected multiplier 4 after two penalties, got %v", l.Multiplier())
	}

	ok := func(context.Context) error { return nil }
	for i := 0; i < 10; i++ {
		if err := l.CallWait(ctx, ok); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if l.Multiplier() != 2 {
		t.Fatalf("expected one halving after 10 straight successes, got %v", l.Multiplier())
	}
}

func TestLimiterFailureResetsSuccessStreak(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 100000, Burst: 100})
	ctx := context.Background()

	l.Penalize()
	ok := func(context.Context) error { return nil }
	boom := func(context.Context) error { return errors.New("boom") }

	for i := 0; i < 9; i++ {
		_ = l.CallWait(ctx, ok)
	}
	_ = l.CallWait(ctx, boom) // one failure voids the streak
	for i := 0; i < 9; i++ {
		_ = l.CallWait(ctx, ok)
	}
	if l.Multiplier() != 2 {
		t.Fatalf("expected the multiplier untouched until 10 consecutive successes, got %v", l.Multiplier())
	}
}

func TestLimiterCall(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 1, Burst: 1})
	ctx := context.Background()

	err := l.Call(ctx, func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = l.Call(ctx, func(context.Context) error { return nil })
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestLimiterCallPassesThroughFuncError(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 10, Burst: 1})
	ctx := context.Background()
	expected := errors.New("func error")

	err := l.Call(ctx, func(context.Context) error { return expected })
	if !errors.Is(err, expected) {
		t.Fatalf("expected func error to pass through, got %v", err)
	}
}

func TestLimiterWait(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 1000, Burst: 1}) // fast refill
	ctx := context.Background()

	l.Allow() // drain

	// Should refill quickly
	ctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("expected Wait to succeed, got %v", err)
	}
}

func TestLimiterWaitCancelled(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 0.001, Burst: 1}) // very slow refill
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	l.Allow() // drain

	err := l.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

// TestLimiterCallWaitThrottlesBurstSends mirrors engine/ingest.Sender's
// usage: a publish run fires preview, main-channel and notify sends back
// to back, and CallWait must space them out rather than let them all
// through in the same instant and risk a Telegram FLOOD_WAIT.
func TestLimiterCallWaitThrottlesBurstSends(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 1000, Burst: 1}) // fast refill keeps the test quick
	ctx := context.Background()

	var sent int
	send := func(context.Context) error {
		sent++
		return nil
	}

	for i := 0; i < 3; i++ {
		if err := l.CallWait(ctx, send); err != nil {
			t.Fatalf("send %d: unexpected error: %v", i, err)
		}
	}
	if sent != 3 {
		t.Fatalf("expected all 3 sends to eventually go through, got %d", sent)
	}
}

func TestLimiterCallWaitCancelled(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 0.001, Burst: 1})
	l.Allow() // drain
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	err := l.CallWait(ctx, func(context.Context) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

func TestLimiterStage(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 1, Burst: 1})
	ctx := context.Background()

	stage := LimiterStage(l, func(ctx context.Context, in int) fn.Result[int] {
		return fn.Ok(in * 2)
	})

	r := stage(ctx, 5)
	if r.IsErr() {
		t.Fatal("expected success")
	}
	v, _ := r.Unwrap()
	if v != 10 {
		t.Fatalf("expected 10, got %d", v)
	}

	// Should be rate limited now
	r = stage(ctx, 5)
	if r.IsOk() {
		t.Fatal("expected rate limit error")
	}
	_, err := r.Unwrap()
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestLimiterStageWait(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 1000, Burst: 2})
	ctx := context.Background()

	stage := LimiterStageWait(l, func(ctx context.Context, in int) fn.Result[int] {
		return fn.Ok(in * 3)
	})

	r := stage(ctx, 5)
	if r.IsErr() {
		t.Fatal("expected success")
	}
	v, _ := r.Unwrap()
	if v != 15 {
		t.Fatalf("expected 15, got %d", v)
	}
}

func TestLimiterStageWaitCancelled(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 0.001, Burst: 1})
	l.Allow() // drain
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	stage := LimiterStageWait(l, func(ctx context.Context, in int) fn.Result[int] {
		return fn.Ok(in)
	})

	r := stage(ctx, 1)
	if r.IsOk() {
		t.Fatal("expected rate limit timeout")
	}
}
