package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"ledger/internal/metrics"
	"ledger/internal/repository"
)

func testBreakerPolicy(timeout time.Duration) BreakerPolicy {
	return BreakerPolicy{FailureThreshold: 3, SuccessThreshold: 2, Timeout: timeout, MaxProbes: 1}
}

func TestCircuitBreaker_ClosedState(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerPolicy(time.Second))

	err := cb.Call(func() error {
		return nil
	})

	if err != nil {
		t.Errorf("expected no error in closed state, got %v", err)
	}

	if cb.GetState() != StateClosed {
		t.Errorf("expected state Closed, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_TransitionToOpen(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerPolicy(time.Second))

	// Record 3 failures to trigger open
	for i := 0; i < 3; i++ {
		_ = cb.Call(func() error {
			return errBoom
		})
	}

	if cb.GetState() != StateOpen {
		t.Errorf("expected state Open after 3 failures, got %s", cb.GetState())
	}

	called := false
	err := cb.Call(func() error {
		called = true
		return nil
	})

	if err != ErrCircuitBreakerOpen {
		t.Errorf("expected ErrCircuitBreakerOpen, got %v", err)
	}
	if called {
		t.Error("open circuit must not call through")
	}
}

func TestCircuitBreaker_CancellationNotCounted(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerPolicy(time.Second))

	for i := 0; i < 5; i++ {
		_ = cb.Call(func() error {
			return context.Canceled
		})
	}

	if cb.GetState() != StateClosed {
		t.Errorf("caller cancellation should not open the circuit, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenToOpen(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerPolicy(100 * time.Millisecond))

	for i := 0; i < 3; i++ {
		_ = cb.Call(func() error {
			return errBoom
		})
	}

	// Wait for timeout to half-open
	time.Sleep(150 * time.Millisecond)

	// Fail in half-open state
	_ = cb.Call(func() error {
		return errBoom
	})

	if cb.GetState() != StateOpen {
		t.Errorf("expected state Open after failure in HalfOpen, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenToClosed(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerPolicy(100 * time.Millisecond))

	for i := 0; i < 3; i++ {
		_ = cb.Call(func() error {
			return errBoom
		})
	}

	time.Sleep(150 * time.Millisecond)

	// Succeed 2 times to close
	for i := 0; i < 2; i++ {
		if err := cb.Call(func() error { return nil }); err != nil {
			t.Fatalf("probe %d: unexpected error %v", i, err)
		}
	}

	if cb.GetState() != StateClosed {
		t.Errorf("expected state Closed after 2 successes in HalfOpen, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerPolicy(time.Minute))
	for i := 0; i < 3; i++ {
		_ = cb.Call(func() error { return errBoom })
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("expected Open state, got %s", cb.GetState())
	}

	cb.Reset()

	if cb.GetState() != StateClosed {
		t.Errorf("expected Closed state after reset, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_GetMetrics(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerPolicy(time.Second))

	_ = cb.Call(func() error { return errBoom })

	cm := cb.GetMetrics()

	if cm.State != StateClosed {
		t.Errorf("expected state Closed, got %s", cm.State)
	}
	if cm.FailureCount != 1 {
		t.Errorf("expected 1 failure, got %d", cm.FailureCount)
	}
	if cm.SuccessCount != 0 {
		t.Errorf("expected 0 success after failure, got %d", cm.SuccessCount)
	}
}

func TestCircuitBreaker_MaxProbes(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerPolicy(time.Second))

	cb.mu.Lock()
	cb.state = StateHalfOpen
	cb.currentProbes = 1
	cb.mu.Unlock()

	err := cb.Call(func() error {
		return nil
	})

	if err != ErrCircuitBreakerOpen {
		t.Errorf("expected ErrCircuitBreakerOpen while a probe is in flight, got %v", err)
	}
}

func TestGuardedStore_FailsFastWhenOpen(t *testing.T) {
	fs := newFaultyStore(repository.NewMemoryStore())
	fs.getErr["account/balance"] = errBoom
	cb := NewCircuitBreaker(testBreakerPolicy(time.Minute))
	gs := NewGuardedStore(fs, cb)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, _, err := gs.Get(ctx, "account/balance"); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: expected store error, got %v", i, err)
		}
	}

	if err := gs.Set(ctx, "account/balance", "1"); !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Fatalf("expected fast failure, got %v", err)
	}
	if _, err := gs.SetIfAbsent(ctx, "account/balance:lock", "t", time.Second); !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Fatalf("expected fast failure, got %v", err)
	}
	if fs.attempts() != 0 {
		t.Fatal("open breaker must not reach the store")
	}
}

func TestGuardedStore_PassesThrough(t *testing.T) {
	mem := repository.NewMemoryStore()
	gs := NewGuardedStore(mem, NewCircuitBreaker(DefaultBreakerPolicy()))
	ctx := context.Background()

	if ok, err := gs.SetIfAbsent(ctx, "k", "v", time.Second); err != nil || !ok {
		t.Fatalf("set if absent: ok=%v err=%v", ok, err)
	}
	v, found, err := gs.Get(ctx, "k")
	if err != nil || !found || v != "v" {
		t.Fatalf("get: %q %v %v", v, found, err)
	}
	if ok, err := gs.CompareAndDelete(ctx, "k", "v"); err != nil || !ok {
		t.Fatalf("compare and delete: ok=%v err=%v", ok, err)
	}
	if err := gs.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := gs.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := gs.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestLedger_OpenBreakerIsStoreFailure(t *testing.T) {
	mem := repository.NewMemoryStore()
	cb := NewCircuitBreaker(testBreakerPolicy(time.Minute))
	for i := 0; i < 3; i++ {
		_ = cb.Call(func() error { return errBoom })
	}
	l, _ := newTestLedger(NewGuardedStore(mem, cb), DefaultLockPolicy())

	_, err := l.Charge(context.Background(), "account", 1)
	if !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Fatalf("expected breaker error, got %v", err)
	}
	if errors.Is(err, ErrLockNotAcquired) {
		t.Fatal("an unavailable store is not contention")
	}
}

func TestGuardedStore_ReleaseWhileProbeInFlight(t *testing.T) {
	mem := repository.NewMemoryStore()
	cb := NewCircuitBreaker(BreakerPolicy{FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Second, MaxProbes: 1})
	_ = cb.Call(func() error { return errBoom })
	cb.now = func() time.Time { return time.Now().Add(time.Minute) }

	gs := NewGuardedStore(mem, cb)
	lm := NewLockManager(gs, DefaultLockPolicy(), metrics.NewRegistry())
	ctx := context.Background()
	key := LockKey("acct")

	l, held, err := lm.Acquire(ctx, key)
	if err != nil || !held {
		t.Fatalf("acquire on half-open breaker: held=%v err=%v", held, err)
	}
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", cb.GetState())
	}

	entered := make(chan struct{})
	unblock := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = cb.Call(func() error {
			close(entered)
			<-unblock
			return nil
		})
	}()
	<-entered

	if err := lm.Release(ctx, l); err != nil {
		t.Fatalf("release with probe slot taken: %v", err)
	}
	if _, found, _ := mem.Get(ctx, key); found {
		t.Fatal("lock record survived release")
	}

	close(unblock)
	<-done
}

func TestGuardedStore_ReleaseWhenOpen(t *testing.T) {
	mem := repository.NewMemoryStore()
	cb := NewCircuitBreaker(testBreakerPolicy(time.Minute))
	gs := NewGuardedStore(mem, cb)
	ctx := context.Background()

	if _, err := gs.SetIfAbsent(ctx, "k", "t", time.Minute); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		_ = cb.Call(func() error { return errBoom })
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open, got %s", cb.GetState())
	}

	if ok, err := gs.CompareAndDelete(ctx, "k", "t"); err != nil || !ok {
		t.Fatalf("compare and delete on open breaker: ok=%v err=%v", ok, err)
	}
	if err := gs.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete on open breaker: %v", err)
	}
}

func TestCircuitBreaker_BypassRecordsFailures(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerPolicy(time.Minute))
	for i := 0; i < 3; i++ {
		if err := cb.Bypass(func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("expected store error, got %v", err)
		}
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open after bypassed failures, got %s", cb.GetState())
	}
	_ = cb.Bypass(func() error { return context.Canceled })
	if m := cb.GetMetrics(); m.FailureCount != 3 {
		t.Fatalf("cancellation counted as failure: %+v", m)
	}
}
