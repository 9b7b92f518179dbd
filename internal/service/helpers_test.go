package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"ledger/internal/events"
	"ledger/internal/metrics"
	"ledger/internal/repository"
)

var errBoom = errors.New("connection reset by peer")

// faultyStore injects errors into selected operations of an underlying store.
type faultyStore struct {
	repository.Store

	mu          sync.Mutex
	getErr      map[string]error
	setErr      map[string]error
	setNXCalls  int
	setNXErr    error
	casErr      error
	deleteCalls int
}

func newFaultyStore(s repository.Store) *faultyStore {
	return &faultyStore{
		Store:  s,
		getErr: make(map[string]error),
		setErr: make(map[string]error),
	}
}

func (f *faultyStore) Get(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	err := f.getErr[key]
	f.mu.Unlock()
	if err != nil {
		return "", false, err
	}
	return f.Store.Get(ctx, key)
}

func (f *faultyStore) Set(ctx context.Context, key, value string) error {
	f.mu.Lock()
	err := f.setErr[key]
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.Set(ctx, key, value)
}

func (f *faultyStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	f.setNXCalls++
	err := f.setNXErr
	f.mu.Unlock()
	if err != nil {
		return false, err
	}
	return f.Store.SetIfAbsent(ctx, key, value, ttl)
}

func (f *faultyStore) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	f.mu.Lock()
	err := f.casErr
	f.mu.Unlock()
	if err != nil {
		return false, err
	}
	return f.Store.CompareAndDelete(ctx, key, value)
}

func (f *faultyStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	f.deleteCalls++
	f.mu.Unlock()
	return f.Store.Delete(ctx, key)
}

func (f *faultyStore) attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setNXCalls
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.ChargeEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.ChargeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

// contendedPolicy waits long enough that a burst of fast critical sections
// all get through.
func contendedPolicy() LockPolicy {
	return LockPolicy{TTL: 10 * time.Second, MaxAttempts: 400, RetryDelay: 5 * time.Millisecond, Fencing: true}
}

func newTestLedger(s repository.Store, p LockPolicy, opts ...LedgerOption) (*Ledger, *metrics.Registry) {
	m := metrics.NewRegistry()
	return NewLedger(s, NewLockManager(s, p, m), m, opts...), m
}
