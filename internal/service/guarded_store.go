package service

import (
	"context"
	"time"

	"ledger/internal/repository"
)

// guardedStore routes every store call through a CircuitBreaker.
type guardedStore struct {
	next repository.Store
	cb   *CircuitBreaker
}

// NewGuardedStore wraps s so that calls fail fast with ErrCircuitBreakerOpen
// while the store is unhealthy. Delete and CompareAndDelete release locks and
// are never refused by the breaker. Close is passed straight through.
func NewGuardedStore(s repository.Store, cb *CircuitBreaker) repository.Store {
	return &guardedStore{next: s, cb: cb}
}

func (g *guardedStore) Get(ctx context.Context, key string) (value string, found bool, err error) {
	err = g.cb.Call(func() error {
		var e error
		value, found, e = g.next.Get(ctx, key)
		return e
	})
	return value, found, err
}

func (g *guardedStore) Set(ctx context.Context, key, value string) error {
	return g.cb.Call(func() error { return g.next.Set(ctx, key, value) })
}

func (g *guardedStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (ok bool, err error) {
	err = g.cb.Call(func() error {
		var e error
		ok, e = g.next.SetIfAbsent(ctx, key, value, ttl)
		return e
	})
	return ok, err
}

func (g *guardedStore) Delete(ctx context.Context, key string) error {
	return g.cb.Bypass(func() error { return g.next.Delete(ctx, key) })
}

func (g *guardedStore) CompareAndDelete(ctx context.Context, key, value string) (ok bool, err error) {
	err = g.cb.Bypass(func() error {
		var e error
		ok, e = g.next.CompareAndDelete(ctx, key, value)
		return e
	})
	return ok, err
}

func (g *guardedStore) Ping(ctx context.Context) error {
	return g.cb.Call(func() error { return g.next.Ping(ctx) })
}

func (g *guardedStore) Close() error {
	return g.next.Close()
}
