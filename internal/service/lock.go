package service

import (
	"context"
	"fmt"
	"time"

	"ledger/internal/metrics"
	"ledger/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// LockPolicy bounds how long Acquire may wait and how long a lock lives.
type LockPolicy struct {
	TTL         time.Duration // expiry of the lock record; the only crash recovery
	MaxAttempts int           // total set-if-absent attempts
	RetryDelay  time.Duration // pause between attempts
	Fencing     bool          // store a per-acquisition token and release by compare-and-delete
}

// DefaultLockPolicy gives up after roughly 200ms of contention.
func DefaultLockPolicy() LockPolicy {
	return LockPolicy{
		TTL:         10 * time.Second,
		MaxAttempts: 3,
		RetryDelay:  100 * time.Millisecond,
		Fencing:     true,
	}
}

// MaxWait is the longest Acquire will spend sleeping between attempts.
func (p LockPolicy) MaxWait() time.Duration {
	if p.MaxAttempts <= 1 {
		return 0
	}
	return time.Duration(p.MaxAttempts-1) * p.RetryDelay
}

// Lock identifies one successful acquisition.
type Lock struct {
	Key   string
	Token string
}

// unfencedValue is written when fencing is disabled.
const unfencedValue = "LOCKED"

// LockManager provides best-effort mutual exclusion per key on top of a Store.
type LockManager struct {
	store    repository.Store
	policy   LockPolicy
	metrics  *metrics.Registry
	newToken func() string
}

// NewLockManager constructs a LockManager.
func NewLockManager(s repository.Store, p LockPolicy, m *metrics.Registry) *LockManager {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	return &LockManager{
		store:    s,
		policy:   p,
		metrics:  m,
		newToken: func() string { return uuid.New().String() },
	}
}

// Policy returns the policy in effect.
func (m *LockManager) Policy() LockPolicy {
	return m.policy
}

// Acquire tries to create the lock record at key. held=false with a nil error
// means every attempt found the lock taken; that is an expected outcome.
// A store error ends acquisition immediately.
func (m *LockManager) Acquire(ctx context.Context, key string) (Lock, bool, error) {
	value := unfencedValue
	if m.policy.Fencing {
		value = m.newToken()
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for attempt := 1; attempt <= m.policy.MaxAttempts; attempt++ {
		ok, err := m.store.SetIfAbsent(ctx, key, value, m.policy.TTL)
		if err != nil {
			m.metrics.LockAcquire.WithLabelValues("error").Inc()
			return Lock{}, false, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			m.metrics.LockAcquire.WithLabelValues("acquired").Inc()
			m.metrics.LockAttempts.Observe(float64(attempt))
			return Lock{Key: key, Token: value}, true, nil
		}
		if attempt == m.policy.MaxAttempts {
			break
		}

		if timer == nil {
			timer = time.NewTimer(m.policy.RetryDelay)
		} else {
			timer.Reset(m.policy.RetryDelay)
		}
		select {
		case <-ctx.Done():
			m.metrics.LockAcquire.WithLabelValues("error").Inc()
			return Lock{}, false, ctx.Err()
		case <-timer.C:
		}
	}

	m.metrics.LockAcquire.WithLabelValues("contended").Inc()
	m.metrics.LockAttempts.Observe(float64(m.policy.MaxAttempts))
	log.Debug().Str("lock", key).Int("attempts", m.policy.MaxAttempts).Msg("lock busy")
	return Lock{}, false, nil
}

// Release removes the lock record. With fencing, only the holder's own record
// is removed; finding someone else's token means our TTL ran out mid-section,
// which is logged but not returned as an error.
// Release ignores cancellation of ctx so a cancelled request still unlocks.
func (m *LockManager) Release(ctx context.Context, l Lock) error {
	ctx = context.WithoutCancel(ctx)

	if !m.policy.Fencing {
		if err := m.store.Delete(ctx, l.Key); err != nil {
			m.metrics.LockRelease.WithLabelValues("error").Inc()
			return fmt.Errorf("release lock %s: %w", l.Key, err)
		}
		m.metrics.LockRelease.WithLabelValues("released").Inc()
		return nil
	}

	deleted, err := m.store.CompareAndDelete(ctx, l.Key, l.Token)
	if err != nil {
		m.metrics.LockRelease.WithLabelValues("error").Inc()
		return fmt.Errorf("release lock %s: %w", l.Key, err)
	}
	if !deleted {
		m.metrics.LockRelease.WithLabelValues("lost").Inc()
		log.Warn().Str("lock", l.Key).Dur("ttl", m.policy.TTL).Msg("lock expired before release")
		return nil
	}
	m.metrics.LockRelease.WithLabelValues("released").Inc()
	return nil
}

// WithLock runs fn while holding the lock at key. It returns
// ErrLockNotAcquired when the lock stays busy. Once held, fn runs on a context
// that ignores caller cancellation, and the lock is released on every exit
// path. A release failure is reported only if fn itself succeeded.
func (m *LockManager) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) (err error) {
	l, held, err := m.Acquire(ctx, key)
	if err != nil {
		return err
	}
	if !held {
		return ErrLockNotAcquired
	}

	start := time.Now()
	defer func() {
		m.metrics.CriticalSection.Observe(time.Since(start).Seconds())
		if rerr := m.Release(ctx, l); rerr != nil {
			log.Error().Err(rerr).Str("lock", key).Msg("lock release failed")
			if err == nil {
				err = rerr
			}
		}
	}()

	return fn(context.WithoutCancel(ctx))
}
