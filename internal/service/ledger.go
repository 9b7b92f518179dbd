package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"ledger/internal/events"
	"ledger/internal/metrics"
	"ledger/internal/repository"

	"github.com/rs/zerolog/log"
)

// DefaultBalance is the balance an account holds after Reset.
const DefaultBalance int64 = 100

// BalanceKey is the store key holding an account's balance.
func BalanceKey(account string) string {
	return account + "/balance"
}

// LockKey is the store key guarding an account's balance.
func LockKey(account string) string {
	return BalanceKey(account) + ":lock"
}

// ChargeResult is the outcome of a Charge call.
type ChargeResult struct {
	IsAuthorized     bool
	RemainingBalance int64
	ChargedAmount    int64
}

// AccountState is a point-in-time, unlocked view of an account.
type AccountState struct {
	Account string
	Balance int64
	Exists  bool
	Locked  bool
}

// Ledger charges and resets account balances held in a shared Store.
// Charges on one account are serialized through LockManager; charges on
// different accounts do not contend.
type Ledger struct {
	store          repository.Store
	locks          *LockManager
	metrics        *metrics.Registry
	events         events.Publisher
	defaultBalance int64
}

// LedgerOption customizes a Ledger.
type LedgerOption func(*Ledger)

// WithDefaultBalance overrides the balance written by Reset.
func WithDefaultBalance(b int64) LedgerOption {
	return func(l *Ledger) { l.defaultBalance = b }
}

// WithPublisher sets where authorized charges are announced.
func WithPublisher(p events.Publisher) LedgerOption {
	return func(l *Ledger) { l.events = p }
}

// NewLedger constructs a Ledger.
func NewLedger(s repository.Store, locks *LockManager, m *metrics.Registry, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store:          s,
		locks:          locks,
		metrics:        m,
		events:         events.Nop{},
		defaultBalance: DefaultBalance,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Reset overwrites the account balance with the default balance. It takes no
// lock, so a concurrent Charge may see the balance from before or after.
func (l *Ledger) Reset(ctx context.Context, account string) error {
	if account == "" {
		return ErrInvalidAccount
	}
	if err := l.store.Set(ctx, BalanceKey(account), strconv.FormatInt(l.defaultBalance, 10)); err != nil {
		return fmt.Errorf("reset %s: %w", account, err)
	}
	l.metrics.Resets.Inc()
	return nil
}

// Charge deducts amount from the account if the balance covers it.
// An insufficient balance is a normal result with IsAuthorized=false.
// ErrLockNotAcquired means the account was busy and the call may be retried.
func (l *Ledger) Charge(ctx context.Context, account string, amount int64) (ChargeResult, error) {
	if account == "" {
		return ChargeResult{}, ErrInvalidAccount
	}
	if amount < 0 {
		return ChargeResult{}, ErrInvalidAmount
	}

	key := BalanceKey(account)
	var res ChargeResult
	err := l.locks.WithLock(ctx, LockKey(account), func(ctx context.Context) error {
		balance, _, err := l.readBalance(ctx, key)
		if err != nil {
			return err
		}
		if balance < amount {
			res = ChargeResult{IsAuthorized: false, RemainingBalance: balance, ChargedAmount: 0}
			return nil
		}
		remaining := balance - amount
		if err := l.store.Set(ctx, key, strconv.FormatInt(remaining, 10)); err != nil {
			return fmt.Errorf("write balance %s: %w", key, err)
		}
		res = ChargeResult{IsAuthorized: true, RemainingBalance: remaining, ChargedAmount: amount}
		return nil
	})

	switch {
	case errors.Is(err, ErrLockNotAcquired):
		l.metrics.Charges.WithLabelValues("lock_unavailable").Inc()
		return ChargeResult{}, err
	case err != nil:
		l.metrics.Charges.WithLabelValues("error").Inc()
		return ChargeResult{}, err
	case !res.IsAuthorized:
		l.metrics.Charges.WithLabelValues("declined").Inc()
		return res, nil
	}

	l.metrics.Charges.WithLabelValues("authorized").Inc()
	l.publish(ctx, account, res)
	return res, nil
}

// Inspect reads an account without taking its lock.
func (l *Ledger) Inspect(ctx context.Context, account string) (AccountState, error) {
	if account == "" {
		return AccountState{}, ErrInvalidAccount
	}
	balance, exists, err := l.readBalance(ctx, BalanceKey(account))
	if err != nil {
		return AccountState{}, err
	}
	_, locked, err := l.store.Get(ctx, LockKey(account))
	if err != nil {
		return AccountState{}, fmt.Errorf("read lock %s: %w", LockKey(account), err)
	}
	return AccountState{Account: account, Balance: balance, Exists: exists, Locked: locked}, nil
}

// Ping measures one round trip to the store.
func (l *Ledger) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := l.store.Ping(ctx); err != nil {
		return 0, fmt.Errorf("store ping: %w", err)
	}
	return time.Since(start), nil
}

// readBalance treats a missing key as a zero balance.
func (l *Ledger) readBalance(ctx context.Context, key string) (int64, bool, error) {
	raw, found, err := l.store.Get(ctx, key)
	if err != nil {
		return 0, false, fmt.Errorf("read balance %s: %w", key, err)
	}
	if !found {
		return 0, false, nil
	}
	balance, perr := strconv.ParseInt(raw, 10, 64)
	if perr != nil {
		return 0, true, fmt.Errorf("%w: %s=%q", ErrCorruptBalance, key, raw)
	}
	return balance, true, nil
}

func (l *Ledger) publish(ctx context.Context, account string, res ChargeResult) {
	ev := events.ChargeEvent{
		Account:          account,
		Amount:           res.ChargedAmount,
		RemainingBalance: res.RemainingBalance,
		RequestID:        events.RequestID(ctx),
		CreatedAt:        time.Now().UTC(),
	}
	if err := l.events.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("account", account).Msg("charge event not published")
	}
}
