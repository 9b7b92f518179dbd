package repository

import (
	"context"
	"testing"
	"time"
)

// exerciseStore runs the behaviour every Store implementation must share.
// advance moves the store's notion of time forward.
func exerciseStore(t *testing.T, s Store, advance func(time.Duration)) {
	t.Helper()
	ctx := context.Background()

	// Missing key is not an error
	v, found, err := s.Get(ctx, "acct/balance")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found || v != "" {
		t.Fatalf("expected missing key, got %q found=%v", v, found)
	}

	// Set then Get
	if err := s.Set(ctx, "acct/balance", "100"); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, found, err = s.Get(ctx, "acct/balance")
	if err != nil || !found || v != "100" {
		t.Fatalf("expected 100, got %q found=%v err=%v", v, found, err)
	}

	// SetIfAbsent only succeeds once
	ok, err := s.SetIfAbsent(ctx, "acct/balance:lock", "token-a", time.Second)
	if err != nil {
		t.Fatalf("set if absent: %v", err)
	}
	if !ok {
		t.Fatal("first SetIfAbsent should create the key")
	}
	ok, err = s.SetIfAbsent(ctx, "acct/balance:lock", "token-b", time.Second)
	if err != nil {
		t.Fatalf("set if absent: %v", err)
	}
	if ok {
		t.Fatal("second SetIfAbsent should not overwrite")
	}
	v, _, _ = s.Get(ctx, "acct/balance:lock")
	if v != "token-a" {
		t.Fatalf("expected token-a, got %q", v)
	}

	// CompareAndDelete with the wrong token leaves the key
	deleted, err := s.CompareAndDelete(ctx, "acct/balance:lock", "token-b")
	if err != nil {
		t.Fatalf("compare and delete: %v", err)
	}
	if deleted {
		t.Fatal("mismatched token must not delete")
	}
	deleted, err = s.CompareAndDelete(ctx, "acct/balance:lock", "token-a")
	if err != nil {
		t.Fatalf("compare and delete: %v", err)
	}
	if !deleted {
		t.Fatal("matching token should delete")
	}
	if _, found, _ := s.Get(ctx, "acct/balance:lock"); found {
		t.Fatal("lock key should be gone")
	}

	// CompareAndDelete on a missing key
	deleted, err = s.CompareAndDelete(ctx, "acct/balance:lock", "token-a")
	if err != nil || deleted {
		t.Fatalf("expected no-op on missing key, got deleted=%v err=%v", deleted, err)
	}

	// TTL expiry frees the key
	if ok, _ := s.SetIfAbsent(ctx, "other/balance:lock", "x", 500*time.Millisecond); !ok {
		t.Fatal("expected lock to be created")
	}
	advance(time.Second)
	if _, found, _ := s.Get(ctx, "other/balance:lock"); found {
		t.Fatal("expected lock to expire")
	}
	if ok, _ := s.SetIfAbsent(ctx, "other/balance:lock", "y", time.Second); !ok {
		t.Fatal("expired lock should be acquirable")
	}

	// Delete is unconditional and idempotent
	if err := s.Delete(ctx, "other/balance:lock"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, "other/balance:lock"); err != nil {
		t.Fatalf("second delete: %v", err)
	}

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
