package authflow

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func newTestPendingStore(t *testing.T) (*pendingStore, func()) {
	t.Helper()
	mr, rdb := newTestRedis(t)
	cfg := defaultConfig().Pending
	return newPendingStore(rdb, cfg), func() { mr.Close() }
}

func TestPendingStoreRoundTrip(t *testing.T) {
	store, done := newTestPendingStore(t)
	defer done()
	ctx := context.Background()

	if store.Has(ctx) {
		t.Fatal("expected empty slot")
	}

	if err := store.Set(ctx, "alice@example.com", KindPasswordChange); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got := store.Get(ctx)
	if got == nil {
		t.Fatal("expected record")
	}
	if got.Email != "alice@example.com" || got.Kind != KindPasswordChange {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.CreatedAt.IsZero() || time.Since(got.CreatedAt) > time.Minute {
		t.Fatalf("unexpected creation time: %v", got.CreatedAt)
	}
}

func TestPendingStoreSingleSlotOverwrite(t *testing.T) {
	store, done := newTestPendingStore(t)
	defer done()
	ctx := context.Background()

	if err := store.Set(ctx, "alice@example.com", KindPasswordReset); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set(ctx, "bob@example.com", KindEmailChange); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got := store.Get(ctx)
	if got == nil || got.Email != "bob@example.com" || got.Kind != KindEmailChange {
		t.Fatalf("second write must win, got %+v", got)
	}
}

func TestPendingStoreLazyExpiry(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	cfg := defaultConfig().Pending
	store := newPendingStore(rdb, cfg)
	ctx := context.Background()

	stale, err := json.Marshal(pendingRecord{
		Email:     "alice@example.com",
		Kind:      KindPasswordReset.String(),
		Timestamp: time.Now().Add(-25 * time.Hour).UnixMilli(),
	})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if err := rdb.Set(ctx, cfg.StorageKey, stale, 0).Err(); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if got := store.Get(ctx); got != nil {
		t.Fatalf("expired record must read as empty, got %+v", got)
	}
	if mr.Exists(cfg.StorageKey) {
		t.Fatal("expired record must be deleted on read")
	}
}

func TestPendingStoreCorruptDataCleared(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	cfg := defaultConfig().Pending
	store := newPendingStore(rdb, cfg)
	ctx := context.Background()

	for _, payload := range []string{"not-json", `{"email":"","kind":"password_reset","timestamp":1}`, `{"email":"a@b.co","kind":"bogus","timestamp":1}`} {
		if err := rdb.Set(ctx, cfg.StorageKey, payload, 0).Err(); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
		if got := store.Get(ctx); got != nil {
			t.Fatalf("payload %q must read as empty, got %+v", payload, got)
		}
		if mr.Exists(cfg.StorageKey) {
			t.Fatalf("payload %q must be deleted on read", payload)
		}
	}
}

func TestPendingStoreKindScopedClear(t *testing.T) {
	store, done := newTestPendingStore(t)
	defer done()
	ctx := context.Background()

	if err := store.Set(ctx, "alice@example.com", KindPasswordReset); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	store.Clear(ctx, KindEmailChange, KindPasswordChange)
	if !store.Has(ctx) {
		t.Fatal("mismatched kinds must not clear the slot")
	}

	store.Clear(ctx, KindPasswordReset)
	if store.Has(ctx) {
		t.Fatal("matching kind must clear the slot")
	}

	// Unscoped clear on an empty slot is a no-op.
	store.Clear(ctx)
}

func TestPendingStoreObservers(t *testing.T) {
	store, done := newTestPendingStore(t)
	defer done()
	ctx := context.Background()

	var events []*PendingVerification
	unsubscribe := store.Observe(func(p *PendingVerification) {
		events = append(events, p)
	})

	if err := store.Set(ctx, "alice@example.com", KindPasswordReset); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	store.Clear(ctx)

	if len(events) != 2 {
		t.Fatalf("expected set and clear notifications, got %d", len(events))
	}
	if events[0] == nil || events[1] != nil {
		t.Fatalf("expected record then nil, got %+v then %+v", events[0], events[1])
	}

	unsubscribe()
	if err := store.Set(ctx, "bob@example.com", KindEmailChange); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatal("observer fired after unsubscribe")
	}
}
