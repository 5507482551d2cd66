package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"facilitycore/pkg/domain"
)

func TestSweepExpiresOnlyStaleLeases(t *testing.T) {
	svc, store := newTestService(t, Config{LockTimeout: 5 * time.Minute})
	ctx := context.Background()

	t0 := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)
	svc.SetNowFunc(func() time.Time { return t0 })
	if _, err := svc.AcquireLock(ctx, "stale", "sato", "s1"); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	svc.SetNowFunc(func() time.Time { return t0.Add(3 * time.Minute) })
	if _, err := svc.AcquireLock(ctx, "fresh", "tanaka", "s2"); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	sub, err := svc.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer svc.Unsubscribe(sub)
	<-sub.C // snapshot

	// 6 minutes after the first acquire: "stale" is past its lease, "fresh"
	// is only 3 minutes old.
	svc.SetNowFunc(func() time.Time { return t0.Add(6 * time.Minute) })
	n, err := svc.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expiry, got %d", n)
	}

	ev := <-sub.C
	if ev.Kind != domain.EventLockReleased || ev.Code != "stale" {
		t.Fatalf("unexpected event %+v", ev)
	}
	select {
	case extra := <-sub.C:
		t.Fatalf("expected exactly one release event, got extra %+v", extra)
	default:
	}

	if err := store.View(ctx, func(v domain.TransactionView) error {
		if _, ok := v.FindLock("stale"); ok {
			t.Fatalf("stale lock survived the sweep")
		}
		if _, ok := v.FindLock("fresh"); !ok {
			t.Fatalf("fresh lock expired too early")
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestHeartbeatKeepsLeaseAliveAcrossSweeps(t *testing.T) {
	svc, store := newTestService(t, Config{LockTimeout: 5 * time.Minute})
	ctx := context.Background()

	t0 := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)
	svc.SetNowFunc(func() time.Time { return t0 })
	if _, err := svc.AcquireLock(ctx, "13-001", "sato", "s1"); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// Renew at +4m; at +7m the lease is only 3 minutes old.
	svc.SetNowFunc(func() time.Time { return t0.Add(4 * time.Minute) })
	if err := svc.Heartbeat(ctx, "13-001", "sato"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	svc.SetNowFunc(func() time.Time { return t0.Add(7 * time.Minute) })
	if n, err := svc.SweepExpired(ctx); err != nil || n != 0 {
		t.Fatalf("renewed lease swept: n=%d err=%v", n, err)
	}

	// Without further renewal the lease eventually expires.
	svc.SetNowFunc(func() time.Time { return t0.Add(15 * time.Minute) })
	if n, err := svc.SweepExpired(ctx); err != nil || n != 1 {
		t.Fatalf("stale lease not swept: n=%d err=%v", n, err)
	}
	if err := store.View(ctx, func(v domain.TransactionView) error {
		if _, ok := v.FindLock("13-001"); ok {
			t.Fatalf("lock survived expiry")
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestNegativeTimeoutDisablesExpiry(t *testing.T) {
	svc, store := newTestService(t, Config{LockTimeout: -1})
	ctx := context.Background()

	t0 := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)
	svc.SetNowFunc(func() time.Time { return t0 })
	if _, err := svc.AcquireLock(ctx, "13-001", "sato", "s1"); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	svc.SetNowFunc(func() time.Time { return t0.Add(24 * time.Hour) })
	if n, err := svc.SweepExpired(ctx); err != nil || n != 0 {
		t.Fatalf("sweep with expiry disabled: n=%d err=%v", n, err)
	}
	if err := store.View(ctx, func(v domain.TransactionView) error {
		if _, ok := v.FindLock("13-001"); !ok {
			t.Fatalf("lock expired despite disabled expiry")
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestStartSweeperConcurrentWithClose(t *testing.T) {
	svc, _ := newTestService(t, Config{SweepInterval: time.Hour})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.StartSweeper(ctx)
		}()
	}
	wg.Wait()
	svc.Close() // must stop whichever sweeper won without hanging

	svc.StartSweeper(ctx) // after Close: a no-op, nothing to leak
	svc.Close()
}

func TestStartSweeperRunsAndStops(t *testing.T) {
	svc, _ := newTestService(t, Config{LockTimeout: time.Millisecond, SweepInterval: 5 * time.Millisecond})
	ctx := context.Background()

	if _, err := svc.AcquireLock(ctx, "13-001", "sato", "s1"); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	svc.StartSweeper(ctx)
	svc.StartSweeper(ctx) // second call is a no-op

	deadline := time.After(2 * time.Second)
	for {
		locks, err := svc.ActiveLocks(ctx)
		if err != nil {
			t.Fatalf("active locks: %v", err)
		}
		if len(locks) == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("sweeper never expired the lock")
		case <-time.After(5 * time.Millisecond):
		}
	}
	svc.Close() // must stop the sweeper without hanging
}
