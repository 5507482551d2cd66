package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"facilitycore/pkg/domain"
)

func TestStateSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.db")

	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		tx.PutRecord(domain.Record{Code: "13-001", Fields: map[string]string{"病院名": "第一病院"}, RowIndex: 1})
		tx.PutLock(domain.RecordLock{Code: "13-001", Owner: "sato", SessionID: "s1"})
		tx.AppendAudit(domain.AuditEntry{Code: "13-001", Action: domain.AuditCreate, Actor: "sato"})
		return nil
	}); err != nil {
		t.Fatalf("tx: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	if err := reopened.View(ctx, func(v domain.TransactionView) error {
		r, ok := v.FindRecord("13-001")
		if !ok || r.Field("病院名") != "第一病院" || r.RowIndex != 1 {
			t.Fatalf("record lost across reopen: %+v", r)
		}
		l, ok := v.FindLock("13-001")
		if !ok || l.Owner != "sato" {
			t.Fatalf("lock lost across reopen: %+v", l)
		}
		entries, total := v.AuditPage(10, 0)
		if total != 1 || len(entries) != 1 || entries[0].Seq != 1 {
			t.Fatalf("audit lost across reopen: total=%d entries=%+v", total, entries)
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}

	// The restored sequence must continue, not restart.
	if err := reopened.RunInTransaction(ctx, func(tx domain.Transaction) error {
		e := tx.AppendAudit(domain.AuditEntry{Code: "13-001", Action: domain.AuditUpdate})
		if e.Seq != 2 {
			t.Fatalf("audit sequence restarted: got %d", e.Seq)
		}
		return nil
	}); err != nil {
		t.Fatalf("tx: %v", err)
	}
}

func TestFailedTransactionNotPersisted(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.db")

	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	wantErr := domain.NotHeldError{Code: "x", Owner: "y"}
	if err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		tx.PutRecord(domain.Record{Code: "ghost"})
		return wantErr
	}); err == nil {
		t.Fatalf("expected error")
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	if err := reopened.View(ctx, func(v domain.TransactionView) error {
		if _, ok := v.FindRecord("ghost"); ok {
			t.Fatalf("rolled-back record persisted")
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestDefaultPath(t *testing.T) {
	// Run inside a temp dir so the default file does not pollute the repo.
	oldwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(oldwd) })
	store, err := NewStore("")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = store.Close() }()
	if store.Path() != "facilitycore.db" {
		t.Fatalf("unexpected default path %q", store.Path())
	}
}
