package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"testing"

	"facilitycore/internal/infra/persistence/postgres/testutil"
	"facilitycore/pkg/domain"
)

func withStub(t *testing.T) *testutil.StubConn {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(driverName, dsn string) (*sql.DB, error) {
		if driverName != "pgx" {
			t.Fatalf("unexpected driver %q", driverName)
		}
		return db, nil
	})
	t.Cleanup(restore)
	return conn
}

func TestSnapshotPersistedOnCommit(t *testing.T) {
	conn := withStub(t)
	store, err := NewStore("postgres://stub")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	if err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		tx.PutRecord(domain.Record{Code: "13-001", Fields: map[string]string{"TEL": "03"}})
		tx.PutLock(domain.RecordLock{Code: "13-001", Owner: "sato", SessionID: "s1"})
		tx.AppendAudit(domain.AuditEntry{Code: "13-001", Action: domain.AuditCreate})
		return nil
	}); err != nil {
		t.Fatalf("tx: %v", err)
	}

	for _, bucket := range []string{"records", "locks", "audit"} {
		if _, ok := conn.State[bucket]; !ok {
			t.Fatalf("bucket %s not written; execs: %v", bucket, conn.Execs)
		}
	}
	var records map[string]domain.Record
	if err := json.Unmarshal(conn.State["records"], &records); err != nil {
		t.Fatalf("decode records: %v", err)
	}
	if records["13-001"].Field("TEL") != "03" {
		t.Fatalf("record payload wrong: %+v", records)
	}
}

func TestHydratesFromExistingSnapshot(t *testing.T) {
	conn := withStub(t)

	first, err := NewStore("")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	if err := first.RunInTransaction(ctx, func(tx domain.Transaction) error {
		tx.PutRecord(domain.Record{Code: "c1", Fields: map[string]string{"a": "1"}})
		tx.AppendAudit(domain.AuditEntry{Code: "c1", Action: domain.AuditCreate})
		return nil
	}); err != nil {
		t.Fatalf("tx: %v", err)
	}

	// A second store over the same backend must see the snapshot.
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) {
		db, conn2 := testutil.NewStubDB()
		conn2.State = conn.State
		return db, nil
	})
	defer restore()

	second, err := NewStore("")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := second.View(ctx, func(v domain.TransactionView) error {
		r, ok := v.FindRecord("c1")
		if !ok || r.Field("a") != "1" {
			t.Fatalf("snapshot not hydrated: %+v", r)
		}
		_, total := v.AuditPage(10, 0)
		if total != 1 {
			t.Fatalf("audit not hydrated: total=%d", total)
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestPingFailureSurfaces(t *testing.T) {
	conn := withStub(t)
	conn.FailPing = true
	if _, err := NewStore(""); err == nil || !strings.Contains(err.Error(), "ping") {
		t.Fatalf("expected ping error, got %v", err)
	}
}

func TestPersistFailureFailsOperation(t *testing.T) {
	conn := withStub(t)
	store, err := NewStore("")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	conn.FailExec = true
	err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		tx.PutRecord(domain.Record{Code: "c1"})
		return nil
	})
	if err == nil {
		t.Fatalf("expected snapshot failure to fail the operation")
	}
}
