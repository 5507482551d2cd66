package domain

import "context"

// Transaction exposes the mutations a persistence implementation must support
// within one atomic scope. A transaction either applies fully or not at all;
// partial lock grants or partial field merges are never observable.
type Transaction interface {
	TransactionView

	// PutRecord inserts or replaces a record, stamping CreatedAt on first
	// write and UpdatedAt always.
	PutRecord(Record) Record

	// PutLock inserts or replaces the lock row for its code.
	PutLock(RecordLock) RecordLock

	// DeleteLock removes the lock row for code, reporting the removed row.
	DeleteLock(code string) (RecordLock, bool)

	// DeleteSessionLocks removes every lock held by sessionID and returns the
	// removed rows.
	DeleteSessionLocks(sessionID string) []RecordLock

	// AppendAudit appends an entry to the audit log, assigning its sequence
	// number and returning the stored entry.
	AppendAudit(AuditEntry) AuditEntry
}

// TransactionView provides read-only access to a consistent snapshot.
type TransactionView interface {
	FindRecord(code string) (Record, bool)
	ListRecords(prefix string, limit int) []Record
	FindLock(code string) (RecordLock, bool)
	ListLocks() []RecordLock
	AuditForCode(code string) []AuditEntry
	AuditPage(limit, offset int) ([]AuditEntry, int)
}

// PersistentStore is the minimal abstraction over durable backends. All
// read-modify-write sequences on records and locks run under
// RunInTransaction, which serializes them; two concurrent transactions never
// interleave on the same code.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) error
	View(ctx context.Context, fn func(TransactionView) error) error
	Close() error
}
