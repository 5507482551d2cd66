// Package memory provides the in-memory implementation of the facilitycore
// persistence store, used directly for tests and ephemeral deployments and
// embedded by the durable sqlite and postgres wrappers.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"facilitycore/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Record aliases domain.Record for concise method signatures.
	Record = domain.Record
	// RecordLock aliases domain.RecordLock.
	RecordLock = domain.RecordLock
	// AuditEntry aliases domain.AuditEntry.
	AuditEntry = domain.AuditEntry
	// Transaction aliases domain.Transaction.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	records  map[string]Record
	locks    map[string]RecordLock
	audit    []AuditEntry
	auditSeq uint64
}

// Snapshot captures a point-in-time clone of the store state for external
// persistence.
type Snapshot struct {
	Records  map[string]Record     `json:"records"`
	Locks    map[string]RecordLock `json:"locks"`
	Audit    []AuditEntry          `json:"audit"`
	AuditSeq uint64                `json:"audit_seq"`
}

func newMemoryState() memoryState {
	return memoryState{
		records: make(map[string]Record),
		locks:   make(map[string]RecordLock),
	}
}

func (s memoryState) clone() memoryState {
	cloned := memoryState{
		records:  make(map[string]Record, len(s.records)),
		locks:    make(map[string]RecordLock, len(s.locks)),
		audit:    make([]AuditEntry, 0, len(s.audit)),
		auditSeq: s.auditSeq,
	}
	for k, v := range s.records {
		cloned.records[k] = domain.CloneRecord(v)
	}
	for k, v := range s.locks {
		cloned.locks[k] = v
	}
	for _, e := range s.audit {
		cloned.audit = append(cloned.audit, domain.CloneAuditEntry(e))
	}
	return cloned
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	snap := Snapshot{
		Records:  make(map[string]Record, len(state.records)),
		Locks:    make(map[string]RecordLock, len(state.locks)),
		Audit:    make([]AuditEntry, 0, len(state.audit)),
		AuditSeq: state.auditSeq,
	}
	for k, v := range state.records {
		snap.Records[k] = domain.CloneRecord(v)
	}
	for k, v := range state.locks {
		snap.Locks[k] = v
	}
	for _, e := range state.audit {
		snap.Audit = append(snap.Audit, domain.CloneAuditEntry(e))
	}
	return snap
}

func memoryStateFromSnapshot(snap Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range snap.Records {
		state.records[k] = domain.CloneRecord(v)
	}
	for k, v := range snap.Locks {
		state.locks[k] = v
	}
	for _, e := range snap.Audit {
		state.audit = append(state.audit, domain.CloneAuditEntry(e))
		if e.Seq > state.auditSeq {
			state.auditSeq = e.Seq
		}
	}
	if snap.AuditSeq > state.auditSeq {
		state.auditSeq = snap.AuditSeq
	}
	return state
}

// Store provides an in-memory transactional store for the facilitycore
// domain. A transaction clones the state, applies mutations to the clone, and
// swaps it in only on success, so callers never observe partial writes.
type Store struct {
	mu    sync.RWMutex
	state memoryState
	nowFn func() time.Time
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{
		state: newMemoryState(),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc overrides the store clock; tests use it to pin timestamps.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn != nil {
		s.nowFn = fn
	}
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snap)
}

// RunInTransaction executes fn within a transactional copy of the store
// state. The whole table is serialized under one mutex: acquire's
// check-then-insert, release's check-then-delete and the sweep's
// scan-then-delete can never interleave.
func (s *Store) RunInTransaction(_ context.Context, fn func(tx Transaction) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		state: s.state.clone(),
		now:   s.nowFn(),
	}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	return fn(&transaction{state: snapshot, now: s.nowFn()})
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

// transaction implements both the mutable and read-only contracts over a
// cloned state.
type transaction struct {
	state memoryState
	now   time.Time
}

var _ domain.Transaction = (*transaction)(nil)

// FindRecord retrieves a record by code.
func (tx *transaction) FindRecord(code string) (Record, bool) {
	r, ok := tx.state.records[code]
	if !ok {
		return Record{}, false
	}
	return domain.CloneRecord(r), true
}

// ListRecords returns records whose code has the given prefix, ordered by row
// index then code. A non-positive limit returns everything.
func (tx *transaction) ListRecords(prefix string, limit int) []Record {
	out := make([]Record, 0, len(tx.state.records))
	for _, r := range tx.state.records {
		if prefix != "" && !strings.HasPrefix(r.Code, prefix) {
			continue
		}
		out = append(out, domain.CloneRecord(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RowIndex != out[j].RowIndex {
			return out[i].RowIndex < out[j].RowIndex
		}
		return out[i].Code < out[j].Code
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// FindLock retrieves the lock row for code.
func (tx *transaction) FindLock(code string) (RecordLock, bool) {
	l, ok := tx.state.locks[code]
	return l, ok
}

// ListLocks returns every live lock row, ordered by code.
func (tx *transaction) ListLocks() []RecordLock {
	out := make([]RecordLock, 0, len(tx.state.locks))
	for _, l := range tx.state.locks {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// AuditForCode returns all audit entries for code, newest first.
func (tx *transaction) AuditForCode(code string) []AuditEntry {
	var out []AuditEntry
	for i := len(tx.state.audit) - 1; i >= 0; i-- {
		if tx.state.audit[i].Code == code {
			out = append(out, domain.CloneAuditEntry(tx.state.audit[i]))
		}
	}
	return out
}

// AuditPage returns a newest-first page of the global audit log plus the
// total entry count.
func (tx *transaction) AuditPage(limit, offset int) ([]AuditEntry, int) {
	total := len(tx.state.audit)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return nil, total
	}
	end := total - offset
	start := 0
	if limit > 0 && end-start > limit {
		start = end - limit
	}
	out := make([]AuditEntry, 0, end-start)
	for i := end - 1; i >= start; i-- {
		out = append(out, domain.CloneAuditEntry(tx.state.audit[i]))
	}
	return out, total
}

// PutRecord inserts or replaces a record, stamping timestamps.
func (tx *transaction) PutRecord(r Record) Record {
	if existing, ok := tx.state.records[r.Code]; ok {
		r.CreatedAt = existing.CreatedAt
	} else if r.CreatedAt.IsZero() {
		r.CreatedAt = tx.now
	}
	r.UpdatedAt = tx.now
	tx.state.records[r.Code] = domain.CloneRecord(r)
	return domain.CloneRecord(r)
}

// PutLock inserts or replaces the lock row for its code.
func (tx *transaction) PutLock(l RecordLock) RecordLock {
	tx.state.locks[l.Code] = l
	return l
}

// DeleteLock removes the lock row for code.
func (tx *transaction) DeleteLock(code string) (RecordLock, bool) {
	l, ok := tx.state.locks[code]
	if !ok {
		return RecordLock{}, false
	}
	delete(tx.state.locks, code)
	return l, true
}

// DeleteSessionLocks removes every lock held by sessionID, returning the
// removed rows ordered by code.
func (tx *transaction) DeleteSessionLocks(sessionID string) []RecordLock {
	var out []RecordLock
	for code, l := range tx.state.locks {
		if l.SessionID == sessionID {
			out = append(out, l)
			delete(tx.state.locks, code)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// AppendAudit appends an entry, assigning the next sequence number.
func (tx *transaction) AppendAudit(e AuditEntry) AuditEntry {
	tx.state.auditSeq++
	e.Seq = tx.state.auditSeq
	if e.At.IsZero() {
		e.At = tx.now
	}
	tx.state.audit = append(tx.state.audit, domain.CloneAuditEntry(e))
	return e
}
