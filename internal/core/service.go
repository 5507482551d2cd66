// Package core implements the record-lock coordinator: a single-writer lock
// table, the record save path, the change auditor, presence tracking and
// best-effort event fan-out, all over one persistence contract.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"facilitycore/pkg/domain"
)

// displayNameFields are consulted, in order, for a record's human-readable
// name in search results.
var displayNameFields = []string{"病院名", "施設名"}

// Service exposes the lock coordinator, record store, change auditor and
// presence operations to the surrounding transport layer. All methods are
// safe for concurrent use.
type Service struct {
	store    domain.PersistentStore
	broker   *Broker
	presence *PresenceTracker
	metrics  MetricsRecorder
	logger   *slog.Logger
	cfg      Config
	nowFn    func() time.Time

	sweepMu   sync.Mutex
	sweepStop chan struct{}
	sweepDone chan struct{}
	closed    bool
	closeOnce sync.Once
}

// NewService constructs a coordinator over the supplied store.
func NewService(store domain.PersistentStore, cfg Config) *Service {
	cfg = cfg.withDefaults()
	s := &Service{
		store:   store,
		broker:  NewBroker(cfg.EventBuffer),
		metrics: NopMetricsRecorder{},
		logger:  slog.Default(),
		cfg:     cfg,
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
	s.presence = NewPresenceTracker(s.reclaimSession)
	return s
}

// SetMetricsRecorder swaps the metrics sink. Passing nil restores the no-op
// recorder.
func (s *Service) SetMetricsRecorder(rec MetricsRecorder) {
	if rec == nil {
		rec = NopMetricsRecorder{}
	}
	s.metrics = rec
}

// SetLogger swaps the logger used for degraded-path warnings.
func (s *Service) SetLogger(l *slog.Logger) {
	if l != nil {
		s.logger = l
	}
}

// SetNowFunc overrides the service clock; tests use it to drive lease expiry.
func (s *Service) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		s.nowFn = fn
	}
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// Presence exposes the presence tracker for the connection layer.
func (s *Service) Presence() *PresenceTracker { return s.presence }

// Close stops the sweeper (if running) and tears down event fan-out. The
// store is owned by the caller and is not closed here.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		s.sweepMu.Lock()
		s.closed = true
		stop, done := s.sweepStop, s.sweepDone
		s.sweepMu.Unlock()
		if stop != nil {
			close(stop)
			<-done
		}
		s.broker.Close()
	})
}

func (s *Service) observe(ctx context.Context, op string, start time.Time, err error) {
	s.metrics.Observe(ctx, op, err == nil, time.Since(start))
}

// SaveResult summarizes one accepted write.
type SaveResult struct {
	Created       bool   `json:"created"`
	Updated       int    `json:"updated"`
	Removed       int    `json:"removed"`
	TotalFields   int    `json:"total_fields"`
	AuditSeq      uint64 `json:"audit_seq,omitempty"`
	AuditDegraded bool   `json:"audit_degraded,omitempty"`
}

// SaveRecord merges fieldUpdates into the record for code on behalf of actor.
//
// The save path re-validates lock ownership: if the record is locked by a
// different owner it fails with a ConflictError. If the record is unlocked
// the write proceeds: locks are advisory collision-avoidance for interactive
// editing, not a gate for programmatic writes such as bulk import.
//
// Every accepted save produces exactly one audit entry, even when nothing
// changed. Audit persistence failure degrades the save (logged, flagged on
// the result) but never rolls it back.
func (s *Service) SaveRecord(ctx context.Context, code, actor string, fieldUpdates map[string]string) (SaveResult, error) {
	start := s.nowFn()
	res, err := s.saveRecord(ctx, code, actor, fieldUpdates)
	s.observe(ctx, "save_record", start, err)
	return res, err
}

func (s *Service) saveRecord(ctx context.Context, code, actor string, fieldUpdates map[string]string) (SaveResult, error) {
	if strings.TrimSpace(code) == "" {
		return SaveResult{}, fmt.Errorf("save: code is required")
	}
	if actor == "" {
		return SaveResult{}, fmt.Errorf("save: actor is required")
	}

	var (
		result SaveResult
		action = domain.AuditUpdate
		before map[string]string
		after  map[string]string
	)
	err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if lock, ok := tx.FindLock(code); ok && lock.Owner != actor {
			return domain.ConflictError{Code: code, Holder: lock.Holder()}
		}
		rec, ok := tx.FindRecord(code)
		if !ok {
			action = domain.AuditCreate
			rec = domain.Record{Code: code, Fields: make(map[string]string)}
		}
		if rec.Fields == nil {
			rec.Fields = make(map[string]string)
		}
		if idx, ok := rowIndexHint(fieldUpdates); ok {
			rec.RowIndex = idx
		}

		before = snapshotFields(rec.Fields)
		outcome := domain.MergeFields(rec.Fields, fieldUpdates)
		rec.UpdatedBy = actor
		rec = tx.PutRecord(rec)
		after = snapshotFields(rec.Fields)

		result = SaveResult{
			Created:     action == domain.AuditCreate,
			Updated:     outcome.Updated,
			Removed:     outcome.Removed,
			TotalFields: countFields(fieldUpdates),
		}
		return nil
	})
	if err != nil {
		return SaveResult{}, err
	}

	entry, auditErr := s.recordAudit(ctx, code, action, before, after, actor)
	if auditErr != nil {
		result.AuditDegraded = true
		s.logger.Warn("save accepted but audit entry was lost",
			"code", code, "actor", actor, "err", auditErr)
	} else {
		result.AuditSeq = entry.Seq
	}
	return result, nil
}

// recordAudit computes the field-level diff and appends it to the audit log.
// Failures are wrapped in ErrAuditWrite so callers can classify them as soft.
func (s *Service) recordAudit(ctx context.Context, code string, action domain.AuditAction, before, after map[string]string, actor string) (domain.AuditEntry, error) {
	entry := domain.AuditEntry{
		Code:          code,
		Action:        action,
		ChangedFields: domain.ChangedFields(before, after),
		Before:        before,
		After:         after,
		Actor:         actor,
		At:            s.nowFn(),
	}
	err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		entry = tx.AppendAudit(entry)
		return nil
	})
	if err != nil {
		return domain.AuditEntry{}, fmt.Errorf("%w: %v", domain.ErrAuditWrite, err)
	}
	return entry, nil
}

// GetRecord returns the record for code, or a NotFoundError.
func (s *Service) GetRecord(ctx context.Context, code string) (domain.Record, error) {
	var rec domain.Record
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		r, ok := v.FindRecord(code)
		if !ok {
			return domain.NotFoundError{Code: code}
		}
		rec = r
		return nil
	})
	if err != nil {
		return domain.Record{}, err
	}
	return rec, nil
}

// RecordSummary is one search hit.
type RecordSummary struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// SearchRecords lists records whose code starts with prefix, optionally
// filtered by a substring match on code or display name, ordered by row index
// then code. A non-positive limit defaults to 200.
func (s *Service) SearchRecords(ctx context.Context, prefix, query string, limit int) ([]RecordSummary, error) {
	if limit <= 0 {
		limit = 200
	}
	var out []RecordSummary
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		for _, rec := range v.ListRecords(prefix, 0) {
			name := displayName(rec)
			if query != "" && !strings.Contains(rec.Code, query) && !strings.Contains(name, query) {
				continue
			}
			out = append(out, RecordSummary{Code: rec.Code, Name: name})
			if len(out) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AuditByCode returns all audit entries for code, newest first.
func (s *Service) AuditByCode(ctx context.Context, code string) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		out = v.AuditForCode(code)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AuditPage returns a newest-first page of the global audit log and the total
// entry count.
func (s *Service) AuditPage(ctx context.Context, limit, offset int) ([]domain.AuditEntry, int, error) {
	var (
		out   []domain.AuditEntry
		total int
	)
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		out, total = v.AuditPage(limit, offset)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Connect registers a live session and announces it.
func (s *Service) Connect(sessionID, owner string) error {
	if sessionID == "" || owner == "" {
		return errors.New("connect: session id and owner are required")
	}
	entry := s.presence.OnConnect(sessionID, owner)
	s.broker.Publish(domain.Event{
		Kind:    domain.EventPresenceJoined,
		Session: entry.SessionID,
		Holder:  &domain.LockHolder{Owner: entry.Owner, SessionID: entry.SessionID},
		At:      s.nowFn(),
	})
	return nil
}

// Disconnect tears a session down: its locks are reclaimed synchronously
// before the departure event goes out.
func (s *Service) Disconnect(ctx context.Context, sessionID string) {
	entry, known := s.presence.OnDisconnect(ctx, sessionID)
	ev := domain.Event{
		Kind:    domain.EventPresenceLeft,
		Session: sessionID,
		At:      s.nowFn(),
	}
	if known {
		ev.Holder = &domain.LockHolder{Owner: entry.Owner, SessionID: entry.SessionID}
	}
	s.broker.Publish(ev)
}

// Subscribe attaches an event subscriber and seeds it with a lock-table
// snapshot so its view starts consistent. The subscriber is attached before
// the snapshot is read, so every lock change is covered by the snapshot, a
// delivered event, or both; a change may therefore appear twice, never zero
// times.
func (s *Service) Subscribe(ctx context.Context) (*Subscription, error) {
	sub := s.broker.Subscribe()
	locks, err := s.ActiveLocks(ctx)
	if err != nil {
		s.broker.Unsubscribe(sub)
		return nil, err
	}
	s.broker.seed(sub, domain.Event{
		Kind:  domain.EventLockSnapshot,
		Locks: locks,
		At:    s.nowFn(),
	})
	return sub, nil
}

// Unsubscribe detaches a subscriber.
func (s *Service) Unsubscribe(sub *Subscription) {
	s.broker.Unsubscribe(sub)
}

// EventsDropped reports how many fan-out deliveries have been discarded.
func (s *Service) EventsDropped() uint64 {
	return s.broker.Dropped()
}

func snapshotFields(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		if domain.IsReservedField(k) {
			continue
		}
		out[k] = v
	}
	return out
}

func countFields(updates map[string]string) int {
	n := 0
	for k := range updates {
		if !domain.IsReservedField(k) {
			n++
		}
	}
	return n
}

// rowIndexHint extracts the reserved CSV row marker from an update set.
func rowIndexHint(updates map[string]string) (int, bool) {
	v, ok := updates["_row_index"]
	if !ok {
		return 0, false
	}
	idx, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return idx, true
}

func displayName(rec domain.Record) string {
	for _, f := range displayNameFields {
		if v := rec.Field(f); v != "" {
			return v
		}
	}
	return ""
}
