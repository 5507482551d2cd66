package core

import (
	"context"
	"fmt"
	"strings"

	"facilitycore/pkg/domain"
)

// AcquireResult reports the outcome of an acquisition attempt. When Granted
// is false, Holder names who currently has the record so the caller can show
// the conflict; callers must not retry automatically.
type AcquireResult struct {
	Granted bool              `json:"granted"`
	Holder  domain.LockHolder `json:"holder"`
}

// AcquireLock attempts to take exclusive write intent on code for
// (owner, sessionID).
//
// A free record is granted immediately. Re-acquisition by the same owner is
// idempotent: the lease is renewed and the holding session updated (covers a
// tab reload) without creating a second row. A record held by a different
// owner is denied with that holder's identity. The check-then-act runs inside
// one store transaction, so two simultaneous acquires for the same free code
// can never both be granted.
func (s *Service) AcquireLock(ctx context.Context, code, owner, sessionID string) (AcquireResult, error) {
	start := s.nowFn()
	res, err := s.acquireLock(ctx, code, owner, sessionID)
	s.observe(ctx, "acquire_lock", start, err)
	return res, err
}

func (s *Service) acquireLock(ctx context.Context, code, owner, sessionID string) (AcquireResult, error) {
	if strings.TrimSpace(code) == "" {
		return AcquireResult{}, fmt.Errorf("acquire: code is required")
	}
	if owner == "" || sessionID == "" {
		return AcquireResult{}, fmt.Errorf("acquire: owner and session id are required")
	}

	var result AcquireResult
	now := s.nowFn()
	err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if existing, ok := tx.FindLock(code); ok {
			if existing.Owner != owner {
				result = AcquireResult{Granted: false, Holder: existing.Holder()}
				return nil
			}
			existing.SessionID = sessionID
			existing.RenewedAt = now
			tx.PutLock(existing)
			result = AcquireResult{Granted: true, Holder: existing.Holder()}
			return nil
		}
		lock := domain.RecordLock{
			Code:       code,
			Owner:      owner,
			SessionID:  sessionID,
			AcquiredAt: now,
			RenewedAt:  now,
		}
		tx.PutLock(lock)
		result = AcquireResult{Granted: true, Holder: lock.Holder()}
		return nil
	})
	if err != nil {
		return AcquireResult{}, err
	}
	if result.Granted {
		s.broker.Publish(domain.Event{
			Kind:   domain.EventLockAcquired,
			Code:   code,
			Holder: &result.Holder,
			At:     now,
		})
		s.refreshLockGauge(ctx)
	}
	return result, nil
}

// ReleaseLock deletes the lock on code if the caller's owner or session
// matches the holder. Releasing a lock you do not hold, or one that does not
// exist, is a no-op, not an error.
func (s *Service) ReleaseLock(ctx context.Context, code, owner, sessionID string) (bool, error) {
	start := s.nowFn()
	released, err := s.releaseLock(ctx, code, owner, sessionID)
	s.observe(ctx, "release_lock", start, err)
	return released, err
}

func (s *Service) releaseLock(ctx context.Context, code, owner, sessionID string) (bool, error) {
	if strings.TrimSpace(code) == "" {
		return false, fmt.Errorf("release: code is required")
	}
	if owner == "" && sessionID == "" {
		return false, fmt.Errorf("release: owner or session id is required")
	}

	released := false
	err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		existing, ok := tx.FindLock(code)
		if !ok {
			return nil
		}
		ownerMatch := owner != "" && existing.Owner == owner
		sessionMatch := sessionID != "" && existing.SessionID == sessionID
		if !ownerMatch && !sessionMatch {
			return nil
		}
		_, released = tx.DeleteLock(code)
		return nil
	})
	if err != nil {
		return false, err
	}
	if released {
		s.publishReleased(code)
		s.refreshLockGauge(ctx)
	}
	return released, nil
}

// Heartbeat renews the lease on code for owner. A NotHeldError means the lock
// was already lost; the caller must re-acquire before further edits.
func (s *Service) Heartbeat(ctx context.Context, code, owner string) error {
	start := s.nowFn()
	err := s.heartbeat(ctx, code, owner)
	s.observe(ctx, "heartbeat", start, err)
	return err
}

func (s *Service) heartbeat(ctx context.Context, code, owner string) error {
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("heartbeat: code is required")
	}
	now := s.nowFn()
	return s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		existing, ok := tx.FindLock(code)
		if !ok || existing.Owner != owner {
			return domain.NotHeldError{Code: code, Owner: owner}
		}
		existing.RenewedAt = now
		tx.PutLock(existing)
		return nil
	})
}

// ForceRelease unconditionally deletes the lock on code, regardless of
// holder. It is the administrative escape hatch for stuck state.
func (s *Service) ForceRelease(ctx context.Context, code string) (bool, error) {
	start := s.nowFn()
	released, err := s.forceRelease(ctx, code)
	s.observe(ctx, "force_release", start, err)
	return released, err
}

func (s *Service) forceRelease(ctx context.Context, code string) (bool, error) {
	if strings.TrimSpace(code) == "" {
		return false, fmt.Errorf("force release: code is required")
	}
	released := false
	err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, released = tx.DeleteLock(code)
		return nil
	})
	if err != nil {
		return false, err
	}
	if released {
		s.publishReleased(code)
		s.refreshLockGauge(ctx)
	}
	return released, nil
}

// ActiveLocks returns a snapshot of the lock table, keyed by code, for newly
// connected clients to seed their UI.
func (s *Service) ActiveLocks(ctx context.Context) (map[string]domain.LockHolder, error) {
	out := make(map[string]domain.LockHolder)
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		for _, l := range v.ListLocks() {
			out[l.Code] = l.Holder()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// reclaimSession deletes every lock held by sessionID and publishes a release
// for each. It runs even when the session never called ReleaseLock.
func (s *Service) reclaimSession(ctx context.Context, sessionID string) {
	start := s.nowFn()
	var removed []domain.RecordLock
	err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		removed = tx.DeleteSessionLocks(sessionID)
		return nil
	})
	s.observe(ctx, "reclaim_session", start, err)
	if err != nil {
		s.logger.Warn("lock reclaim failed; sweep will expire leftovers",
			"session_id", sessionID, "err", err)
		return
	}
	for _, l := range removed {
		s.publishReleased(l.Code)
	}
	if len(removed) > 0 {
		s.refreshLockGauge(ctx)
	}
}

func (s *Service) publishReleased(code string) {
	s.broker.Publish(domain.Event{
		Kind: domain.EventLockReleased,
		Code: code,
		At:   s.nowFn(),
	})
}

// refreshLockGauge reports the lock-table size to the metrics recorder.
// Failures are ignored: the gauge is advisory.
func (s *Service) refreshLockGauge(ctx context.Context) {
	n := 0
	if err := s.store.View(ctx, func(v domain.TransactionView) error {
		n = len(v.ListLocks())
		return nil
	}); err != nil {
		return
	}
	s.metrics.SetActiveLocks(n)
}
