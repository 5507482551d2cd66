package core

import (
	"context"
	"time"

	"facilitycore/pkg/domain"
)

// SweepExpired runs one expiry pass: every lock whose last renewal is older
// than the configured timeout is deleted, and one lock_released event is
// published per expiry. Returns the number of locks expired.
//
// Heartbeats and the sweep together implement a lease: failing to renew
// within the timeout is equivalent to a voluntary release.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	start := s.nowFn()
	n, err := s.sweepExpired(ctx)
	s.observe(ctx, "sweep", start, err)
	return n, err
}

func (s *Service) sweepExpired(ctx context.Context) (int, error) {
	now := s.nowFn()
	var expired []domain.RecordLock
	err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		for _, l := range tx.ListLocks() {
			if l.Expired(now, s.cfg.LockTimeout) {
				if _, ok := tx.DeleteLock(l.Code); ok {
					expired = append(expired, l)
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, l := range expired {
		s.publishReleased(l.Code)
	}
	if len(expired) > 0 {
		s.refreshLockGauge(ctx)
	}
	return len(expired), nil
}

// StartSweeper launches the background expiry loop at the configured
// interval. It runs until Close is called or ctx is cancelled. Calling it
// twice, or after Close, is a no-op.
func (s *Service) StartSweeper(ctx context.Context) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()
	if s.closed || s.sweepStop != nil {
		return
	}
	s.sweepStop = make(chan struct{})
	s.sweepDone = make(chan struct{})

	go func() {
		defer close(s.sweepDone)
		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := s.SweepExpired(ctx); err != nil {
					s.logger.Warn("expiry sweep failed", "err", err)
				}
			case <-s.sweepStop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}
