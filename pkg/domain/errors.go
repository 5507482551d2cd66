package domain

import (
	"errors"
	"fmt"
)

// ConflictError reports that a different owner holds the lock. It is a
// user-facing outcome, not a transient failure: callers must not retry
// automatically.
type ConflictError struct {
	Code   string
	Holder LockHolder
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("record %q is locked by %q", e.Code, e.Holder.Owner)
}

// NotHeldError reports a heartbeat, release-requiring, or gated operation on
// a lock the caller does not hold. The caller should treat it as "lock
// already lost" and re-acquire before further edits.
type NotHeldError struct {
	Code  string
	Owner string
}

func (e NotHeldError) Error() string {
	return fmt.Sprintf("no lock on record %q held by %q", e.Code, e.Owner)
}

// NotFoundError reports a read of a record with no data yet. Writes never
// produce it; they create implicitly.
type NotFoundError struct {
	Code string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("record %q not found", e.Code)
}

// ErrAuditWrite marks a save that succeeded but could not persist its audit
// entry. The business write is never rolled back for it.
var ErrAuditWrite = errors.New("audit write failed")

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce ConflictError
	return errors.As(err, &ce)
}

// IsNotHeld reports whether err is (or wraps) a NotHeldError.
func IsNotHeld(err error) bool {
	var ne NotHeldError
	return errors.As(err, &ne)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var ne NotFoundError
	return errors.As(err, &ne)
}
