package domain

import "time"

// LockHolder identifies who currently holds write intent on a record. Owner
// is the acting user; SessionID is the specific connection or tab, since one
// user may keep several open.
type LockHolder struct {
	Owner     string `json:"owner"`
	SessionID string `json:"session_id"`
}

// RecordLock is the lock-table row for one record. At most one row exists per
// code; the row's existence is the single source of truth for "locked".
type RecordLock struct {
	Code       string    `json:"code"`
	Owner      string    `json:"owner"`
	SessionID  string    `json:"session_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	RenewedAt  time.Time `json:"renewed_at"`
}

// Holder returns the identity pair holding the lock.
func (l RecordLock) Holder() LockHolder {
	return LockHolder{Owner: l.Owner, SessionID: l.SessionID}
}

// Expired reports whether the lease has gone unrenewed past timeout as of
// now. A non-positive timeout means the lease never expires.
func (l RecordLock) Expired(now time.Time, timeout time.Duration) bool {
	if timeout <= 0 {
		return false
	}
	return now.Sub(l.RenewedAt) > timeout
}
