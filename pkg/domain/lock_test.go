package domain

import (
	"testing"
	"time"
)

func TestLockExpired(t *testing.T) {
	base := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	l := RecordLock{Code: "13-001", Owner: "sato", RenewedAt: base}

	if l.Expired(base.Add(5*time.Minute), 5*time.Minute) {
		t.Fatalf("lock at exactly the timeout must not be expired")
	}
	if !l.Expired(base.Add(5*time.Minute+time.Second), 5*time.Minute) {
		t.Fatalf("lock past the timeout must be expired")
	}
	if l.Expired(base.Add(time.Hour), 0) {
		t.Fatalf("zero timeout disables expiry")
	}
}

func TestLockHolder(t *testing.T) {
	l := RecordLock{Code: "c", Owner: "sato", SessionID: "s1"}
	h := l.Holder()
	if h.Owner != "sato" || h.SessionID != "s1" {
		t.Fatalf("unexpected holder %+v", h)
	}
}
