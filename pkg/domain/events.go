package domain

import "time"

// EventKind names a fan-out notification type.
type EventKind string

const (
	// EventLockAcquired is published on every successful lock grant.
	EventLockAcquired EventKind = "lock_acquired"
	// EventLockReleased is published whenever a lock row is actually deleted,
	// whether by explicit release, disconnect reclaim, sweep expiry, or force.
	EventLockReleased EventKind = "lock_released"
	// EventLockSnapshot seeds a newly attached subscriber with the full lock
	// table so its UI starts consistent.
	EventLockSnapshot EventKind = "lock_status_snapshot"
	// EventPresenceJoined announces a new live session.
	EventPresenceJoined EventKind = "presence_joined"
	// EventPresenceLeft announces a departed session.
	EventPresenceLeft EventKind = "presence_left"
)

// Event is one fan-out notification. Delivery is best-effort: a slow or gone
// subscriber loses events rather than stalling the mutation that produced
// them.
type Event struct {
	Kind    EventKind             `json:"kind"`
	Code    string                `json:"code,omitempty"`
	Holder  *LockHolder           `json:"holder,omitempty"`
	Locks   map[string]LockHolder `json:"locks,omitempty"`
	Session string                `json:"session_id,omitempty"`
	At      time.Time             `json:"at"`
}
