package domain

import "time"

// PresenceEntry associates one live connection with the actor attached to it.
// The entry exists only while the connection is live; its removal triggers
// reclaim of that session's locks.
type PresenceEntry struct {
	SessionID   string    `json:"session_id"`
	Owner       string    `json:"owner"`
	ConnectedAt time.Time `json:"connected_at"`
}
