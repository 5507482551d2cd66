package core

import (
	"context"
	"sort"
	"sync"
	"time"

	"facilitycore/pkg/domain"
)

// ReclaimFunc releases every lock held by a departed session. The presence
// tracker invokes it synchronously during disconnect, before the teardown is
// acknowledged, so no lock outlives its connection by more than one reclaim.
type ReclaimFunc func(ctx context.Context, sessionID string)

// PresenceTracker maps live connections to the actors attached to them. It
// replaces what would otherwise be ambient shared state with an explicit
// component owning the connect/disconnect lifecycle.
type PresenceTracker struct {
	mu      sync.Mutex
	entries map[string]domain.PresenceEntry
	reclaim ReclaimFunc
	nowFn   func() time.Time
}

// NewPresenceTracker constructs a tracker that invokes reclaim on disconnect.
func NewPresenceTracker(reclaim ReclaimFunc) *PresenceTracker {
	return &PresenceTracker{
		entries: make(map[string]domain.PresenceEntry),
		reclaim: reclaim,
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc overrides the tracker clock for tests.
func (t *PresenceTracker) SetNowFunc(fn func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fn != nil {
		t.nowFn = fn
	}
}

// OnConnect registers a live session. Reconnecting with an existing session
// ID refreshes the attached owner.
func (t *PresenceTracker) OnConnect(sessionID, owner string) domain.PresenceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry := domain.PresenceEntry{
		SessionID:   sessionID,
		Owner:       owner,
		ConnectedAt: t.nowFn(),
	}
	if prev, ok := t.entries[sessionID]; ok {
		entry.ConnectedAt = prev.ConnectedAt
	}
	t.entries[sessionID] = entry
	return entry
}

// OnDisconnect removes the session and reclaims its locks before returning.
// Unknown sessions still trigger reclaim, so a lock whose presence entry was
// lost cannot leak.
func (t *PresenceTracker) OnDisconnect(ctx context.Context, sessionID string) (domain.PresenceEntry, bool) {
	t.mu.Lock()
	entry, ok := t.entries[sessionID]
	delete(t.entries, sessionID)
	t.mu.Unlock()

	if t.reclaim != nil {
		t.reclaim(ctx, sessionID)
	}
	return entry, ok
}

// Lookup returns the presence entry for sessionID, if live.
func (t *PresenceTracker) Lookup(sessionID string) (domain.PresenceEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[sessionID]
	return entry, ok
}

// Live returns all live sessions ordered by session ID.
func (t *PresenceTracker) Live() []domain.PresenceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.PresenceEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}
