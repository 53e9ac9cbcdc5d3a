package presence

import (
	"sync"
)

// Refresher receives online-flag changes so embedded participant copies can
// be kept in step. Implemented by the chat store.
type Refresher interface {
	SetUserOnline(userID string, online bool)
}

// Tracker maintains the online/offline flag for every known user. The server
// is the only authority: flags change on presence deltas and on the
// bulk snapshot delivered with each (re)connect.
type Tracker struct {
	mu        sync.RWMutex
	online    map[string]bool
	refresher Refresher
}

// NewTracker creates an empty tracker that pushes changes into r.
func NewTracker(r Refresher) *Tracker {
	return &Tracker{
		online:    make(map[string]bool),
		refresher: r,
	}
}

// BulkSet replaces the tracked set with the server's authoritative snapshot.
// Users absent from the fresh snapshot are assumed offline, except selfID,
// which is forced online: the snapshot may have been taken before the server
// registered this session. Every change is pushed into the refresher.
func (t *Tracker) BulkSet(onlineIDs []string, selfID string) {
	t.mu.Lock()

	fresh := make(map[string]bool, len(onlineIDs)+1)
	for _, id := range onlineIDs {
		fresh[id] = true
	}
	if selfID != "" {
		fresh[selfID] = true
	}

	var changed []string
	for id := range t.online {
		if !fresh[id] {
			changed = append(changed, id)
		}
	}
	t.online = fresh
	t.mu.Unlock()

	if t.refresher != nil {
		for _, id := range changed {
			t.refresher.SetUserOnline(id, false)
		}
		for id := range fresh {
			t.refresher.SetUserOnline(id, true)
		}
	}
}

// SetStatus applies a single presence delta. Idempotent: reapplying the
// current flag is harmless. The refresher is notified on every call so chat
// participant copies converge even after a missed update.
func (t *Tracker) SetStatus(userID string, online bool) {
	t.mu.Lock()
	if online {
		t.online[userID] = true
	} else {
		delete(t.online, userID)
	}
	t.mu.Unlock()

	if t.refresher != nil {
		t.refresher.SetUserOnline(userID, online)
	}
}

// IsOnline reports the tracked flag for a user. Unknown users are offline.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.online[userID]
}

// Reset drops all tracked state. Used when the connection is lost so a stale
// snapshot never survives into the next session.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online = make(map[string]bool)
}
