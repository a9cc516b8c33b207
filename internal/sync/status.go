package sync

import (
	"sync"
	"time"
)

// Status is the user-visible sync state.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusOffline  Status = "offline"
	StatusSyncing  Status = "syncing"
	StatusSynced   Status = "synced"
	StatusConflict Status = "conflict"
	StatusError    Status = "error"
)

// Snapshot is the reactive status object the UI layer reads.
type Snapshot struct {
	IsOnline       bool      `json:"is_online"`
	SyncStatus     Status    `json:"sync_status"`
	PendingCount   int       `json:"pending_count"`
	ConflictsCount int       `json:"conflicts_count"`
	LastSyncTime   time.Time `json:"last_sync_time"`
	SyncError      string    `json:"sync_error,omitempty"`
}

// Tracker holds the current sync status and fans changes out to registered
// observers. It replaces broadcast-style UI events with explicit callbacks so
// the sync core carries no UI dependency.
type Tracker struct {
	mu         sync.Mutex
	snap       Snapshot
	onChange   []func(Snapshot)
	onConflict []func(count int)
}

func NewTracker() *Tracker {
	return &Tracker{snap: Snapshot{SyncStatus: StatusIdle}}
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// OnChange registers an observer invoked after every status mutation.
func (t *Tracker) OnChange(fn func(Snapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = append(t.onChange, fn)
}

// OnConflictsDetected registers an observer invoked when a sync pass leaves
// unresolved conflicts behind (the cue to open a resolution view).
func (t *Tracker) OnConflictsDetected(fn func(count int)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onConflict = append(t.onConflict, fn)
}

func (t *Tracker) SetOnline(online bool) {
	t.update(func(s *Snapshot) {
		s.IsOnline = online
		if online {
			s.SyncStatus = StatusIdle
		} else {
			s.SyncStatus = StatusOffline
		}
	})
}

func (t *Tracker) SetStatus(status Status) {
	t.update(func(s *Snapshot) { s.SyncStatus = status })
}

func (t *Tracker) SetError(message string) {
	t.update(func(s *Snapshot) {
		s.SyncError = message
		if message != "" {
			s.SyncStatus = StatusError
		}
	})
}

func (t *Tracker) SetLastSyncTime(ts time.Time) {
	t.update(func(s *Snapshot) { s.LastSyncTime = ts })
}

func (t *Tracker) SetPendingCount(count int) {
	t.update(func(s *Snapshot) { s.PendingCount = count })
}

func (t *Tracker) SetConflictsCount(count int) {
	t.update(func(s *Snapshot) { s.ConflictsCount = count })
}

// NotifyConflicts raises the conflicts-detected signal.
func (t *Tracker) NotifyConflicts(count int) {
	t.mu.Lock()
	observers := append([]func(int){}, t.onConflict...)
	t.mu.Unlock()

	for _, fn := range observers {
		fn(count)
	}
}

func (t *Tracker) update(mutate func(*Snapshot)) {
	t.mu.Lock()
	mutate(&t.snap)
	snap := t.snap
	observers := append([]func(Snapshot){}, t.onChange...)
	t.mu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
}
