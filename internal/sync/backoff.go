package sync

import (
	"sync"
	"time"

	"clinic-sync-service/internal/store"
)

// MaxRetryCount freezes an entry as permanently failed; only an explicit
// retry-failed action makes it eligible again.
const MaxRetryCount = 5

const maxRetryDelay = 5 * time.Minute

// retryDelay computes the exponential backoff for a given retry count,
// capped at five minutes.
func retryDelay(retryCount int) time.Duration {
	if retryCount >= 9 { // 2^9s > 5m; also guards shift overflow
		return maxRetryDelay
	}
	d := time.Duration(1<<uint(retryCount)) * time.Second
	if d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

// readyToRetry reports whether an entry's backoff window has elapsed. An
// entry that has never been retried is unconditionally ready.
func readyToRetry(item *store.QueueItem, now time.Time) bool {
	if !item.LastRetryAt.Valid {
		return true
	}
	next := time.Unix(item.LastRetryAt.Int64, 0).Add(retryDelay(item.RetryCount))
	return !now.Before(next)
}

// retryScheduler owns the per-entry retry timers. Scheduling an id that
// already has a timer replaces it, so an entry never has two timers.
type retryScheduler struct {
	mu     sync.Mutex
	timers map[int64]*time.Timer
}

func newRetryScheduler() *retryScheduler {
	return &retryScheduler{timers: make(map[int64]*time.Timer)}
}

func (s *retryScheduler) Schedule(id int64, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[id]; ok {
		t.Stop()
	}

	s.timers[id] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()
		fn()
	})
}

func (s *retryScheduler) Cancel(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

// CancelAll stops every scheduled retry. Called on offline transitions and
// teardown so no timer fires into a disconnected state.
func (s *retryScheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *retryScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
