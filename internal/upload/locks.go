package upload

import (
	"sync"

	"github.com/google/uuid"
)

// sessionLocks serializes mutations per session id within this process.
// Cross-instance serialization is layered on top via the Redis lease; the
// conditional offset update in the database is the final backstop.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{
		locks: make(map[uuid.UUID]*sessionLock),
	}
}

// Lock acquires the per-session mutex and returns the release func
func (sl *sessionLocks) Lock(id uuid.UUID) func() {
	sl.mu.Lock()
	lock, exists := sl.locks[id]
	if !exists {
		lock = &sessionLock{}
		sl.locks[id] = lock
	}
	lock.refs++
	sl.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		sl.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(sl.locks, id)
		}
		sl.mu.Unlock()
	}
}
