package sessions

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLockTimeout is returned when acquiring a session lock times out.
var ErrLockTimeout = errors.New("session: lock acquisition timeout")

// sessionLock is a channel-based mutex. The buffered channel holds at most
// one token; owning the token is owning the lock. Waiting on the channel is
// selectable, so a blocked acquire can race timeout and cancellation without
// touching shared state.
type sessionLock struct {
	ch chan struct{}

	mu       sync.Mutex
	holder   string
	acquired time.Time
}

func newSessionLock() *sessionLock {
	return &sessionLock{ch: make(chan struct{}, 1)}
}

// LockManager serializes writers per session. One orchestration run owns a
// session's history for its duration; concurrent runs against the same
// session wait here instead of interleaving writes.
//
// LockManager is safe for concurrent use.
type LockManager struct {
	mu         sync.RWMutex
	locks      map[string]*sessionLock
	defaultTTL time.Duration
}

// NewLockManager creates a session lock manager.
func NewLockManager(defaultTTL time.Duration) *LockManager {
	if defaultTTL <= 0 {
		defaultTTL = 30 * time.Second
	}
	mgr := &LockManager{
		locks:      make(map[string]*sessionLock),
		defaultTTL: defaultTTL,
	}
	go mgr.cleanupLoop()
	return mgr
}

// Acquire takes the write lock for a session, waiting up to timeout if it is
// held. Returns a release function that must be called when done. A timed-out
// or canceled acquire leaves the lock untouched for the current holder.
func (m *LockManager) Acquire(ctx context.Context, sessionID, holder string, timeout time.Duration) (func(), error) {
	if timeout <= 0 {
		timeout = m.defaultTTL
	}

	lock := m.lockFor(sessionID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case lock.ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrLockTimeout
	}

	lock.mu.Lock()
	lock.holder = holder
	lock.acquired = time.Now()
	lock.mu.Unlock()

	return m.releaseFunc(lock), nil
}

// TryAcquire takes the lock without waiting. Returns false if it is held.
func (m *LockManager) TryAcquire(sessionID, holder string) (func(), bool) {
	lock := m.lockFor(sessionID)

	select {
	case lock.ch <- struct{}{}:
	default:
		return nil, false
	}

	lock.mu.Lock()
	lock.holder = holder
	lock.acquired = time.Now()
	lock.mu.Unlock()

	return m.releaseFunc(lock), true
}

// releaseFunc returns the token exactly once; a duplicate release must not
// steal the lock from a subsequent holder.
func (m *LockManager) releaseFunc(lock *sessionLock) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			lock.mu.Lock()
			lock.holder = ""
			lock.mu.Unlock()
			<-lock.ch
		})
	}
}

// IsLocked reports whether the session is currently write-locked.
func (m *LockManager) IsLocked(sessionID string) bool {
	m.mu.RLock()
	lock, ok := m.locks[sessionID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	return len(lock.ch) > 0
}

func (m *LockManager) lockFor(sessionID string) *sessionLock {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[sessionID]
	if !ok {
		lock = newSessionLock()
		m.locks[sessionID] = lock
	}
	return lock
}

func (m *LockManager) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		m.cleanup()
	}
}

// cleanup removes unlocked entries that haven't been used recently.
func (m *LockManager) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	for id, lock := range m.locks {
		if len(lock.ch) > 0 {
			continue
		}
		lock.mu.Lock()
		idle := lock.acquired.Before(cutoff)
		lock.mu.Unlock()
		if idle {
			delete(m.locks, id)
		}
	}
}
