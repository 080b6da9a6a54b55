// Package sync runs the poll, upsert, synthesize pipeline that turns
// starred mailbox messages into tickets.
package sync

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrSyncBusy means a pass for the workspace is already running.
	ErrSyncBusy = errors.New("sync: already running for workspace")
	// ErrSyncCooldown means the previous pass finished too recently.
	ErrSyncCooldown = errors.New("sync: cooldown in effect")
)

// DefaultCooldown is the minimum interval between pass completions for
// one workspace.
const DefaultCooldown = 15 * time.Second

// Locker serializes sync passes per workspace. Acquire returns
// ErrSyncBusy or ErrSyncCooldown immediately instead of blocking; a
// rejected request must have zero effect. Release with cooldown=false
// frees the slot without starting the cooldown window, used when the
// pass failed before touching the store so a retry can proceed at once.
type Locker interface {
	Acquire(ctx context.Context, workspaceID string) error
	Release(ctx context.Context, workspaceID string, cooldown bool)
}

// MemoryLock is the single-process Locker: a map of running workspaces
// plus completion timestamps, guarded by one mutex. Multi-process
// deployments use RedisLock instead.
type MemoryLock struct {
	mu       sync.Mutex
	cooldown time.Duration
	clock    func() time.Time
	running  map[string]struct{}
	finished map[string]time.Time
}

// MemoryLockOption customizes a MemoryLock.
type MemoryLockOption func(*MemoryLock)

// WithCooldown overrides the completion cooldown.
func WithCooldown(d time.Duration) MemoryLockOption {
	return func(l *MemoryLock) { l.cooldown = d }
}

// WithLockClock injects a time source for tests.
func WithLockClock(clock func() time.Time) MemoryLockOption {
	return func(l *MemoryLock) { l.clock = clock }
}

// NewMemoryLock returns a lock with the default 15s cooldown.
func NewMemoryLock(opts ...MemoryLockOption) *MemoryLock {
	l := &MemoryLock{
		cooldown: DefaultCooldown,
		clock:    time.Now,
		running:  make(map[string]struct{}),
		finished: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire claims the workspace slot or reports why it cannot.
func (l *MemoryLock) Acquire(_ context.Context, workspaceID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.running[workspaceID]; ok {
		return ErrSyncBusy
	}
	if at, ok := l.finished[workspaceID]; ok && l.clock().Sub(at) < l.cooldown {
		return ErrSyncCooldown
	}
	l.running[workspaceID] = struct{}{}
	return nil
}

// Release frees the slot and, after a completed pass, starts the
// cooldown window.
func (l *MemoryLock) Release(_ context.Context, workspaceID string, cooldown bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.running, workspaceID)
	if cooldown {
		l.finished[workspaceID] = l.clock()
	}
}
