package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryLockRejectsWhileRunning(t *testing.T) {
	lock := NewMemoryLock()
	ctx := context.Background()

	require.NoError(t, lock.Acquire(ctx, "ws1"))
	require.ErrorIs(t, lock.Acquire(ctx, "ws1"), ErrSyncBusy)

	// Other workspaces are independent.
	require.NoError(t, lock.Acquire(ctx, "ws2"))
}

func TestMemoryLockCooldownWindow(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	lock := NewMemoryLock(WithLockClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, lock.Acquire(ctx, "ws1"))
	lock.Release(ctx, "ws1", true)

	require.ErrorIs(t, lock.Acquire(ctx, "ws1"), ErrSyncCooldown)

	now = now.Add(14 * time.Second)
	require.ErrorIs(t, lock.Acquire(ctx, "ws1"), ErrSyncCooldown)

	now = now.Add(2 * time.Second)
	require.NoError(t, lock.Acquire(ctx, "ws1"))
}

func TestMemoryLockFailedPassSkipsCooldown(t *testing.T) {
	lock := NewMemoryLock()
	ctx := context.Background()

	require.NoError(t, lock.Acquire(ctx, "ws1"))
	lock.Release(ctx, "ws1", false)

	// No cooldown after a failed pass, retries proceed immediately.
	require.NoError(t, lock.Acquire(ctx, "ws1"))
}
