package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLock is the shared-lease Locker for multi-process deployments.
// The busy state is a SET NX key with a TTL bounding how long a crashed
// process can wedge a workspace; the cooldown is a second key written on
// completed release whose expiry is the cooldown window itself.
type RedisLock struct {
	client   *redis.Client
	cooldown time.Duration
	lease    time.Duration
}

// NewRedisLock returns a lock over the given client. The lease should
// comfortably exceed the poll budget; two minutes covers the default 60s
// budget plus store writes.
func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{
		client:   client,
		cooldown: DefaultCooldown,
		lease:    2 * time.Minute,
	}
}

func lockKey(workspaceID string) string     { return "flowdesk:sync:lock:" + workspaceID }
func cooldownKey(workspaceID string) string { return "flowdesk:sync:cooldown:" + workspaceID }

// Acquire claims the workspace lease or reports why it cannot.
func (l *RedisLock) Acquire(ctx context.Context, workspaceID string) error {
	n, err := l.client.Exists(ctx, cooldownKey(workspaceID)).Result()
	if err != nil {
		return fmt.Errorf("sync: cooldown check: %w", err)
	}
	if n > 0 {
		return ErrSyncCooldown
	}
	ok, err := l.client.SetNX(ctx, lockKey(workspaceID), "1", l.lease).Result()
	if err != nil {
		return fmt.Errorf("sync: acquire lease: %w", err)
	}
	if !ok {
		return ErrSyncBusy
	}
	return nil
}

// Release drops the lease. Redis errors here are swallowed: the lease
// TTL guarantees eventual release either way.
func (l *RedisLock) Release(ctx context.Context, workspaceID string, cooldown bool) {
	if cooldown {
		_ = l.client.Set(ctx, cooldownKey(workspaceID), "1", l.cooldown).Err()
	}
	_ = l.client.Del(ctx, lockKey(workspaceID)).Err()
}
