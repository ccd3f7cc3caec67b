// Package lease hands out short-lived named leases so that only one replica
// runs a periodic job at a time.
package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"kanban/api/internal/util"
)

type Lease interface {
	// Acquire takes the named lease for ttl. ok is false when another owner
	// holds it.
	Acquire(ctx context.Context, name string, ttl time.Duration) (ok bool, err error)
	// Release gives the lease back if this owner still holds it.
	Release(ctx context.Context, name string) error
}

// releaseScript deletes the key only when it still carries our owner token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease implements Lease with SET NX PX.
type RedisLease struct {
	client *redis.Client
	prefix string
	owner  string
}

func NewRedisLease(redisURL string) (*RedisLease, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisLeaseWithClient(client), nil
}

func NewRedisLeaseWithClient(client *redis.Client) *RedisLease {
	return &RedisLease{
		client: client,
		prefix: "kanban:lease:",
		owner:  util.NewID("owner"),
	}
}

func (l *RedisLease) key(name string) string {
	return l.prefix + name
}

func (l *RedisLease) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(name), l.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	return ok, nil
}

func (l *RedisLease) Release(ctx context.Context, name string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key(name)}, l.owner).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", name, err)
	}
	return nil
}

func (l *RedisLease) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *RedisLease) Close() error {
	return l.client.Close()
}

// Noop always grants the lease. It is used when no Redis is configured and
// the process is the only scanner.
type Noop struct{}

func (Noop) Acquire(context.Context, string, time.Duration) (bool, error) { return true, nil }
func (Noop) Release(context.Context, string) error                        { return nil }
