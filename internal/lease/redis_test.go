package lease

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return s, client
}

func TestNewRedisLease(t *testing.T) {
	s := miniredis.RunT(t)

	l, err := NewRedisLease("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("NewRedisLease failed: %v", err)
	}
	defer l.Close()

	if err := l.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisLeaseBadURL(t *testing.T) {
	if _, err := NewRedisLease("not a url"); err == nil {
		t.Fatal("expected error for invalid url")
	}
}

func TestLeaseIsExclusive(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()
	a := NewRedisLeaseWithClient(client)
	b := NewRedisLeaseWithClient(client)

	ok, err := a.Acquire(ctx, "deadlines:t1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err = b.Acquire(ctx, "deadlines:t1", time.Minute)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatal("second owner must not get a held lease")
	}

	ok, err = b.Acquire(ctx, "deadlines:t2", time.Minute)
	if err != nil || !ok {
		t.Fatalf("other lease: ok=%v err=%v", ok, err)
	}
}

func TestReleaseOnlyByOwner(t *testing.T) {
	s, client := setupTestRedis(t)
	ctx := context.Background()
	a := NewRedisLeaseWithClient(client)
	b := NewRedisLeaseWithClient(client)

	if ok, err := a.Acquire(ctx, "job", time.Minute); err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	if err := b.Release(ctx, "job"); err != nil {
		t.Fatalf("foreign release: %v", err)
	}
	if !s.Exists("kanban:lease:job") {
		t.Fatal("lease released by non-owner")
	}
	if err := a.Release(ctx, "job"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if s.Exists("kanban:lease:job") {
		t.Fatal("lease still held after owner release")
	}
}

func TestLeaseExpires(t *testing.T) {
	s, client := setupTestRedis(t)
	ctx := context.Background()
	a := NewRedisLeaseWithClient(client)
	b := NewRedisLeaseWithClient(client)

	if ok, _ := a.Acquire(ctx, "job", 10*time.Second); !ok {
		t.Fatal("acquire failed")
	}
	s.FastForward(11 * time.Second)
	if ok, err := b.Acquire(ctx, "job", 10*time.Second); err != nil || !ok {
		t.Fatalf("acquire after expiry: ok=%v err=%v", ok, err)
	}
}

func TestNoopAlwaysGrants(t *testing.T) {
	var l Lease = Noop{}
	for i := 0; i < 2; i++ {
		ok, err := l.Acquire(context.Background(), "job", time.Second)
		if err != nil || !ok {
			t.Fatalf("noop acquire: ok=%v err=%v", ok, err)
		}
	}
}
