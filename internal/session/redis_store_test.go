package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rs, err := NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { rs.Close() })
	return rs, mr
}

func TestNewRedisStorePings(t *testing.T) {
	rs, _ := setupTestRedis(t)
	if err := rs.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreBadURL(t *testing.T) {
	if _, err := NewRedisStore("not-a-url"); err == nil {
		t.Fatal("expected error for malformed redis url")
	}
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	rs, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := rs.SaveRefreshSession(ctx, "hash-1", "user-123", time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	user, err := rs.LookupRefreshSession(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LookupRefreshSession failed: %v", err)
	}
	if user.ID != "user-123" {
		t.Errorf("user ID = %q, want user-123", user.ID)
	}
}

func TestLookupExpiredSession(t *testing.T) {
	rs, mr := setupTestRedis(t)
	ctx := context.Background()

	if err := rs.SaveRefreshSession(ctx, "hash-2", "user-456", time.Now().Add(time.Millisecond)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	mr.FastForward(2 * time.Millisecond)

	if _, err := rs.LookupRefreshSession(ctx, "hash-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	rs, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := rs.SaveRefreshSession(ctx, "hash-3", "user-789", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	if err := rs.RevokeRefreshSession(ctx, "hash-3"); err != nil {
		t.Fatalf("RevokeRefreshSession failed: %v", err)
	}
	if _, err := rs.LookupRefreshSession(ctx, "hash-3"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error after revoke = %v, want ErrNotFound", err)
	}
}

func TestLookupUnknownToken(t *testing.T) {
	rs, _ := setupTestRedis(t)
	if _, err := rs.LookupRefreshSession(context.Background(), "never-saved"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}
