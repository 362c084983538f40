package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRevocationStore(t *testing.T) (*RedisRevocationStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisRevocationStore(client, ""), mr
}

func TestRedisRevocationStore(t *testing.T) {
	store, _ := newRevocationStore(t)
	ctx := context.Background()

	revoked, err := store.IsRevoked(ctx, "tok-1")
	if err != nil {
		t.Fatalf("IsRevoked: %v", err)
	}
	if revoked {
		t.Error("fresh token reported revoked")
	}

	if err := store.Revoke(ctx, "tok-1", time.Hour); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	revoked, err = store.IsRevoked(ctx, "tok-1")
	if err != nil {
		t.Fatalf("IsRevoked: %v", err)
	}
	if !revoked {
		t.Error("revoked token not reported revoked")
	}

	// Other token ids are unaffected.
	revoked, err = store.IsRevoked(ctx, "tok-2")
	if err != nil {
		t.Fatalf("IsRevoked: %v", err)
	}
	if revoked {
		t.Error("unrelated token reported revoked")
	}
}

func TestRedisRevocationStoreTTL(t *testing.T) {
	store, mr := newRevocationStore(t)
	ctx := context.Background()

	if err := store.Revoke(ctx, "tok-ttl", time.Minute); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	revoked, err := store.IsRevoked(ctx, "tok-ttl")
	if err != nil {
		t.Fatalf("IsRevoked: %v", err)
	}
	if revoked {
		t.Error("revocation entry should expire with the token lifetime")
	}
}

func TestRedisRevocationStoreFailsOpen(t *testing.T) {
	store, mr := newRevocationStore(t)
	mr.Close()

	revoked, err := store.IsRevoked(context.Background(), "tok-1")
	if err == nil {
		t.Error("expected error when redis is down")
	}
	if revoked {
		t.Error("unreachable store must fail open, not report revoked")
	}
}

func TestNoopRevocationStore(t *testing.T) {
	var store NoopRevocationStore
	revoked, err := store.IsRevoked(context.Background(), "anything")
	if err != nil || revoked {
		t.Errorf("noop store: revoked=%v err=%v, want false nil", revoked, err)
	}
}

func TestPrincipalContext(t *testing.T) {
	p := &Principal{SubjectID: "user-1", Class: ClassStaff, Role: RoleAdmin}
	ctx := WithPrincipal(context.Background(), p)

	got, ok := PrincipalFromContext(ctx)
	if !ok {
		t.Fatal("principal not found in context")
	}
	if got.SubjectID != "user-1" {
		t.Errorf("SubjectID = %q, want user-1", got.SubjectID)
	}

	if _, ok := PrincipalFromContext(context.Background()); ok {
		t.Error("empty context should not carry a principal")
	}
}
