package security_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"codejudge/internal/judge/sandbox/security"
)

func TestIdentityPoolLeasesExclusively(t *testing.T) {
	pool, err := security.NewIdentityPoolFrom([]security.Identity{
		{Name: "judge1", UID: 2001, GID: 2001},
		{Name: "judge2", UID: 2002, GID: 2002},
	})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	if !pool.Exclusive() || pool.Size() != 2 {
		t.Fatalf("expected exclusive pool of 2")
	}

	ctx := context.Background()
	first, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire first: %v", err)
	}
	second, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire second: %v", err)
	}
	if first.UID == second.UID {
		t.Fatalf("identity %d leased twice", first.UID)
	}
	if !first.Restricted || first.Credential() == nil {
		t.Fatalf("expected restricted identity with credential")
	}

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := pool.Acquire(waitCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline while pool is empty, got %v", err)
	}

	pool.Release(first)
	third, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if third.UID != first.UID {
		t.Fatalf("expected released identity %d, got %d", first.UID, third.UID)
	}
}

func TestIdentityPoolServiceIdentity(t *testing.T) {
	pool, err := security.NewIdentityPoolFrom(nil)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	if pool.Exclusive() {
		t.Fatalf("empty pool must not be exclusive")
	}
	id, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if id.Restricted || id.Credential() != nil {
		t.Fatalf("service identity must not carry a credential")
	}
	if id.UID != uint32(os.Getuid()) {
		t.Fatalf("expected uid %d, got %d", os.Getuid(), id.UID)
	}
	pool.Release(id)
}

func TestIdentityPoolRejectsDuplicates(t *testing.T) {
	_, err := security.NewIdentityPoolFrom([]security.Identity{
		{Name: "a", UID: 3000},
		{Name: "b", UID: 3000},
	})
	if err == nil {
		t.Fatalf("expected duplicate uid error")
	}
}

func TestLookupIdentityRejectsRoot(t *testing.T) {
	if _, err := security.LookupIdentity("root"); err == nil {
		t.Fatalf("expected root to be rejected")
	}
	if _, err := security.LookupIdentity("no-such-user-for-judge-tests"); err == nil {
		t.Fatalf("expected unknown user to be rejected")
	}
}
