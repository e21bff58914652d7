//go:build integration

package lease

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/valkey-io/valkey-go"
)

func testValkeyClient(t *testing.T) valkey.Client {
	t.Helper()
	addr := os.Getenv("TEST_VALKEY_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		t.Skipf("valkey not available: %v", err)
	}
	if err := client.Do(context.Background(), client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		t.Skipf("valkey not reachable: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestValkey_OwnerScopedRelease(t *testing.T) {
	ctx := context.Background()
	client := testValkeyClient(t)
	key := "lock:test:" + uuid.NewString()
	t.Cleanup(func() { client.Do(ctx, client.B().Del().Key(key).Build()) })

	v := NewValkey(client)

	a, ok, err := v.Acquire(ctx, key, time.Minute)
	if err != nil || !ok {
		t.Fatalf("a acquire: ok=%v err=%v", ok, err)
	}
	if _, ok, err := v.Acquire(ctx, key, time.Minute); err != nil || ok {
		t.Fatalf("b acquire should fail: ok=%v err=%v", ok, err)
	}
	other := Lease{Key: key, Token: uuid.NewString()}
	if err := v.Release(ctx, other); err != nil {
		t.Fatalf("other release: %v", err)
	}
	if err := v.Extend(ctx, other, time.Minute); !errors.Is(err, ErrNotHeld) {
		t.Errorf("other extend: expected ErrNotHeld, got %v", err)
	}
	if err := v.Extend(ctx, a, time.Minute); err != nil {
		t.Errorf("a extend: %v", err)
	}
	if err := v.Release(ctx, a); err != nil {
		t.Fatalf("a release: %v", err)
	}
	b, ok, _ := v.Acquire(ctx, key, time.Minute)
	if !ok {
		t.Error("b should acquire after a released")
	}
	_ = v.Release(ctx, b)
}

func TestValkey_StaleHolderCannotReleaseNewHolder(t *testing.T) {
	ctx := context.Background()
	client := testValkeyClient(t)
	key := "lock:test:" + uuid.NewString()
	t.Cleanup(func() { client.Do(ctx, client.B().Del().Key(key).Build()) })

	v := NewValkey(client)
	stale, ok, _ := v.Acquire(ctx, key, 50*time.Millisecond)
	if !ok {
		t.Fatal("acquire failed")
	}
	time.Sleep(120 * time.Millisecond)
	if _, ok, _ := v.Acquire(ctx, key, time.Minute); !ok {
		t.Fatal("expired lease should be acquirable")
	}

	if err := v.Release(ctx, stale); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if _, ok, _ := v.Acquire(ctx, key, time.Minute); ok {
		t.Error("a stale release freed the current holder's lease")
	}
}

func TestValkey_ExpiredLeaseCannotBeExtended(t *testing.T) {
	ctx := context.Background()
	client := testValkeyClient(t)
	key := "lock:test:" + uuid.NewString()

	v := NewValkey(client)
	l, ok, _ := v.Acquire(ctx, key, 50*time.Millisecond)
	if !ok {
		t.Fatal("acquire failed")
	}
	time.Sleep(120 * time.Millisecond)
	if err := v.Extend(ctx, l, time.Minute); !errors.Is(err, ErrNotHeld) {
		t.Errorf("expected ErrNotHeld after expiry, got %v", err)
	}
	_ = v.Release(ctx, l)
}
