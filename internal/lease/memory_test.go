package lease

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/maraichr/sheetflow/pkg/models"
)

func TestMemory_AcquireIsExclusive(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	l, ok, err := m.Acquire(ctx, "lock:a:0", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	_, ok, err = m.Acquire(ctx, "lock:a:0", time.Minute)
	if err != nil || ok {
		t.Fatalf("second acquire should fail: ok=%v err=%v", ok, err)
	}

	if err := m.Release(ctx, l); err != nil {
		t.Fatalf("release: %v", err)
	}
	_, ok, _ = m.Acquire(ctx, "lock:a:0", time.Minute)
	if !ok {
		t.Error("acquire after release should succeed")
	}
}

func TestMemory_Expiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return now }

	l, ok, _ := m.Acquire(ctx, "k", 30*time.Second)
	if !ok {
		t.Fatal("acquire failed")
	}
	now = now.Add(20 * time.Second)
	if err := m.Extend(ctx, l, 30*time.Second); err != nil {
		t.Fatalf("extend before expiry: %v", err)
	}
	now = now.Add(25 * time.Second)
	if !m.Held("k") {
		t.Fatal("extended lease should still be held")
	}
	now = now.Add(10 * time.Second)
	if m.Held("k") {
		t.Fatal("lease should have expired")
	}
	if err := m.Extend(ctx, l, time.Second); !errors.Is(err, ErrNotHeld) {
		t.Errorf("extend after expiry: expected ErrNotHeld, got %v", err)
	}
	if _, ok, _ := m.Acquire(ctx, "k", time.Second); !ok {
		t.Error("expired lease should be acquirable")
	}
}

func TestMemory_ConcurrentAcquireSingleWinner(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := m.Acquire(ctx, "contended", time.Minute); ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Errorf("expected exactly one winner, got %d", winners)
	}
}

func TestMemory_StaleHolderCannotReleaseNewHolder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return now }

	stale, _, _ := m.Acquire(ctx, "k", time.Second)
	now = now.Add(2 * time.Second)
	current, ok, _ := m.Acquire(ctx, "k", time.Minute)
	if !ok {
		t.Fatal("expired lease should be acquirable")
	}

	if err := m.Release(ctx, stale); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if !m.Held("k") {
		t.Fatal("a stale release freed the current holder's lease")
	}
	if err := m.Extend(ctx, stale, time.Minute); !errors.Is(err, ErrNotHeld) {
		t.Errorf("stale extend: expected ErrNotHeld, got %v", err)
	}
	if err := m.Extend(ctx, current, time.Minute); err != nil {
		t.Errorf("current extend: %v", err)
	}
}

func TestChunkKey(t *testing.T) {
	id := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	got := ChunkKey(models.ChunkKey{UploadID: id, ChunkIndex: 4})
	if got != "lock:00000000-0000-0000-0000-000000000001:4" {
		t.Errorf("unexpected key %q", got)
	}
}
