//go:build integration

package queue

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/valkey-io/valkey-go"
)

func testQueue(t *testing.T) *Queue {
	t.Helper()
	addr := os.Getenv("TEST_VALKEY_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		t.Skipf("valkey not available: %v", err)
	}
	ctx := context.Background()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		t.Skipf("valkey not reachable: %v", err)
	}

	q := newQueue(client, "sheetflow-test-"+uuid.NewString()+":", KindRow, testLogger())
	if err := q.EnsureGroup(ctx); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Do(context.Background(), client.B().Del().Key(q.stream, q.delayed, q.dead).Build()).Error()
		client.Close()
	})
	return q
}

func TestQueue_AddReadAck(t *testing.T) {
	ctx := context.Background()
	q := testQueue(t)
	job := RowJob{UploadID: uuid.New(), ChunkIndex: 2, ChunkPath: "p"}

	if _, err := q.Add(ctx, job, 1); err != nil {
		t.Fatalf("add: %v", err)
	}
	msgs, err := q.Read(ctx, "c1", 10, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Job != job || msgs[0].Attempt != 1 {
		t.Fatalf("unexpected messages %+v", msgs)
	}

	st, _ := q.Stats(ctx)
	if st.Pending != 1 {
		t.Errorf("pending = %d, want 1", st.Pending)
	}

	// Redelivery to the same consumer before ack.
	pending, err := q.Pending(ctx, "c1", 10)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending: %v %+v", err, pending)
	}

	if err := q.Ack(ctx, msgs[0].ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	st, _ = q.Stats(ctx)
	if st.Pending != 0 {
		t.Errorf("pending after ack = %d, want 0", st.Pending)
	}
}

func TestQueue_ScheduleAndPromote(t *testing.T) {
	ctx := context.Background()
	q := testQueue(t)
	job := RowJob{UploadID: uuid.New()}
	now := time.Now()

	if err := q.Schedule(ctx, job, 2, now.Add(time.Minute)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if n, err := q.PromoteDue(ctx, now, 10); err != nil || n != 0 {
		t.Fatalf("nothing should be due yet: n=%d err=%v", n, err)
	}
	if n, err := q.PromoteDue(ctx, now.Add(2*time.Minute), 10); err != nil || n != 1 {
		t.Fatalf("expected one promotion: n=%d err=%v", n, err)
	}

	msgs, err := q.Read(ctx, "c1", 10, 100*time.Millisecond)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("read promoted: %v %+v", err, msgs)
	}
	if msgs[0].Attempt != 2 {
		t.Errorf("promoted attempt = %d, want 2", msgs[0].Attempt)
	}
}

func TestQueue_ClaimAndDeadLetter(t *testing.T) {
	ctx := context.Background()
	q := testQueue(t)

	if _, err := q.Add(ctx, RowJob{UploadID: uuid.New()}, 1); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := q.Read(ctx, "crashed", 1, 100*time.Millisecond); err != nil {
		t.Fatalf("read: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	claimed, err := q.Claim(ctx, "rescuer", 10*time.Millisecond, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected one claimed message, got %d", len(claimed))
	}

	if err := q.DeadLetter(ctx, claimed[0], errors.New("gave up")); err != nil {
		t.Fatalf("dead letter: %v", err)
	}
	_ = q.Ack(ctx, claimed[0].ID)

	st, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Dead != 1 || st.Pending != 0 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestQueue_DeliveriesCountsClaims(t *testing.T) {
	ctx := context.Background()
	q := testQueue(t)

	id, err := q.Add(ctx, RowJob{UploadID: uuid.New(), ChunkPath: "p"}, 1)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := q.Read(ctx, "c1", 1, 100*time.Millisecond); err != nil {
		t.Fatalf("read: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := q.Claim(ctx, "c2", 10*time.Millisecond, 10); err != nil {
		t.Fatalf("claim: %v", err)
	}

	n, err := q.Deliveries(ctx, id)
	if err != nil {
		t.Fatalf("deliveries: %v", err)
	}
	if n != 2 {
		t.Errorf("deliveries = %d, want 2", n)
	}

	_ = q.Ack(ctx, id)
	if n, _ := q.Deliveries(ctx, id); n != 0 {
		t.Errorf("acked entry should report 0 deliveries, got %d", n)
	}
}
