package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/maraichr/sheetflow/internal/chunkstore"
	"github.com/maraichr/sheetflow/internal/lease"
	"github.com/maraichr/sheetflow/internal/progress"
	"github.com/maraichr/sheetflow/internal/queue"
	"github.com/maraichr/sheetflow/internal/store/postgres"
	"github.com/maraichr/sheetflow/pkg/models"
)

// grantAll hands out every lease, so only the chunk row lock separates
// concurrent runs.
type grantAll struct{}

func (grantAll) Acquire(_ context.Context, key string, _ time.Duration) (lease.Lease, bool, error) {
	return lease.Lease{Key: key, Token: "any"}, true, nil
}
func (grantAll) Release(context.Context, lease.Lease) error               { return nil }
func (grantAll) Extend(context.Context, lease.Lease, time.Duration) error { return nil }

type rowFixture struct {
	repo   *memRepo
	pub    *recorder
	chunks *chunkstore.Disk
	leases lease.Service
	p      *RowProcessor
}

func newRowFixture(t *testing.T, leases lease.Service) *rowFixture {
	t.Helper()
	cs, err := chunkstore.NewDisk(t.TempDir())
	if err != nil {
		t.Fatalf("chunk store: %v", err)
	}
	f := &rowFixture{repo: newMemRepo(), pub: &recorder{}, chunks: cs, leases: leases}
	f.p = NewRowProcessor(f.repo, cs, leases, f.pub, time.Minute, testLogger())
	return f
}

// chunk stores n rows for a chunked upload of n rows. Row numbers listed in
// bad have no store name.
func (f *rowFixture) chunk(t *testing.T, n int, bad ...int) queue.RowJob {
	t.Helper()
	ctx := context.Background()
	id := uuid.New()
	if _, err := f.repo.CreateUpload(ctx, postgres.CreateUploadParams{ID: id, OriginalName: "stores.csv"}); err != nil {
		t.Fatal(err)
	}
	if err := f.repo.FinalizeChunking(ctx, id, int64(n)); err != nil {
		t.Fatal(err)
	}

	skip := make(map[int]bool, len(bad))
	for _, b := range bad {
		skip[b] = true
	}
	rows := make([]models.Row, n)
	for i := range rows {
		rows[i] = models.Row{"storeName": fmt.Sprintf("Store %d", i+1), "cityName": "Lyon"}
		if skip[i+1] {
			rows[i]["storeName"] = ""
		}
	}
	key := models.ChunkKey{UploadID: id, ChunkIndex: 0}
	ref, err := f.chunks.Put(ctx, key, rows)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.repo.RecordChunk(ctx, key, n); err != nil {
		t.Fatal(err)
	}
	return queue.RowJob{UploadID: id, ChunkIndex: 0, ChunkPath: ref}
}

func TestRowProcessor_CountsProcessedAndFailedRows(t *testing.T) {
	f := newRowFixture(t, lease.NewMemory())
	job := f.chunk(t, 100, 10, 55)

	outcome, err := f.p.Process(context.Background(), job)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome != OutcomeCompleted {
		t.Fatalf("outcome = %s, want completed", outcome)
	}

	u := f.repo.upload(job.UploadID)
	if u.ProcessedRows != 98 || u.ErrorCount != 2 {
		t.Errorf("counters = %d/%d, want 98/2", u.ProcessedRows, u.ErrorCount)
	}
	if u.Status != models.UploadStatusCompleted {
		t.Errorf("status = %s, want completed", u.Status)
	}

	perrs := f.repo.processingErrors()
	if len(perrs) != 2 {
		t.Fatalf("expected 2 error records, got %d", len(perrs))
	}
	for i, want := range []int{10, 55} {
		if perrs[i].RowNumber != want {
			t.Errorf("error record %d has row %d, want %d", i, perrs[i].RowNumber, want)
		}
		if perrs[i].Message != "storeName is required" {
			t.Errorf("unexpected message %q", perrs[i].Message)
		}
		if perrs[i].RawRow["cityName"] != "Lyon" {
			t.Errorf("raw row not kept: %v", perrs[i].RawRow)
		}
	}
	if len(f.repo.stored) != 98 {
		t.Errorf("expected 98 stored rows, got %d", len(f.repo.stored))
	}

	evs := f.pub.ofType(progress.EventProcessingProgress)
	if len(evs) != 1 {
		t.Fatalf("expected 1 processing_progress event, got %d", len(evs))
	}
	var pp progress.ProcessingProgress
	if err := json.Unmarshal(evs[0].Data, &pp); err != nil {
		t.Fatal(err)
	}
	if pp.ProcessedRows != 98 || pp.ErrorCount != 2 || pp.TotalProcessedRows != 98 {
		t.Errorf("unexpected payload %+v", pp)
	}

	if _, err := f.chunks.Get(context.Background(), job.ChunkPath); !errors.Is(err, chunkstore.ErrNotFound) {
		t.Errorf("artifact should be deleted after commit, got %v", err)
	}
	if f.leases.(*lease.Memory).Held(lease.ChunkKey(models.ChunkKey{UploadID: job.UploadID})) {
		t.Error("lease should be released")
	}
}

func TestRowProcessor_RedeliveryAfterCompletionIsSkipped(t *testing.T) {
	f := newRowFixture(t, lease.NewMemory())
	job := f.chunk(t, 5)
	ctx := context.Background()

	if _, err := f.p.Process(ctx, job); err != nil {
		t.Fatal(err)
	}
	outcome, err := f.p.Process(ctx, job)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if outcome != OutcomeSkipped {
		t.Errorf("outcome = %s, want skipped", outcome)
	}
	if u := f.repo.upload(job.UploadID); u.ProcessedRows != 5 {
		t.Errorf("processed rows = %d, want 5", u.ProcessedRows)
	}
	if len(f.pub.ofType(progress.EventProcessingProgress)) != 1 {
		t.Error("a skipped chunk must not publish progress")
	}
}

func TestRowProcessor_ConcurrentDuplicates(t *testing.T) {
	tests := []struct {
		name   string
		leases lease.Service
	}{
		{"lease held", lease.NewMemory()},
		{"lease always granted", grantAll{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRowFixture(t, tt.leases)
			f.repo.applyDelay = 20 * time.Millisecond
			job := f.chunk(t, 40, 3)

			var (
				wg       sync.WaitGroup
				outcomes = make([]Outcome, 2)
				errs     = make([]error, 2)
			)
			for i := 0; i < 2; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					outcomes[i], errs[i] = f.p.Process(context.Background(), job)
				}(i)
			}
			wg.Wait()

			completed, skipped := 0, 0
			for i := range outcomes {
				switch {
				case errs[i] != nil:
					// Under grantAll the loser may find the artifact already
					// deleted, which still leaves the chunk committed once.
					if !queue.IsPermanent(errs[i]) {
						t.Errorf("run %d: %v", i, errs[i])
					}
				case outcomes[i] == OutcomeCompleted:
					completed++
				case outcomes[i] == OutcomeSkipped:
					skipped++
				}
			}
			if completed != 1 {
				t.Errorf("expected exactly one completed run, got %d (skipped %d)", completed, skipped)
			}

			u := f.repo.upload(job.UploadID)
			if u.ProcessedRows != 39 || u.ErrorCount != 1 {
				t.Errorf("counters = %d/%d, want 39/1", u.ProcessedRows, u.ErrorCount)
			}
			if n := len(f.repo.processingErrors()); n != 1 {
				t.Errorf("expected 1 error record, got %d", n)
			}
			if u.Status != models.UploadStatusCompleted {
				t.Errorf("status = %s, want completed", u.Status)
			}
		})
	}
}

func TestRowProcessor_MissingArtifactIsPermanent(t *testing.T) {
	f := newRowFixture(t, lease.NewMemory())
	job := f.chunk(t, 10)
	if err := f.chunks.Delete(context.Background(), job.ChunkPath); err != nil {
		t.Fatal(err)
	}

	_, err := f.p.Process(context.Background(), job)
	if !queue.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	var nre *NonRetryableError
	if !errors.As(err, &nre) {
		t.Errorf("expected NonRetryableError, got %v", err)
	}

	chunks := f.repo.chunkList(job.UploadID)
	if len(chunks) != 1 || chunks[0].Status != models.ChunkStatusFailed {
		t.Fatalf("chunk should be failed, got %+v", chunks)
	}
	u := f.repo.upload(job.UploadID)
	if u.ProcessedRows != 0 || u.ErrorCount != 0 {
		t.Errorf("counters must stay 0, got %d/%d", u.ProcessedRows, u.ErrorCount)
	}
	if u.Status != models.UploadStatusFailed {
		t.Errorf("status = %s, want failed", u.Status)
	}
	if len(f.pub.ofType(progress.EventError)) != 1 {
		t.Error("expected one error event")
	}

	// The queue's fail hook after the permanent error changes nothing further.
	f.p.Fail(context.Background(), job, err)
	if len(f.pub.ofType(progress.EventError)) != 1 {
		t.Error("fail hook must not report a chunk twice")
	}
}

func TestRowProcessor_TransientCommitError(t *testing.T) {
	f := newRowFixture(t, lease.NewMemory())
	job := f.chunk(t, 10)
	f.repo.applyErr = errors.New("connection reset")

	_, err := f.p.Process(context.Background(), job)
	if err == nil || queue.IsPermanent(err) {
		t.Fatalf("expected a retryable error, got %v", err)
	}
	if _, gerr := f.chunks.Get(context.Background(), job.ChunkPath); gerr != nil {
		t.Errorf("artifact must survive for the retry: %v", gerr)
	}

	f.repo.applyErr = nil
	outcome, err := f.p.Process(context.Background(), job)
	if err != nil || outcome != OutcomeCompleted {
		t.Fatalf("retry: outcome %s, err %v", outcome, err)
	}
	if u := f.repo.upload(job.UploadID); u.ProcessedRows != 10 {
		t.Errorf("processed rows = %d, want 10", u.ProcessedRows)
	}
}

func TestRowProcessor_FailAfterRetriesExhausted(t *testing.T) {
	f := newRowFixture(t, lease.NewMemory())
	job := f.chunk(t, 10)

	f.p.Fail(context.Background(), job, errors.New("connection reset"))

	chunks := f.repo.chunkList(job.UploadID)
	if chunks[0].Status != models.ChunkStatusFailed {
		t.Errorf("chunk status = %s, want failed", chunks[0].Status)
	}
	if u := f.repo.upload(job.UploadID); u.Status != models.UploadStatusFailed {
		t.Errorf("status = %s, want failed", u.Status)
	}
}

func TestRowProcessor_FailDeletesArtifact(t *testing.T) {
	f := newRowFixture(t, lease.NewMemory())
	job := f.chunk(t, 10)
	ctx := context.Background()

	f.p.Fail(ctx, job, errors.New("connection reset"))

	if _, err := f.chunks.Get(ctx, job.ChunkPath); !errors.Is(err, chunkstore.ErrNotFound) {
		t.Errorf("artifact still present after the job failed for good: err=%v", err)
	}
}
