package ingestion

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maraichr/sheetflow/internal/progress"
	"github.com/maraichr/sheetflow/internal/queue"
	"github.com/maraichr/sheetflow/internal/store/postgres"
	"github.com/maraichr/sheetflow/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memRepo mirrors the conditional-update semantics of the Postgres store.
type memRepo struct {
	mu       sync.Mutex
	uploads  map[uuid.UUID]*models.Upload
	chunks   map[models.ChunkKey]*models.Chunk
	errors   []models.ProcessingError
	stored   []models.StoreRecord
	applyErr error
	// applyDelay widens the window between the lock and the commit.
	applyDelay time.Duration
}

func newMemRepo() *memRepo {
	return &memRepo{
		uploads: make(map[uuid.UUID]*models.Upload),
		chunks:  make(map[models.ChunkKey]*models.Chunk),
	}
}

func (r *memRepo) CreateUpload(_ context.Context, arg postgres.CreateUploadParams) (models.Upload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := &models.Upload{
		ID:           arg.ID,
		OriginalName: arg.OriginalName,
		MimeType:     arg.MimeType,
		SizeBytes:    arg.SizeBytes,
		Status:       models.UploadStatusPending,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	r.uploads[u.ID] = u
	return *u, nil
}

func (r *memRepo) GetUpload(_ context.Context, id uuid.UUID) (models.Upload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.uploads[id]
	if !ok {
		return models.Upload{}, pgx.ErrNoRows
	}
	return *u, nil
}

func (r *memRepo) upload(id uuid.UUID) models.Upload {
	u, _ := r.GetUpload(context.Background(), id)
	return u
}

func (r *memRepo) AdvanceUploadStatus(_ context.Context, id uuid.UUID, from []models.UploadStatus, to models.UploadStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.uploads[id]
	if !ok {
		return false, nil
	}
	for _, s := range from {
		if u.Status == s {
			u.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) FailUpload(_ context.Context, id uuid.UUID, message string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.uploads[id]
	if !ok || u.Status.Terminal() {
		return false, nil
	}
	u.Status = models.UploadStatusFailed
	u.ErrorMessage = &message
	return true, nil
}

func (r *memRepo) FinalizeChunking(_ context.Context, id uuid.UUID, totalRows int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.uploads[id]
	if !ok || u.Status.Terminal() {
		return nil
	}
	u.TotalRows = &totalRows
	switch u.Status {
	case models.UploadStatusPending, models.UploadStatusUploaded, models.UploadStatusChunking:
		u.Status = models.UploadStatusChunked
	}
	return nil
}

func (r *memRepo) TryCompleteUpload(_ context.Context, id uuid.UUID) (models.Upload, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.uploads[id]
	if !ok || u.TotalRows == nil {
		return models.Upload{}, false, nil
	}
	if u.Status != models.UploadStatusChunked && u.Status != models.UploadStatusProcessing {
		return models.Upload{}, false, nil
	}
	anyFailed := false
	for k, c := range r.chunks {
		if k.UploadID != id {
			continue
		}
		if c.Status == models.ChunkStatusPending {
			return models.Upload{}, false, nil
		}
		if c.Status == models.ChunkStatusFailed {
			anyFailed = true
		}
	}
	if anyFailed {
		u.Status = models.UploadStatusFailed
	} else {
		u.Status = models.UploadStatusCompleted
	}
	return *u, true, nil
}

func (r *memRepo) RecordChunk(_ context.Context, key models.ChunkKey, rowCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.chunks[key]; ok {
		c.RowCount = rowCount
		return nil
	}
	r.chunks[key] = &models.Chunk{UploadID: key.UploadID, ChunkIndex: key.ChunkIndex, Status: models.ChunkStatusPending, RowCount: rowCount}
	return nil
}

func (r *memRepo) ListChunkIndexes(_ context.Context, uploadID uuid.UUID) ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for k := range r.chunks {
		if k.UploadID == uploadID {
			out = append(out, k.ChunkIndex)
		}
	}
	sort.Ints(out)
	return out, nil
}

func (r *memRepo) chunkList(uploadID uuid.UUID) []models.Chunk {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Chunk
	for k, c := range r.chunks {
		if k.UploadID == uploadID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out
}

func (r *memRepo) GetChunk(_ context.Context, key models.ChunkKey) (models.Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chunks[key]
	if !ok {
		return models.Chunk{}, pgx.ErrNoRows
	}
	return *c, nil
}

func (r *memRepo) FailChunk(_ context.Context, key models.ChunkKey, message string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chunks[key]
	if !ok {
		r.chunks[key] = &models.Chunk{UploadID: key.UploadID, ChunkIndex: key.ChunkIndex, Status: models.ChunkStatusFailed, ErrorMessage: &message}
		return true, nil
	}
	if c.Status.Terminal() {
		return false, nil
	}
	c.Status = models.ChunkStatusFailed
	c.ErrorMessage = &message
	return true, nil
}

// ApplyChunk holds the repo lock for the whole commit, standing in for the
// row lock taken by the real store.
func (r *memRepo) ApplyChunk(_ context.Context, batch models.ChunkBatch) (models.ChunkTally, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.applyErr != nil {
		return models.ChunkTally{}, r.applyErr
	}
	time.Sleep(r.applyDelay)

	key := batch.Key
	c, ok := r.chunks[key]
	if !ok {
		c = &models.Chunk{UploadID: key.UploadID, ChunkIndex: key.ChunkIndex, Status: models.ChunkStatusPending, RowCount: batch.RowCount}
		r.chunks[key] = c
	}
	if c.Status.Terminal() {
		return models.ChunkTally{}, nil
	}

	var processed, errored int
	for _, row := range batch.Rows {
		if row.Err != "" {
			errored++
			r.errors = append(r.errors, models.ProcessingError{
				UploadID: key.UploadID, ChunkIndex: key.ChunkIndex, RowNumber: row.RowNumber, Message: row.Err, RawRow: row.Raw,
			})
			continue
		}
		processed++
		r.stored = append(r.stored, *row.Record)
	}
	c.Status = models.ChunkStatusCompleted
	c.ErrorCount = errored

	u := r.uploads[key.UploadID]
	u.ProcessedRows += int64(processed)
	u.ErrorCount += int64(errored)
	if u.Status == models.UploadStatusChunked {
		u.Status = models.UploadStatusProcessing
	}
	return models.ChunkTally{
		Applied:             true,
		ProcessedRows:       processed,
		ErrorCount:          errored,
		UploadProcessedRows: u.ProcessedRows,
		UploadErrorCount:    u.ErrorCount,
	}, nil
}

func (r *memRepo) processingErrors() []models.ProcessingError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ProcessingError(nil), r.errors...)
}

// memQueue records enqueued jobs in order.
type memQueue struct {
	mu   sync.Mutex
	jobs []queue.Job
	err  error
}

func (q *memQueue) Enqueue(_ context.Context, job queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *memQueue) pop() (queue.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil, false
	}
	j := q.jobs[0]
	q.jobs = q.jobs[1:]
	return j, true
}

func (q *memQueue) rowJobs() []queue.RowJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []queue.RowJob
	for _, j := range q.jobs {
		if rj, ok := j.(queue.RowJob); ok {
			out = append(out, rj)
		}
	}
	return out
}

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recorder) Publish(_ context.Context, uploadID uuid.UUID, typ progress.EventType, data any) error {
	ev, err := progress.NewEvent(uploadID, typ, data)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recorder) ofType(typ progress.EventType) []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []progress.Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}
