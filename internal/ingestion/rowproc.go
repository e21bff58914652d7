package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/maraichr/sheetflow/internal/chunkstore"
	"github.com/maraichr/sheetflow/internal/lease"
	"github.com/maraichr/sheetflow/internal/progress"
	"github.com/maraichr/sheetflow/internal/queue"
	"github.com/maraichr/sheetflow/pkg/models"
)

// Outcome is what a row job did.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeSkipped   Outcome = "skipped"
)

const DefaultLeaseTTL = 60 * time.Second

// RowProcessor validates and commits the rows of one chunk. A lease keeps
// two workers off the same chunk; the chunk row lock in ApplyChunk makes the
// commit exactly-once even if the lease is lost.
type RowProcessor struct {
	repo      Repository
	chunks    chunkstore.Store
	leases    lease.Service
	pub       progress.Publisher
	validator *Validator
	leaseTTL  time.Duration
	done      *completer
	logger    *slog.Logger
}

func NewRowProcessor(repo Repository, chunks chunkstore.Store, leases lease.Service, pub progress.Publisher, leaseTTL time.Duration, logger *slog.Logger) *RowProcessor {
	if leaseTTL <= 0 {
		leaseTTL = DefaultLeaseTTL
	}
	return &RowProcessor{
		repo:      repo,
		chunks:    chunks,
		leases:    leases,
		pub:       pub,
		validator: NewValidator(),
		leaseTTL:  leaseTTL,
		done:      &completer{repo: repo, pub: pub, logger: logger},
		logger:    logger,
	}
}

func (p *RowProcessor) Handle(ctx context.Context, job queue.RowJob) error {
	_, err := p.Process(ctx, job)
	return err
}

// Process runs one row job and reports whether it did the work or found it
// already taken or done.
func (p *RowProcessor) Process(ctx context.Context, job queue.RowJob) (Outcome, error) {
	key := models.ChunkKey{UploadID: job.UploadID, ChunkIndex: job.ChunkIndex}
	log := p.logger.With(slog.String("upload_id", job.UploadID.String()), slog.Int("chunk_index", job.ChunkIndex))
	chunkIndex := job.ChunkIndex

	held, ok, err := p.leases.Acquire(ctx, lease.ChunkKey(key), p.leaseTTL)
	if err != nil {
		err = fmt.Errorf("acquire lease: %w", err)
		publishError(ctx, p.pub, log, job.UploadID, "row_processing", &chunkIndex, err)
		return "", err
	}
	if !ok {
		log.Info("chunk leased by another worker, skipping")
		chunksTotal.WithLabelValues(string(OutcomeSkipped)).Inc()
		return OutcomeSkipped, nil
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := p.leases.Release(rctx, held); err != nil {
			log.Warn("release lease", slog.String("error", err.Error()))
		}
	}()
	keeper := lease.Keep(ctx, p.leases, held, p.leaseTTL, log)
	defer keeper.Stop()

	chunk, err := p.repo.GetChunk(ctx, key)
	switch {
	case err == nil && chunk.Status.Terminal():
		log.Info("chunk already finished, skipping", slog.String("status", string(chunk.Status)))
		chunksTotal.WithLabelValues(string(OutcomeSkipped)).Inc()
		return OutcomeSkipped, nil
	case err != nil && !errors.Is(err, pgx.ErrNoRows):
		err = fmt.Errorf("load chunk: %w", err)
		publishError(ctx, p.pub, log, job.UploadID, "row_processing", &chunkIndex, err)
		return "", err
	}

	start := time.Now()
	rows, err := p.chunks.Get(ctx, job.ChunkPath)
	if err != nil {
		if errors.Is(err, chunkstore.ErrNotFound) {
			nerr := &NonRetryableError{Key: key, Err: err}
			p.failChunk(ctx, key, nerr, log)
			return "", permanent(nerr)
		}
		err = fmt.Errorf("load chunk artifact: %w", err)
		publishError(ctx, p.pub, log, job.UploadID, "row_processing", &chunkIndex, err)
		return "", err
	}

	tally, err := p.repo.ApplyChunk(ctx, models.ChunkBatch{
		Key:      key,
		RowCount: len(rows),
		Rows:     p.validator.ValidateRows(rows),
	})
	if err != nil {
		err = fmt.Errorf("apply chunk: %w", err)
		publishError(ctx, p.pub, log, job.UploadID, "row_processing", &chunkIndex, err)
		return "", err
	}
	if !tally.Applied {
		log.Info("chunk committed by another run, skipping")
		chunksTotal.WithLabelValues(string(OutcomeSkipped)).Inc()
		return OutcomeSkipped, nil
	}
	if keeper.Lost() {
		log.Warn("lease expired before commit; row lock kept the commit exclusive")
	}

	chunkDuration.Observe(time.Since(start).Seconds())
	chunksTotal.WithLabelValues(string(OutcomeCompleted)).Inc()
	rowsTotal.WithLabelValues("processed").Add(float64(tally.ProcessedRows))
	rowsTotal.WithLabelValues("failed").Add(float64(tally.ErrorCount))

	publish(ctx, p.pub, log, job.UploadID, progress.EventProcessingProgress, progress.ProcessingProgress{
		ChunkIndex:         job.ChunkIndex,
		ProcessedRows:      tally.ProcessedRows,
		ErrorCount:         tally.ErrorCount,
		TotalProcessedRows: tally.UploadProcessedRows,
		TotalErrorCount:    tally.UploadErrorCount,
	})
	log.Info("chunk processed", slog.Int("processed_rows", tally.ProcessedRows), slog.Int("error_count", tally.ErrorCount))

	if err := p.chunks.Delete(ctx, job.ChunkPath); err != nil {
		log.Warn("delete chunk artifact", slog.String("error", err.Error()))
	}
	if err := p.done.finish(ctx, job.UploadID); err != nil {
		// The chunk is committed; the next finisher or a retry completes the upload.
		log.Error("finish upload", slog.String("error", err.Error()))
	}
	return OutcomeCompleted, nil
}

// Fail runs after the queue gives up on a row job. The chunk is marked failed
// without touching the counters and its artifact is deleted.
func (p *RowProcessor) Fail(ctx context.Context, job queue.RowJob, cause error) {
	key := models.ChunkKey{UploadID: job.UploadID, ChunkIndex: job.ChunkIndex}
	log := p.logger.With(slog.String("upload_id", job.UploadID.String()), slog.Int("chunk_index", job.ChunkIndex))
	p.failChunk(ctx, key, cause, log)
	if err := p.chunks.Delete(ctx, job.ChunkPath); err != nil && !errors.Is(err, chunkstore.ErrNotFound) {
		log.Warn("delete chunk artifact", slog.String("error", err.Error()))
	}
}

func (p *RowProcessor) failChunk(ctx context.Context, key models.ChunkKey, cause error, log *slog.Logger) {
	chunkIndex := key.ChunkIndex
	changed, err := p.repo.FailChunk(ctx, key, cause.Error())
	if err != nil {
		log.Error("mark chunk failed", slog.String("error", err.Error()))
		return
	}
	if !changed {
		return
	}
	chunksTotal.WithLabelValues("failed").Inc()
	log.Error("chunk failed permanently", slog.String("error", cause.Error()))
	publishError(ctx, p.pub, log, key.UploadID, "row_processing", &chunkIndex, cause)
	if err := p.done.finish(ctx, key.UploadID); err != nil {
		log.Error("finish upload", slog.String("error", err.Error()))
	}
}
