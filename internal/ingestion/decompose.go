package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/maraichr/sheetflow/internal/chunkstore"
	"github.com/maraichr/sheetflow/internal/progress"
	"github.com/maraichr/sheetflow/internal/queue"
	"github.com/maraichr/sheetflow/pkg/models"
)

const DefaultChunkSize = 1000

// Decomposer streams a durable file into fixed-size chunks, each persisted to
// the chunk store and handed to row processing as its own job.
type Decomposer struct {
	repo      Repository
	chunks    chunkstore.Store
	queue     queue.Enqueuer
	pub       progress.Publisher
	sheets    SheetReader
	chunkSize int
	done      *completer
	logger    *slog.Logger
}

func NewDecomposer(repo Repository, chunks chunkstore.Store, q queue.Enqueuer, pub progress.Publisher, sheets SheetReader, chunkSize int, logger *slog.Logger) *Decomposer {
	if chunkSize < 1 {
		chunkSize = DefaultChunkSize
	}
	if sheets == nil {
		sheets = MemorySheetReader{}
	}
	return &Decomposer{
		repo:      repo,
		chunks:    chunks,
		queue:     q,
		pub:       pub,
		sheets:    sheets,
		chunkSize: chunkSize,
		done:      &completer{repo: repo, pub: pub, logger: logger},
		logger:    logger,
	}
}

func (d *Decomposer) Handle(ctx context.Context, job queue.DecomposeJob) error {
	log := d.logger.With(slog.String("upload_id", job.UploadID.String()))

	advanced, err := d.repo.AdvanceUploadStatus(ctx, job.UploadID, []models.UploadStatus{
		models.UploadStatusPending, models.UploadStatusUploaded, models.UploadStatusChunking,
	}, models.UploadStatusChunking)
	if err != nil {
		return fmt.Errorf("mark chunking: %w", err)
	}
	if !advanced {
		return d.resume(ctx, job, log)
	}
	publish(ctx, d.pub, log, job.UploadID, progress.EventFileProgress, progress.FileProgress{Status: models.UploadStatusChunking})

	totalRows, totalChunks, err := d.split(ctx, job, log)
	if err != nil {
		publishError(ctx, d.pub, log, job.UploadID, "decomposition", nil, err)
		var (
			ufe *UnsupportedFormatError
			mfe *MalformedFileError
		)
		if errors.As(err, &ufe) || errors.As(err, &mfe) || errors.Is(err, fs.ErrNotExist) {
			return permanent(err)
		}
		return err
	}

	if err := d.repo.FinalizeChunking(ctx, job.UploadID, totalRows); err != nil {
		err = fmt.Errorf("finalize chunking: %w", err)
		publishError(ctx, d.pub, log, job.UploadID, "decomposition", nil, err)
		return err
	}
	publish(ctx, d.pub, log, job.UploadID, progress.EventFileProgress, progress.FileProgress{
		Status:      models.UploadStatusChunked,
		TotalRows:   &totalRows,
		TotalChunks: &totalChunks,
	})
	log.Info("file decomposed", slog.Int64("total_rows", totalRows), slog.Int("total_chunks", totalChunks))

	removeFile(job.FilePath, log)

	// Covers empty files and chunks that finished before the total was known.
	return d.done.finish(ctx, job.UploadID)
}

// resume handles a redelivered job whose upload is already past chunking.
// An earlier attempt may have written the totals and then died before
// finishing, so the cleanup and completion check run again.
func (d *Decomposer) resume(ctx context.Context, job queue.DecomposeJob, log *slog.Logger) error {
	u, err := d.repo.GetUpload(ctx, job.UploadID)
	if err != nil {
		return fmt.Errorf("load upload: %w", err)
	}
	switch u.Status {
	case models.UploadStatusChunked, models.UploadStatusProcessing:
		log.Info("decomposition already done, finishing", slog.String("status", string(u.Status)))
		removeFile(job.FilePath, log)
		return d.done.finish(ctx, job.UploadID)
	default:
		log.Info("decomposition not applicable, skipping", slog.String("status", string(u.Status)))
		return nil
	}
}

// split reads the file and emits every chunk not already recorded by an
// earlier attempt. Chunk boundaries depend only on the file and chunk size,
// so a retry reproduces the same indices.
func (d *Decomposer) split(ctx context.Context, job queue.DecomposeJob, log *slog.Logger) (int64, int, error) {
	format, err := DetectFormat(job.FilePath, job.MimeType)
	if err != nil {
		return 0, 0, err
	}

	var src RowSource
	switch format {
	case FormatXLSX:
		src, err = d.sheets.Open(job.FilePath)
	default:
		src, err = OpenCSV(job.FilePath)
	}
	if err != nil {
		return 0, 0, err
	}
	defer src.Close()

	recorded, err := d.repo.ListChunkIndexes(ctx, job.UploadID)
	if err != nil {
		return 0, 0, fmt.Errorf("list chunks: %w", err)
	}
	skip := make(map[int]bool, len(recorded))
	for _, i := range recorded {
		skip[i] = true
	}

	var (
		total int64
		index int
		buf   = make([]models.Row, 0, d.chunkSize)
	)
	flush := func() error {
		total += int64(len(buf))
		if !skip[index] {
			if err := d.emit(ctx, job, index, buf, total); err != nil {
				return err
			}
		}
		index++
		buf = make([]models.Row, 0, d.chunkSize)
		return nil
	}

	for {
		row, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, 0, err
		}
		buf = append(buf, row)
		if len(buf) == d.chunkSize {
			if err := flush(); err != nil {
				return 0, 0, err
			}
		}
	}
	if len(buf) > 0 {
		if err := flush(); err != nil {
			return 0, 0, err
		}
	}

	if len(skip) > 0 {
		log.Info("resumed decomposition", slog.Int("skipped_chunks", len(skip)))
	}
	return total, index, nil
}

// emit stores one chunk, enqueues its row job, records it and reports
// progress, in that order.
func (d *Decomposer) emit(ctx context.Context, job queue.DecomposeJob, index int, rows []models.Row, totalSoFar int64) error {
	key := models.ChunkKey{UploadID: job.UploadID, ChunkIndex: index}

	ref, err := d.chunks.Put(ctx, key, rows)
	if err != nil {
		return fmt.Errorf("store chunk %d: %w", index, err)
	}
	if err := d.queue.Enqueue(ctx, queue.RowJob{UploadID: job.UploadID, ChunkIndex: index, ChunkPath: ref}); err != nil {
		return fmt.Errorf("enqueue chunk %d: %w", index, err)
	}
	if err := d.repo.RecordChunk(ctx, key, len(rows)); err != nil {
		return fmt.Errorf("record chunk %d: %w", index, err)
	}
	publish(ctx, d.pub, d.logger, job.UploadID, progress.EventChunkProgress, progress.ChunkProgress{
		ChunkIndex:  index,
		TotalRows:   totalSoFar,
		TotalChunks: index + 1,
	})
	return nil
}

// Fail marks the upload failed and removes the durable file. Chunks already
// enqueued keep running.
func (d *Decomposer) Fail(ctx context.Context, job queue.DecomposeJob, cause error) {
	log := d.logger.With(slog.String("upload_id", job.UploadID.String()))
	if _, err := d.repo.FailUpload(ctx, job.UploadID, cause.Error()); err != nil {
		log.Error("mark upload failed", slog.String("error", err.Error()))
	}
	removeFile(job.FilePath, log)
	publish(ctx, d.pub, log, job.UploadID, progress.EventFileProgress, progress.FileProgress{Status: models.UploadStatusFailed})
}

func removeFile(path string, log *slog.Logger) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("remove file", slog.String("path", path), slog.String("error", err.Error()))
	}
}
