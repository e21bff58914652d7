package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"

	"github.com/maraichr/sheetflow/internal/progress"
	"github.com/maraichr/sheetflow/internal/queue"
	"github.com/maraichr/sheetflow/internal/store/postgres"
	"github.com/maraichr/sheetflow/pkg/models"
)

// SubmitParams describes a validated upload handed over by the HTTP layer.
type SubmitParams struct {
	FilePath     string
	MimeType     string
	OriginalName string
	SizeBytes    int64
}

// Intake records new uploads and moves them into durable working storage.
type Intake struct {
	repo    Repository
	queue   queue.Enqueuer
	pub     progress.Publisher
	workDir string
	logger  *slog.Logger
}

func NewIntake(repo Repository, q queue.Enqueuer, pub progress.Publisher, workDir string, logger *slog.Logger) *Intake {
	return &Intake{repo: repo, queue: q, pub: pub, workDir: workDir, logger: logger}
}

// Submit creates the upload record and enqueues its intake job.
func (i *Intake) Submit(ctx context.Context, p SubmitParams) (models.Upload, error) {
	u, err := i.repo.CreateUpload(ctx, postgres.CreateUploadParams{
		ID:           uuid.New(),
		OriginalName: p.OriginalName,
		MimeType:     p.MimeType,
		SizeBytes:    p.SizeBytes,
	})
	if err != nil {
		return models.Upload{}, fmt.Errorf("create upload: %w", err)
	}

	err = i.queue.Enqueue(ctx, queue.IntakeJob{
		UploadID:     u.ID,
		FilePath:     p.FilePath,
		MimeType:     p.MimeType,
		OriginalName: p.OriginalName,
		SizeBytes:    p.SizeBytes,
	})
	if err != nil {
		if _, ferr := i.repo.FailUpload(ctx, u.ID, "could not enqueue intake job"); ferr != nil {
			i.logger.Error("mark upload failed", slog.String("upload_id", u.ID.String()), slog.String("error", ferr.Error()))
		}
		return models.Upload{}, fmt.Errorf("enqueue intake: %w", err)
	}

	i.logger.Info("upload submitted",
		slog.String("upload_id", u.ID.String()),
		slog.String("original_name", p.OriginalName),
		slog.Int64("size_bytes", p.SizeBytes))
	return u, nil
}

// DurablePath is where an upload's file lives once intake has run.
func (i *Intake) DurablePath(job queue.IntakeJob) string {
	return filepath.Join(i.workDir, fmt.Sprintf("%s-%s", job.UploadID, filepath.Base(job.FilePath)))
}

func (i *Intake) Handle(ctx context.Context, job queue.IntakeJob) error {
	log := i.logger.With(slog.String("upload_id", job.UploadID.String()))

	u, err := i.repo.GetUpload(ctx, job.UploadID)
	if err != nil {
		return fmt.Errorf("load upload: %w", err)
	}
	if u.Status != models.UploadStatusPending && u.Status != models.UploadStatusUploaded {
		log.Info("intake already done, skipping", slog.String("status", string(u.Status)))
		return nil
	}

	dest := i.DurablePath(job)
	if err := relocate(job.FilePath, dest); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			ierr := &IntakeError{UploadID: job.UploadID, Path: job.FilePath, Err: err}
			publishError(ctx, i.pub, log, job.UploadID, "intake", nil, ierr)
			return permanent(ierr)
		}
		err = fmt.Errorf("relocate upload: %w", err)
		publishError(ctx, i.pub, log, job.UploadID, "intake", nil, err)
		return err
	}

	if _, err := i.repo.AdvanceUploadStatus(ctx, job.UploadID,
		[]models.UploadStatus{models.UploadStatusPending}, models.UploadStatusUploaded); err != nil {
		return fmt.Errorf("mark uploaded: %w", err)
	}
	publish(ctx, i.pub, log, job.UploadID, progress.EventFileProgress, progress.FileProgress{Status: models.UploadStatusUploaded})

	if err := i.queue.Enqueue(ctx, queue.DecomposeJob{
		UploadID: job.UploadID,
		FilePath: dest,
		MimeType: job.MimeType,
	}); err != nil {
		err = fmt.Errorf("enqueue decompose: %w", err)
		publishError(ctx, i.pub, log, job.UploadID, "intake", nil, err)
		return err
	}

	log.Info("upload relocated", slog.String("path", dest))
	return nil
}

// Fail marks the upload failed and removes whatever is left of the file.
func (i *Intake) Fail(ctx context.Context, job queue.IntakeJob, cause error) {
	log := i.logger.With(slog.String("upload_id", job.UploadID.String()))
	if _, err := i.repo.FailUpload(ctx, job.UploadID, cause.Error()); err != nil {
		log.Error("mark upload failed", slog.String("error", err.Error()))
	}
	for _, p := range []string{job.FilePath, i.DurablePath(job)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warn("remove upload file", slog.String("path", p), slog.String("error", err.Error()))
		}
	}
	publish(ctx, i.pub, log, job.UploadID, progress.EventFileProgress, progress.FileProgress{Status: models.UploadStatusFailed})
}

// relocate moves src to dest. An existing dest means an earlier delivery
// already moved the file, so the call succeeds and any leftover src is
// removed. It returns fs.ErrNotExist when neither file exists.
func relocate(src, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		if err := os.Remove(src); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	if _, err := os.Stat(src); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	err := os.Rename(src, dest)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}
	if err := copyFile(src, dest); err != nil {
		return err
	}
	return os.Remove(src)
}

// copyFile copies through a temp file so dest only ever appears complete.
func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dest)
}
