package ingestion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/maraichr/sheetflow/internal/progress"
)

// completer moves an upload to its terminal status once nothing is left to
// do. Any stage may call finish; the conditional update lets exactly one
// caller win, and only the winner publishes.
type completer struct {
	repo   Repository
	pub    progress.Publisher
	logger *slog.Logger
}

func (c *completer) finish(ctx context.Context, uploadID uuid.UUID) error {
	u, ok, err := c.repo.TryCompleteUpload(ctx, uploadID)
	if err != nil {
		return fmt.Errorf("complete upload %s: %w", uploadID, err)
	}
	if !ok {
		return nil
	}

	uploadsFinished.WithLabelValues(string(u.Status)).Inc()
	c.logger.Info("upload finished",
		slog.String("upload_id", uploadID.String()),
		slog.String("status", string(u.Status)),
		slog.Int64("processed_rows", u.ProcessedRows),
		slog.Int64("error_count", u.ErrorCount))

	publish(ctx, c.pub, c.logger, uploadID, progress.EventFileProgress, progress.FileProgress{
		Status:        u.Status,
		TotalRows:     u.TotalRows,
		ProcessedRows: &u.ProcessedRows,
		ErrorCount:    &u.ErrorCount,
	})
	return nil
}

// publish is best effort: a failed publish is logged and otherwise ignored.
func publish(ctx context.Context, pub progress.Publisher, logger *slog.Logger, uploadID uuid.UUID, typ progress.EventType, data any) {
	if err := pub.Publish(ctx, uploadID, typ, data); err != nil {
		logger.Warn("publish progress failed",
			slog.String("upload_id", uploadID.String()),
			slog.String("type", string(typ)),
			slog.String("error", err.Error()))
	}
}

func publishError(ctx context.Context, pub progress.Publisher, logger *slog.Logger, uploadID uuid.UUID, stage string, chunk *int, err error) {
	publish(ctx, pub, logger, uploadID, progress.EventError, progress.ErrorData{
		Stage:      stage,
		Message:    err.Error(),
		ChunkIndex: chunk,
	})
}
