package progress

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
)

// Multi publishes to every wrapped publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, uploadID uuid.UUID, typ EventType, data any) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, uploadID, typ, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Logging records each event at debug level.
type Logging struct {
	Logger *slog.Logger
}

func (l Logging) Publish(ctx context.Context, uploadID uuid.UUID, typ EventType, data any) error {
	l.Logger.DebugContext(ctx, "progress",
		slog.String("upload_id", uploadID.String()),
		slog.String("type", string(typ)),
		slog.Any("data", data))
	return nil
}
