package ingestion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maraichr/sheetflow/internal/queue"
)

// Dispatcher routes queued jobs to their stage. It implements queue.Handler.
type Dispatcher struct {
	intake     *Intake
	decomposer *Decomposer
	rows       *RowProcessor
	logger     *slog.Logger
}

func NewDispatcher(intake *Intake, decomposer *Decomposer, rows *RowProcessor, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{intake: intake, decomposer: decomposer, rows: rows, logger: logger}
}

func (d *Dispatcher) Handle(ctx context.Context, job queue.Job) error {
	switch j := job.(type) {
	case queue.IntakeJob:
		return d.intake.Handle(ctx, j)
	case queue.DecomposeJob:
		return d.decomposer.Handle(ctx, j)
	case queue.RowJob:
		return d.rows.Handle(ctx, j)
	default:
		return permanent(fmt.Errorf("no handler for job %T", job))
	}
}

func (d *Dispatcher) Fail(ctx context.Context, job queue.Job, err error) {
	switch j := job.(type) {
	case queue.IntakeJob:
		d.intake.Fail(ctx, j, err)
	case queue.DecomposeJob:
		d.decomposer.Fail(ctx, j, err)
	case queue.RowJob:
		d.rows.Fail(ctx, j, err)
	default:
		d.logger.Error("no fail hook for job", slog.String("type", fmt.Sprintf("%T", job)), slog.String("error", err.Error()))
	}
}
