package postgres

import (
	"context"
	"embed"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

// Migrate runs goose against the embedded migrations. version < 0 means
// "latest" for up and "zero" for down.
func Migrate(ctx context.Context, dsn, command string, version int64, logger *slog.Logger) error {
	db, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration db: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(gooseLogger{logger})

	switch command {
	case "up":
		if version < 0 {
			err = goose.UpContext(ctx, db, migrationsDir)
		} else {
			err = goose.UpToContext(ctx, db, migrationsDir, version)
		}
	case "down":
		if version < 0 {
			err = goose.DownToContext(ctx, db, migrationsDir, 0)
		} else {
			err = goose.DownToContext(ctx, db, migrationsDir, version)
		}
	case "status":
		err = goose.StatusContext(ctx, db, migrationsDir)
	default:
		return fmt.Errorf("unknown migrate command %q", command)
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", command, err)
	}
	return nil
}

type gooseLogger struct {
	logger *slog.Logger
}

func (l gooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, v...), slog.String("component", "goose"))
}

func (l gooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...), slog.String("component", "goose"))
}
