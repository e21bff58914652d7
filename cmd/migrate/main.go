package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/maraichr/sheetflow/internal/config"
	"github.com/maraichr/sheetflow/internal/store/postgres"
)

const (
	dsnFlag     = "dsn"
	versionFlag = "version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Apply or inspect the sheetflow database schema",
		SilenceUsage: true,
	}
	root.PersistentFlags().String(dsnFlag, "", "database connection string (defaults to the DB_* environment)")
	root.PersistentFlags().Int64(versionFlag, -1, "target version (up: latest, down: zero when omitted)")

	for _, c := range []struct{ name, short string }{
		{"up", "Migrate to the latest or given version"},
		{"down", "Roll back to zero or the given version"},
		{"status", "Print the status of every migration"},
	} {
		root.AddCommand(&cobra.Command{
			Use:   c.name,
			Short: c.short,
			Args:  cobra.NoArgs,
			RunE:  runMigration(c.name),
		})
	}
	return root
}

func runMigration(command string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

		dsn, _ := cmd.Flags().GetString(dsnFlag)
		version, _ := cmd.Flags().GetInt64(versionFlag)
		if dsn == "" {
			cfg, err := config.Load()
			if err != nil {
				logger.Error("failed to load config", slog.String("error", err.Error()))
				return err
			}
			dsn = cfg.Database.DSN()
		}

		if err := postgres.Migrate(cmd.Context(), dsn, command, version, logger); err != nil {
			logger.Error("migration failed", slog.String("command", command), slog.String("error", err.Error()))
			return err
		}
		logger.Info("migration finished", slog.String("command", command))
		return nil
	}
}
