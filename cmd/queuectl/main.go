package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/maraichr/sheetflow/internal/config"
	"github.com/maraichr/sheetflow/internal/queue"
	vk "github.com/maraichr/sheetflow/internal/store/valkey"
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
		Use:          "queuectl",
		Short:        "Inspect and clear the sheetflow job queues",
		SilenceUsage: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print length, pending, delayed and dead-letter counts per queue",
		Args:  cobra.NoArgs,
		RunE: withBroker(func(ctx context.Context, b *queue.Broker, cmd *cobra.Command) error {
			stats, err := b.Stats(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		}),
	})

	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete every queued, delayed and dead-lettered job",
		Args:  cobra.NoArgs,
		RunE: withBroker(func(ctx context.Context, b *queue.Broker, cmd *cobra.Command) error {
			if yes, _ := cmd.Flags().GetBool("yes"); !yes {
				return errors.New("refusing to purge without --yes")
			}
			if err := b.Purge(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "all queues purged")
			return nil
		}),
	}
	purge.Flags().Bool("yes", false, "confirm the purge")
	root.AddCommand(purge)

	return root
}

func withBroker(fn func(context.Context, *queue.Broker, *cobra.Command) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		client, err := vk.NewClient(cmd.Context(), cfg.Valkey)
		if err != nil {
			return fmt.Errorf("connect to valkey: %w", err)
		}
		defer client.Close()
		return fn(cmd.Context(), queue.NewBroker(client, logger), cmd)
	}
}
