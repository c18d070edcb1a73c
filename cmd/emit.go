package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hackwuyue/ybt-problem-crawler/internal/checkpoint"
	"github.com/hackwuyue/ybt-problem-crawler/internal/clock/system"
	"github.com/hackwuyue/ybt-problem-crawler/internal/config"
	"github.com/hackwuyue/ybt-problem-crawler/internal/crawler"
	"github.com/hackwuyue/ybt-problem-crawler/internal/sqlemit"
)

// newEmitCmd creates the 'emit' subcommand, which renders SQL from an
// existing checkpoint without touching the network.
func newEmitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "emit <start> <end>",
		Short: "Regenerates the SQL file from an existing checkpoint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			start, end, err := parseRange(args)
			if err != nil {
				return err
			}
			runCfg := crawler.RunConfig{Start: start, End: end, OutputDir: app.Config.Output.Dir}
			if err := runCfg.Validate(); err != nil {
				return fmt.Errorf("invalid range: %w", err)
			}
			store := checkpoint.New(runCfg.CheckpointPath(), app.Logger.Named("checkpoint"))
			emitter := newEmitter(app.Config, system.New(), app.Logger)
			return emitFromCheckpoint(cmd.Context(), store, emitter, runCfg.SQLPath(), cmd.OutOrStdout())
		},
	}
}

func newEmitter(cfg config.Config, clock crawler.Clock, logger *zap.Logger) *sqlemit.Emitter {
	return sqlemit.New(sqlemit.Config{
		Database:    cfg.SQL.Database,
		Source:      cfg.SQL.Source,
		CreateTable: cfg.SQL.CreateTable,
	}, clock, logger.Named("sqlemit"))
}

func emitFromCheckpoint(
	ctx context.Context,
	store *checkpoint.Store,
	emitter *sqlemit.Emitter,
	sqlPath string,
	out io.Writer,
) error {
	if _, err := os.Stat(store.Path()); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("checkpoint %s not found; crawl the range first", store.Path())
		}
		return fmt.Errorf("stat checkpoint: %w", err)
	}
	records, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	count, err := emitter.WriteFile(sqlPath, records)
	if err != nil {
		return fmt.Errorf("write sql: %w", err)
	}
	fmt.Fprintf(out, "wrote %d statements to %s from %s\n", count, sqlPath, store.Path())
	return nil
}
