package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hackwuyue/ybt-problem-crawler/internal/api"
	"github.com/hackwuyue/ybt-problem-crawler/internal/assets"
	"github.com/hackwuyue/ybt-problem-crawler/internal/checkpoint"
	"github.com/hackwuyue/ybt-problem-crawler/internal/clock/system"
	"github.com/hackwuyue/ybt-problem-crawler/internal/config"
	"github.com/hackwuyue/ybt-problem-crawler/internal/crawler"
	"github.com/hackwuyue/ybt-problem-crawler/internal/dispatcher"
	"github.com/hackwuyue/ybt-problem-crawler/internal/extract"
	collyfetcher "github.com/hackwuyue/ybt-problem-crawler/internal/fetcher/colly"
	"github.com/hackwuyue/ybt-problem-crawler/internal/hash/sha256"
	"github.com/hackwuyue/ybt-problem-crawler/internal/id/uuid"
	"github.com/hackwuyue/ybt-problem-crawler/internal/metrics"
	"github.com/hackwuyue/ybt-problem-crawler/internal/policy/ratelimit"
	pubsubpublisher "github.com/hackwuyue/ybt-problem-crawler/internal/publisher/pubsub"
	gcsstore "github.com/hackwuyue/ybt-problem-crawler/internal/storage/gcs"
	localstore "github.com/hackwuyue/ybt-problem-crawler/internal/storage/local"
	"github.com/hackwuyue/ybt-problem-crawler/internal/storage/postgres"
	"github.com/hackwuyue/ybt-problem-crawler/internal/worker"
)

// defaultProblemID is crawled when no range is given.
const defaultProblemID = 1445

type crawlFlags struct {
	concurrent int
	resume     bool
	noImage    bool
	jsonOnly   bool
}

// newCrawlCmd creates and configures the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	var flags crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl [start] [end]",
		Short: "Crawls an inclusive range of problem ids",
		Long: `Crawls problems start..end (default 1445). Without --concurrent the ids are
fetched one at a time with a one second pause; with it a worker pool is used.
The checkpoint problems_<start>_<end>.json is always rewritten and the SQL file
problems_<start>_<end>.sql is generated from it.`,
		Args: cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			start, end, err := parseRange(args)
			if err != nil {
				return err
			}
			workers := 0
			if cmd.Flags().Changed("concurrent") {
				workers = flags.concurrent
				if workers <= 0 {
					workers = app.Config.Crawler.Workers
				}
			}
			runCfg := crawler.RunConfig{
				Start:      start,
				End:        end,
				Workers:    workers,
				Resume:     flags.resume,
				SkipImages: flags.noImage || !app.Config.Images.Enabled,
				JSONOnly:   flags.jsonOnly,
				OutputDir:  app.Config.Output.Dir,
			}
			if workers > 0 {
				runCfg = runCfg.WithDelay(app.Config.Crawler.RateDelay())
			}
			return runCrawl(cmd.Context(), app, runCfg, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.IntVarP(&flags.concurrent, "concurrent", "c", 0, "crawl with a worker pool (-c or --concurrent=N; default size from config)")
	f.Lookup("concurrent").NoOptDefVal = "0"
	f.BoolVar(&flags.resume, "resume", false, "skip ids already present in the checkpoint")
	f.BoolVar(&flags.noImage, "no-image", false, "keep image references remote")
	f.BoolVar(&flags.jsonOnly, "json-only", false, "only regenerate SQL from the existing checkpoint")
	f.Float64("rate", 0.5, "seconds between requests of one worker in concurrent mode")
	f.String("metrics-addr", "", "serve /metrics and /v1/progress on this address")
	f.String("user-agent", "", "override the User-Agent header")
	return cmd
}

func parseRange(args []string) (int, int, error) {
	start, end := defaultProblemID, defaultProblemID
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return 0, 0, fmt.Errorf("invalid start id %q: %w", args[0], err)
		}
		start, end = n, n
	}
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return 0, 0, fmt.Errorf("invalid end id %q: %w", args[1], err)
		}
		end = n
	}
	return start, end, nil
}

func runCrawl(ctx context.Context, app *App, runCfg crawler.RunConfig, out io.Writer) error {
	if err := runCfg.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	logger := app.Logger
	cfg := app.Config
	clock := system.New()
	store := checkpoint.New(runCfg.CheckpointPath(), logger.Named("checkpoint"))
	emitter := newEmitter(cfg, clock, logger)

	if runCfg.JSONOnly {
		logger.Info("Regenerating SQL from existing checkpoint", zap.String("checkpoint", store.Path()))
		return emitFromCheckpoint(ctx, store, emitter, runCfg.SQLPath(), out)
	}

	logger.Info("Crawl mode",
		zap.Bool("sequential", runCfg.Sequential()),
		zap.Int("workers", runCfg.PoolSize()),
		zap.Duration("pacing", runCfg.PacingDelay()),
		zap.Bool("images", !runCfg.SkipImages),
	)
	p, err := buildPipeline(ctx, app, runCfg, system.NewUTC())
	if err != nil {
		return err
	}
	defer p.close()

	disp, err := dispatcher.New(
		dispatcher.Config{FlushEvery: cfg.Checkpoint.FlushEvery, FailureLogPath: runCfg.FailureLogPath()},
		store,
		p.workers,
		uuid.New(),
		clock,
		logger.Named("dispatcher"),
	)
	if err != nil {
		return fmt.Errorf("init dispatcher: %w", err)
	}

	if cfg.Metrics.Addr != "" {
		serverCtx, stopServer := context.WithCancel(ctx)
		defer stopServer()
		server := api.NewServer(disp, logger.Named("api"))
		go func() {
			if err := server.ListenAndServe(serverCtx, cfg.Metrics.Addr); err != nil {
				logger.Warn("Operator endpoint stopped", zap.Error(err))
			}
		}()
	}

	records, summary, runErr := disp.Run(ctx, runCfg.IDs(), runCfg.Resume)
	if records == nil {
		return fmt.Errorf("crawl: %w", runErr)
	}
	count, err := emitter.WriteFile(runCfg.SQLPath(), records)
	if err != nil {
		return fmt.Errorf("write sql: %w", err)
	}

	printSummary(out, summary, runCfg, count)
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			logger.Warn("Crawl interrupted; checkpoint saved", zap.String("checkpoint", store.Path()))
		}
		return runErr
	}
	return nil
}

// pipeline is the set of per-run collaborators and their cleanup.
type pipeline struct {
	workers []dispatcher.Processor
	closers []func()
}

func (p *pipeline) close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
}

// buildPipeline wires one worker per pool slot. clock stamps record events and
// database rows.
func buildPipeline(ctx context.Context, app *App, runCfg crawler.RunConfig, clock crawler.Clock) (*pipeline, error) {
	cfg := app.Config
	logger := app.Logger
	p := &pipeline{}

	pageFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:   cfg.Crawler.UserAgent,
		Timeout:     cfg.HTTP.PageTimeout,
		MaxAttempts: cfg.HTTP.MaxAttempts,
		BaseDelay:   cfg.HTTP.BaseDelay,
		MaxDelay:    cfg.HTTP.MaxDelay,
		Kind:        metrics.KindPage,
	}, logger.Named("fetcher"))
	assetFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:   cfg.Crawler.UserAgent,
		Timeout:     cfg.HTTP.AssetTimeout,
		MaxAttempts: cfg.HTTP.MaxAttempts,
		BaseDelay:   cfg.HTTP.BaseDelay,
		MaxDelay:    cfg.HTTP.MaxDelay,
		Kind:        metrics.KindAsset,
	}, logger.Named("fetcher"))

	resolver, err := buildResolver(ctx, cfg, runCfg, p, logger)
	if err != nil {
		p.close()
		return nil, err
	}

	samples, err := crawler.NewSampleSink(filepath.Join(runCfg.OutputDir, cfg.Output.DataDir), logger.Named("samples"))
	if err != nil {
		p.close()
		return nil, fmt.Errorf("init sample sink: %w", err)
	}

	var sink crawler.RecordSink
	if cfg.DB.DSN != "" {
		recordStore, err := postgres.NewRecordStore(ctx, postgres.RecordStoreConfig{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: cfg.DB.MaxConns,
		}, clock)
		if err != nil {
			p.close()
			return nil, fmt.Errorf("init record store: %w", err)
		}
		p.closers = append(p.closers, recordStore.Close)
		if err := recordStore.EnsureSchema(ctx); err != nil {
			p.close()
			return nil, fmt.Errorf("ensure record schema: %w", err)
		}
		sink = recordStore
	}

	var publisher crawler.Publisher
	if cfg.PublishEnabled() {
		pub, client, err := pubsubpublisher.Connect(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			p.close()
			return nil, fmt.Errorf("init publisher: %w", err)
		}
		p.closers = append(p.closers, func() {
			pub.Stop()
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close pubsub client", zap.Error(err))
			}
		})
		publisher = pub
	}

	var hostLimiter worker.HostLimiter
	if cfg.HTTP.HostRPS > 0 {
		hostLimiter = ratelimit.New(ratelimit.Config{RPS: cfg.HTTP.HostRPS, Burst: cfg.HTTP.HostBurst})
	}

	userAgent := cfg.Crawler.UserAgent
	if userAgent == "" {
		userAgent = collyfetcher.DefaultUserAgent
	}
	robots, err := crawler.NewRobotsEnforcer(cfg.Crawler.RespectRobots, cfg.Crawler.PageURLTemplate, userAgent, logger.Named("robots"))
	if err != nil {
		p.close()
		return nil, err
	}
	extractor := extract.New(logger.Named("extract"))

	for i := 0; i < runCfg.PoolSize(); i++ {
		name := fmt.Sprintf("worker-%d", i)
		w, err := worker.New(name, worker.Config{
			PageURLTemplate: cfg.Crawler.PageURLTemplate,
			PageTimeout:     cfg.HTTP.PageTimeout,
		}, worker.Dependencies{
			PageClient:  pageFetcher.NewClient(name),
			AssetClient: assetFetcher.NewClient(name),
			Extractor:   extractor,
			Resolver:    resolver,
			Samples:     samples,
			Sink:        sink,
			Publisher:   publisher,
			Robots:      robots,
			Pacer:       ratelimit.NewPacer(runCfg.PacingDelay()),
			HostLimiter: hostLimiter,
			Clock:       clock,
		}, logger.Named("worker"))
		if err != nil {
			p.close()
			return nil, fmt.Errorf("init %s: %w", name, err)
		}
		p.workers = append(p.workers, w)
	}
	return p, nil
}

func buildResolver(
	ctx context.Context,
	cfg config.Config,
	runCfg crawler.RunConfig,
	p *pipeline,
	logger *zap.Logger,
) (*assets.Resolver, error) {
	assetCfg := assets.Config{
		Enabled:      !runCfg.SkipImages,
		PublicPrefix: cfg.Images.PublicPrefix,
		Timeout:      cfg.HTTP.AssetTimeout,
	}
	if !assetCfg.Enabled {
		return assets.New(assetCfg, nil, nil, logger.Named("assets"))
	}

	local, err := localstore.New(localstore.Config{BaseDir: filepath.Join(runCfg.OutputDir, cfg.Images.Dir)})
	if err != nil {
		return nil, fmt.Errorf("init image store: %w", err)
	}
	var secondaries []crawler.BlobStore
	if cfg.Storage.GCSBucket != "" {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		p.closers = append(p.closers, func() {
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close gcs client", zap.Error(err))
			}
		})
		bucket, err := gcsstore.New(client, gcsstore.Config{Bucket: cfg.Storage.GCSBucket, Prefix: cfg.Storage.GCSPrefix})
		if err != nil {
			return nil, fmt.Errorf("init gcs store: %w", err)
		}
		secondaries = append(secondaries, bucket)
	}
	blobs := assets.NewMirror(local, logger.Named("assets"), secondaries...)
	return assets.New(assetCfg, blobs, sha256.New(), logger.Named("assets"))
}

func printSummary(out io.Writer, s crawler.Summary, runCfg crawler.RunConfig, statements int) {
	fmt.Fprintf(out, "run %s finished in %s\n", s.RunID, s.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "  attempted %d, succeeded %d, absent %d, failed %d, skipped %d\n",
		s.Attempted, s.Succeeded, s.Absent, s.Failed, s.Skipped)
	fmt.Fprintf(out, "  checkpoint: %s\n", runCfg.CheckpointPath())
	fmt.Fprintf(out, "  sql: %s (%d statements)\n", runCfg.SQLPath(), statements)
	if s.Failed > 0 {
		fmt.Fprintf(out, "  failed ids: %s\n", runCfg.FailureLogPath())
	}
}
