// Package dispatcher fans identifiers out to a pool of workers and collects
// their results into the checkpoint on a single goroutine.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackwuyue/ybt-problem-crawler/internal/checkpoint"
	"github.com/hackwuyue/ybt-problem-crawler/internal/crawler"
	"github.com/hackwuyue/ybt-problem-crawler/internal/worker"
)

// DefaultFlushEvery is how many results are collected between checkpoint flushes.
const DefaultFlushEvery = 25

// Processor runs the pipeline for one identifier.
type Processor interface {
	Name() string
	Process(ctx context.Context, job worker.Job) crawler.ItemResult
}

// Config controls the dispatcher.
type Config struct {
	// FlushEvery saves the merged checkpoint after this many results.
	// Zero uses DefaultFlushEvery; a negative value flushes only at the end.
	FlushEvery int
	// FailureLogPath receives one failed identifier per line. Empty disables it.
	FailureLogPath string
}

// Dispatcher owns the worker pool and the checkpoint for one range.
type Dispatcher struct {
	cfg     Config
	store   crawler.CheckpointStore
	workers []Processor
	ids     crawler.IDGenerator
	clock   crawler.Clock
	logger  *zap.Logger

	mu       sync.Mutex
	progress Progress
}

// Progress is a point-in-time view of the current or last run.
type Progress struct {
	RunID     string    `json:"run_id"`
	Running   bool      `json:"running"`
	StartedAt time.Time `json:"started_at"`
	Total     int       `json:"total"`
	Collected int       `json:"collected"`
	Succeeded int       `json:"succeeded"`
	Absent    int       `json:"absent"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
}

// Progress returns a snapshot of the run counters.
func (d *Dispatcher) Progress() Progress {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.progress
}

func (d *Dispatcher) setProgress(s crawler.Summary, started time.Time, collected int, running bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.progress = Progress{
		RunID:     s.RunID,
		Running:   running,
		StartedAt: started,
		Total:     s.Attempted,
		Collected: collected,
		Succeeded: s.Succeeded,
		Absent:    s.Absent,
		Failed:    s.Failed,
		Skipped:   s.Skipped,
	}
}

// New creates a Dispatcher. At least one worker is required.
func New(
	cfg Config,
	store crawler.CheckpointStore,
	workers []Processor,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if store == nil {
		return nil, errors.New("dispatcher: checkpoint store is required")
	}
	if len(workers) == 0 {
		return nil, errors.New("dispatcher: at least one worker is required")
	}
	if cfg.FlushEvery == 0 {
		cfg.FlushEvery = DefaultFlushEvery
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:     cfg,
		store:   store,
		workers: workers,
		ids:     ids,
		clock:   clock,
		logger:  logger,
	}, nil
}

// Run crawls ids and returns the merged checkpoint contents. When resume is
// set, identifiers already present in the checkpoint are skipped. The
// checkpoint is saved at the end even if ctx is canceled, so finished work
// is not lost; the returned error is then the context error.
func (d *Dispatcher) Run(ctx context.Context, ids []int, resume bool) (crawler.Records, crawler.Summary, error) {
	started := d.now()
	summary := crawler.Summary{RunID: d.runID()}
	logger := d.logger.With(zap.String("run_id", summary.RunID))

	prev, err := d.store.Load(ctx)
	if err != nil {
		return nil, summary, fmt.Errorf("load checkpoint: %w", err)
	}

	pending := ids
	if resume {
		done := checkpoint.Completed(prev)
		pending = make([]int, 0, len(ids))
		for _, id := range ids {
			if _, ok := done[id]; ok {
				summary.Skipped++
				continue
			}
			pending = append(pending, id)
		}
		logger.Info("Resuming from checkpoint", zap.Int("skipped", summary.Skipped))
	}
	summary.Attempted = len(pending)
	if len(pending) == 0 {
		logger.Info("No problems left to crawl")
		summary.Duration = d.now().Sub(started)
		return prev, summary, nil
	}

	d.setProgress(summary, started, 0, true)
	logger.Info("Starting crawl",
		zap.Int("problems", len(pending)),
		zap.Int("workers", len(d.workers)),
	)

	results := make(chan crawler.ItemResult)
	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan int)

	g.Go(func() error {
		defer close(jobs)
		for _, id := range pending {
			select {
			case jobs <- id:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})
	for _, w := range d.workers {
		g.Go(func() error {
			for id := range jobs {
				result := w.Process(gctx, worker.Job{RunID: summary.RunID, ID: id})
				select {
				case results <- result:
				case <-gctx.Done():
					return nil
				}
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(results)
	}()

	current := make(crawler.Records, len(pending))
	collected := 0
	for result := range results {
		if result.State == crawler.StateFailed && ctx.Err() != nil {
			// Interrupted, not failed; leave it for the next run.
			continue
		}
		current[result.ID] = result.Record
		collected++
		switch {
		case result.State == crawler.StateFailed:
			summary.Failed++
			summary.FailedIDs = append(summary.FailedIDs, result.ID)
		case result.Outcome == crawler.OutcomeAbsent:
			summary.Absent++
		default:
			summary.Succeeded++
		}
		d.setProgress(summary, started, collected, true)
		if d.cfg.FlushEvery > 0 && collected%d.cfg.FlushEvery == 0 {
			if err := d.store.Save(ctx, checkpoint.Merge(prev, current)); err != nil {
				logger.Warn("Periodic checkpoint flush failed", zap.Error(err))
			} else {
				logger.Info("Checkpoint flushed", zap.Int("collected", collected), zap.Int("total", len(pending)))
			}
		}
	}
	sort.Ints(summary.FailedIDs)
	d.setProgress(summary, started, collected, false)

	merged := checkpoint.Merge(prev, current)
	if err := d.store.Save(context.WithoutCancel(ctx), merged); err != nil {
		return merged, summary, fmt.Errorf("save checkpoint: %w", err)
	}
	if err := d.writeFailureLog(summary.FailedIDs); err != nil {
		logger.Warn("Failed to write failure log", zap.Error(err))
	}

	summary.Duration = d.now().Sub(started)
	logger.Info("Crawl finished",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("absent", summary.Absent),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Duration("duration", summary.Duration),
	)
	if err := ctx.Err(); err != nil {
		return merged, summary, fmt.Errorf("crawl interrupted: %w", err)
	}
	return merged, summary, nil
}

func (d *Dispatcher) writeFailureLog(ids []int) error {
	if d.cfg.FailureLogPath == "" || len(ids) == 0 {
		return nil
	}
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(strconv.Itoa(id))
		b.WriteByte('\n')
	}
	if err := crawler.WriteFileAtomic(d.cfg.FailureLogPath, []byte(b.String())); err != nil {
		return fmt.Errorf("%w: %v", crawler.ErrPersistence, err)
	}
	return nil
}

func (d *Dispatcher) runID() string {
	if d.ids == nil {
		return ""
	}
	id, err := d.ids.NewID()
	if err != nil {
		d.logger.Warn("Failed to generate run id", zap.Error(err))
		return ""
	}
	return id
}

func (d *Dispatcher) now() time.Time {
	if d.clock == nil {
		return time.Now()
	}
	return d.clock.Now()
}
