// Package worker runs the per-identifier crawl pipeline: fetch the problem
// page, extract the record, localize images, write samples and fan the
// result out to the optional sinks.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hackwuyue/ybt-problem-crawler/internal/crawler"
	"github.com/hackwuyue/ybt-problem-crawler/internal/metrics"
)

// Event names attached to published record events.
const (
	EventPersisted = "record.persisted"
	EventFailed    = "record.failed"
)

// DefaultPageTimeout bounds one page request attempt.
const DefaultPageTimeout = 10 * time.Second

// Config controls Worker behavior.
type Config struct {
	PageURLTemplate string
	PageTimeout     time.Duration
}

// HostLimiter is a rate limit shared by all workers.
type HostLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Dependencies are the collaborators a Worker uses. PageClient and Extractor
// are required; the rest may be nil to disable that stage.
type Dependencies struct {
	PageClient  crawler.Fetcher
	AssetClient crawler.Fetcher
	Extractor   crawler.Extractor
	Resolver    crawler.AssetResolver
	Samples     crawler.SampleWriter
	Sink        crawler.RecordSink
	Publisher   crawler.Publisher
	Robots      crawler.RobotsPolicy
	Pacer       crawler.Pacer
	HostLimiter HostLimiter
	Clock       crawler.Clock
}

// Job identifies one unit of work.
type Job struct {
	RunID string
	ID    int
}

// RecordEvent is the payload published for every terminal identifier.
type RecordEvent struct {
	RunID   string    `json:"run_id"`
	ID      int       `json:"id"`
	Title   string    `json:"title"`
	Exists  bool      `json:"exists"`
	State   string    `json:"state"`
	Outcome string    `json:"outcome"`
	Images  int       `json:"images"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// Worker processes one identifier at a time with its own fetch session.
type Worker struct {
	name   string
	cfg    Config
	deps   Dependencies
	logger *zap.Logger
}

// New constructs a Worker.
func New(name string, cfg Config, deps Dependencies, logger *zap.Logger) (*Worker, error) {
	if deps.PageClient == nil {
		return nil, fmt.Errorf("worker %s: page client is required", name)
	}
	if deps.Extractor == nil {
		return nil, fmt.Errorf("worker %s: extractor is required", name)
	}
	if cfg.PageURLTemplate == "" {
		return nil, fmt.Errorf("worker %s: page url template is required", name)
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = DefaultPageTimeout
	}
	if deps.AssetClient == nil {
		deps.AssetClient = deps.PageClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		name:   name,
		cfg:    cfg,
		deps:   deps,
		logger: logger.With(zap.String("worker", name)),
	}, nil
}

// Name returns the worker label used in logs.
func (w *Worker) Name() string {
	return w.name
}

// Process runs the pipeline for job.ID. It never returns a nil-record result:
// failures carry the "does not exist" placeholder and Err.
func (w *Worker) Process(ctx context.Context, job Job) crawler.ItemResult {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	id := job.ID
	url := crawler.PageURL(w.cfg.PageURLTemplate, id)
	log := w.logger.With(zap.Int("id", id))
	w.transition(log, crawler.StatePending)

	if w.deps.Robots != nil && !w.deps.Robots.Allowed(ctx, url) {
		return w.fail(ctx, job, log, fmt.Errorf("%w: disallowed by robots.txt: %s", crawler.ErrPermanent, url))
	}
	if err := w.pace(ctx, url); err != nil {
		return w.fail(ctx, job, log, err)
	}

	w.transition(log, crawler.StateFetching)
	resp, err := w.deps.PageClient.Fetch(ctx, url, w.cfg.PageTimeout)
	if err != nil {
		return w.fail(ctx, job, log, err)
	}
	if resp.StatusCode != http.StatusOK {
		return w.fail(ctx, job, log, &crawler.FetchError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Attempts:   resp.Attempts,
			Err:        errors.New("unexpected status"),
		})
	}

	w.transition(log, crawler.StateExtracting)
	rec, outcome := w.deps.Extractor.Extract(resp.Body, id)
	switch outcome {
	case crawler.OutcomeDegraded:
		return w.fail(ctx, job, log, fmt.Errorf("%w: problem %d", crawler.ErrExtractionDegraded, id))
	case crawler.OutcomeAbsent:
		log.Info("Problem does not exist", zap.String("title", rec.Title))
		result := crawler.ItemResult{ID: id, Record: rec, State: crawler.StatePersisted, Outcome: outcome}
		w.finish(ctx, job, log, result)
		return result
	}

	w.transition(log, crawler.StateResolvingAssets)
	var report crawler.AssetReport
	if w.deps.Resolver != nil {
		fields := []*string{&rec.DescriptionHTML, &rec.InputHTML, &rec.OutputHTML}
		out, r := w.deps.Resolver.Resolve(ctx, w.deps.AssetClient, id, url,
			rec.DescriptionHTML, rec.InputHTML, rec.OutputHTML)
		for i, field := range fields {
			*field = out[i]
		}
		report.Add(r)
	}

	if w.deps.Samples != nil {
		if dir, err := w.deps.Samples.WriteSamples(ctx, rec); err != nil {
			log.Warn("Failed to write sample files", zap.Error(err))
		} else {
			log.Debug("Wrote sample files", zap.String("dir", dir))
		}
	}

	result := crawler.ItemResult{
		ID:      id,
		Record:  rec,
		State:   crawler.StatePersisted,
		Outcome: outcome,
		Assets:  report,
	}
	log.Info("Crawled problem",
		zap.String("title", rec.Title),
		zap.Int("images_downloaded", report.Downloaded),
		zap.Int("images_failed", report.Failed),
		zap.Int("attempts", resp.Attempts),
	)
	w.finish(ctx, job, log, result)
	return result
}

func (w *Worker) pace(ctx context.Context, url string) error {
	if w.deps.Pacer != nil {
		if err := w.deps.Pacer.Wait(ctx); err != nil {
			return err
		}
	}
	if w.deps.HostLimiter != nil {
		if err := w.deps.HostLimiter.Wait(ctx, url); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) fail(ctx context.Context, job Job, log *zap.Logger, err error) crawler.ItemResult {
	log.Warn("Problem failed", zap.Error(err))
	result := crawler.ItemResult{
		ID:      job.ID,
		Record:  crawler.NewFailedRecord(job.ID),
		State:   crawler.StateFailed,
		Outcome: crawler.OutcomeDegraded,
		Err:     err,
	}
	w.finish(ctx, job, log, result)
	return result
}

// finish records metrics and mirrors the result into the optional sinks.
// Sink failures are logged and never change the result.
func (w *Worker) finish(ctx context.Context, job Job, log *zap.Logger, result crawler.ItemResult) {
	w.transition(log, result.State)
	metrics.ObserveRecord(statusLabel(result))

	if w.deps.Sink != nil && result.State == crawler.StatePersisted {
		if err := w.deps.Sink.StoreRecord(ctx, result.Record); err != nil {
			log.Warn("Failed to mirror record", zap.Error(err))
		}
	}
	if w.deps.Publisher != nil {
		event := RecordEvent{
			RunID:   job.RunID,
			ID:      result.ID,
			Title:   result.Record.Title,
			Exists:  result.Record.Exists,
			State:   string(result.State),
			Outcome: result.Outcome.String(),
			Images:  result.Assets.Downloaded + result.Assets.Reused,
			At:      w.now(),
		}
		topic := EventPersisted
		if result.Err != nil {
			event.Error = result.Err.Error()
			topic = EventFailed
		}
		if msgID, err := w.deps.Publisher.Publish(ctx, topic, event); err != nil {
			log.Warn("Failed to publish record event", zap.Error(err))
		} else {
			log.Debug("Published record event", zap.String("message_id", msgID))
		}
	}
}

func (w *Worker) transition(log *zap.Logger, state crawler.State) {
	log.Debug("State transition", zap.String("state", string(state)))
}

func (w *Worker) now() time.Time {
	if w.deps.Clock == nil {
		return time.Now().UTC()
	}
	return w.deps.Clock.Now()
}

func statusLabel(result crawler.ItemResult) string {
	switch {
	case result.State == crawler.StateFailed:
		return "failed"
	case result.Outcome == crawler.OutcomeAbsent:
		return "absent"
	default:
		return "ok"
	}
}
