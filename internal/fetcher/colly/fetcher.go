// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/hackwuyue/ybt-problem-crawler/internal/crawler"
	"github.com/hackwuyue/ybt-problem-crawler/internal/metrics"
)

// DefaultUserAgent is sent when no user agent is configured.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// Config controls collector behavior.
type Config struct {
	UserAgent string
	// Timeout bounds a single attempt when the caller passes no timeout.
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Kind labels fetch metrics, e.g. "page" or "asset".
	Kind string
}

// Fetcher owns the base collector and the shared connection pool.
// Workers obtain their own Client through NewClient.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 600 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	if cfg.Kind == "" {
		cfg.Kind = metrics.KindPage
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false))
	c.UserAgent = cfg.UserAgent
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	c.WithTransport(newHTTPTransport())
	// Per-call deadlines come from the request context; this is the ceiling.
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{cfg: cfg, baseCollector: c, logger: logger}
}

// Client is one worker's fetch session. It shares the parent's connection pool.
type Client struct {
	parent    *Fetcher
	collector *colly.Collector
	retry     *crawler.ExponentialRetryPolicy
	name      string
}

// NewClient returns a session for a single worker.
func (f *Fetcher) NewClient(name string) *Client {
	return &Client{
		parent:    f,
		collector: f.baseCollector.Clone(),
		retry:     crawler.NewRetryPolicy(f.cfg.MaxAttempts, f.cfg.BaseDelay, f.cfg.MaxDelay),
		name:      name,
	}
}

// Fetch implements crawler.Fetcher on the parent with a throwaway session.
func (f *Fetcher) Fetch(ctx context.Context, url string, timeout time.Duration) (crawler.FetchResponse, error) {
	return f.NewClient("adhoc").Fetch(ctx, url, timeout)
}

// Fetch performs a GET with bounded retries on transient failures.
// Any non-retryable non-2xx status ends the call with a permanent FetchError.
func (c *Client) Fetch(ctx context.Context, url string, timeout time.Duration) (crawler.FetchResponse, error) {
	if timeout <= 0 {
		timeout = c.parent.cfg.Timeout
	}
	kind := c.parent.cfg.Kind
	start := time.Now()
	defer func() { metrics.ObserveFetchDuration(kind, time.Since(start)) }()

	var (
		lastStatus int
		lastErr    error
	)
	for attempt := 1; ; attempt++ {
		resp, err := c.attempt(ctx, url, timeout)
		resp.Attempts = attempt
		lastStatus, lastErr = resp.StatusCode, err

		switch {
		case err != nil:
			metrics.ObserveFetchAttempt(kind, "error")
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			metrics.ObserveFetchAttempt(kind, "ok")
			resp.Duration = time.Since(start)
			return resp, nil
		default:
			metrics.ObserveFetchAttempt(kind, "status_"+strconv.Itoa(resp.StatusCode))
		}

		if ctx.Err() != nil {
			return crawler.FetchResponse{}, &crawler.FetchError{
				URL: url, StatusCode: lastStatus, Attempts: attempt, Err: ctx.Err(),
			}
		}
		if !c.retry.ShouldRetry(err, resp.StatusCode, attempt) {
			return crawler.FetchResponse{}, c.giveUp(url, attempt, lastStatus, lastErr)
		}

		delay := c.retry.Backoff(attempt)
		c.parent.logger.Debug("Retrying fetch",
			zap.String("client", c.name),
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Int("status", resp.StatusCode),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if perr := crawler.Pause(ctx, delay); perr != nil {
			return crawler.FetchResponse{}, &crawler.FetchError{
				URL: url, StatusCode: lastStatus, Attempts: attempt, Err: perr,
			}
		}
	}
}

func (c *Client) giveUp(url string, attempts, status int, err error) error {
	transient := err != nil || crawler.RetryableStatus(status)
	if err == nil {
		err = errors.New(http.StatusText(status))
	}
	return &crawler.FetchError{
		URL:        url,
		StatusCode: status,
		Attempts:   attempts,
		Err:        err,
		Exhausted:  transient && attempts >= c.retry.MaxAttempts(),
	}
}

// attempt runs one GET through a fresh clone bound to a deadline.
func (c *Client) attempt(ctx context.Context, url string, timeout time.Duration) (crawler.FetchResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	collector := c.collector.Clone()
	collector.Context = attemptCtx

	var (
		result   crawler.FetchResponse
		fetchErr error
	)
	start := time.Now()
	configureCollectorHooks(collector, start, &result, &fetchErr)

	if err := collector.Visit(url); err != nil {
		return result, fmt.Errorf("colly visit failed: %w", err)
	}
	if fetchErr != nil {
		return result, fmt.Errorf("colly response failed: %w", fetchErr)
	}
	return result, nil
}

func configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *crawler.FetchResponse,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = crawler.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			result.StatusCode = r.StatusCode
		}
		*fetchErr = err
	})
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}
