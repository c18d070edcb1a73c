package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

const robotsMaxBytes = 1 << 20

// JudgeRobots gates problem pages on the judge's robots.txt. Only the judge
// host is governed; the file is read once per run. A robots.txt that cannot be
// fetched leaves the judge open for the rest of the run.
type JudgeRobots struct {
	origin    url.URL
	userAgent string
	client    *http.Client
	logger    *zap.Logger

	mu     sync.Mutex
	loaded bool
	group  *robotstxt.Group
}

// NewRobotsEnforcer returns an allow-all policy unless respect is set.
// pageTemplate names the judge; see PageURL.
func NewRobotsEnforcer(respect bool, pageTemplate, userAgent string, logger *zap.Logger) (RobotsPolicy, error) {
	if !respect {
		return allowAllPolicy{}, nil
	}
	page, err := url.Parse(PageURL(pageTemplate, 1))
	if err != nil || page.Host == "" {
		return nil, fmt.Errorf("robots: judge url from %q is not absolute", pageTemplate)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JudgeRobots{
		origin:    url.URL{Scheme: page.Scheme, Host: strings.ToLower(page.Host)},
		userAgent: userAgent,
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    logger,
	}, nil
}

// Allowed implements RobotsPolicy.
func (j *JudgeRobots) Allowed(ctx context.Context, rawURL string) bool {
	target, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if !strings.EqualFold(target.Host, j.origin.Host) {
		return true
	}
	group := j.rules(ctx)
	if group == nil {
		return true
	}
	return group.Test(requestTarget(target))
}

// rules returns the judge's group for our user agent, loading robots.txt on
// first use. nil means everything is allowed.
func (j *JudgeRobots) rules(ctx context.Context) *robotstxt.Group {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.loaded {
		return j.group
	}
	data, err := j.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		j.logger.Warn("robots.txt unavailable; allowing the judge for this run",
			zap.String("host", j.origin.Host), zap.Error(err))
	} else {
		j.group = data.FindGroup(j.userAgent)
	}
	j.loaded = true
	return j.group
}

func (j *JudgeRobots) fetch(ctx context.Context) (*robotstxt.RobotsData, error) {
	robotsURL := j.origin
	robotsURL.Path = "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", j.userAgent)
	resp, err := j.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			j.logger.Debug("Failed to close robots response body", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, robotsMaxBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	return data, nil
}

// requestTarget is the path plus query that robots rules are matched against.
// Problem pages differ only by query string.
func requestTarget(u *url.URL) string {
	target := u.EscapedPath()
	if target == "" {
		target = "/"
	}
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}
	return target
}

type allowAllPolicy struct{}

func (allowAllPolicy) Allowed(context.Context, string) bool { return true }
