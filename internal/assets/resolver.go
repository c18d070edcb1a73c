// Package assets downloads images referenced by problem statements and
// rewrites their references to the judge's local upload path.
package assets

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/hackwuyue/ybt-problem-crawler/internal/crawler"
	"github.com/hackwuyue/ybt-problem-crawler/internal/metrics"
)

// Defaults used when Config leaves fields empty.
const (
	DefaultPublicPrefix = "/upload/image"
	DefaultTimeout      = 15 * time.Second
	hashLength          = 10
)

// Config controls image localization.
type Config struct {
	Enabled      bool
	PublicPrefix string
	Timeout      time.Duration
}

// existenceChecker is implemented by stores that can report whether an
// object is already present.
type existenceChecker interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// Resolver implements crawler.AssetResolver.
type Resolver struct {
	cfg    Config
	store  crawler.BlobStore
	hasher crawler.Hasher
	logger *zap.Logger
}

var _ crawler.AssetResolver = (*Resolver)(nil)

// New builds a Resolver. store and hasher may be nil only when images are disabled.
func New(cfg Config, store crawler.BlobStore, hasher crawler.Hasher, logger *zap.Logger) (*Resolver, error) {
	if cfg.Enabled && (store == nil || hasher == nil) {
		return nil, fmt.Errorf("asset resolver requires a blob store and hasher when enabled")
	}
	if cfg.PublicPrefix == "" {
		cfg.PublicPrefix = DefaultPublicPrefix
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{cfg: cfg, store: store, hasher: hasher, logger: logger}, nil
}

// Resolve downloads every <img> in a record's fragments through client and
// points each src at the stored copy. An image URL is fetched once per record
// even when several fragments reference it. Images that cannot be fetched
// keep their original reference. Fragments are returned untouched when images
// are disabled.
func (r *Resolver) Resolve(
	ctx context.Context,
	client crawler.Fetcher,
	id int,
	pageURL string,
	fragments ...string,
) ([]string, crawler.AssetReport) {
	out := make([]string, len(fragments))
	copy(out, fragments)
	var report crawler.AssetReport
	if !r.cfg.Enabled {
		return out, report
	}

	pass := &recordPass{id: id, pageURL: pageURL, client: client, seen: make(map[string]string)}
	for i, fragment := range fragments {
		out[i] = r.rewrite(ctx, pass, fragment, &report)
	}
	return out, report
}

// recordPass carries per-record state across the fragments of one record.
type recordPass struct {
	id      int
	pageURL string
	client  crawler.Fetcher
	seen    map[string]string
	seq     int
}

func (r *Resolver) rewrite(ctx context.Context, pass *recordPass, fragment string, report *crawler.AssetReport) string {
	if !strings.Contains(fragment, "<img") {
		return fragment
	}
	id := pass.id
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		r.logger.Warn("Failed to parse fragment for images", zap.Int("id", id), zap.Error(err))
		return fragment
	}

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok || strings.TrimSpace(src) == "" {
			return
		}
		pass.seq++
		src = crawler.UnescapeContent(src)
		abs, err := crawler.ResolveReference(pass.pageURL, src)
		if err != nil {
			r.logger.Warn("Unresolvable image reference", zap.Int("id", id), zap.String("src", src), zap.Error(err))
			report.Failed++
			metrics.ObserveAsset("failed")
			return
		}
		if public, ok := pass.seen[abs]; ok {
			s.SetAttr("src", public)
			report.Reused++
			metrics.ObserveAsset("reused")
			return
		}

		public, err := r.localize(ctx, pass.client, abs, id, pass.seq)
		if err != nil {
			r.logger.Warn("Image download failed; keeping remote reference",
				zap.Int("id", id), zap.String("url", abs), zap.Error(err))
			report.Failed++
			metrics.ObserveAsset("failed")
			return
		}
		pass.seen[abs] = public
		s.SetAttr("src", public)
		report.Downloaded++
		metrics.ObserveAsset("downloaded")
	})

	rendered, err := doc.Find("body").Html()
	if err != nil {
		r.logger.Warn("Failed to render fragment", zap.Int("id", id), zap.Error(err))
		return fragment
	}
	return rendered
}

func (r *Resolver) localize(ctx context.Context, client crawler.Fetcher, abs string, id, seq int) (string, error) {
	resp, err := client.Fetch(ctx, abs, r.cfg.Timeout)
	if err != nil {
		return "", fmt.Errorf("%w: %w", crawler.ErrAsset, err)
	}
	if resp.StatusCode != 200 {
		return "", fmt.Errorf("%w: status %d for %s", crawler.ErrAsset, resp.StatusCode, abs)
	}

	digest, err := r.hasher.Hash([]byte(abs))
	if err != nil {
		return "", fmt.Errorf("%w: hash %s: %w", crawler.ErrAsset, abs, err)
	}
	if len(digest) > hashLength {
		digest = digest[:hashLength]
	}
	ext := Extension(resp.ContentType(), abs)
	filename := crawler.SanitizeFilename(fmt.Sprintf("%d_%d_%s%s", id, seq, digest, ext))
	dir := strconv.Itoa(id)

	if _, err := r.store.PutObject(ctx, path.Join(dir, filename), resp.ContentType(), bytes.NewReader(resp.Body)); err != nil {
		return "", fmt.Errorf("%w: store %s: %w", crawler.ErrAsset, filename, err)
	}
	r.logger.Debug("Downloaded image", zap.Int("id", id), zap.String("file", filename))
	r.writeCompatCopy(ctx, id, ext, resp)

	return path.Join("/", r.cfg.PublicPrefix, dir, filename), nil
}

// writeCompatCopy stores <id><ext> once per problem for templates that
// reference the image by problem id alone.
func (r *Resolver) writeCompatCopy(ctx context.Context, id int, ext string, resp crawler.FetchResponse) {
	name := path.Join(strconv.Itoa(id), crawler.SanitizeFilename(fmt.Sprintf("%d%s", id, ext)))
	if checker, ok := r.store.(existenceChecker); ok {
		exists, err := checker.Exists(ctx, name)
		if err != nil {
			r.logger.Warn("Failed to check compat image", zap.String("path", name), zap.Error(err))
			return
		}
		if exists {
			return
		}
	}
	if _, err := r.store.PutObject(ctx, name, resp.ContentType(), bytes.NewReader(resp.Body)); err != nil {
		r.logger.Warn("Failed to write compat image", zap.String("path", name), zap.Error(err))
	}
}

// Extension picks a file extension from the response content type, falling
// back to the URL path and finally ".jpg".
func Extension(contentType, rawURL string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "png"):
		return ".png"
	case strings.Contains(ct, "gif"):
		return ".gif"
	case strings.Contains(ct, "jpeg"), strings.Contains(ct, "jpg"):
		return ".jpg"
	}
	if u, err := url.Parse(rawURL); err == nil {
		if ext := path.Ext(u.Path); ext != "" && len(ext) <= 6 {
			return ext
		}
	}
	return ".jpg"
}
