package assets

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/hackwuyue/ybt-problem-crawler/internal/crawler"
)

// Mirror writes every object to a primary store and copies it to any number
// of secondary stores. Secondary failures are logged and do not fail the put.
type Mirror struct {
	primary     crawler.BlobStore
	secondaries []crawler.BlobStore
	logger      *zap.Logger
}

// NewMirror returns a store that fans writes out from primary.
func NewMirror(primary crawler.BlobStore, logger *zap.Logger, secondaries ...crawler.BlobStore) *Mirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{primary: primary, secondaries: secondaries, logger: logger}
}

// PutObject implements crawler.BlobStore and returns the primary URI.
func (m *Mirror) PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error) {
	body, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read object body: %w", err)
	}
	uri, err := m.primary.PutObject(ctx, path, contentType, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	for _, s := range m.secondaries {
		mirrorURI, err := s.PutObject(ctx, path, contentType, bytes.NewReader(body))
		if err != nil {
			m.logger.Warn("Mirror write failed", zap.String("path", path), zap.Error(err))
			continue
		}
		m.logger.Debug("Mirrored object", zap.String("path", path), zap.String("uri", mirrorURI))
	}
	return uri, nil
}

// Exists consults the primary store only.
func (m *Mirror) Exists(ctx context.Context, path string) (bool, error) {
	checker, ok := m.primary.(existenceChecker)
	if !ok {
		return false, nil
	}
	return checker.Exists(ctx, path)
}
