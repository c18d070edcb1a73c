package crawler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Sample file names expected by the judge's data importer.
const (
	SampleInputFile  = "sample.in"
	SampleOutputFile = "sample.out"
)

// SampleSink writes sample.in / sample.out per record under root/<title key>/.
type SampleSink struct {
	root   string
	logger *zap.Logger
}

// NewSampleSink returns a sink rooted at dir.
func NewSampleSink(root string, logger *zap.Logger) (*SampleSink, error) {
	if root == "" {
		return nil, fmt.Errorf("sample root is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create sample dir %s: %w", root, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SampleSink{root: root, logger: logger}, nil
}

// WriteSamples implements SampleWriter. Records that do not exist are skipped
// and yield an empty path.
func (s *SampleSink) WriteSamples(ctx context.Context, rec Record) (string, error) {
	if !rec.Exists {
		s.logger.Debug("Skipping samples for absent problem", zap.Int("id", rec.ID))
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context canceled: %w", err)
	}
	dir := filepath.Join(s.root, TitleKey(rec))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("%w: creating sample dir %s: %v", ErrPersistence, dir, err)
	}
	files := []struct {
		name string
		body string
	}{
		{SampleInputFile, rec.SampleInput},
		{SampleOutputFile, rec.SampleOutput},
	}
	for _, f := range files {
		target := filepath.Join(dir, f.name)
		if err := os.WriteFile(target, []byte(f.body), 0o600); err != nil {
			return "", fmt.Errorf("%w: writing %s: %v", ErrPersistence, target, err)
		}
	}
	s.logger.Debug("Saved sample files", zap.Int("id", rec.ID), zap.String("dir", dir))
	return dir, nil
}

// WriteFileAtomic writes data to path+".tmp" and renames it into place, so
// readers never observe a partially written file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
