// Package checkpoint persists the identifier → record mapping as a single
// JSON document so interrupted runs can resume.
package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/hackwuyue/ybt-problem-crawler/internal/crawler"
	"github.com/hackwuyue/ybt-problem-crawler/internal/metrics"
)

// Store reads and writes one checkpoint file.
type Store struct {
	path   string
	logger *zap.Logger
}

var _ crawler.CheckpointStore = (*Store)(nil)

// New returns a Store for path.
func New(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, logger: logger}
}

// Path returns the checkpoint file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the checkpoint. A missing file yields an empty mapping, as does
// a corrupt one (with a warning). Keys that are not integers are dropped.
func (s *Store) Load(ctx context.Context) (crawler.Records, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context canceled: %w", err)
	}
	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return crawler.Records{}, nil
	case err != nil:
		return nil, fmt.Errorf("%w: read checkpoint %s: %v", crawler.ErrPersistence, s.path, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Warn("Checkpoint is not valid JSON; starting empty", zap.String("path", s.path), zap.Error(err))
		return crawler.Records{}, nil
	}

	records := make(crawler.Records, len(raw))
	for key, body := range raw {
		id, err := strconv.Atoi(key)
		if err != nil {
			s.logger.Warn("Dropping non-integer checkpoint key", zap.String("key", key))
			continue
		}
		var rec crawler.Record
		if err := json.Unmarshal(body, &rec); err != nil {
			s.logger.Warn("Dropping undecodable checkpoint entry", zap.Int("id", id), zap.Error(err))
			continue
		}
		rec.ID = id
		records[id] = rec
	}
	s.logger.Debug("Loaded checkpoint", zap.String("path", s.path), zap.Int("records", len(records)))
	return records, nil
}

// Save writes records in ascending id order with two-space indentation and
// unescaped UTF-8, to a temporary file that is then renamed over the target.
func (s *Store) Save(ctx context.Context, records crawler.Records) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	data, err := Encode(records)
	if err != nil {
		return fmt.Errorf("%w: encode checkpoint: %v", crawler.ErrPersistence, err)
	}
	if err := crawler.WriteFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("%w: %v", crawler.ErrPersistence, err)
	}
	metrics.ObserveCheckpointFlush()
	s.logger.Debug("Saved checkpoint", zap.String("path", s.path), zap.Int("records", len(records)))
	return nil
}

// Merge overlays next onto prev. See crawler.Records.Merge.
func Merge(prev, next crawler.Records) crawler.Records {
	if prev == nil {
		prev = crawler.Records{}
	}
	return prev.Merge(next)
}

// Completed returns the set of identifiers present in records.
func Completed(records crawler.Records) map[int]struct{} {
	done := make(map[int]struct{}, len(records))
	for id := range records {
		done[id] = struct{}{}
	}
	return done
}

// Encode renders records as the checkpoint document.
func Encode(records crawler.Records) ([]byte, error) {
	if len(records) == 0 {
		return []byte("{}\n"), nil
	}
	var buf bytes.Buffer
	buf.WriteString("{\n")
	ids := records.IDs()
	for i, id := range ids {
		body, err := encodeRecord(records[id])
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", id, err)
		}
		fmt.Fprintf(&buf, "  %q: %s", strconv.Itoa(id), body)
		if i < len(ids)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

func encodeRecord(rec crawler.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("  ", "  ")
	if err := enc.Encode(rec); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
