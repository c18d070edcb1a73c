package checkpoint

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackwuyue/ybt-problem-crawler/internal/crawler"
)

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out", "problems_2_10.json")
	store := New(path, zap.NewNop())

	records := crawler.Records{
		10: {ID: 10, Title: "10：<b>加法</b>", DescriptionHTML: "<p>a & b</p>", TimeLimitMs: 1000, MemoryLimitKb: 65536, Exists: true},
		2:  crawler.NewAbsentRecord(2),
	}
	require.NoError(t, store.Save(ctx, records))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, records, loaded)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must be renamed away")
}

func TestEncodeFormat(t *testing.T) {
	data, err := Encode(crawler.Records{
		10: {ID: 10, Title: "10：题", Exists: true, TimeLimitMs: 1000, MemoryLimitKb: 32768},
		2:  {ID: 2, Title: "2：<i>x</i>", Exists: true, TimeLimitMs: 1000, MemoryLimitKb: 32768},
	})
	require.NoError(t, err)
	text := string(data)

	assert.Less(t, strings.Index(text, `"2":`), strings.Index(text, `"10":`), "keys sort numerically")
	assert.Contains(t, text, `"title": "10：题"`, "UTF-8 is written verbatim")
	assert.Contains(t, text, `<i>x</i>`, "HTML is not escaped")
	assert.Contains(t, text, `"time_limit": "1000"`)
	assert.True(t, strings.HasPrefix(text, "{\n  \"2\": {\n    \"title\""), "two-space indentation:\n%s", text)

	var generic map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &generic))
	assert.Len(t, generic, 2)

	empty, err := Encode(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}\n", string(empty))
}

func TestLoadMissingFile(t *testing.T) {
	records, err := New(filepath.Join(t.TempDir(), "none.json"), nil).Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	records, err := New(path, nil).Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestLoadLegacyDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.json")
	doc := `{
  "1445": {"title": "1445：平台", "time_limit": "1000", "memory_limit": 65536, "sample_output": "7"},
  "abc": {"title": "dropped"},
  "1446": {"title": "1446：未知题目", "exists": false}
}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	records, err := New(path, nil).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	rec := records[1445]
	assert.Equal(t, 1445, rec.ID)
	assert.True(t, rec.Exists, "missing exists key means the problem exists")
	assert.Equal(t, crawler.Limit(65536), rec.MemoryLimitKb)
	assert.False(t, records[1446].Exists)
}

func TestMergeAndCompleted(t *testing.T) {
	prev := crawler.Records{1: {ID: 1, Title: "ok", Exists: true}}
	next := crawler.Records{1: crawler.NewFailedRecord(1), 2: crawler.NewAbsentRecord(2)}

	merged := Merge(prev, next)
	assert.Equal(t, "ok", merged[1].Title)
	assert.Contains(t, merged, 2)

	assert.Equal(t, map[int]struct{}{1: {}, 2: {}}, Completed(merged))
	assert.Len(t, Merge(nil, next), 2)
}

func TestSaveHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	path := filepath.Join(t.TempDir(), "c.json")
	require.Error(t, New(path, nil).Save(ctx, crawler.Records{}))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
