package cmd

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const judgePage = `<html><body>
<h3>1445：Test Problem</h3>
<p>时间限制: 1000 ms 内存限制: 65536 KB</p>
<script>pshow("desc <img src=\"/pic/a.png\">")</script>
<pre>3
4</pre><pre>7</pre>
</body></html>`

func newJudge(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/pic/a.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("PNG"))
		case r.URL.Query().Get("pid") == "1445":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(judgePage))
		default:
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte("<h3>题目不存在</h3>"))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, dir, judgeURL string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf(`
crawler:
  page_url_template: "%s/problem_show.php?pid=%%d"
  rate: 0.01
http:
  max_attempts: 1
  base_delay: 1ms
logging:
  development: false
  file: ""
`, judgeURL)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCrawlEndToEnd(t *testing.T) {
	judge := newJudge(t)
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, judge.URL)

	out, err := execute(t, "crawl", "1445", "1446", "--config", cfgPath, "--output-dir", dir, "--concurrent=2")
	require.NoError(t, err, out)
	assert.Contains(t, out, "succeeded 1, absent 1, failed 0")

	checkpointData, err := os.ReadFile(filepath.Join(dir, "problems_1445_1446.json"))
	require.NoError(t, err)
	assert.Contains(t, string(checkpointData), `"1445": {`)
	assert.Contains(t, string(checkpointData), `"1446：未知题目"`)

	sql, err := os.ReadFile(filepath.Join(dir, "problems_1445_1446.sql"))
	require.NoError(t, err)
	assert.Contains(t, string(sql), "    'Test Problem',\n")
	assert.Contains(t, string(sql), "/upload/image/1445/1445_1_")
	assert.Equal(t, 1, strings.Count(string(sql), "INSERT INTO"))

	sampleIn, err := os.ReadFile(filepath.Join(dir, "data", "1445", "sample.in"))
	require.NoError(t, err)
	assert.Equal(t, "3\n4", string(sampleIn))
	_, err = os.Stat(filepath.Join(dir, "image", "1445", "1445.png"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "failed_ids.txt"))
	assert.True(t, os.IsNotExist(err))

	// A resumed run has nothing left to fetch and regenerates SQL from the checkpoint.
	judge.Close()
	out, err = execute(t, "crawl", "1445", "1446", "--config", cfgPath, "--output-dir", dir, "--resume")
	require.NoError(t, err, out)
	assert.Contains(t, out, "skipped 2")
	sqlAgain, err := os.ReadFile(filepath.Join(dir, "problems_1445_1446.sql"))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(sqlAgain), "INSERT INTO"))
}

func TestCrawlNoImageKeepsRemoteReferences(t *testing.T) {
	judge := newJudge(t)
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, judge.URL)

	out, err := execute(t, "crawl", "1445", "--config", cfgPath, "--output-dir", dir, "--no-image")
	require.NoError(t, err, out)

	sql, err := os.ReadFile(filepath.Join(dir, "problems_1445_1445.sql"))
	require.NoError(t, err)
	assert.Contains(t, string(sql), `src="/pic/a.png"`)
	_, err = os.Stat(filepath.Join(dir, "image"))
	assert.True(t, os.IsNotExist(err))
}

func TestEmitFromCheckpoint(t *testing.T) {
	judge := newJudge(t)
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, judge.URL)

	_, err := execute(t, "crawl", "1445", "--config", cfgPath, "--output-dir", dir)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(dir, "problems_1445_1445.sql")))

	out, err := execute(t, "emit", "1445", "1445", "--config", cfgPath, "--output-dir", dir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "wrote 1 statements")
	_, err = os.Stat(filepath.Join(dir, "problems_1445_1445.sql"))
	require.NoError(t, err)
}

func TestJSONOnlyRequiresCheckpoint(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "http://127.0.0.1:1")

	_, err := execute(t, "crawl", "5", "6", "--config", cfgPath, "--output-dir", dir, "--json-only")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestParseRange(t *testing.T) {
	start, end, err := parseRange(nil)
	require.NoError(t, err)
	assert.Equal(t, [2]int{1445, 1445}, [2]int{start, end})

	start, end, err = parseRange([]string{"10"})
	require.NoError(t, err)
	assert.Equal(t, [2]int{10, 10}, [2]int{start, end})

	start, end, err = parseRange([]string{"10", "20"})
	require.NoError(t, err)
	assert.Equal(t, [2]int{10, 20}, [2]int{start, end})

	_, _, err = parseRange([]string{"x"})
	require.Error(t, err)
}
