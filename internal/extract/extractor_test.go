package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackwuyue/ybt-problem-crawler/internal/crawler"
)

const problemPage = `<html><head><title>信息学奥赛一本通</title></head><body>
<h3>1445：平台</h3>
<p>时间限制: 2000 ms &nbsp; 内存限制：65536 KB</p>
<script type="text/javascript">pshow("desc")</script>
<pre>3
4</pre>
<pre>7
</pre>
</body></html>`

func TestExtractSingleBlockScenario(t *testing.T) {
	rec, outcome := New(zap.NewNop()).Extract([]byte(problemPage), 1445)
	require.Equal(t, crawler.OutcomeOK, outcome)
	assert.True(t, rec.Exists)
	assert.Equal(t, 1445, rec.ID)
	assert.Equal(t, "1445：平台", rec.Title)
	assert.Equal(t, crawler.Limit(2000), rec.TimeLimitMs)
	assert.Equal(t, crawler.Limit(65536), rec.MemoryLimitKb)
	assert.Equal(t, "desc", rec.DescriptionHTML)
	assert.Equal(t, "desc", rec.DescriptionText)
	assert.Empty(t, rec.InputHTML)
	assert.Empty(t, rec.OutputHTML)
	assert.Equal(t, "3\n4", rec.SampleInput)
	assert.Equal(t, "7", rec.SampleOutput)
}

func TestExtractThreeBlocks(t *testing.T) {
	page := `<h3>1000：入门测试题目</h3>
<script>pshow("<p class=\"q\">求两个整数的和。<\/p>")</script>
<script>pshow("一行，两个整数a\\nb")</script>
<script>var x = 1;</script>
<script>pshow("it\'s &amp; done")</script>
<pre>1 2</pre>`

	rec, outcome := New(nil).Extract([]byte(page), 1000)
	require.Equal(t, crawler.OutcomeOK, outcome)
	assert.Equal(t, `<p class="q">求两个整数的和。<\/p>`, rec.DescriptionHTML)
	assert.Equal(t, "一行，两个整数a\nb", rec.InputText, "escaped newline decodes to a line break")
	assert.Equal(t, "it's & done", rec.OutputHTML)
	assert.Equal(t, crawler.Limit(crawler.DefaultTimeLimitMs), rec.TimeLimitMs)
	assert.Equal(t, crawler.Limit(crawler.DefaultMemoryLimitKb), rec.MemoryLimitKb)
	assert.Empty(t, rec.SampleInput, "a single pre block is the output sample")
	assert.Equal(t, "1 2", rec.SampleOutput)
}

func TestExtractAbsentPage(t *testing.T) {
	page := `<html><body><h3>题目不存在</h3><pre>ignored</pre></body></html>`
	rec, outcome := New(nil).Extract([]byte(page), 9999)
	require.Equal(t, crawler.OutcomeAbsent, outcome)
	assert.False(t, rec.Exists)
	assert.Equal(t, "9999：未知题目", rec.Title)
	assert.Empty(t, rec.SampleOutput)
}

func TestExtractTitleMustContainID(t *testing.T) {
	page := `<h3>1444：别的题</h3><h3> 1445：平台 </h3>`
	rec, outcome := New(nil).Extract([]byte(page), 1445)
	require.Equal(t, crawler.OutcomeOK, outcome)
	assert.Equal(t, "1445：平台", rec.Title)
}

func TestDecodePayload(t *testing.T) {
	assert.Equal(t, "a\nb\tc", DecodePayload(`a\nb\tc`))
	assert.Equal(t, `say "hi"`, DecodePayload(`say \"hi\"`))
	assert.Equal(t, "<b>x</b>", DecodePayload("&lt;b&gt;x&lt;/b&gt;"))
}

func TestPayload(t *testing.T) {
	got, ok := Payload("pshow(\"line1\nline2\");pshow(\"second\")")
	require.True(t, ok)
	assert.Equal(t, "line1\nline2", got)

	_, ok = Payload("show(1)")
	assert.False(t, ok)
}

func TestTextView(t *testing.T) {
	assert.Equal(t, "a b", TextView("  <p>a <img src=\"x.png\">b</p>\n"))
}
