// Package extract turns a judge problem page into a crawler.Record.
package extract

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/hackwuyue/ybt-problem-crawler/internal/crawler"
)

var (
	timeLimitPattern   = regexp.MustCompile(`时间限制\s*[:：]\s*(\d+)\s*ms`)
	memoryLimitPattern = regexp.MustCompile(`内存限制\s*[:：]\s*(\d+)\s*KB`)
	payloadPattern     = regexp.MustCompile(`(?s)pshow\("(.*?)"\)`)
	tagPattern         = regexp.MustCompile(`<[^>]+>`)
)

// Extractor implements crawler.Extractor with goquery.
type Extractor struct {
	logger *zap.Logger
}

var _ crawler.Extractor = (*Extractor)(nil)

// New returns an Extractor.
func New(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger}
}

// Extract never panics. Internal faults yield OutcomeDegraded with a
// placeholder record.
func (e *Extractor) Extract(markup []byte, id int) (rec crawler.Record, outcome crawler.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Extraction panicked", zap.Int("id", id), zap.Any("panic", r))
			rec, outcome = crawler.NewFailedRecord(id), crawler.OutcomeDegraded
		}
	}()

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		e.logger.Warn("Failed to parse problem page", zap.Int("id", id), zap.Error(err))
		return crawler.NewFailedRecord(id), crawler.OutcomeDegraded
	}

	title, ok := findTitle(doc, id)
	if !ok {
		return crawler.NewAbsentRecord(id), crawler.OutcomeAbsent
	}

	rec = crawler.Record{
		ID:            id,
		Title:         title,
		Exists:        true,
		TimeLimitMs:   crawler.DefaultTimeLimitMs,
		MemoryLimitKb: crawler.DefaultMemoryLimitKb,
	}
	pageText := doc.Text()
	if v, ok := matchLimit(timeLimitPattern, pageText); ok {
		rec.TimeLimitMs = v
	}
	if v, ok := matchLimit(memoryLimitPattern, pageText); ok {
		rec.MemoryLimitKb = v
	}

	a := Disambiguate(ScriptBlocks(doc))
	rec.DescriptionHTML, rec.DescriptionText = a.Description.HTML, a.Description.Text
	rec.InputHTML, rec.InputText = a.Input.HTML, a.Input.Text
	rec.OutputHTML, rec.OutputText = a.Output.HTML, a.Output.Text

	rec.SampleInput, rec.SampleOutput = samples(doc)

	e.logger.Debug("Extracted problem",
		zap.Int("id", id),
		zap.String("title", title),
		zap.Int("time_limit_ms", int(rec.TimeLimitMs)),
		zap.Int("memory_limit_kb", int(rec.MemoryLimitKb)),
	)
	return rec, crawler.OutcomeOK
}

func findTitle(doc *goquery.Document, id int) (string, bool) {
	needle := strconv.Itoa(id)
	var title string
	doc.Find("h3").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if strings.Contains(text, needle) {
			title = text
			return false
		}
		return true
	})
	return title, title != ""
}

func matchLimit(pattern *regexp.Regexp, text string) (crawler.Limit, bool) {
	m := pattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return crawler.Limit(n), true
}

// ScriptBlocks returns the payload of every script that calls pshow, in
// document order. Scripts without a usable payload are skipped.
func ScriptBlocks(doc *goquery.Document) []Block {
	var blocks []Block
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		src := s.Text()
		if !strings.Contains(src, "pshow") {
			return
		}
		payload, ok := Payload(src)
		if !ok {
			return
		}
		html := DecodePayload(payload)
		if html == "" {
			return
		}
		blocks = append(blocks, Block{HTML: html, Text: TextView(html)})
	})
	return blocks
}

// Payload returns the string literal passed to the first pshow call in src.
func Payload(src string) (string, bool) {
	m := payloadPattern.FindStringSubmatch(src)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// DecodePayload undoes script escaping and turns literal \n and \t
// sequences into whitespace.
func DecodePayload(payload string) string {
	s := crawler.UnescapeContent(payload)
	s = strings.ReplaceAll(s, `\n`, "\n")
	return strings.ReplaceAll(s, `\t`, "\t")
}

// TextView strips markup from a fragment.
func TextView(fragment string) string {
	return strings.TrimSpace(tagPattern.ReplaceAllString(fragment, ""))
}

func samples(doc *goquery.Document) (input, output string) {
	pres := doc.Find("pre")
	switch {
	case pres.Length() >= 2:
		return strings.TrimSpace(pres.Eq(0).Text()), strings.TrimSpace(pres.Eq(1).Text())
	case pres.Length() == 1:
		return "", strings.TrimSpace(pres.Eq(0).Text())
	default:
		return "", ""
	}
}
