// Package sqlemit renders problem records as MySQL insert statements for the
// judge's problem table.
package sqlemit

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/hackwuyue/ybt-problem-crawler/internal/crawler"
)

// Defaults used when Config leaves fields empty.
const (
	DefaultDatabase = "jol"
	DefaultSource   = "信息学奥赛一本通（C++版）在线评测系统"
	inDateLayout    = "2006-01-02 15:04:05"
)

var (
	titlePrefixPattern = regexp.MustCompile(`^\d+[：:.、]`)
	blankLinePattern   = regexp.MustCompile(`\n\s*\n`)
)

const problemSchema = "CREATE TABLE IF NOT EXISTS `problem` (\n" +
	"    `problem_id` INT NOT NULL AUTO_INCREMENT,\n" +
	"    `title` VARCHAR(200) NOT NULL DEFAULT '',\n" +
	"    `description` TEXT,\n" +
	"    `input` TEXT,\n" +
	"    `output` TEXT,\n" +
	"    `sample_input` TEXT,\n" +
	"    `sample_output` TEXT,\n" +
	"    `spj` CHAR(1) NOT NULL DEFAULT '0',\n" +
	"    `hint` TEXT,\n" +
	"    `source` VARCHAR(100) DEFAULT NULL,\n" +
	"    `in_date` DATETIME DEFAULT NULL,\n" +
	"    `time_limit` DECIMAL(10,3) NOT NULL DEFAULT 0,\n" +
	"    `memory_limit` INT NOT NULL DEFAULT 0,\n" +
	"    `defunct` CHAR(1) NOT NULL DEFAULT 'N',\n" +
	"    `accepted` INT DEFAULT 0,\n" +
	"    `submit` INT DEFAULT 0,\n" +
	"    `solved` INT DEFAULT 0,\n" +
	"    `remote_oj` VARCHAR(16) DEFAULT NULL,\n" +
	"    `remote_id` VARCHAR(32) DEFAULT NULL,\n" +
	"    PRIMARY KEY (`problem_id`)\n" +
	") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;\n"

// Config controls the generated script.
type Config struct {
	Database    string
	Source      string
	CreateTable bool
}

// Emitter renders records to SQL.
type Emitter struct {
	cfg    Config
	clock  crawler.Clock
	logger *zap.Logger
}

// New returns an Emitter. The clock stamps in_date once per Emit call.
func New(cfg Config, clock crawler.Clock, logger *zap.Logger) *Emitter {
	if cfg.Database == "" {
		cfg.Database = DefaultDatabase
	}
	if cfg.Source == "" {
		cfg.Source = DefaultSource
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{cfg: cfg, clock: clock, logger: logger}
}

// Emit writes the preamble followed by one INSERT per existing record in
// ascending id order. It returns the number of statements written.
func (e *Emitter) Emit(w io.Writer, records crawler.Records) (int, error) {
	inDate := e.now().Format(inDateLayout)

	var buf bytes.Buffer
	buf.WriteString(e.preamble())
	count := 0
	for _, id := range records.IDs() {
		rec := records[id]
		if !rec.Exists {
			e.logger.Debug("Skipping absent problem", zap.Int("id", id))
			continue
		}
		buf.WriteString(e.insert(rec, inDate))
		buf.WriteString("\n\n")
		count++
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return 0, fmt.Errorf("%w: write sql: %v", crawler.ErrPersistence, err)
	}
	return count, nil
}

// WriteFile renders records to path atomically.
func (e *Emitter) WriteFile(path string, records crawler.Records) (int, error) {
	var buf bytes.Buffer
	count, err := e.Emit(&buf, records)
	if err != nil {
		return 0, err
	}
	if err := crawler.WriteFileAtomic(path, buf.Bytes()); err != nil {
		return 0, fmt.Errorf("%w: %v", crawler.ErrPersistence, err)
	}
	e.logger.Info("Wrote SQL file", zap.String("path", path), zap.Int("statements", count))
	return count, nil
}

// Insert renders a single record stamped with the current time.
func (e *Emitter) Insert(rec crawler.Record) string {
	return e.insert(rec, e.now().Format(inDateLayout))
}

func (e *Emitter) now() time.Time {
	if e.clock == nil {
		return time.Now()
	}
	return e.clock.Now()
}

func (e *Emitter) preamble() string {
	var b strings.Builder
	b.WriteString("-- 设置字符集\nSET NAMES utf8mb4;\n\n")
	fmt.Fprintf(&b, "-- 使用数据库\nUSE %s;\n\n", e.cfg.Database)
	if e.cfg.CreateTable {
		b.WriteString("-- 创建题目表\n")
		b.WriteString(problemSchema)
		b.WriteString("\n")
	}
	b.WriteString("-- 插入题目数据\n")
	return b.String()
}

func (e *Emitter) insert(rec crawler.Record, inDate string) string {
	title := strings.TrimSpace(StripTitlePrefix(EscapeSQL(rec.Title)))
	description := fieldHTML(rec.DescriptionHTML, rec.DescriptionText)
	input := fieldHTML(rec.InputHTML, rec.InputText)
	output := fieldHTML(rec.OutputHTML, rec.OutputText)
	timeLimit := float64(rec.TimeLimitMs) / 1000
	memoryLimit := int(rec.MemoryLimitKb) / 1024

	return fmt.Sprintf("INSERT INTO `problem` (\n"+
		"    `title`, `description`, `input`, `output`, `sample_input`, `sample_output`,\n"+
		"    `spj`, `hint`, `source`, `in_date`, `time_limit`, `memory_limit`,\n"+
		"    `defunct`, `accepted`, `submit`, `solved`, `remote_oj`, `remote_id`\n"+
		") VALUES (\n"+
		"    '%s',\n"+
		"    '%s',\n"+
		"    '%s',\n"+
		"    '%s',\n"+
		"    '%s',\n"+
		"    '%s',\n"+
		"    '0',\n"+
		"    NULL,\n"+
		"    '%s',\n"+
		"    '%s',\n"+
		"    %.3f,\n"+
		"    %d,\n"+
		"    'N',\n"+
		"    0,\n"+
		"    0,\n"+
		"    0,\n"+
		"    NULL,\n"+
		"    NULL\n"+
		");",
		title,
		description,
		input,
		output,
		EscapeSQL(rec.SampleInput),
		EscapeSQL(rec.SampleOutput),
		EscapeSQL(e.cfg.Source),
		inDate,
		timeLimit,
		memoryLimit,
	)
}

// fieldHTML prefers the HTML view and falls back to the text view when the
// HTML is empty.
func fieldHTML(htmlView, textView string) string {
	if out := EscapeSQL(EnsureParagraphs(htmlView)); out != "" {
		return out
	}
	return EscapeSQL(EnsureParagraphs(textView))
}

// EscapeSQL normalizes script escapes and entities, then escapes the result
// for a single-quoted MySQL literal.
func EscapeSQL(s string) string {
	if s == "" {
		return ""
	}
	s = crawler.UnescapeContent(s)
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `''`)
}

// StripTitlePrefix removes a leading problem number such as "1000：".
func StripTitlePrefix(title string) string {
	return titlePrefixPattern.ReplaceAllString(title, "")
}

// EnsureParagraphs wraps plain text in <p> elements, one per blank-line
// separated paragraph, with single newlines turned into <br>. Fragments that
// already contain <p>, <div> or <img> are returned unchanged.
func EnsureParagraphs(fragment string) string {
	if fragment == "" {
		return fragment
	}
	if strings.Contains(fragment, "<p>") || strings.Contains(fragment, "<div>") || strings.Contains(fragment, "<img") {
		return fragment
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	text := strings.TrimSpace(doc.Text())
	if text == "" {
		return fragment
	}
	var b strings.Builder
	for _, para := range blankLinePattern.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		b.WriteString("<p>")
		b.WriteString(strings.ReplaceAll(para, "\n", "<br>"))
		b.WriteString("</p>")
	}
	if b.Len() == 0 {
		return fragment
	}
	return b.String()
}
