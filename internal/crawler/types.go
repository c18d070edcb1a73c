package crawler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"
)

// Default limits applied when the problem page does not state them.
const (
	DefaultTimeLimitMs   = 1000
	DefaultMemoryLimitKb = 32768
)

// Limit is a numeric limit stored as a decimal string in the checkpoint file.
// Decoding accepts both strings and JSON numbers.
type Limit int

// MarshalJSON implements json.Marshaler.
func (l Limit) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.Itoa(int(l)))
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *Limit) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode limit: %w", err)
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("decode limit %q: %w", s, err)
		}
		*l = Limit(n)
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode limit: %w", err)
	}
	*l = Limit(n)
	return nil
}

// Record is the structured representation of one judge problem.
// The ID is carried by the checkpoint map key and is not serialized.
type Record struct {
	ID              int    `json:"-"`
	Title           string `json:"title"`
	DescriptionHTML string `json:"description"`
	InputHTML       string `json:"input"`
	OutputHTML      string `json:"output"`
	SampleInput     string `json:"sample_input"`
	SampleOutput    string `json:"sample_output"`
	TimeLimitMs     Limit  `json:"time_limit"`
	MemoryLimitKb   Limit  `json:"memory_limit"`
	DescriptionText string `json:"description_text"`
	InputText       string `json:"input_text"`
	OutputText      string `json:"output_text"`
	Exists          bool   `json:"exists"`
}

// UnmarshalJSON decodes a record, treating a missing "exists" key as true
// the way older checkpoint files expect.
func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	aux := struct {
		*plain
		Exists *bool `json:"exists"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.Exists = aux.Exists == nil || *aux.Exists
	return nil
}

// NewAbsentRecord builds the placeholder stored for an identifier whose page
// has no matching title.
func NewAbsentRecord(id int) Record {
	return Record{
		ID:            id,
		Title:         fmt.Sprintf("%d：未知题目", id),
		TimeLimitMs:   DefaultTimeLimitMs,
		MemoryLimitKb: DefaultMemoryLimitKb,
	}
}

// NewFailedRecord builds the placeholder stored for an identifier whose
// pipeline failed outright, so the next run does not silently retry it.
func NewFailedRecord(id int) Record {
	return Record{
		ID:            id,
		Title:         fmt.Sprintf("%d：题目不存在", id),
		TimeLimitMs:   DefaultTimeLimitMs,
		MemoryLimitKb: DefaultMemoryLimitKb,
	}
}

// Records maps problem identifiers to their last known record.
type Records map[int]Record

// IDs returns the identifiers in ascending order.
func (r Records) IDs() []int {
	ids := make([]int, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Clone returns a shallow copy of the mapping.
func (r Records) Clone() Records {
	out := make(Records, len(r))
	for id, rec := range r {
		out[id] = rec
	}
	return out
}

// Merge returns prev overlaid with next. A stored record is only replaced by
// a record that exists.
func (r Records) Merge(next Records) Records {
	out := r.Clone()
	for id, rec := range next {
		out[id] = Prefer(out[id], rec, hasKey(r, id))
	}
	return out
}

// Prefer chooses between a previously stored record and a newly computed one.
// The stored record wins unless the new one exists.
func Prefer(prev, next Record, hadPrev bool) Record {
	if hadPrev && !next.Exists {
		return prev
	}
	return next
}

func hasKey(r Records, id int) bool {
	_, ok := r[id]
	return ok
}

// State is the lifecycle position of one identifier inside a crawl.
type State string

// Identifier states, in pipeline order.
const (
	StatePending         State = "pending"
	StateFetching        State = "fetching"
	StateExtracting      State = "extracting"
	StateResolvingAssets State = "resolving_assets"
	StatePersisted       State = "persisted"
	StateFailed          State = "failed"
)

// Outcome classifies the result of extracting one page.
type Outcome int

// Extraction outcomes.
const (
	// OutcomeOK means a title was found and fields were populated.
	OutcomeOK Outcome = iota
	// OutcomeAbsent means the page carries no title for the identifier.
	OutcomeAbsent
	// OutcomeDegraded means extraction hit an internal fault.
	OutcomeDegraded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeAbsent:
		return "absent"
	case OutcomeDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Attempts   int
}

// ContentType returns the declared response content type.
func (r FetchResponse) ContentType() string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get("Content-Type")
}

// AssetReport summarizes one Asset Resolver pass.
type AssetReport struct {
	Downloaded int
	Reused     int
	Failed     int
}

// Add accumulates another report into r.
func (r *AssetReport) Add(other AssetReport) {
	r.Downloaded += other.Downloaded
	r.Reused += other.Reused
	r.Failed += other.Failed
}

// ItemResult is what a worker hands back to the dispatcher for one identifier.
type ItemResult struct {
	ID      int
	Record  Record
	State   State
	Outcome Outcome
	Assets  AssetReport
	Err     error
}

// Summary reports the totals of one crawl run.
type Summary struct {
	RunID     string
	Attempted int
	Succeeded int
	Absent    int
	Failed    int
	Skipped   int
	FailedIDs []int
	Duration  time.Duration
}
