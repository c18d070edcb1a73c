package crawler

import (
	"fmt"
	"path/filepath"
	"time"
)

// Default pacing between consecutive requests of one worker.
const (
	DefaultSequentialDelay = time.Second
	DefaultConcurrentDelay = 500 * time.Millisecond
	DefaultWorkers         = 3
)

// RunConfig captures the knobs the CLI hands to the pipeline for one run.
// Workers == 0 selects sequential mode. A nil Delay selects the mode's
// default pacing; an explicit zero disables pacing.
type RunConfig struct {
	Start      int
	End        int
	Workers    int
	Resume     bool
	SkipImages bool
	JSONOnly   bool
	Delay      *time.Duration
	OutputDir  string
}

// Validate checks for obviously bad configuration combinations.
func (c RunConfig) Validate() error {
	if c.Start <= 0 {
		return fmt.Errorf("start id must be > 0")
	}
	if c.End < c.Start {
		return fmt.Errorf("end id %d must be >= start id %d", c.End, c.Start)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0")
	}
	if c.Delay != nil && *c.Delay < 0 {
		return fmt.Errorf("delay must be >= 0")
	}
	return nil
}

// WithDelay returns a copy of c with an explicit pacing delay.
func (c RunConfig) WithDelay(d time.Duration) RunConfig {
	c.Delay = &d
	return c
}

// Sequential reports whether the run processes one identifier at a time.
func (c RunConfig) Sequential() bool {
	return c.Workers <= 1
}

// PoolSize is the number of workers to start; sequential mode is a pool of one.
func (c RunConfig) PoolSize() int {
	if c.Workers <= 0 {
		return 1
	}
	return c.Workers
}

// PacingDelay returns the effective minimum delay between requests per worker.
func (c RunConfig) PacingDelay() time.Duration {
	if c.Delay != nil {
		return *c.Delay
	}
	if c.Workers <= 0 {
		return DefaultSequentialDelay
	}
	return DefaultConcurrentDelay
}

// IDs enumerates the inclusive identifier range.
func (c RunConfig) IDs() []int {
	if c.End < c.Start {
		return nil
	}
	ids := make([]int, 0, c.End-c.Start+1)
	for id := c.Start; id <= c.End; id++ {
		ids = append(ids, id)
	}
	return ids
}

// CheckpointPath is the JSON document for this range.
func (c RunConfig) CheckpointPath() string {
	return filepath.Join(c.OutputDir, fmt.Sprintf("problems_%d_%d.json", c.Start, c.End))
}

// SQLPath is the SQL output file for this range.
func (c RunConfig) SQLPath() string {
	return filepath.Join(c.OutputDir, fmt.Sprintf("problems_%d_%d.sql", c.Start, c.End))
}

// FailureLogPath is the plain list of identifiers that failed outright.
func (c RunConfig) FailureLogPath() string {
	return filepath.Join(c.OutputDir, "failed_ids.txt")
}
