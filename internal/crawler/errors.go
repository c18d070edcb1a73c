package crawler

import (
	"errors"
	"fmt"
)

// Error classes used across the pipeline. Callers match them with errors.Is.
var (
	ErrTransient          = errors.New("transient fetch error")
	ErrPermanent          = errors.New("permanent fetch error")
	ErrExtractionDegraded = errors.New("extraction degraded")
	ErrAsset              = errors.New("asset error")
	ErrPersistence        = errors.New("persistence error")
)

// FetchError describes a fetch that did not yield a usable response.
type FetchError struct {
	URL        string
	StatusCode int
	Attempts   int
	Err        error
	// Exhausted is set when retries ran out on a transient condition.
	Exhausted bool
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: status %d after %d attempt(s): %v", e.URL, e.StatusCode, e.Attempts, e.Err)
	}
	return fmt.Sprintf("fetch %s after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

// Unwrap exposes the underlying cause plus the error class.
func (e *FetchError) Unwrap() []error {
	if e.Exhausted {
		return []error{e.Err, ErrTransient, ErrPermanent}
	}
	return []error{e.Err, ErrPermanent}
}
