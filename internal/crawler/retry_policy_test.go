package crawler

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryableStatus(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504} {
		assert.True(t, RetryableStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 301, 400, 403, 404, 501} {
		assert.False(t, RetryableStatus(code), "status %d", code)
	}
}

func TestShouldRetry(t *testing.T) {
	p := NewRetryPolicy(3, 10*time.Millisecond, 100*time.Millisecond)

	assert.True(t, p.ShouldRetry(nil, http.StatusServiceUnavailable, 1))
	assert.True(t, p.ShouldRetry(errors.New("connection reset"), 0, 2))
	assert.False(t, p.ShouldRetry(nil, http.StatusServiceUnavailable, 3), "attempt budget exhausted")
	assert.False(t, p.ShouldRetry(nil, http.StatusNotFound, 1))
	assert.False(t, p.ShouldRetry(context.Canceled, 0, 1))
}

func TestBackoff(t *testing.T) {
	p := NewRetryPolicy(5, 100*time.Millisecond, 300*time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 300*time.Millisecond, p.Backoff(3), "capped at max delay")
	assert.Equal(t, 100*time.Millisecond, p.Backoff(0))

	clamped := NewRetryPolicy(0, time.Second, time.Millisecond)
	assert.Equal(t, 1, clamped.MaxAttempts())
	assert.Equal(t, time.Second, clamped.Backoff(4), "max delay raised to base delay")
}

func TestPause(t *testing.T) {
	require.NoError(t, Pause(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, Pause(ctx, time.Hour), context.Canceled)
	require.ErrorIs(t, Pause(ctx, 0), context.Canceled)
}

func TestFetchErrorClasses(t *testing.T) {
	exhausted := &FetchError{URL: "u", StatusCode: 503, Attempts: 5, Err: errors.New("unavailable"), Exhausted: true}
	assert.ErrorIs(t, exhausted, ErrTransient)
	assert.ErrorIs(t, exhausted, ErrPermanent)
	assert.Contains(t, exhausted.Error(), "status 503 after 5 attempt(s)")

	permanent := &FetchError{URL: "u", StatusCode: 404, Attempts: 1, Err: errors.New("not found")}
	assert.ErrorIs(t, permanent, ErrPermanent)
	assert.NotErrorIs(t, permanent, ErrTransient)
}
