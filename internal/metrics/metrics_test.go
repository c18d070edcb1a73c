package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()
	require.NotNil(t, crawlerRecordsTotal)
	require.NotNil(t, crawlerFetchAttemptsTotal)
	require.NotNil(t, crawlerActiveWorkers)
}

func TestObserveRecord(t *testing.T) {
	Init()
	before := testutil.ToFloat64(crawlerRecordsTotal.WithLabelValues("absent"))
	ObserveRecord("absent")
	assert.InDelta(t, before+1, testutil.ToFloat64(crawlerRecordsTotal.WithLabelValues("absent")), 0.0001)
}

func TestActiveWorkersGauge(t *testing.T) {
	Init()
	before := testutil.ToFloat64(crawlerActiveWorkers)
	IncActiveWorkers()
	assert.InDelta(t, before+1, testutil.ToFloat64(crawlerActiveWorkers), 0.0001)
	DecActiveWorkers()
	assert.InDelta(t, before, testutil.ToFloat64(crawlerActiveWorkers), 0.0001)
}

func TestFetchObservations(t *testing.T) {
	ObserveFetchAttempt(KindPage, "ok")
	ObserveFetchDuration(KindPage, 150*time.Millisecond)
	ObserveAsset("downloaded")
	ObserveCheckpointFlush()

	assert.GreaterOrEqual(t, testutil.ToFloat64(crawlerFetchAttemptsTotal.WithLabelValues(KindPage, "ok")), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(crawlerAssetsTotal.WithLabelValues("downloaded")), 1.0)
	assert.GreaterOrEqual(t, testutil.CollectAndCount(crawlerFetchDuration), 1)
}

func TestMiddleware(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, path := range []string{"/healthz", "/missing"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.GreaterOrEqual(t, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200")), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "404")), 1.0)
}
