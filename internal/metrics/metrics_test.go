package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/glossifier-terms/internal/refresh"
)

func TestObserveSuccess(t *testing.T) {
	t.Parallel()

	rec := NewRecorder()
	started := time.Unix(1_700_000_000, 0)
	rec.Observe(refresh.OutcomeSuccess, refresh.Result{
		Bytes:            2048,
		RegexRowsCleared: 9,
		StartedAt:        started,
		Duration:         3 * time.Second,
	})

	assert.InDelta(t, 1, testutil.ToFloat64(rec.refreshTotal.WithLabelValues("success")), 0)
	assert.InDelta(t, 2048, testutil.ToFloat64(rec.payloadBytes), 0)
	assert.InDelta(t, 9, testutil.ToFloat64(rec.regexRowsCleared), 0)
	assert.InDelta(t, 1_700_000_003, testutil.ToFloat64(rec.lastSuccess), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(rec.refreshDuration))
}

func TestObserveFailureKeepsLastSuccess(t *testing.T) {
	t.Parallel()

	rec := NewRecorder()
	rec.Observe(refresh.OutcomeSuccess, refresh.Result{Bytes: 10, StartedAt: time.Unix(100, 0)})
	rec.Observe(refresh.OutcomeTransportError, refresh.Result{Bytes: 0, StartedAt: time.Unix(200, 0)})

	assert.InDelta(t, 1, testutil.ToFloat64(rec.refreshTotal.WithLabelValues("transport_error")), 0)
	assert.InDelta(t, 10, testutil.ToFloat64(rec.payloadBytes), 0)
	assert.InDelta(t, 100, testutil.ToFloat64(rec.lastSuccess), 0)
}

func TestOutcomesArePreRegistered(t *testing.T) {
	t.Parallel()

	rec := NewRecorder()
	assert.Equal(t, 4, testutil.CollectAndCount(rec.refreshTotal))

	expected := `
# HELP glossifier_terms_refresh_total Total number of terms refresh runs, labeled by outcome.
# TYPE glossifier_terms_refresh_total counter
glossifier_terms_refresh_total{outcome="connection_error"} 0
glossifier_terms_refresh_total{outcome="persistence_error"} 0
glossifier_terms_refresh_total{outcome="success"} 0
glossifier_terms_refresh_total{outcome="transport_error"} 0
`
	require.NoError(t, testutil.GatherAndCompare(rec.Registry(), strings.NewReader(expected),
		"glossifier_terms_refresh_total"))
}

func TestHandlerServesRegistry(t *testing.T) {
	t.Parallel()

	rec := NewRecorder().WithRuntimeCollectors()
	rec.Observe(refresh.OutcomeConnectionError, refresh.Result{})

	srv := httptest.NewServer(rec.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `glossifier_terms_refresh_total{outcome="connection_error"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestPush(t *testing.T) {
	t.Parallel()

	var gotPath, gotMethod string
	var gotBody []byte
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	rec := NewRecorder()
	rec.Observe(refresh.OutcomeSuccess, refresh.Result{Bytes: 5})
	require.NoError(t, rec.Push(context.Background(), gateway.URL, "glossifier_terms"))

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/metrics/job/glossifier_terms", gotPath)
	assert.NotEmpty(t, gotBody)
}

func TestPushAfterFailedRunKeepsSuccessGauges(t *testing.T) {
	t.Parallel()

	var gotMethod string
	var gotBody []byte
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	rec := NewRecorder()
	rec.Observe(refresh.OutcomeTransportError, refresh.Result{Duration: time.Second})
	require.NoError(t, rec.Push(context.Background(), gateway.URL, "glossifier_terms"))

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Contains(t, string(gotBody), "glossifier_terms_refresh_total")
	assert.NotContains(t, string(gotBody), "glossifier_terms_last_success_timestamp_seconds")
	assert.NotContains(t, string(gotBody), "glossifier_terms_payload_bytes")

	rec.Observe(refresh.OutcomeSuccess, refresh.Result{Bytes: 5})
	require.NoError(t, rec.Push(context.Background(), gateway.URL, "glossifier_terms"))
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Contains(t, string(gotBody), "glossifier_terms_last_success_timestamp_seconds")
}

func TestPushFailure(t *testing.T) {
	t.Parallel()

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer gateway.Close()

	err := NewRecorder().Push(context.Background(), gateway.URL, "glossifier_terms")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "push metrics")
}
