// Package metrics exposes Prometheus collectors for the terms refresher.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	dto "github.com/prometheus/client_model/go"

	"github.com/JakeFAU/glossifier-terms/internal/refresh"
)

// Recorder owns a private registry so tests and one-shot pushes see only
// this process's refresh metrics.
type Recorder struct {
	registry *prometheus.Registry

	refreshTotal     *prometheus.CounterVec
	refreshDuration  *prometheus.HistogramVec
	payloadBytes     prometheus.Gauge
	regexRowsCleared prometheus.Gauge
	lastSuccess      prometheus.Gauge
	succeeded        atomic.Bool

	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
}

// NewRecorder registers all collectors on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	r := &Recorder{
		registry: reg,
		refreshTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "glossifier_terms_refresh_total",
				Help: "Total number of terms refresh runs, labeled by outcome.",
			},
			[]string{"outcome"},
		),
		refreshDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "glossifier_terms_refresh_duration_seconds",
				Help:    "Histogram of refresh run durations, labeled by outcome.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),
		payloadBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "glossifier_terms_payload_bytes",
			Help: "Size of the last terms document stored.",
		}),
		regexRowsCleared: factory.NewGauge(prometheus.GaugeOpts{
			Name: "glossifier_terms_regex_rows_cleared",
			Help: "Rows removed from term_regex by the last successful refresh.",
		}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "glossifier_terms_last_success_timestamp_seconds",
			Help: "Unix time the last successful refresh finished.",
		}),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of admin HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		),
		httpRequestDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of admin HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
			},
			[]string{"method", "route"},
		),
	}

	for _, outcome := range []refresh.Outcome{
		refresh.OutcomeSuccess,
		refresh.OutcomeConnectionError,
		refresh.OutcomeTransportError,
		refresh.OutcomePersistenceError,
	} {
		r.refreshTotal.WithLabelValues(string(outcome))
	}
	return r
}

// WithRuntimeCollectors adds Go runtime and process collectors, for the
// long-running scheduled mode.
func (r *Recorder) WithRuntimeCollectors() *Recorder {
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Observe implements refresh.Recorder.
func (r *Recorder) Observe(outcome refresh.Outcome, res refresh.Result) {
	r.refreshTotal.WithLabelValues(string(outcome)).Inc()
	r.refreshDuration.WithLabelValues(string(outcome)).Observe(res.Duration.Seconds())
	if outcome != refresh.OutcomeSuccess {
		return
	}
	r.payloadBytes.Set(float64(res.Bytes))
	r.regexRowsCleared.Set(float64(res.RegexRowsCleared))
	r.lastSuccess.Set(float64(res.StartedAt.Add(res.Duration).Unix()))
	r.succeeded.Store(true)
}

// Handler returns an http.Handler for exposing the registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Push sends the registry to a Pushgateway under job. After a success the
// whole group is replaced. Until then the success gauges are left out and the
// rest is added, so the gateway keeps the last successful run's values.
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	pusher := push.New(url, job)
	var err error
	if r.succeeded.Load() {
		err = pusher.Gatherer(r.registry).PushContext(ctx)
	} else {
		err = pusher.Gatherer(r.withoutSuccessGauges()).AddContext(ctx)
	}
	if err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}

var successGauges = map[string]bool{
	"glossifier_terms_payload_bytes":                  true,
	"glossifier_terms_regex_rows_cleared":             true,
	"glossifier_terms_last_success_timestamp_seconds": true,
}

func (r *Recorder) withoutSuccessGauges() prometheus.Gatherer {
	return prometheus.GathererFunc(func() ([]*dto.MetricFamily, error) {
		families, err := r.registry.Gather()
		if err != nil {
			return nil, fmt.Errorf("gather: %w", err)
		}
		out := families[:0]
		for _, mf := range families {
			if !successGauges[mf.GetName()] {
				out = append(out, mf)
			}
		}
		return out, nil
	})
}

// Middleware is a chi middleware that records HTTP request metrics.
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, req)

		route := "unknown"
		if rctx := chi.RouteContext(req.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		r.httpRequestsTotal.WithLabelValues(req.Method, strconv.Itoa(ww.status)).Inc()
		r.httpRequestDurationSeconds.WithLabelValues(req.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
