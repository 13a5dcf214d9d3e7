// Package metrics exposes Prometheus instruments for record transitions,
// ledger anchoring, trace views and HTTP traffic.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tracceaqua/tracceaqua/internal/domain/anchor"
	"github.com/tracceaqua/tracceaqua/internal/domain/stage"
)

const namespace = "tracceaqua"

// Recorder implements the record, anchor and trace recorder interfaces.
type Recorder struct {
	registry    *prometheus.Registry
	transitions *prometheus.CounterVec
	anchors     *prometheus.CounterVec
	traceViews  *prometheus.CounterVec
	requests    *prometheus.HistogramVec
}

// New creates a Recorder backed by its own registry, including Go runtime
// and process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_transitions_total",
			Help:      "Stage transition attempts by target stage and outcome.",
		}, []string{"stage", "outcome"}),
		anchors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anchor_jobs_processed_total",
			Help:      "Anchor jobs processed by outcome.",
		}, []string{"outcome"}),
		traceViews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trace_views_total",
			Help:      "Trace view requests by outcome.",
		}, []string{"outcome"}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern, method and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}
	reg.MustRegister(
		r.transitions, r.anchors, r.traceViews, r.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// TransitionObserved counts a transition attempt. Targets outside the stage
// catalog share the "unknown" series.
func (r *Recorder) TransitionObserved(target, outcome string) {
	label := "unknown"
	if st, err := stage.ParseStage(target); err == nil {
		label = string(st)
	}
	r.transitions.WithLabelValues(label, outcome).Inc()
}

func (r *Recorder) AnchorProcessed(outcome string) {
	r.anchors.WithLabelValues(outcome).Inc()
}

func (r *Recorder) TraceViewed(outcome string) {
	r.traceViews.WithLabelValues(outcome).Inc()
}

// JobCounter reports outbox jobs per status.
type JobCounter interface {
	CountByStatus(ctx context.Context) (map[anchor.JobStatus]int, error)
}

// WatchJobs exports the outbox backlog as a gauge, read on every scrape.
func (r *Recorder) WatchJobs(jobs JobCounter) {
	r.registry.MustRegister(&jobCollector{
		jobs: jobs,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "anchor_jobs"),
			"Anchor jobs by status.",
			[]string{"status"}, nil,
		),
	})
}

type jobCollector struct {
	jobs JobCounter
	desc *prometheus.Desc
}

func (c *jobCollector) Describe(ch chan<- *prometheus.Desc) { ch <- c.desc }

func (c *jobCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	counts, err := c.jobs.CountByStatus(ctx)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.desc, err)
		return
	}
	for _, status := range []anchor.JobStatus{anchor.JobPending, anchor.JobDone, anchor.JobAbandoned} {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(counts[status]), string(status))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Gatherer exposes the registry for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Middleware times requests by their chi route pattern.
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)

		route := "unmatched"
		if rctx := chi.RouteContext(req.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		r.requests.WithLabelValues(route, methodLabel(req.Method), strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}

func methodLabel(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch,
		http.MethodDelete, http.MethodConnect, http.MethodOptions, http.MethodTrace:
		return method
	default:
		return "OTHER"
	}
}
