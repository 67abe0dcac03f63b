// Package metrics holds the Prometheus collectors for the engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "campaign_engine"

// Metrics is safe for concurrent use. A nil *Metrics ignores every call.
type Metrics struct {
	probes        *prometheus.CounterVec
	probeDuration prometheus.Histogram
	jobs          *prometheus.CounterVec
	batches       prometheus.Counter
	scheduled     prometheus.Counter
	mail          *prometheus.CounterVec
	tasksInFlight prometheus.Gauge
	taskDuration  *prometheus.HistogramVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	httpInFlight  prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		probes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "smtp_probes_total",
			Help:      "SMTP probes by outcome (valid, invalid, error).",
		}, []string{"result"}),
		probeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "smtp_probe_duration_seconds",
			Help:      "Latency of individual SMTP probes.",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 20},
		}),
		jobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_jobs_total",
			Help:      "Bulk verification jobs by terminal status.",
		}, []string{"status"}),
		batches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_batches_scheduled_total",
			Help:      "Send queue entries written by the scheduler.",
		}),
		scheduled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_contacts_scheduled_total",
			Help:      "Contacts placed in send queue entries.",
		}),
		mail: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mail_sends_total",
			Help:      "Transactional mail sends by kind and outcome.",
		}, []string{"kind", "outcome"}),
		tasksInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_tasks_in_flight",
			Help:      "Background tasks currently running.",
		}),
		taskDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_task_duration_seconds",
			Help:      "Background task run time.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"task", "panicked"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		httpInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_inflight_requests",
			Help:      "HTTP requests currently being served.",
		}),
	}
}

func (m *Metrics) ProbeObserved(valid bool, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "invalid"
	switch {
	case err != nil:
		result = "error"
	case valid:
		result = "valid"
	}
	m.probes.WithLabelValues(result).Inc()
	m.probeDuration.Observe(d.Seconds())
}

func (m *Metrics) JobFinished(status string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(status).Inc()
}

func (m *Metrics) BatchesScheduled(batches, contacts int) {
	if m == nil {
		return
	}
	m.batches.Add(float64(batches))
	m.scheduled.Add(float64(contacts))
}

func (m *Metrics) MailSent(kind string, err error) {
	if m == nil {
		return
	}
	outcome := "sent"
	if err != nil {
		outcome = "failed"
	}
	m.mail.WithLabelValues(kind, outcome).Inc()
}

// TaskStarted and TaskFinished make *Metrics a worker.PoolObserver.
func (m *Metrics) TaskStarted(string) {
	if m == nil {
		return
	}
	m.tasksInFlight.Inc()
}

func (m *Metrics) TaskFinished(name string, d time.Duration, panicked bool) {
	if m == nil {
		return
	}
	m.tasksInFlight.Dec()
	m.taskDuration.WithLabelValues(name, strconv.FormatBool(panicked)).Observe(d.Seconds())
}

// Middleware records request counts and latency, labelled by the matched
// chi route pattern to keep cardinality low.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		labels := prometheus.Labels{"method": r.Method, "route": route, "status": strconv.Itoa(status)}
		m.httpRequests.With(labels).Inc()
		m.httpDuration.With(labels).Observe(time.Since(start).Seconds())
	})
}
