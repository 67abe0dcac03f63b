package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ProbeObserved(true, nil, time.Second)
	m.ProbeObserved(false, nil, time.Second)
	m.ProbeObserved(false, errors.New("timeout"), time.Second)
	m.ProbeObserved(true, nil, time.Second)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.probes.WithLabelValues("valid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.probes.WithLabelValues("invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.probes.WithLabelValues("error")))

	m.JobFinished("completed")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobs.WithLabelValues("completed")))

	m.BatchesScheduled(6, 125)
	assert.Equal(t, 6.0, testutil.ToFloat64(m.batches))
	assert.Equal(t, 125.0, testutil.ToFloat64(m.scheduled))

	m.MailSent("report", errors.New("x"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mail.WithLabelValues("report", "failed")))

	m.TaskStarted("verify")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasksInFlight))
	m.TaskFinished("verify", time.Second, false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.tasksInFlight))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ProbeObserved(true, nil, 0)
	m.JobFinished("failed")
	m.BatchesScheduled(1, 1)
	m.MailSent("report", nil)
	m.TaskStarted("x")
	m.TaskFinished("x", 0, true)

	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m := New(prometheus.NewRegistry())
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/jobs/abc", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/jobs/def", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/jobs/{id}", "404")))
}
