package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/mentionbot/internal/engine"
	"github.com/ibeckermayer/mentionbot/internal/scheduler"
)

type fakeChecker struct {
	report *engine.CycleReport
	err    error
	calls  int
	last   engine.Trigger
}

func (f *fakeChecker) Check(_ context.Context, trigger engine.Trigger) (*engine.CycleReport, error) {
	f.calls++
	f.last = trigger
	return f.report, f.err
}

func do(t *testing.T, h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	s := New(&fakeChecker{}, Options{Gatherer: prometheus.NewRegistry()})
	w := do(t, s.Handler(), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestCheck_ReturnsReport(t *testing.T) {
	checker := &fakeChecker{report: &engine.CycleReport{ID: "c1", Trigger: engine.TriggerManual, Fetched: 2}}
	s := New(checker, Options{Gatherer: prometheus.NewRegistry()})

	w := do(t, s.Handler(), http.MethodPost, "/api/v1/check", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got engine.CycleReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "c1", got.ID)
	assert.Equal(t, 2, got.Fetched)
	assert.Equal(t, engine.TriggerManual, checker.last)

	w = do(t, s.Handler(), http.MethodGet, "/api/v1/last", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"c1"`)
}

func TestCheck_FetchErrorIsBadGateway(t *testing.T) {
	checker := &fakeChecker{
		report: &engine.CycleReport{ID: "c2"},
		err:    &engine.StageError{Stage: engine.StageFetch, Err: errors.New("neynar down")},
	}
	s := New(checker, Options{Gatherer: prometheus.NewRegistry()})

	w := do(t, s.Handler(), http.MethodPost, "/api/v1/check", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "neynar down")
}

func TestCheck_OtherErrorIsInternal(t *testing.T) {
	s := New(&fakeChecker{err: errors.New("closed")}, Options{Gatherer: prometheus.NewRegistry()})
	w := do(t, s.Handler(), http.MethodPost, "/api/v1/check", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCheck_RequiresToken(t *testing.T) {
	checker := &fakeChecker{report: &engine.CycleReport{ID: "c3"}}
	s := New(checker, Options{TriggerToken: "s3cret", Gatherer: prometheus.NewRegistry()})

	assert.Equal(t, http.StatusUnauthorized, do(t, s.Handler(), http.MethodPost, "/api/v1/check", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, s.Handler(), http.MethodPost, "/api/v1/check", "wrong").Code)
	assert.Equal(t, 0, checker.calls)

	assert.Equal(t, http.StatusOK, do(t, s.Handler(), http.MethodPost, "/api/v1/check", "s3cret").Code)
	assert.Equal(t, 1, checker.calls)

	// Health and metrics stay open.
	assert.Equal(t, http.StatusOK, do(t, s.Handler(), http.MethodGet, "/healthz", "").Code)
}

func TestLast_NotFoundBeforeFirstCheck(t *testing.T) {
	s := New(&fakeChecker{}, Options{Gatherer: prometheus.NewRegistry()})
	assert.Equal(t, http.StatusNotFound, do(t, s.Handler(), http.MethodGet, "/api/v1/last", "").Code)
}

func TestJobs(t *testing.T) {
	s := New(&fakeChecker{}, Options{Gatherer: prometheus.NewRegistry()})
	w := do(t, s.Handler(), http.MethodGet, "/api/v1/jobs", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"jobs": []}`, w.Body.String())

	sched, err := scheduler.New("UTC", time.Minute, nil)
	require.NoError(t, err)
	require.NoError(t, sched.AddCheckJob("@every 1m", func(context.Context) error { return nil }))

	s = New(&fakeChecker{}, Options{Gatherer: prometheus.NewRegistry(), Jobs: sched, TriggerToken: "s3cret"})
	assert.Equal(t, http.StatusUnauthorized, do(t, s.Handler(), http.MethodGet, "/api/v1/jobs", "").Code)

	w = do(t, s.Handler(), http.MethodGet, "/api/v1/jobs", "s3cret")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Jobs []scheduler.JobInfo `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Jobs, 1)
	assert.Equal(t, scheduler.CheckJob, body.Jobs[0].Name)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "mentionbot_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	s := New(&fakeChecker{}, Options{Gatherer: reg})
	w := do(t, s.Handler(), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "mentionbot_test_total 1"))
}
