package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/educativo/edubot/internal/application/store"
	"github.com/educativo/edubot/internal/domain/shared"
	"github.com/educativo/edubot/internal/infrastructure/scheduler"
	"github.com/educativo/edubot/internal/interface/chat/middleware"
	"github.com/educativo/edubot/internal/interface/http/handlers"
	"github.com/educativo/edubot/pkg/circuitbreaker"
	"github.com/educativo/edubot/pkg/timeutil"
)

type fakeJobs []scheduler.JobInfo

func (f fakeJobs) ListJobs() []scheduler.JobInfo { return f }

func (f fakeJobs) RunNow(_ context.Context, name string) (scheduler.JobResult, error) {
	for _, j := range f {
		if j.Name != name {
			continue
		}
		if j.Running {
			return scheduler.JobResult{}, scheduler.ErrJobBusy
		}
		if j.LastError != "" {
			err := errors.New(j.LastError)
			return scheduler.JobResult{JobName: name, Error: err}, err
		}
		return scheduler.JobResult{JobName: name, Success: true, Duration: 3 * time.Millisecond}, nil
	}
	return scheduler.JobResult{}, scheduler.ErrJobNotFound
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, env
}

func newTestHub(t *testing.T) *store.Hub {
	t.Helper()
	clock := timeutil.NewFixedClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	hub := store.NewHub(store.Config{Clock: clock})
	_, err := hub.Classroom(shared.TenantID("global")).CreateCourse(context.Background(), store.CourseInput{
		Code: "MAT101", Name: "Matemáticas", ActorID: "ana",
	})
	require.NoError(t, err)
	return hub
}

func TestServer_Health(t *testing.T) {
	checker := handlers.NewCompositeHealthChecker("1.2.3")
	srv := NewServer(DefaultConfig(), Dependencies{HealthChecker: checker})

	rec, env := get(t, srv.Handler(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	checker.AddCheck("redis", func(context.Context) error { return errors.New("connection refused") })
	rec, env = get(t, srv.Handler(), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var status handlers.HealthStatus
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.False(t, status.Healthy)
	assert.Equal(t, "Some checks failed: redis", status.Message)
	assert.Equal(t, "connection refused", status.Checks["redis"].Message)
}

func TestServer_KeepsIncomingRequestID(t *testing.T) {
	srv := NewServer(DefaultConfig(), Dependencies{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	req.Header.Set("X-Request-ID", "abc")
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestServer_Stats(t *testing.T) {
	srv := NewServer(DefaultConfig(), Dependencies{Hub: newTestHub(t)})

	rec, env := get(t, srv.Handler(), "/api/v1/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var all []StatsResponse
	require.NoError(t, json.Unmarshal(env.Data, &all))
	require.Len(t, all, 1)
	assert.Equal(t, "global", all[0].Tenant)
	assert.Equal(t, 1, all[0].Courses)

	rec, env = get(t, srv.Handler(), "/api/v1/stats/global")
	require.Equal(t, http.StatusOK, rec.Code)
	var one StatsResponse
	require.NoError(t, json.Unmarshal(env.Data, &one))
	assert.Equal(t, 1, one.ActiveCourses)

	rec, env = get(t, srv.Handler(), "/api/v1/stats/nowhere")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "tenant_not_found", env.Error.Code)
}

func TestServer_JobsAndMetrics(t *testing.T) {
	metrics := middleware.NewMetricsMiddleware(middleware.MetricsConfig{})
	metrics.Start("tarea", "ana").EndSuccess()
	metrics.Start("tarea", "luis").End(errors.New("boom"))

	srv := NewServer(DefaultConfig(), Dependencies{
		Metrics: metrics,
		Jobs:    fakeJobs{{Name: "flush_store", Schedule: "@every 30s", RunCount: 4}},
	})

	rec, env := get(t, srv.Handler(), "/api/v1/jobs")
	require.Equal(t, http.StatusOK, rec.Code)
	var jobs []JobResponse
	require.NoError(t, json.Unmarshal(env.Data, &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, "@every 30s", jobs[0].Schedule)
	assert.Equal(t, int64(4), jobs[0].RunCount)

	rec, env = get(t, srv.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	var m MetricsResponse
	require.NoError(t, json.Unmarshal(env.Data, &m))
	assert.Equal(t, int64(2), m.TotalRequests)
	assert.Equal(t, int64(1), m.TotalErrors)
	assert.Equal(t, int64(2), m.Commands["tarea"])
}

func TestServer_RunJob(t *testing.T) {
	srv := NewServer(DefaultConfig(), Dependencies{Jobs: fakeJobs{
		{Name: "flush_store"},
		{Name: "report_stats", Running: true},
		{Name: "broken", LastError: "disk full"},
	}})

	post := func(path string) (*httptest.ResponseRecorder, envelope) {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		var env envelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
		return rec, env
	}

	rec, env := post("/api/v1/jobs/flush_store/run")
	require.Equal(t, http.StatusOK, rec.Code)
	var run JobRunResponse
	require.NoError(t, json.Unmarshal(env.Data, &run))
	assert.True(t, run.Success)
	assert.Equal(t, int64(3), run.DurationMS)

	rec, env = post("/api/v1/jobs/broken/run")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &run))
	assert.False(t, run.Success)
	assert.Equal(t, "disk full", run.Error)

	rec, env = post("/api/v1/jobs/report_stats/run")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "job_busy", env.Error.Code)

	rec, env = post("/api/v1/jobs/nope/run")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "job_not_found", env.Error.Code)
}

func TestServer_DisabledEndpoints(t *testing.T) {
	srv := NewServer(DefaultConfig(), Dependencies{})
	for _, path := range []string{"/api/v1/stats", "/api/v1/jobs", "/metrics"} {
		rec, env := get(t, srv.Handler(), path)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.False(t, env.Success, path)
	}
}

func TestStoreCheck(t *testing.T) {
	d := &dirtyFlag{}
	check := handlers.NewStoreCheck(d)
	assert.NoError(t, check(context.Background()))
	d.dirty = true
	assert.ErrorIs(t, check(context.Background()), handlers.ErrStoreDirty)
}

func TestBreakerCheck(t *testing.T) {
	cb := circuitbreaker.New("redis", circuitbreaker.WithFailureThreshold(1), circuitbreaker.WithTimeout(time.Hour))
	check := handlers.NewBreakerCheck(cb)
	assert.NoError(t, check(context.Background()))

	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("connection refused") })
	err := check(context.Background())
	require.Error(t, err)
	assert.Equal(t, "redis breaker open: connection refused", err.Error())
}

type dirtyFlag struct{ dirty bool }

func (d *dirtyFlag) Dirty() bool { return d.dirty }

func TestServer_APIKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.APIKeyHash = string(hash)
	srv := NewServer(cfg, Dependencies{Hub: newTestHub(t)})

	rec, env := get(t, srv.Handler(), "/api/v1/stats")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", env.Error.Code)

	for key, want := range map[string]int{"wrong": http.StatusForbidden, "s3cret": http.StatusOK} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
		req.Header.Set("X-API-Key", key)
		srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, key)
	}

	rec, _ = get(t, srv.Handler(), "/live")
	assert.Equal(t, http.StatusOK, rec.Code, "probes stay open")
}
