// Package http implements the ops HTTP server of the bot: health probes,
// classroom statistics, scheduled job status and command metrics.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/educativo/edubot/internal/application/store"
	"github.com/educativo/edubot/internal/domain/shared"
	"github.com/educativo/edubot/internal/infrastructure/scheduler"
	"github.com/educativo/edubot/internal/interface/chat/middleware"
	"github.com/educativo/edubot/internal/interface/http/handlers"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	Host string
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	MaxHeaderBytes int

	// APIKeyHeader carries the key for /api/v1 and /metrics.
	APIKeyHeader string

	// APIKeyHash is a bcrypt hash of the accepted key. Empty leaves the
	// endpoints open.
	APIKeyHash string

	// Version is reported by /health and in response metadata.
	Version string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
		APIKeyHeader:   "X-API-Key",
	}
}

// Address returns the listen address.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// JobRunner is implemented by *scheduler.Scheduler.
type JobRunner interface {
	ListJobs() []scheduler.JobInfo
	RunNow(ctx context.Context, name string) (scheduler.JobResult, error)
}

// Dependencies contains what the handlers read from. Nil fields disable the
// matching endpoints.
type Dependencies struct {
	Hub           *store.Hub
	Metrics       *middleware.MetricsMiddleware
	Jobs          JobRunner
	HealthChecker handlers.HealthChecker
	Logger        *slog.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server is the ops HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	httpServer *http.Server
	router     *http.ServeMux
	logger     *slog.Logger

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a server. It does not listen until Start.
func NewServer(config Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if config.APIKeyHeader == "" {
		config.APIKeyHeader = DefaultConfig().APIKeyHeader
	}
	if deps.HealthChecker == nil {
		deps.HealthChecker = handlers.NewCompositeHealthChecker(config.Version)
	}

	s := &Server{
		config: config,
		deps:   deps,
		router: http.NewServeMux(),
		logger: deps.Logger.With("component", "http"),
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           config.Address(),
		Handler:        s.Handler(),
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}
	return s
}

// Handler returns the router wrapped with the middleware chain.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	h = s.loggingMiddleware(h)
	h = s.requestIDMiddleware(h)
	h = s.recoveryMiddleware(h)
	return h
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /healthz", s.handleHealth)
	s.router.HandleFunc("GET /live", s.handleLive)

	s.router.Handle("GET /api/v1/stats", s.requireAPIKey(s.handleStats))
	s.router.Handle("GET /api/v1/stats/{tenant}", s.requireAPIKey(s.handleTenantStats))
	s.router.Handle("GET /api/v1/jobs", s.requireAPIKey(s.handleJobs))
	s.router.Handle("POST /api/v1/jobs/{name}/run", s.requireAPIKey(s.handleRunJob))
	s.router.Handle("GET /metrics", s.requireAPIKey(s.handleMetrics))
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE CHAIN
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), contextKeyRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", getRequestID(r.Context()),
		)
	})
}

// requireAPIKey rejects requests whose key does not match the configured hash.
func (s *Server) requireAPIKey(next http.HandlerFunc) http.Handler {
	if s.config.APIKeyHash == "" {
		return next
	}
	hash := []byte(s.config.APIKeyHash)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(s.config.APIKeyHeader)
		if key == "" {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", "API key required")
			return
		}
		if err := bcrypt.CompareHashAndPassword(hash, []byte(key)); err != nil {
			s.logger.Warn("rejected API key", "path", r.URL.Path, "request_id", getRequestID(r.Context()))
			writeJSONError(w, http.StatusForbidden, "forbidden", "Invalid API key")
			return
		}
		next(w, r)
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					"error", rec,
					"stack", string(debug.Stack()),
					"path", r.URL.Path,
				)
				writeJSONError(w, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Hub == nil {
		writeJSONError(w, http.StatusNotFound, "not_available", "Statistics are not available")
		return
	}
	tenants := s.deps.Hub.Tenants()
	out := make([]StatsResponse, 0, len(tenants))
	for _, t := range tenants {
		out = append(out, newStatsResponse(t, s.deps.Hub.Classroom(t).Stats()))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTenantStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hub == nil {
		writeJSONError(w, http.StatusNotFound, "not_available", "Statistics are not available")
		return
	}
	tenant := shared.TenantID(r.PathValue("tenant"))
	for _, t := range s.deps.Hub.Tenants() {
		if t == tenant {
			writeJSON(w, http.StatusOK, newStatsResponse(t, s.deps.Hub.Classroom(t).Stats()))
			return
		}
	}
	writeJSONError(w, http.StatusNotFound, "tenant_not_found", fmt.Sprintf("Tenant %q has no data", tenant))
}

func (s *Server) handleJobs(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Jobs == nil {
		writeJSONError(w, http.StatusNotFound, "not_available", "Scheduler is not running")
		return
	}
	jobs := s.deps.Jobs.ListJobs()
	out := make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, JobResponse{
			Name:      j.Name,
			Schedule:  j.Schedule,
			Running:   j.Running,
			LastRun:   j.LastRun,
			NextRun:   j.NextRun,
			RunCount:  j.RunCount,
			FailCount: j.FailCount,
			LastError: j.LastError,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleRunJob runs a job synchronously, so a POST to flush_store returns
// once the cache is on disk.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeJSONError(w, http.StatusNotFound, "not_available", "Scheduler is not running")
		return
	}
	name := r.PathValue("name")
	res, err := s.deps.Jobs.RunNow(r.Context(), name)
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		writeJSONError(w, http.StatusNotFound, "job_not_found", fmt.Sprintf("Job %q is not registered", name))
		return
	case errors.Is(err, scheduler.ErrJobBusy):
		writeJSONError(w, http.StatusConflict, "job_busy", fmt.Sprintf("Job %q is already running", name))
		return
	}

	s.logger.Info("job run requested", "job", name, "success", res.Success, "request_id", getRequestID(r.Context()))
	out := JobRunResponse{Name: name, Success: res.Success, DurationMS: res.Duration.Milliseconds()}
	if err != nil {
		out.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Metrics == nil {
		writeJSONError(w, http.StatusNotFound, "not_available", "Metrics are disabled")
		return
	}
	snap := s.deps.Metrics.Snapshot()
	resp := MetricsResponse{
		TotalRequests:  snap.TotalRequests,
		TotalErrors:    snap.TotalErrors,
		ActiveRequests: snap.ActiveRequests,
		ErrorRate:      snap.ErrorRate,
		UniqueUsers:    snap.UniqueUsers,
		Commands:       make(map[string]int64, len(snap.Commands)),
	}
	for _, c := range snap.Commands {
		resp.Commands[c.Name] = c.TotalCount
	}
	writeJSON(w, http.StatusOK, resp)
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start listens and serves until Shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", "address", s.config.Address())

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine. The channel receives a
// listen error, if any, and is closed when the server stops.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// IsRunning reports whether Start is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Address returns the server address.
func (s *Server) Address() string {
	return s.config.Address()
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE TYPES
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse is the envelope of every response.
type JSONResponse struct {
	Success bool          `json:"success"`
	Data    interface{}   `json:"data,omitempty"`
	Error   *APIError     `json:"error,omitempty"`
	Meta    *ResponseMeta `json:"meta,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// StatsResponse is the JSON view of one classroom's aggregates.
type StatsResponse struct {
	Tenant         string `json:"tenant"`
	Users          int    `json:"users"`
	ActiveUsers    int    `json:"active_users"`
	TotalPoints    int    `json:"total_points"`
	AveragePoints  int    `json:"average_points"`
	TopUser        string `json:"top_user,omitempty"`
	Courses        int    `json:"courses"`
	ActiveCourses  int    `json:"active_courses"`
	Tasks          int    `json:"tasks"`
	CompletedTasks int    `json:"completed_tasks"`
	PendingTasks   int    `json:"pending_tasks"`
	OverdueTasks   int    `json:"overdue_tasks"`
	CompletionRate int    `json:"completion_rate"`
}

func newStatsResponse(tenant shared.TenantID, st store.Stats) StatsResponse {
	resp := StatsResponse{
		Tenant:         string(tenant),
		Users:          st.Users,
		ActiveUsers:    st.ActiveUsers,
		TotalPoints:    st.TotalPoints,
		AveragePoints:  st.AveragePoints,
		Courses:        st.Courses,
		ActiveCourses:  st.ActiveCourses,
		Tasks:          st.Tasks,
		CompletedTasks: st.CompletedTasks,
		PendingTasks:   st.PendingTasks,
		OverdueTasks:   st.OverdueTasks,
		CompletionRate: st.CompletionRate,
	}
	if st.TopUser != nil {
		resp.TopUser = st.TopUser.DisplayName
	}
	return resp
}

// JobResponse is the JSON view of a scheduled job.
type JobResponse struct {
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	Running   bool      `json:"running"`
	LastRun   time.Time `json:"last_run,omitempty"`
	NextRun   time.Time `json:"next_run"`
	RunCount  int64     `json:"run_count"`
	FailCount int64     `json:"fail_count"`
	LastError string    `json:"last_error,omitempty"`
}

// JobRunResponse is the result of a manual job run.
type JobRunResponse struct {
	Name       string `json:"name"`
	Success    bool   `json:"success"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// MetricsResponse is the JSON view of the dispatcher metrics.
type MetricsResponse struct {
	TotalRequests  int64            `json:"total_requests"`
	TotalErrors    int64            `json:"total_errors"`
	ActiveRequests int64            `json:"active_requests"`
	ErrorRate      float64          `json:"error_rate"`
	UniqueUsers    int              `json:"unique_users"`
	Commands       map[string]int64 `json:"commands"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(JSONResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
		Meta:    &ResponseMeta{Timestamp: time.Now().UTC(), Version: "v1"},
	})
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(JSONResponse{
		Success: false,
		Error:   &APIError{Code: code, Message: message},
		Meta:    &ResponseMeta{Timestamp: time.Now().UTC(), Version: "v1"},
	})
}

type contextKey string

const contextKeyRequestID contextKey = "request_id"

// responseWriter captures the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func getRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(contextKeyRequestID).(string); ok {
		return id
	}
	return ""
}
