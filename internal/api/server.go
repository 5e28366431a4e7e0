// Package api exposes the HTTP interface for the audit service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sitewarden/sitewarden/internal/probe"
	"github.com/sitewarden/sitewarden/internal/report"
	"github.com/sitewarden/sitewarden/internal/scan"
	"github.com/sitewarden/sitewarden/internal/telemetry"
)

// Scanner runs one full audit scan.
type Scanner interface {
	Scan(ctx context.Context, req scan.Request) (*scan.Result, error)
}

// Prober answers lightweight reachability checks.
type Prober interface {
	Check(ctx context.Context, url string) (probe.Result, error)
}

// RateGate admits or rejects a request attributed to one client identity.
type RateGate interface {
	Allow(identity string) bool
}

// Suggester produces remediation text for a completed audit.
type Suggester interface {
	Enabled() bool
	Generate(ctx context.Context, url, summary string) (string, error)
}

// PoolStats exposes browser-pool occupancy for the health endpoint.
type PoolStats interface {
	Live() int
}

// Config carries the server's tunables.
type Config struct {
	RequestTimeout  time.Duration
	MaxPoolSessions int
}

// Server wires HTTP handlers to the scanner, prober, and report store.
type Server struct {
	router    chi.Router
	scanner   Scanner
	prober    Prober
	reports   report.Store
	gate      RateGate
	suggester Suggester
	pool      PoolStats
	cfg       Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	scanner Scanner,
	prober Prober,
	reports report.Store,
	gate RateGate,
	suggester Suggester,
	pool PoolStats,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	s := &Server{
		scanner:   scanner,
		prober:    prober,
		reports:   reports,
		gate:      gate,
		suggester: suggester,
		pool:      pool,
		cfg:       cfg,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(telemetry.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimitMiddleware)
		r.Post("/scan", s.runScan)
		r.Post("/check-website", s.checkWebsite)
	})

	r.Post("/report", s.storeReport)
	r.Get("/report/{report_id}", s.getReport)
	r.Post("/suggest", s.suggestFixes)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status": "ok",
	}
	if s.pool != nil {
		payload["pool"] = map[string]int{
			"live": s.pool.Live(),
			"max":  s.cfg.MaxPoolSessions,
		}
	}
	if s.reports != nil {
		if n, err := s.reports.Len(r.Context()); err == nil {
			payload["reports"] = map[string]int{"stored": n}
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) runScan(w http.ResponseWriter, r *http.Request) {
	var req scan.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	result, err := s.scanner.Scan(r.Context(), req)
	if err != nil {
		status, msg := scanErrorStatus(err)
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// scanErrorStatus maps the scan error taxonomy onto HTTP status codes.
func scanErrorStatus(err error) (int, string) {
	var verr *scan.ValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest, verr.Error()
	}
	if errors.Is(err, scan.ErrPoolExhausted) {
		return http.StatusServiceUnavailable, "no browser session available, retry later"
	}
	var nerr *scan.NavigationError
	if errors.As(err, &nerr) {
		switch nerr.Kind {
		case scan.NavTimeout:
			return http.StatusRequestTimeout, nerr.Error()
		case scan.NavDNSNotFound:
			return http.StatusNotFound, nerr.Error()
		case scan.NavConnectionRefused:
			return http.StatusServiceUnavailable, nerr.Error()
		default:
			return http.StatusInternalServerError, nerr.Error()
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusRequestTimeout, "scan timed out"
	}
	return http.StatusInternalServerError, err.Error()
}

type checkWebsiteRequest struct {
	URL string `json:"url"`
}

func (s *Server) checkWebsite(w http.ResponseWriter, r *http.Request) {
	var req checkWebsiteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		writeError(w, http.StatusBadRequest, "url scheme must be http or https")
		return
	}

	result, err := s.prober.Check(r.Context(), req.URL)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			writeError(w, http.StatusRequestTimeout, "check timed out")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type storeReportRequest struct {
	URL    string          `json:"url,omitempty"`
	Report json.RawMessage `json:"report"`
}

func (s *Server) storeReport(w http.ResponseWriter, r *http.Request) {
	var req storeReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Report) == 0 {
		writeError(w, http.StatusBadRequest, "report is required")
		return
	}

	id, err := s.reports.Put(r.Context(), req.Report, req.URL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store report")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"reportId": id})
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "report_id")
	stored, err := s.reports.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, report.ErrNotFound) {
			writeError(w, http.StatusNotFound, "report not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load report")
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

type suggestRequest struct {
	URL     string `json:"url"`
	Summary string `json:"summary"`
}

func (s *Server) suggestFixes(w http.ResponseWriter, r *http.Request) {
	if s.suggester == nil || !s.suggester.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "suggestions are not configured")
		return
	}
	var req suggestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" || req.Summary == "" {
		writeError(w, http.StatusBadRequest, "url and summary are required")
		return
	}

	text, err := s.suggester.Generate(r.Context(), req.URL, req.Summary)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"suggestion": text})
}

// rateLimitMiddleware rejects clients that exceed the sliding window.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.gate != nil && !s.gate.Allow(clientIdentity(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded, retry later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIdentity attributes a request to a client. The first hop of
// X-Forwarded-For wins when present, otherwise the remote address.
func clientIdentity(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
