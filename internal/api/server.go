package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/khanhnv2901/secscan/internal/api/middleware"
	scanapp "github.com/khanhnv2901/secscan/internal/application/scan"
	"github.com/khanhnv2901/secscan/internal/checker"
	"github.com/khanhnv2901/secscan/internal/domain/finding"
	"github.com/khanhnv2901/secscan/internal/domain/scan"
	"github.com/khanhnv2901/secscan/internal/metrics"
	"github.com/khanhnv2901/secscan/internal/shared/constants"
	sharedErrors "github.com/khanhnv2901/secscan/internal/shared/errors"
	"github.com/khanhnv2901/secscan/internal/validation"
)

const (
	defaultScanListLimit = 50
	maxScanListLimit     = 100
)

// ScanService is the scanning surface the API exposes.
type ScanService interface {
	RunScan(ctx context.Context, target string, scanType scan.Type) (*scanapp.Result, error)
	CheckHeaders(ctx context.Context, target string) checker.ModuleResult
	CheckTLS(ctx context.Context, host string, port int) checker.ModuleResult
	CheckCORS(ctx context.Context, target string) checker.ModuleResult
	AnalyzeJWT(token string) checker.JWTAnalysis
}

// ScanStore reads persisted scan records.
type ScanStore interface {
	GetScan(ctx context.Context, id string) (*scan.Record, error)
	ListScans(ctx context.Context, limit int) ([]*scan.Record, error)
}

type HealthService interface {
	Check(ctx context.Context) error
	Ready(ctx context.Context) error
}

type JobService interface {
	StartJob(ctx context.Context, req JobRequest) (*Job, error)
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]Job, error)
	Subscribe() (chan Job, func())
}

type Config struct {
	Scanner        ScanService
	Scans          ScanStore
	Health         HealthService
	Jobs           JobService
	Validator      *validation.Validator
	Metrics        *metrics.Recorder
	MetricsPath    string // Empty disables the metrics endpoint
	AuthToken      string
	Logger         *zap.Logger
	CORSOrigins    []string // Allowed CORS origins (empty = allow all)
	RateLimit      int      // Requests per second per IP (0 = disabled)
	RateBurst      int      // Burst size for rate limiter
	ScansPerMinute int      // Scan-type requests per minute per IP (0 = disabled)
	// TrustedProxies lists the IPs or CIDRs whose X-Forwarded-For header is
	// honoured. Empty means the peer address is always the client.
	TrustedProxies []string
}

// ScanRequest is the body of POST /scan.
type ScanRequest struct {
	URL      string `json:"url"`
	ScanType string `json:"scanType"`
}

// URLRequest is the body of POST /headers and POST /cors.
type URLRequest struct {
	URL string `json:"url"`
}

// SSLRequest is the body of POST /ssl.
type SSLRequest struct {
	Hostname string `json:"hostname"`
	Port     int    `json:"port,omitempty"`
}

// JWTRequest is the body of POST /jwt.
type JWTRequest struct {
	Token string `json:"token"`
}

// ScanView is the API shape of a stored scan record.
type ScanView struct {
	ID              string                   `json:"id" yaml:"id"`
	URL             string                   `json:"url" yaml:"url"`
	ScanType        scan.Type                `json:"scanType" yaml:"scan_type"`
	Status          scan.Status              `json:"status" yaml:"status"`
	SecurityScore   int                      `json:"securityScore" yaml:"security_score"`
	Summary         finding.Summary          `json:"summary" yaml:"summary"`
	Recommendations []finding.Recommendation `json:"recommendations" yaml:"recommendations"`
	StartedAt       *time.Time               `json:"startedAt,omitempty" yaml:"started_at,omitempty"`
	CompletedAt     *time.Time               `json:"completedAt,omitempty" yaml:"completed_at,omitempty"`
	Error           string                   `json:"error,omitempty" yaml:"error,omitempty"`
}

type Server struct {
	cfg          Config
	mux          *http.ServeMux
	handler      http.Handler
	limiters     *rateLimiterMap
	scanLimiters *rateLimiterMap
	proxies      []*net.IPNet
}

func NewServer(cfg Config) *Server {
	if cfg.Validator == nil {
		cfg.Validator = validation.New(false)
	}
	proxies, err := ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil && cfg.Logger != nil {
		cfg.Logger.Warn("ignoring invalid trusted proxy entries", zap.Error(err))
	}
	srv := &Server{
		cfg:          cfg,
		mux:          http.NewServeMux(),
		limiters:     newRateLimiterMap(),
		scanLimiters: newRateLimiterMap(),
		proxies:      proxies,
	}
	srv.routes()
	// Middleware chain: RequestID -> Logging -> RateLimit -> CORS -> Auth -> Handler
	srv.handler = middleware.RequestID(srv.withLogging(srv.withRateLimit(srv.withCORS(srv.mux))))
	return srv
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close stops the limiter cleanup goroutines.
func (s *Server) Close() {
	s.limiters.stop()
	s.scanLimiters.stop()
}

func (s *Server) routes() {
	for _, prefix := range []string{"/api/v1", "/api"} {
		s.mux.Handle(prefix+"/health", s.withAuth(http.HandlerFunc(s.handleHealth)))
		s.mux.Handle(prefix+"/ready", s.withAuth(http.HandlerFunc(s.handleReady)))

		sec := prefix + "/security"
		s.mux.Handle(sec+"/scan", s.withAuth(s.withScanLimit(http.HandlerFunc(s.handleScan))))
		s.mux.Handle(sec+"/headers", s.withAuth(s.withScanLimit(http.HandlerFunc(s.handleHeaders))))
		s.mux.Handle(sec+"/ssl", s.withAuth(s.withScanLimit(http.HandlerFunc(s.handleSSL))))
		s.mux.Handle(sec+"/cors", s.withAuth(s.withScanLimit(http.HandlerFunc(s.handleCORS))))
		s.mux.Handle(sec+"/jwt", s.withAuth(http.HandlerFunc(s.handleJWT)))
		s.mux.Handle(sec+"/scans", s.withAuth(http.HandlerFunc(s.handleScans)))
		s.mux.Handle(sec+"/scans/", s.withAuth(http.HandlerFunc(s.handleScanByID)))
		s.mux.Handle(sec+"/jobs", s.withAuth(s.withScanLimit(http.HandlerFunc(s.handleJobs))))
		s.mux.Handle(sec+"/jobs/", s.withAuth(http.HandlerFunc(s.handleJobByID)))
		s.mux.Handle(sec+"/jobs-stream", s.withAuth(http.HandlerFunc(s.handleJobStream)))
	}

	if s.cfg.Metrics != nil && s.cfg.MetricsPath != "" {
		s.mux.Handle(s.cfg.MetricsPath, s.cfg.Metrics.Handler())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}
	if s.cfg.Health != nil {
		if err := s.cfg.Health.Check(r.Context()); err != nil {
			s.writeError(w, r, http.StatusInternalServerError, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}
	if s.cfg.Health != nil {
		if err := s.cfg.Health.Ready(r.Context()); err != nil {
			s.writeError(w, r, http.StatusServiceUnavailable, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, r)
		return
	}
	var req ScanRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	scanType, err := s.cfg.Validator.ValidateScanRequest(r.Context(), req.URL, req.ScanType)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	result, err := s.cfg.Scanner.RunScan(r.Context(), strings.TrimSpace(req.URL), scanType)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHeaders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, r)
		return
	}
	var req URLRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.cfg.Validator.ValidateURL(r.Context(), req.URL); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Scanner.CheckHeaders(r.Context(), strings.TrimSpace(req.URL)))
}

func (s *Server) handleSSL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, r)
		return
	}
	var req SSLRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.cfg.Validator.ValidateHost(r.Context(), req.Hostname, req.Port); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	host := strings.Trim(strings.TrimSpace(req.Hostname), "[]")
	writeJSON(w, http.StatusOK, s.cfg.Scanner.CheckTLS(r.Context(), host, req.Port))
}

func (s *Server) handleCORS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, r)
		return
	}
	var req URLRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.cfg.Validator.ValidateURL(r.Context(), req.URL); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Scanner.CheckCORS(r.Context(), strings.TrimSpace(req.URL)))
}

func (s *Server) handleJWT(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, r)
		return
	}
	var req JWTRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.cfg.Validator.ValidateToken(req.Token); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Scanner.AnalyzeJWT(req.Token))
}

func (s *Server) handleScans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}
	if s.cfg.Scans == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, sharedErrors.ErrStoreNotConfigured)
		return
	}
	limit := defaultScanListLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		if parsed, err := strconv.Atoi(q); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxScanListLimit {
		limit = maxScanListLimit
	}

	records, err := s.cfg.Scans.ListScans(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}
	views := make([]ScanView, 0, len(records))
	for _, rec := range records {
		views = append(views, NewScanView(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"scans": views, "count": len(views)})
}

func (s *Server) handleScanByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}
	if s.cfg.Scans == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, sharedErrors.ErrStoreNotConfigured)
		return
	}
	id := trailingID(r.URL.Path, "/scans/")
	if id == "" {
		s.writeError(w, r, http.StatusNotFound, errors.New("scan ID required"))
		return
	}
	rec, err := s.cfg.Scans.GetScan(r.Context(), id)
	if err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scan":     NewScanView(rec),
		"findings": rec.Findings(),
	})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Jobs == nil {
		s.writeError(w, r, http.StatusNotFound, errors.New("job service not available"))
		return
	}
	switch r.Method {
	case http.MethodGet:
		limit := 25
		if q := r.URL.Query().Get("limit"); q != "" {
			if parsed, err := strconv.Atoi(q); err == nil && parsed > 0 {
				limit = parsed
			}
		}
		jobs, err := s.cfg.Jobs.ListJobs(r.Context(), limit)
		if err != nil {
			s.writeError(w, r, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, jobs)
	case http.MethodPost:
		var req JobRequest
		if !s.decodeBody(w, r, &req) {
			return
		}
		scanType, err := s.cfg.Validator.ValidateScanRequest(r.Context(), req.URL, req.ScanType)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, err)
			return
		}
		req.URL = strings.TrimSpace(req.URL)
		req.ScanType = string(scanType)
		job, err := s.cfg.Jobs.StartJob(r.Context(), req)
		if err != nil {
			s.writeError(w, r, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusAccepted, job)
	default:
		s.methodNotAllowed(w, r)
	}
}

func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Jobs == nil {
		s.writeError(w, r, http.StatusNotFound, errors.New("job service not available"))
		return
	}
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}
	id := trailingID(r.URL.Path, "/jobs/")
	if id == "" {
		s.writeError(w, r, http.StatusNotFound, errors.New("job ID required"))
		return
	}
	job, err := s.cfg.Jobs.GetJob(r.Context(), id)
	if err != nil || job == nil {
		s.writeError(w, r, http.StatusNotFound, errors.New("job not found"))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Jobs == nil {
		s.writeError(w, r, http.StatusNotFound, errors.New("job service not available"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	updates, unsubscribe := s.cfg.Jobs.Subscribe()
	defer unsubscribe()
	ctx := r.Context()
	for {
		select {
		case job, ok := <-updates:
			if !ok {
				return
			}
			payload, err := json.Marshal(job)
			if err != nil {
				s.requestLogger(r).Error("failed to marshal job", zap.Error(err))
				continue
			}
			if !s.writeStreamChunk(w, []byte("event: job\ndata: ")) {
				return
			}
			if !s.writeStreamChunk(w, payload) {
				return
			}
			if !s.writeStreamChunk(w, []byte("\n\n")) {
				return
			}
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

// decodeBody reads a size-limited JSON body into dst and writes a 400 on
// failure.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var errs sharedErrors.ValidationErrors
		errs.Add("body", "invalid JSON: "+err.Error())
		s.writeError(w, r, http.StatusBadRequest, errs)
		return false
	}
	return true
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.RateLimit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := s.clientIP(r)
		burst := s.cfg.RateBurst
		if burst <= 0 {
			burst = s.cfg.RateLimit
		}
		limiter := s.limiters.getLimiter(clientIP, rate.Limit(s.cfg.RateLimit), burst)
		if !limiter.Allow() {
			s.requestLogger(r).Warn("rate_limit_exceeded", zap.String("client_ip", clientIP))
			s.writeError(w, r, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withScanLimit applies the per-IP scan budget to POST requests.
func (s *Server) withScanLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && !s.allowScan(w, r) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowScan(w http.ResponseWriter, r *http.Request) bool {
	if s.cfg.ScansPerMinute <= 0 {
		return true
	}
	clientIP := s.clientIP(r)
	limiter := s.scanLimiters.getLimiter(clientIP, rate.Every(time.Minute/time.Duration(s.cfg.ScansPerMinute)), s.cfg.ScansPerMinute)
	if !limiter.Allow() {
		s.requestLogger(r).Warn("scan_limit_exceeded", zap.String("client_ip", clientIP))
		s.writeError(w, r, http.StatusTooManyRequests, errors.New("too many scan requests, please try again later"))
		return false
	}
	return true
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		allowOrigin := "*"
		if len(s.cfg.CORSOrigins) > 0 {
			allowOrigin = ""
			for _, allowedOrigin := range s.cfg.CORSOrigins {
				if allowedOrigin == origin {
					allowOrigin = origin
					break
				}
			}
		}

		if allowOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Auth-Token, X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "3600")
			if allowOrigin != "*" {
				w.Header().Add("Vary", "Origin")
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)

		s.cfg.Metrics.ObserveRequest(metricsPath(r.URL.Path), lrw.statusCode)
		if s.cfg.Logger != nil {
			s.cfg.Logger.Info("http_request",
				zap.String("request_id", middleware.GetRequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Int("status", lrw.statusCode),
				zap.Duration("duration", time.Since(start)),
				zap.Int64("bytes", lrw.bytesWritten),
			)
		}
	})
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	if s.cfg.AuthToken == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Auth-Token")
		// Use constant-time comparison to prevent timing attacks
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) != 1 {
			s.writeError(w, r, http.StatusUnauthorized, errors.New("unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggingResponseWriter wraps http.ResponseWriter to capture status code and bytes written
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	n, err := lrw.ResponseWriter.Write(b)
	lrw.bytesWritten += int64(n)
	return n, err
}

// Flush lets the job stream flush through the logging wrapper.
func (lrw *loggingResponseWriter) Flush() {
	if f, ok := lrw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	var verrs sharedErrors.ValidationErrors
	if status == http.StatusBadRequest && errors.As(err, &verrs) {
		writeJSON(w, status, map[string]any{"errors": verrs})
		return
	}

	msg := err.Error()

	// For 5xx errors, return generic message and log details server-side
	if status >= 500 {
		s.requestLogger(r).Error("internal_server_error",
			zap.Error(err),
			zap.Int("status", status),
		)
		switch {
		case errors.Is(err, sharedErrors.ErrScanFailed):
			msg = "scan failed"
		case errors.Is(err, sharedErrors.ErrStoreNotConfigured):
			msg = sharedErrors.ErrStoreNotConfigured.Error()
		case status == http.StatusServiceUnavailable:
			msg = "service unavailable"
		default:
			msg = "internal server error"
		}
	}

	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, sharedErrors.ErrValidation), errors.Is(err, sharedErrors.ErrUnsupportedScanType):
		return http.StatusBadRequest
	case errors.Is(err, sharedErrors.ErrScanNotFound):
		return http.StatusNotFound
	case errors.Is(err, sharedErrors.ErrStoreNotConfigured), errors.Is(err, ErrJobManagerClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// requestLogger creates a logger with request context (request ID, method, path)
func (s *Server) requestLogger(r *http.Request) *zap.Logger {
	if s.cfg.Logger == nil {
		return zap.NewNop()
	}

	requestID := middleware.GetRequestID(r.Context())
	return s.cfg.Logger.With(
		zap.String("request_id", requestID),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
	)
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, r, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func (s *Server) writeStreamChunk(w http.ResponseWriter, data []byte) bool {
	if _, err := w.Write(data); err != nil {
		if s.cfg.Logger != nil {
			s.cfg.Logger.Error("failed to write stream chunk", zap.Error(err))
		}
		return false
	}
	return true
}

// NewScanView converts a stored record into its API shape.
func NewScanView(rec *scan.Record) ScanView {
	v := ScanView{
		ID:              rec.ID(),
		URL:             rec.URL(),
		ScanType:        rec.ScanType(),
		Status:          rec.Status(),
		SecurityScore:   rec.Score(),
		Summary:         rec.Summary(),
		Recommendations: rec.Recommendations(),
		Error:           rec.ErrorMessage(),
	}
	if t := rec.StartedAt(); !t.IsZero() {
		v.StartedAt = &t
	}
	if t := rec.CompletedAt(); !t.IsZero() {
		v.CompletedAt = &t
	}
	return v
}

// trailingID returns the path segment after the last marker.
func trailingID(path, marker string) string {
	idx := strings.LastIndex(path, marker)
	if idx < 0 {
		return ""
	}
	return strings.Trim(path[idx+len(marker):], "/")
}

// metricsPath collapses IDs so request metrics keep a bounded label set.
func metricsPath(path string) string {
	for _, marker := range []string{"/scans/", "/jobs/"} {
		if idx := strings.LastIndex(path, marker); idx >= 0 && idx+len(marker) < len(path) {
			return path[:idx+len(marker)] + "{id}"
		}
	}
	return path
}

// ParseTrustedProxies parses IPs and CIDRs. Bare IPs match a single host.
// Valid entries are returned even when others fail to parse.
func ParseTrustedProxies(entries []string) ([]*net.IPNet, error) {
	var (
		nets []*net.IPNet
		errs []error
	)
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if _, ipNet, err := net.ParseCIDR(entry); err == nil {
			nets = append(nets, ipNet)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			errs = append(errs, fmt.Errorf("invalid trusted proxy %q", entry))
			continue
		}
		bits := 128
		if v4 := ip.To4(); v4 != nil {
			ip, bits = v4, 32
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets, errors.Join(errs...)
}

// clientIP returns the peer address unless the peer is a trusted proxy, in
// which case X-Forwarded-For is walked right to left and the first hop that
// is not itself a trusted proxy wins.
func (s *Server) clientIP(r *http.Request) string {
	peer := stripPort(r.RemoteAddr)
	if !s.trusted(peer) {
		return peer
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := stripPort(strings.TrimSpace(hops[i]))
		if hop == "" {
			continue
		}
		if !s.trusted(hop) {
			return hop
		}
		peer = hop
	}
	return peer
}

func (s *Server) trusted(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range s.proxies {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func stripPort(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return strings.Trim(addr, "[]")
}

// rateLimiterMap manages per-IP rate limiters with automatic cleanup
type rateLimiterMap struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	done     chan struct{}
	once     sync.Once
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiterMap() *rateLimiterMap {
	m := &rateLimiterMap{
		limiters: make(map[string]*ipLimiter),
		done:     make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

func (m *rateLimiterMap) getLimiter(ip string, limit rate.Limit, burst int) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	limiter, exists := m.limiters[ip]
	if !exists {
		limiter = &ipLimiter{limiter: rate.NewLimiter(limit, burst)}
		m.limiters[ip] = limiter
	}
	limiter.lastSeen = time.Now()
	return limiter.limiter
}

func (m *rateLimiterMap) stop() {
	m.once.Do(func() { close(m.done) })
}

// cleanupLoop removes limiters that haven't been used in 5 minutes
func (m *rateLimiterMap) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.mu.Lock()
			for ip, limiter := range m.limiters {
				if time.Since(limiter.lastSeen) > 5*time.Minute {
					delete(m.limiters, ip)
				}
			}
			m.mu.Unlock()
		}
	}
}
