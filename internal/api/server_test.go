package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	scanapp "github.com/khanhnv2901/secscan/internal/application/scan"
	"github.com/khanhnv2901/secscan/internal/checker"
	"github.com/khanhnv2901/secscan/internal/domain/finding"
	"github.com/khanhnv2901/secscan/internal/domain/scan"
	"github.com/khanhnv2901/secscan/internal/metrics"
	sharedErrors "github.com/khanhnv2901/secscan/internal/shared/errors"
	"github.com/khanhnv2901/secscan/internal/validation"
)

// fakeScanner returns canned module results and counts scans.
type fakeScanner struct {
	scans   int32
	fail    bool
	lastTLS string
	mu      sync.Mutex
}

func (f *fakeScanner) RunScan(ctx context.Context, target string, scanType scan.Type) (*scanapp.Result, error) {
	atomic.AddInt32(&f.scans, 1)
	if f.fail {
		return nil, fmt.Errorf("%w: module cors panicked: boom", sharedErrors.ErrScanFailed)
	}
	findings := []finding.Finding{{Category: finding.CategoryConnection, Severity: finding.SeverityCritical, Title: "Connection Failed"}}
	return &scanapp.Result{
		ScanID:        "scan-1",
		URL:           target,
		ScanType:      scanType,
		SecurityScore: finding.Score(findings),
		Summary:       scanapp.Summary{Summary: finding.Summarize(findings)},
		Results:       map[string]checker.ModuleResult{checker.ModuleHeaders: {Module: checker.ModuleHeaders, Findings: findings}},
		Findings:      findings,
	}, nil
}

func (f *fakeScanner) CheckHeaders(ctx context.Context, target string) checker.ModuleResult {
	return checker.ModuleResult{Module: checker.ModuleHeaders, Target: target, Success: true, Findings: []finding.Finding{}}
}

func (f *fakeScanner) CheckTLS(ctx context.Context, host string, port int) checker.ModuleResult {
	f.mu.Lock()
	f.lastTLS = fmt.Sprintf("%s:%d", host, port)
	f.mu.Unlock()
	return checker.ModuleResult{Module: checker.ModuleSSL, Target: host, Success: true, Findings: []finding.Finding{}}
}

func (f *fakeScanner) CheckCORS(ctx context.Context, target string) checker.ModuleResult {
	return checker.ModuleResult{Module: checker.ModuleCORS, Target: target, Success: true, Findings: []finding.Finding{}}
}

func (f *fakeScanner) AnalyzeJWT(token string) checker.JWTAnalysis {
	return checker.AnalyzeJWT(token, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
}

// fakeStore keeps records in memory.
type fakeStore struct {
	records map[string]*scan.Record
}

func (f *fakeStore) GetScan(ctx context.Context, id string) (*scan.Record, error) {
	rec, ok := f.records[id]
	if !ok {
		return nil, fmt.Errorf("failed to get scan: %w", sharedErrors.ErrScanNotFound)
	}
	return rec, nil
}

func (f *fakeStore) ListScans(ctx context.Context, limit int) ([]*scan.Record, error) {
	out := make([]*scan.Record, 0, len(f.records))
	for _, rec := range f.records {
		out = append(out, rec)
	}
	return out, nil
}

func newTestServer(t *testing.T, mutate func(*Config)) (*Server, *fakeScanner) {
	t.Helper()
	scanner := &fakeScanner{}
	cfg := Config{
		Scanner:   scanner,
		Validator: &validation.Validator{AllowPrivate: true},
		Logger:    zaptest.NewLogger(t),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv := NewServer(cfg)
	t.Cleanup(srv.Close)
	return srv, scanner
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestWriteJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSON(rr, http.StatusCreated, map[string]string{"status": "ok"})

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected application/json content-type, got %s", got)
	}
	if !strings.Contains(rr.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
}

func TestWriteError(t *testing.T) {
	s := &Server{cfg: Config{Logger: zaptest.NewLogger(t)}}
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	tests := []struct {
		name   string
		status int
		err    error
		want   string
	}{
		{name: "internal sanitized", status: http.StatusInternalServerError, err: errors.New("boom"), want: `"error":"internal server error"`},
		{name: "scan failed", status: http.StatusInternalServerError, err: fmt.Errorf("%w: panic", sharedErrors.ErrScanFailed), want: `"error":"scan failed"`},
		{name: "no store", status: http.StatusServiceUnavailable, err: sharedErrors.ErrStoreNotConfigured, want: `"error":"scan store not configured"`},
		{name: "client", status: http.StatusBadRequest, err: errors.New("bad input"), want: `"error":"bad input"`},
		{name: "validation", status: http.StatusBadRequest, err: sharedErrors.ValidationErrors{{Field: "url", Message: "required"}}, want: `"errors":[{"field":"url","message":"required"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			s.writeError(rr, req, tt.status, tt.err)
			if rr.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rr.Code)
			}
			if !strings.Contains(rr.Body.String(), tt.want) {
				t.Fatalf("body %s does not contain %s", rr.Body.String(), tt.want)
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rr := doJSON(t, srv, http.MethodGet, "/api/v1/security/scan", nil, nil)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", rr.Code)
	}
}

func TestWriteStreamChunk(t *testing.T) {
	s := &Server{}
	rr := httptest.NewRecorder()
	if !s.writeStreamChunk(rr, []byte("hello")) {
		t.Fatal("expected writeStreamChunk to succeed")
	}
	if rr.Body.String() != "hello" {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}

	if s.writeStreamChunk(&failingWriter{}, []byte("fail")) {
		t.Fatalf("expected writeStreamChunk to fail")
	}
}

type failingWriter struct{}

func (f *failingWriter) Header() http.Header { return http.Header{} }
func (f *failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("write failed")
}
func (f *failingWriter) WriteHeader(statusCode int) {}

func TestScanEndpoint(t *testing.T) {
	srv, scanner := newTestServer(t, nil)

	for _, path := range []string{"/api/v1/security/scan", "/api/security/scan"} {
		rr := doJSON(t, srv, http.MethodPost, path, ScanRequest{URL: "http://127.0.0.1:1", ScanType: "headers"}, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", path, rr.Code, rr.Body.String())
		}
		var result scanapp.Result
		if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if result.SecurityScore != 75 || result.ScanType != scan.TypeHeaders || result.Summary.Critical != 1 {
			t.Fatalf("unexpected result %+v", result)
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected request id header")
		}
	}
	if atomic.LoadInt32(&scanner.scans) != 2 {
		t.Fatalf("expected 2 scans, got %d", scanner.scans)
	}
}

func TestScanEndpoint_ValidationErrors(t *testing.T) {
	srv, scanner := newTestServer(t, nil)

	rr := doJSON(t, srv, http.MethodPost, "/api/v1/security/scan", ScanRequest{URL: "ftp://example.com", ScanType: "deep"}, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var body struct {
		Errors []sharedErrors.FieldError `json:"errors"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Errors) != 2 || body.Errors[0].Field != "url" || body.Errors[1].Field != "scanType" {
		t.Fatalf("unexpected errors %+v", body.Errors)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/security/scan", strings.NewReader("{not json"))
	bad := httptest.NewRecorder()
	srv.ServeHTTP(bad, req)
	if bad.Code != http.StatusBadRequest || !strings.Contains(bad.Body.String(), `"field":"body"`) {
		t.Fatalf("expected body error, got %d %s", bad.Code, bad.Body.String())
	}

	if atomic.LoadInt32(&scanner.scans) != 0 {
		t.Fatal("scanner must not run for invalid input")
	}
}

func TestScanEndpoint_RejectsPrivateTargets(t *testing.T) {
	srv, scanner := newTestServer(t, func(c *Config) { c.Validator = validation.New(false) })

	rr := doJSON(t, srv, http.MethodPost, "/api/v1/security/scan", ScanRequest{URL: "http://127.0.0.1:8080"}, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), sharedErrors.ErrPrivateTarget.Error()) {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
	if atomic.LoadInt32(&scanner.scans) != 0 {
		t.Fatal("scanner must not run for a private target")
	}
}

func TestScanEndpoint_Failure(t *testing.T) {
	srv, scanner := newTestServer(t, nil)
	scanner.fail = true

	rr := doJSON(t, srv, http.MethodPost, "/api/v1/security/scan", ScanRequest{URL: "https://example.com"}, nil)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"error":"scan failed"`) {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestScanLimiter(t *testing.T) {
	srv, _ := newTestServer(t, func(c *Config) { c.ScansPerMinute = 2 })

	for i := 0; i < 2; i++ {
		if rr := doJSON(t, srv, http.MethodPost, "/api/v1/security/headers", URLRequest{URL: "https://example.com"}, nil); rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rr.Code)
		}
	}
	rr := doJSON(t, srv, http.MethodPost, "/api/v1/security/cors", URLRequest{URL: "https://example.com"}, nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after the scan budget, got %d", rr.Code)
	}

	// JWT analysis is not a scan and is not limited.
	if rr := doJSON(t, srv, http.MethodPost, "/api/v1/security/jwt", JWTRequest{Token: "a.b.c"}, nil); rr.Code != http.StatusOK {
		t.Fatalf("jwt should not be scan limited, got %d", rr.Code)
	}
}

func TestGlobalRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, func(c *Config) { c.RateLimit = 1; c.RateBurst = 1 })

	if rr := doJSON(t, srv, http.MethodGet, "/api/v1/health", nil, nil); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr := doJSON(t, srv, http.MethodGet, "/api/v1/health", nil, nil); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
}

func TestAuth(t *testing.T) {
	srv, _ := newTestServer(t, func(c *Config) { c.AuthToken = "s3cret" })

	if rr := doJSON(t, srv, http.MethodGet, "/api/v1/health", nil, nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
	if rr := doJSON(t, srv, http.MethodGet, "/api/v1/health", nil, map[string]string{"X-Auth-Token": "wrong"}); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", rr.Code)
	}
	if rr := doJSON(t, srv, http.MethodGet, "/api/v1/health", nil, map[string]string{"X-Auth-Token": "s3cret"}); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rr.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t, func(c *Config) { c.CORSOrigins = []string{"https://app.example.com"} })

	rr := doJSON(t, srv, http.MethodOptions, "/api/v1/security/scan", nil, map[string]string{"Origin": "https://app.example.com"})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("unexpected allow origin %q", got)
	}

	rr = doJSON(t, srv, http.MethodOptions, "/api/v1/security/scan", nil, map[string]string{"Origin": "https://evil.example"})
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unlisted origin should not be allowed, got %q", got)
	}
}

func TestJWTEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	// {"alg":"none"} . {}
	token := "eyJhbGciOiJub25lIn0.e30."
	rr := doJSON(t, srv, http.MethodPost, "/api/v1/security/jwt", JWTRequest{Token: token}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var analysis checker.JWTAnalysis
	if err := json.Unmarshal(rr.Body.Bytes(), &analysis); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !analysis.Success || analysis.Decoded.Header["alg"] != "none" {
		t.Fatalf("unexpected analysis %+v", analysis)
	}

	rr = doJSON(t, srv, http.MethodPost, "/api/v1/security/jwt", JWTRequest{}, nil)
	if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), `"field":"token"`) {
		t.Fatalf("expected token validation error, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestSSLEndpoint(t *testing.T) {
	srv, scanner := newTestServer(t, nil)

	rr := doJSON(t, srv, http.MethodPost, "/api/v1/security/ssl", SSLRequest{Hostname: "example.com"}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	scanner.mu.Lock()
	got := scanner.lastTLS
	scanner.mu.Unlock()
	if got != "example.com:0" {
		t.Fatalf("unexpected inspect target %q", got)
	}

	rr = doJSON(t, srv, http.MethodPost, "/api/v1/security/ssl", SSLRequest{Hostname: "example.com", Port: 70000}, nil)
	if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), `"field":"port"`) {
		t.Fatalf("expected port validation error, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestScansEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	if rr := doJSON(t, srv, http.MethodGet, "/api/v1/security/scans", nil, nil); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a store, got %d", rr.Code)
	}

	rec, err := scan.NewRecord("https://example.com", scan.TypeHeaders)
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	_ = rec.Start(time.Now())
	findings := []finding.Finding{{Category: finding.CategorySecurityHeaders, Severity: finding.SeverityHigh, Title: "Missing Content-Security-Policy"}}
	_ = rec.Complete(time.Now(), findings, nil)

	srv, _ = newTestServer(t, func(c *Config) {
		c.Scans = &fakeStore{records: map[string]*scan.Record{rec.ID(): rec}}
	})

	rr := doJSON(t, srv, http.MethodGet, "/api/v1/security/scans?limit=500", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var list struct {
		Scans []ScanView `json:"scans"`
		Count int        `json:"count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Count != 1 || list.Scans[0].SecurityScore != 85 || list.Scans[0].Summary.High != 1 {
		t.Fatalf("unexpected list %+v", list)
	}

	rr = doJSON(t, srv, http.MethodGet, "/api/security/scans/"+rec.ID(), nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var detail struct {
		Scan     ScanView          `json:"scan"`
		Findings []finding.Finding `json:"findings"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if detail.Scan.ID != rec.ID() || len(detail.Findings) != 1 {
		t.Fatalf("unexpected detail %+v", detail)
	}

	if rr := doJSON(t, srv, http.MethodGet, "/api/v1/security/scans/missing", nil, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestJobsEndpoints(t *testing.T) {
	scanner := &fakeScanner{}
	jobs := NewJobManager(scanner, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = jobs.Close(context.Background()) })
	srv, _ := newTestServer(t, func(c *Config) { c.Scanner = scanner; c.Jobs = jobs })

	rr := doJSON(t, srv, http.MethodPost, "/api/v1/security/jobs", JobRequest{URL: "https://example.com", ScanType: "headers"}, nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	var job Job
	if err := json.Unmarshal(rr.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job.Status != JobPending || job.ScanType != scan.TypeHeaders {
		t.Fatalf("unexpected job %+v", job)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		rr = doJSON(t, srv, http.MethodGet, "/api/v1/security/jobs/"+job.ID, nil, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &job); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if job.IsFinished() || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if job.Status != JobCompleted || job.ScanID != "scan-1" || job.Score == nil || *job.Score != 75 {
		t.Fatalf("unexpected finished job %+v", job)
	}

	if rr := doJSON(t, srv, http.MethodGet, "/api/v1/security/jobs/unknown", nil, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if rr := doJSON(t, srv, http.MethodPost, "/api/v1/security/jobs", JobRequest{URL: ""}, nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	recorder := metrics.NewRecorder(false)
	srv, _ := newTestServer(t, func(c *Config) { c.Metrics = recorder; c.MetricsPath = "/metrics" })

	doJSON(t, srv, http.MethodGet, "/api/v1/health", nil, nil)
	rr := doJSON(t, srv, http.MethodGet, "/metrics", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `secscan_http_requests_total{path="/api/v1/health",status="200"} 1`) {
		t.Fatalf("request metric missing:\n%s", rr.Body.String())
	}
}

func TestMetricsPath(t *testing.T) {
	tests := map[string]string{
		"/api/v1/security/scans":          "/api/v1/security/scans",
		"/api/v1/security/scans/abc-123":  "/api/v1/security/scans/{id}",
		"/api/security/jobs/job_1":        "/api/security/jobs/{id}",
		"/api/v1/security/jobs-stream":    "/api/v1/security/jobs-stream",
		"/api/v1/security/scans/":         "/api/v1/security/scans/",
	}
	for in, want := range tests {
		if got := metricsPath(in); got != want {
			t.Errorf("metricsPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClientIP(t *testing.T) {
	untrusted, _ := newTestServer(t, nil)
	trusted, _ := newTestServer(t, func(cfg *Config) {
		cfg.TrustedProxies = []string{"10.0.0.0/8", "192.0.2.7"}
	})

	tests := []struct {
		name   string
		srv    *Server
		remote string
		xff    string
		want   string
	}{
		{name: "peer only", srv: untrusted, remote: "192.0.2.1:4321", want: "192.0.2.1"},
		{name: "spoofed xff from untrusted peer", srv: untrusted, remote: "198.51.100.4:4321", xff: "203.0.113.9", want: "198.51.100.4"},
		{name: "untrusted peer on proxy server", srv: trusted, remote: "198.51.100.4:4321", xff: "203.0.113.9", want: "198.51.100.4"},
		{name: "trusted proxy", srv: trusted, remote: "10.1.2.3:4321", xff: "203.0.113.9", want: "203.0.113.9"},
		{name: "trusted single ip", srv: trusted, remote: "192.0.2.7:4321", xff: "203.0.113.9", want: "203.0.113.9"},
		{name: "rightmost untrusted hop", srv: trusted, remote: "10.1.2.3:4321", xff: "1.1.1.1, 203.0.113.9, 10.0.0.5", want: "203.0.113.9"},
		{name: "trusted proxy without xff", srv: trusted, remote: "10.1.2.3:4321", want: "10.1.2.3"},
		{name: "ipv6 peer", srv: untrusted, remote: "[2001:db8::1]:443", want: "2001:db8::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := tt.srv.clientIP(req); got != tt.want {
				t.Errorf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseTrustedProxies(t *testing.T) {
	nets, err := ParseTrustedProxies([]string{"10.0.0.0/8", " 192.0.2.7 ", "::1", "", "not-an-ip"})
	if err == nil || !strings.Contains(err.Error(), "not-an-ip") {
		t.Fatalf("expected error naming the invalid entry, got %v", err)
	}
	if len(nets) != 3 {
		t.Fatalf("expected 3 valid networks, got %v", nets)
	}
	if ones, bits := nets[1].Mask.Size(); ones != 32 || bits != 32 {
		t.Errorf("single IPv4 should be a /32, got /%d of %d", ones, bits)
	}
	if ones, bits := nets[2].Mask.Size(); ones != 128 || bits != 128 {
		t.Errorf("single IPv6 should be a /128, got /%d of %d", ones, bits)
	}
}

func TestRateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	srv, _ := newTestServer(t, func(cfg *Config) {
		cfg.RateLimit = 1
		cfg.RateBurst = 1
	})

	codes := make([]int, 0, 2)
	for _, xff := range []string{"203.0.113.1", "203.0.113.2"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
		req.RemoteAddr = "198.51.100.4:4321"
		req.Header.Set("X-Forwarded-For", xff)
		rr := httptest.NewRecorder()
		srv.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("expected a rotated X-Forwarded-For to share one limiter, got %v", codes)
	}
}
