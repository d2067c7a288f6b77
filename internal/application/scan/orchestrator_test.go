package scan

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/khanhnv2901/secscan/internal/checker"
	"github.com/khanhnv2901/secscan/internal/domain/finding"
	"github.com/khanhnv2901/secscan/internal/domain/scan"
	jsonrepo "github.com/khanhnv2901/secscan/internal/infrastructure/persistence/json"
	"github.com/khanhnv2901/secscan/internal/metrics"
	sharedErrors "github.com/khanhnv2901/secscan/internal/shared/errors"
)

// fakeModule returns canned findings, optionally after a delay or a panic.
type fakeModule struct {
	name     string
	findings []finding.Finding
	delay    time.Duration
	panics   bool

	mu      sync.Mutex
	targets []string
}

func (f *fakeModule) Name() string { return f.name }

func (f *fakeModule) Check(ctx context.Context, target string) checker.ModuleResult {
	f.mu.Lock()
	f.targets = append(f.targets, target)
	f.mu.Unlock()

	if f.panics {
		panic("boom")
	}
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
	}
	return checker.ModuleResult{
		Module:   f.name,
		Target:   target,
		Success:  true,
		Findings: append([]finding.Finding(nil), f.findings...),
	}
}

func (f *fakeModule) Inspect(ctx context.Context, host string, port int) checker.ModuleResult {
	return f.Check(ctx, host)
}

func (f *fakeModule) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.targets)
}

func fakeModules() (Modules, map[string]*fakeModule) {
	fakes := map[string]*fakeModule{
		checker.ModuleHeaders: {name: checker.ModuleHeaders, delay: 30 * time.Millisecond, findings: []finding.Finding{
			{Category: finding.CategorySecurityHeaders, Severity: finding.SeverityHigh, Title: "Missing Content-Security-Policy", Recommendation: "Add a CSP", OWASPCategory: "A05"},
		}},
		checker.ModuleSSL: {name: checker.ModuleSSL, delay: 20 * time.Millisecond, findings: []finding.Finding{
			{Category: finding.CategorySSL, Severity: finding.SeverityCritical, Title: "Certificate Expired", Recommendation: "Renew the certificate"},
		}},
		checker.ModuleVulnerabilities: {name: checker.ModuleVulnerabilities, delay: 10 * time.Millisecond, findings: []finding.Finding{
			{Category: finding.CategoryXSS, Severity: finding.SeverityHigh, Title: "Possible Cross-Site Scripting (XSS)", OWASPCategory: "A03", CWEID: "CWE-79"},
		}},
		checker.ModuleCORS: {name: checker.ModuleCORS, findings: []finding.Finding{
			{Category: finding.CategoryCORS, Severity: finding.SeverityMedium, Title: "Wildcard CORS Origin", Recommendation: "Restrict origins", OWASPCategory: "A05"},
		}},
	}
	return Modules{
		Headers:         fakes[checker.ModuleHeaders],
		TLS:             fakes[checker.ModuleSSL],
		Vulnerabilities: fakes[checker.ModuleVulnerabilities],
		CORS:            fakes[checker.ModuleCORS],
	}, fakes
}

func fixedClock() func() time.Time {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	calls := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return base.Add(time.Duration(calls) * time.Second)
	}
}

func TestRunScan_FullMergesInModuleOrder(t *testing.T) {
	modules, fakes := fakeModules()
	recorder := metrics.NewRecorder(false)
	o := NewOrchestrator(modules, nil, Config{}, zaptest.NewLogger(t), WithMetrics(recorder), WithClock(fixedClock()))

	result, err := o.RunScan(context.Background(), "https://example.com", scan.TypeFull)
	if err != nil {
		t.Fatalf("RunScan: %v", err)
	}

	var titles []string
	for _, f := range result.Findings {
		titles = append(titles, f.Title)
	}
	want := "Missing Content-Security-Policy|Certificate Expired|Possible Cross-Site Scripting (XSS)|Wildcard CORS Origin"
	if got := strings.Join(titles, "|"); got != want {
		t.Fatalf("findings out of order:\n got %s\nwant %s", got, want)
	}

	// 100 - 15 - 25 - 15 - 8
	if result.SecurityScore != 37 {
		t.Errorf("score = %d, want 37", result.SecurityScore)
	}
	if result.Summary.Total != 4 || result.Summary.Critical != 1 || result.Summary.High != 2 || result.Summary.Medium != 1 {
		t.Errorf("unexpected summary %+v", result.Summary)
	}
	if result.Summary.OWASP["A05"] != 2 || result.Summary.OWASP["A03"] != 1 {
		t.Errorf("unexpected owasp counts %+v", result.Summary.OWASP)
	}
	if len(result.Recommendations) != 3 || result.Recommendations[0].Title != "Certificate Expired" {
		t.Errorf("unexpected recommendations %+v", result.Recommendations)
	}
	if len(result.Results) != 4 {
		t.Errorf("expected 4 module results, got %d", len(result.Results))
	}
	if result.ScanID != "" {
		t.Errorf("scan id should be empty without a store, got %q", result.ScanID)
	}
	if !result.CompletedAt.After(result.StartedAt) {
		t.Errorf("completedAt %v should follow startedAt %v", result.CompletedAt, result.StartedAt)
	}
	for name, fake := range fakes {
		if fake.calls() != 1 {
			t.Errorf("%s called %d times", name, fake.calls())
		}
	}
}

func TestRunScan_ModuleSelection(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		scanType scan.Type
		want     []string
	}{
		{name: "headers", target: "https://example.com", scanType: scan.TypeHeaders, want: []string{checker.ModuleHeaders}},
		{name: "ssl https", target: "https://example.com", scanType: scan.TypeSSL, want: []string{checker.ModuleSSL}},
		{name: "ssl http", target: "http://example.com", scanType: scan.TypeSSL, want: nil},
		{name: "vulnerabilities", target: "http://example.com", scanType: scan.TypeVulnerabilities, want: []string{checker.ModuleVulnerabilities}},
		{name: "full http skips tls", target: "http://example.com", scanType: scan.TypeFull, want: []string{checker.ModuleHeaders, checker.ModuleVulnerabilities, checker.ModuleCORS}},
		{name: "empty type is full", target: "https://example.com", scanType: "", want: []string{checker.ModuleHeaders, checker.ModuleSSL, checker.ModuleVulnerabilities, checker.ModuleCORS}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			modules, fakes := fakeModules()
			o := NewOrchestrator(modules, nil, Config{}, zaptest.NewLogger(t))

			result, err := o.RunScan(context.Background(), tt.target, tt.scanType)
			if err != nil {
				t.Fatalf("RunScan: %v", err)
			}
			if len(result.Results) != len(tt.want) {
				t.Fatalf("got %d module results, want %v", len(result.Results), tt.want)
			}
			for _, name := range tt.want {
				if _, ok := result.Results[name]; !ok {
					t.Errorf("missing %s result", name)
				}
				if fakes[name].calls() != 1 {
					t.Errorf("%s not invoked", name)
				}
			}
			if len(tt.want) == 0 && result.SecurityScore != finding.MaxScore {
				t.Errorf("empty scan should score %d, got %d", finding.MaxScore, result.SecurityScore)
			}
		})
	}
}

func TestNewModules_BlocksPrivateAddressesByDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	blocked := NewModules(Settings{HeaderTimeout: 2 * time.Second}, zaptest.NewLogger(t))
	if tc, ok := blocked.TLS.(*checker.TLSChecker); !ok || !tc.BlockPrivate {
		t.Fatalf("expected TLS module to block private addresses, got %+v", blocked.TLS)
	}
	if res := blocked.Headers.Check(context.Background(), srv.URL); res.Success {
		t.Fatal("expected loopback dial to be refused")
	}

	allowed := NewModules(Settings{HeaderTimeout: 2 * time.Second, AllowPrivate: true}, zaptest.NewLogger(t))
	if res := allowed.Headers.Check(context.Background(), srv.URL); !res.Success {
		t.Fatalf("expected loopback target to be reachable, got %q", res.Error)
	}
}

func TestRunScan_ConnectionRefusedHeadersScan(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	logger := zaptest.NewLogger(t)
	modules := NewModules(Settings{HeaderTimeout: 2 * time.Second, AllowPrivate: true}, logger)
	o := NewOrchestrator(modules, nil, Config{}, logger)

	result, err := o.RunScan(context.Background(), "http://"+addr, scan.TypeHeaders)
	if err != nil {
		t.Fatalf("RunScan must not fail for an unreachable target: %v", err)
	}

	headers, ok := result.Results[checker.ModuleHeaders]
	if !ok {
		t.Fatal("headers result missing")
	}
	if headers.Success {
		t.Error("expected headers module to report success=false")
	}
	if len(result.Findings) != 1 || result.Findings[0].Title != "Connection Failed" ||
		result.Findings[0].Severity != finding.SeverityCritical {
		t.Fatalf("expected a single critical Connection Failed, got %+v", result.Findings)
	}
	if result.SecurityScore != 75 {
		t.Errorf("score = %d, want 75", result.SecurityScore)
	}
}

func TestRunScan_PanicIsScanFailure(t *testing.T) {
	modules, _ := fakeModules()
	modules.CORS = &fakeModule{name: checker.ModuleCORS, panics: true}
	repo, err := jsonrepo.NewScanRepository(t.TempDir())
	if err != nil {
		t.Fatalf("NewScanRepository: %v", err)
	}
	o := NewOrchestrator(modules, repo, Config{}, zaptest.NewLogger(t))

	result, err := o.RunScan(context.Background(), "https://example.com", scan.TypeFull)
	if !errors.Is(err, sharedErrors.ErrScanFailed) {
		t.Fatalf("expected ErrScanFailed, got %v", err)
	}
	if result != nil {
		t.Fatal("expected no result for a failed scan")
	}

	records, err := o.ListScans(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListScans: %v", err)
	}
	if len(records) != 1 || records[0].Status() != scan.StatusFailed {
		t.Fatalf("expected one failed record, got %d", len(records))
	}
	if !strings.Contains(records[0].ErrorMessage(), "cors") {
		t.Errorf("error message should name the module: %q", records[0].ErrorMessage())
	}
}

func TestRunScan_PersistsRecord(t *testing.T) {
	modules, _ := fakeModules()
	repo, err := jsonrepo.NewScanRepository(t.TempDir())
	if err != nil {
		t.Fatalf("NewScanRepository: %v", err)
	}
	o := NewOrchestrator(modules, repo, Config{}, zaptest.NewLogger(t))

	result, err := o.RunScan(context.Background(), "https://example.com", scan.TypeHeaders)
	if err != nil {
		t.Fatalf("RunScan: %v", err)
	}
	if result.ScanID == "" {
		t.Fatal("expected a scan id when a store is configured")
	}

	record, err := o.GetScan(context.Background(), result.ScanID)
	if err != nil {
		t.Fatalf("GetScan: %v", err)
	}
	if record.Status() != scan.StatusCompleted || record.Score() != result.SecurityScore {
		t.Fatalf("stored record %s/%d does not match result %d", record.Status(), record.Score(), result.SecurityScore)
	}
	if len(record.Findings()) != len(result.Findings) {
		t.Errorf("stored %d findings, want %d", len(record.Findings()), len(result.Findings))
	}
	if !record.StartedAt().Equal(result.StartedAt) || !record.CompletedAt().Equal(result.CompletedAt) {
		t.Errorf("stored times %v..%v do not match result %v..%v",
			record.StartedAt(), record.CompletedAt(), result.StartedAt, result.CompletedAt)
	}

	if err := o.DeleteScan(context.Background(), result.ScanID); err != nil {
		t.Fatalf("DeleteScan: %v", err)
	}
	if _, err := o.GetScan(context.Background(), result.ScanID); !errors.Is(err, sharedErrors.ErrScanNotFound) {
		t.Fatalf("expected ErrScanNotFound after delete, got %v", err)
	}
}

type failingRepo struct{}

func (failingRepo) Save(context.Context, *scan.Record) error { return sharedErrors.ErrRepositoryOperation }
func (failingRepo) FindByID(context.Context, string) (*scan.Record, error) {
	return nil, sharedErrors.ErrScanNotFound
}
func (failingRepo) FindAll(context.Context, int) ([]*scan.Record, error) { return nil, nil }
func (failingRepo) Delete(context.Context, string) error                  { return nil }
func (failingRepo) Ping(context.Context) error                           { return errors.New("down") }

func TestRunScan_StoreFailureIsNotFatal(t *testing.T) {
	modules, _ := fakeModules()
	o := NewOrchestrator(modules, failingRepo{}, Config{}, zaptest.NewLogger(t))

	result, err := o.RunScan(context.Background(), "https://example.com", scan.TypeVulnerabilities)
	if err != nil {
		t.Fatalf("store failure must not fail the scan: %v", err)
	}
	if result.ScanID != "" {
		t.Errorf("scan id should be empty when persistence failed, got %q", result.ScanID)
	}
	if err := o.Ready(context.Background()); !errors.Is(err, sharedErrors.ErrRepositoryOperation) {
		t.Errorf("expected readiness failure, got %v", err)
	}
}

func TestRunScan_DeadlineBoundsModules(t *testing.T) {
	modules, _ := fakeModules()
	modules.Headers = &fakeModule{name: checker.ModuleHeaders, delay: 5 * time.Second}
	o := NewOrchestrator(modules, nil, Config{ScanDeadline: 50 * time.Millisecond}, zaptest.NewLogger(t))

	start := time.Now()
	if _, err := o.RunScan(context.Background(), "http://example.com", scan.TypeHeaders); err != nil {
		t.Fatalf("RunScan: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("scan deadline not enforced, took %v", elapsed)
	}
}

func TestOrchestrator_WithoutStore(t *testing.T) {
	modules, _ := fakeModules()
	o := NewOrchestrator(modules, nil, Config{}, nil)

	if o.HasStore() {
		t.Fatal("expected no store")
	}
	if _, err := o.GetScan(context.Background(), "x"); !errors.Is(err, sharedErrors.ErrStoreNotConfigured) {
		t.Errorf("GetScan: expected ErrStoreNotConfigured, got %v", err)
	}
	if _, err := o.ListScans(context.Background(), 5); !errors.Is(err, sharedErrors.ErrStoreNotConfigured) {
		t.Errorf("ListScans: expected ErrStoreNotConfigured, got %v", err)
	}
	if err := o.Ready(context.Background()); err != nil {
		t.Errorf("Ready without a store should succeed, got %v", err)
	}
}

func TestOrchestrator_SingleModules(t *testing.T) {
	modules, fakes := fakeModules()
	o := NewOrchestrator(modules, nil, Config{}, zaptest.NewLogger(t))

	if res := o.CheckHeaders(context.Background(), "https://example.com"); res.Module != checker.ModuleHeaders {
		t.Errorf("unexpected module %q", res.Module)
	}
	if res := o.CheckCORS(context.Background(), "https://example.com"); len(res.Findings) != 1 {
		t.Errorf("unexpected cors findings %+v", res.Findings)
	}
	if res := o.CheckTLS(context.Background(), "example.com", 443); !res.Success {
		t.Errorf("unexpected tls result %+v", res)
	}
	if fakes[checker.ModuleVulnerabilities].calls() != 0 {
		t.Error("single-module checks must not run the prober")
	}
}

func TestOrchestrator_AnalyzeJWTUsesClock(t *testing.T) {
	modules, _ := fakeModules()
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	o := NewOrchestrator(modules, nil, Config{}, nil, WithClock(func() time.Time { return now }))

	// {"alg":"HS256","typ":"JWT"} . {"exp":1700000000,"iat":1690000000}
	token := "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.eyJleHAiOjE3MDAwMDAwMDAsImlhdCI6MTY5MDAwMDAwMH0.sig"
	analysis := o.AnalyzeJWT(token)
	if !analysis.Success {
		t.Fatalf("expected decode success, got %q", analysis.Error)
	}
	var expired bool
	for _, f := range analysis.Findings {
		if f.Title == "Token Expired" {
			expired = true
		}
	}
	if !expired {
		t.Fatalf("expected Token Expired against the injected clock, got %+v", analysis.Findings)
	}
}
