package checker

import (
	"context"
	"sync"
	"time"

	"github.com/khanhnv2901/secscan/internal/domain/finding"
	"golang.org/x/time/rate"
)

// Module names, also used as keys in aggregated scan results.
const (
	ModuleHeaders         = "headers"
	ModuleSSL             = "ssl"
	ModuleVulnerabilities = "vulnerabilities"
	ModuleCORS            = "cors"
)

// ModuleResult is the outcome of one scanning module against one target.
// Module-specific observations are attached through the optional fields.
type ModuleResult struct {
	Module      string            `json:"module" yaml:"module"`
	Target      string            `json:"target" yaml:"target"`
	CheckedAt   time.Time         `json:"checked_at" yaml:"checked_at"`
	Success     bool              `json:"success" yaml:"success"`
	DurationMs  float64           `json:"duration_ms" yaml:"duration_ms"`
	Error       string            `json:"error,omitempty" yaml:"error,omitempty"`
	Findings    []finding.Finding `json:"findings" yaml:"findings"`
	StatusCode  int               `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Cookies     []CookieIssue     `json:"cookies,omitempty" yaml:"cookies,omitempty"`
	Certificate *CertificateInfo  `json:"certificate,omitempty" yaml:"certificate,omitempty"`
	Connection  *ConnectionInfo   `json:"connection,omitempty" yaml:"connection,omitempty"`
	CORS        *CORSPolicy       `json:"cors,omitempty" yaml:"cors,omitempty"`
	Probes      *ProbeReport      `json:"probes,omitempty" yaml:"probes,omitempty"`
}

func newModuleResult(module, target string) ModuleResult {
	return ModuleResult{
		Module:    module,
		Target:    target,
		CheckedAt: time.Now().UTC(),
		Findings:  []finding.Finding{},
	}
}

// finish stamps the elapsed time since CheckedAt.
func (r *ModuleResult) finish() {
	r.DurationMs = float64(time.Since(r.CheckedAt).Microseconds()) / 1000
}

// Checker is the interface that all network scanning modules satisfy.
type Checker interface {
	// Check runs the module against a single target URL. Failures are
	// reported inside the result, never as a panic or error return.
	Check(ctx context.Context, target string) ModuleResult

	// Name returns the module name (e.g., "headers", "ssl").
	Name() string
}

// ResultFunc is invoked once per finished target by Runner.
type ResultFunc func(target string, result ModuleResult, duration float64) error

// Runner executes one checker against many targets with bounded concurrency
// and a global request rate.
type Runner struct {
	Concurrency int           // Maximum number of concurrent checks
	RateLimit   int           // Checks started per second (global)
	Timeout     time.Duration // Timeout for each check
}

// RunChecks executes the checker against every target using a worker pool.
// Results are returned in target order.
func (r *Runner) RunChecks(ctx context.Context, targets []string, checker Checker, resultFn ResultFunc) []ModuleResult {
	concurrency := r.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	limit := rate.Inf
	burst := 1
	if r.RateLimit > 0 {
		limit = rate.Limit(r.RateLimit)
		burst = r.RateLimit
	}
	limiter := rate.NewLimiter(limit, burst)

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]ModuleResult, len(targets))

	for i, target := range targets {
		wg.Add(1)
		go func(idx int, t string) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			if err := limiter.Wait(ctx); err != nil {
				res := newModuleResult(checker.Name(), t)
				res.Error = err.Error()
				results[idx] = res
				return
			}

			start := time.Now()

			checkCtx := ctx
			if r.Timeout > 0 {
				var cancel context.CancelFunc
				checkCtx, cancel = context.WithTimeout(ctx, r.Timeout)
				defer cancel()
			}

			result := checker.Check(checkCtx, t)

			if resultFn != nil {
				_ = resultFn(t, result, time.Since(start).Seconds())
			}

			results[idx] = result
		}(i, target)
	}

	wg.Wait()
	return results
}
