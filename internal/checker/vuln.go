package checker

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/khanhnv2901/secscan/internal/domain/finding"
	"github.com/khanhnv2901/secscan/internal/shared/constants"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ProbeMode selects how many findings a payload pass may report.
type ProbeMode string

const (
	// ProbeModeFirstMatch stops a pass at the first confirming payload.
	ProbeModeFirstMatch ProbeMode = "first-match"
	// ProbeModeExhaustive reports one finding per confirming payload.
	ProbeModeExhaustive ProbeMode = "exhaustive"
)

// ParseProbeMode accepts "first-match" (default when empty) or "exhaustive".
func ParseProbeMode(s string) (ProbeMode, error) {
	switch ProbeMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ProbeModeFirstMatch:
		return ProbeModeFirstMatch, nil
	case ProbeModeExhaustive:
		return ProbeModeExhaustive, nil
	default:
		return "", fmt.Errorf("unknown probe mode %q (want first-match or exhaustive)", s)
	}
}

var sqlInjectionPayloads = []string{
	"' OR '1'='1",
	"1' UNION SELECT NULL--",
	"admin'--",
	"' OR 1=1--",
	"'; DROP TABLE users--",
}

// sqlErrorSignatures are matched against the lower-cased response body.
var sqlErrorSignatures = []string{"sql", "mysql", "syntax error", "ora-", "postgresql", "sqlite"}

var xssPayloads = []string{
	"<script>alert('XSS')</script>",
	"<img src=x onerror=alert('XSS')>",
	"javascript:alert('XSS')",
	"<svg onload=alert('XSS')>",
}

type sensitivePattern struct {
	Name    string
	Pattern *regexp.Regexp
}

var sensitiveDataPatterns = []sensitivePattern{
	{Name: "API Key", Pattern: regexp.MustCompile(`(?i)api[_-]?key["\s:=]+["']?([a-zA-Z0-9_-]{20,})`)},
	{Name: "Stripe Key", Pattern: regexp.MustCompile(`(?i)sk_live_[a-zA-Z0-9]{24,}`)},
	{Name: "AWS Key", Pattern: regexp.MustCompile(`(?i)AKIA[0-9A-Z]{16}`)},
	{Name: "Private Key", Pattern: regexp.MustCompile(`(?i)-----BEGIN (?:RSA )?PRIVATE KEY-----`)},
	{Name: "Password Field", Pattern: regexp.MustCompile(`(?i)["']password["']\s*:\s*["'][^"']+["']`)},
	{Name: "Secret Token", Pattern: regexp.MustCompile(`(?i)secret[_-]?token["\s:=]+["']?([a-zA-Z0-9_-]{20,})`)},
}

var sensitivePaths = []string{
	"/.env",
	"/.git/config",
	"/config.json",
	"/wp-config.php",
	"/admin",
	"/debug",
	"/.htaccess",
	"/backup.sql",
}

// ProbeReport summarizes the requests the prober issued.
type ProbeReport struct {
	Mode             ProbeMode `json:"mode" yaml:"mode"`
	SQLPayloadsTried int       `json:"sql_payloads_tried" yaml:"sql_payloads_tried"`
	XSSPayloadsTried int       `json:"xss_payloads_tried" yaml:"xss_payloads_tried"`
	PathsProbed      int       `json:"paths_probed" yaml:"paths_probed"`
	Errors           int       `json:"errors" yaml:"errors"`
}

// VulnerabilityChecker runs heuristic SQL injection, reflected XSS, sensitive
// data and sensitive endpoint probes. Individual probe failures are counted,
// never reported as findings.
type VulnerabilityChecker struct {
	Client          *http.Client
	UserAgent       string
	Mode            ProbeMode
	ProbeTimeout    time.Duration
	PathTimeout     time.Duration
	PathConcurrency int
	MaxBodyBytes    int64
	Logger          *zap.Logger
}

// NewVulnerabilityChecker creates a prober with the package default budgets.
func NewVulnerabilityChecker(opts ClientOptions, mode ProbeMode, userAgent string, logger *zap.Logger) *VulnerabilityChecker {
	if opts.Timeout <= 0 {
		opts.Timeout = constants.ProbeTimeout
	}
	return &VulnerabilityChecker{
		Client:          NewHTTPClient(opts),
		UserAgent:       userAgent,
		Mode:            mode,
		ProbeTimeout:    constants.ProbeTimeout,
		PathTimeout:     constants.PathProbeTimeout,
		PathConcurrency: 4,
		MaxBodyBytes:    constants.MaxBodyBytes,
		Logger:          logger,
	}
}

// Name returns the name of this checker
func (v *VulnerabilityChecker) Name() string {
	return ModuleVulnerabilities
}

// passResult is the output of one probe pass.
type passResult struct {
	findings []finding.Finding
	tried    int
	errors   int
}

// Check runs the probe passes concurrently and concatenates their findings in
// the order sql injection, xss, sensitive data, sensitive endpoints.
func (v *VulnerabilityChecker) Check(ctx context.Context, target string) ModuleResult {
	result := newModuleResult(ModuleVulnerabilities, target)
	defer result.finish()

	info := ParseTarget(target)
	if info.FullURL == "" {
		result.Error = "invalid target URL"
		return result
	}

	// Cookies set by the target live only for this scan.
	client := v.Client
	if client == nil {
		client = NewHTTPClient(ClientOptions{Timeout: v.ProbeTimeout})
	}
	client = withFreshJar(client)

	var sqlPass, xssPass, dataPass, pathPass passResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sqlPass = v.probeSQLInjection(gctx, client, info)
		return nil
	})
	g.Go(func() error {
		xssPass = v.probeXSS(gctx, client, info)
		return nil
	})
	g.Go(func() error {
		dataPass = v.probeSensitiveData(gctx, client, info)
		return nil
	})
	g.Go(func() error {
		pathPass = v.probeSensitivePaths(gctx, client, info)
		return nil
	})
	_ = g.Wait()

	for _, pass := range []passResult{sqlPass, xssPass, dataPass, pathPass} {
		result.Findings = append(result.Findings, pass.findings...)
	}
	result.Probes = &ProbeReport{
		Mode:             v.mode(),
		SQLPayloadsTried: sqlPass.tried,
		XSSPayloadsTried: xssPass.tried,
		PathsProbed:      pathPass.tried,
		Errors:           sqlPass.errors + xssPass.errors + dataPass.errors + pathPass.errors,
	}
	result.Success = true

	v.logger().Debug("vulnerability probes finished",
		zap.String("target", target),
		zap.Int("findings", len(result.Findings)),
		zap.Int("probe_errors", result.Probes.Errors))
	return result
}

func (v *VulnerabilityChecker) probeSQLInjection(ctx context.Context, client *http.Client, info *TargetInfo) passResult {
	var pass passResult
	for _, payload := range sqlInjectionPayloads {
		if ctx.Err() != nil {
			break
		}
		pass.tried++
		body, _, err := v.fetch(ctx, client, info.WithQueryParam("id", payload), v.ProbeTimeout)
		if err != nil {
			pass.errors++
			continue
		}
		if !containsSQLError(body) {
			continue
		}
		pass.findings = append(pass.findings, finding.Finding{
			Category:       finding.CategorySQLInjection,
			Severity:       finding.SeverityCritical,
			Title:          "Possible SQL Injection Vulnerability",
			Description:    "Application may be vulnerable to SQL injection attacks",
			Evidence:       "Payload: " + payload,
			Recommendation: "Use parameterized queries and input validation",
			OWASPCategory:  "A03",
			CWEID:          "CWE-89",
		})
		if v.mode() == ProbeModeFirstMatch {
			break
		}
	}
	return pass
}

func containsSQLError(body []byte) bool {
	lower := bytes.ToLower(body)
	for _, sig := range sqlErrorSignatures {
		if bytes.Contains(lower, []byte(sig)) {
			return true
		}
	}
	return false
}

func (v *VulnerabilityChecker) probeXSS(ctx context.Context, client *http.Client, info *TargetInfo) passResult {
	var pass passResult
	for _, payload := range xssPayloads {
		if ctx.Err() != nil {
			break
		}
		pass.tried++
		body, _, err := v.fetch(ctx, client, info.WithQueryParam("q", payload), v.ProbeTimeout)
		if err != nil {
			pass.errors++
			continue
		}
		if !bytes.Contains(body, []byte(payload)) {
			continue
		}
		pass.findings = append(pass.findings, finding.Finding{
			Category:       finding.CategoryXSS,
			Severity:       finding.SeverityHigh,
			Title:          "Possible Cross-Site Scripting (XSS)",
			Description:    "User input is reflected without proper encoding",
			Evidence:       "Payload: " + payload,
			Recommendation: "Encode all user input before rendering",
			OWASPCategory:  "A03",
			CWEID:          "CWE-79",
		})
		if v.mode() == ProbeModeFirstMatch {
			break
		}
	}
	return pass
}

func (v *VulnerabilityChecker) probeSensitiveData(ctx context.Context, client *http.Client, info *TargetInfo) passResult {
	var pass passResult
	body, _, err := v.fetch(ctx, client, info.FullURL, v.ProbeTimeout)
	if err != nil {
		pass.errors++
		return pass
	}
	pass.findings = ScanSensitiveData(body)
	return pass
}

// ScanSensitiveData reports one finding per secret pattern found in body.
func ScanSensitiveData(body []byte) []finding.Finding {
	var findings []finding.Finding
	for _, p := range sensitiveDataPatterns {
		if !p.Pattern.Match(body) {
			continue
		}
		findings = append(findings, finding.Finding{
			Category:       finding.CategorySensitiveDataExposure,
			Severity:       finding.SeverityCritical,
			Title:          p.Name + " Possibly Exposed",
			Description:    "Response may contain sensitive data: " + p.Name,
			Recommendation: "Remove sensitive data from responses and use environment variables",
			OWASPCategory:  "A01",
			CWEID:          "CWE-200",
		})
	}
	return findings
}

// probeSensitivePaths requests each path against the origin on a bounded
// pool; findings keep the path list order.
func (v *VulnerabilityChecker) probeSensitivePaths(ctx context.Context, client *http.Client, info *TargetInfo) passResult {
	hits := make([]*finding.Finding, len(sensitivePaths))
	failed := make([]bool, len(sensitivePaths))

	g, gctx := errgroup.WithContext(ctx)
	limit := v.PathConcurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, path := range sensitivePaths {
		g.Go(func() error {
			body, status, err := v.fetch(gctx, client, info.WithPath(path), v.PathTimeout)
			if err != nil {
				failed[i] = true
				return nil
			}
			if status != http.StatusOK || len(body) == 0 {
				return nil
			}
			hits[i] = &finding.Finding{
				Category:       finding.CategorySecurityMisconfiguration,
				Severity:       finding.SeverityHigh,
				Title:          "Sensitive Endpoint Accessible",
				Description:    path + " is publicly accessible",
				Evidence:       fmt.Sprintf("GET %s returned %d", path, status),
				Recommendation: "Restrict access to sensitive endpoints",
				OWASPCategory:  "A05",
			}
			return nil
		})
	}
	_ = g.Wait()

	pass := passResult{tried: len(sensitivePaths)}
	for i := range sensitivePaths {
		if failed[i] {
			pass.errors++
		}
		if hits[i] != nil {
			pass.findings = append(pass.findings, *hits[i])
		}
	}
	return pass
}

func (v *VulnerabilityChecker) fetch(ctx context.Context, client *http.Client, target string, timeout time.Duration) ([]byte, int, error) {
	resp, body, err := doRequest(ctx, client, http.MethodGet, target, v.UserAgent, nil, timeout, v.MaxBodyBytes)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

func (v *VulnerabilityChecker) mode() ProbeMode {
	if v.Mode == "" {
		return ProbeModeFirstMatch
	}
	return v.Mode
}

func (v *VulnerabilityChecker) logger() *zap.Logger {
	if v.Logger == nil {
		return zap.NewNop()
	}
	return v.Logger
}
