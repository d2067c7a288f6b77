package checker

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/khanhnv2901/secscan/internal/domain/finding"
	"github.com/khanhnv2901/secscan/internal/shared/constants"
	"go.uber.org/zap"
)

// HeaderPolicy describes one required security header: the finding emitted
// when it is missing and an optional value check when it is present.
type HeaderPolicy struct {
	Header         string
	Name           string
	Severity       finding.Severity
	Description    string
	Recommendation string
	CheckFunc      func(value string) []finding.Finding
}

// securityHeaderPolicies is evaluated in order so output is deterministic.
var securityHeaderPolicies = []HeaderPolicy{
	{
		Header:         "Strict-Transport-Security",
		Name:           "Strict-Transport-Security (HSTS)",
		Severity:       finding.SeverityHigh,
		Description:    "Missing HSTS header - site may be vulnerable to protocol downgrade attacks",
		Recommendation: "Add: Strict-Transport-Security: max-age=31536000; includeSubDomains",
		CheckFunc:      checkHSTS,
	},
	{
		Header:         "Content-Security-Policy",
		Name:           "Content-Security-Policy (CSP)",
		Severity:       finding.SeverityHigh,
		Description:    "Missing CSP header - site may be vulnerable to cross-site scripting",
		Recommendation: "Add a Content-Security-Policy header to prevent XSS attacks",
	},
	{
		Header:         "X-Frame-Options",
		Name:           "X-Frame-Options",
		Severity:       finding.SeverityMedium,
		Description:    "Missing X-Frame-Options - site may be vulnerable to clickjacking",
		Recommendation: "Add: X-Frame-Options: DENY or SAMEORIGIN",
		CheckFunc:      checkXFrameOptions,
	},
	{
		Header:         "X-Content-Type-Options",
		Name:           "X-Content-Type-Options",
		Severity:       finding.SeverityMedium,
		Description:    "Missing X-Content-Type-Options - browser may MIME-sniff content",
		Recommendation: "Add: X-Content-Type-Options: nosniff",
	},
	{
		Header:         "Referrer-Policy",
		Name:           "Referrer-Policy",
		Severity:       finding.SeverityLow,
		Description:    "Missing Referrer-Policy - referrer information may leak to third parties",
		Recommendation: "Add: Referrer-Policy: strict-origin-when-cross-origin",
	},
	{
		Header:         "Permissions-Policy",
		Name:           "Permissions-Policy",
		Severity:       finding.SeverityLow,
		Description:    "Missing Permissions-Policy - browser features not explicitly controlled",
		Recommendation: "Add a Permissions-Policy header to control browser features",
	},
	{
		Header:         "X-XSS-Protection",
		Name:           "X-XSS-Protection",
		Severity:       finding.SeverityInfo,
		Description:    "Missing X-XSS-Protection - legacy XSS filter not enabled",
		Recommendation: "Add: X-XSS-Protection: 1; mode=block (legacy browsers only)",
	},
}

// disclosureHeader is a response header that leaks server technology.
type disclosureHeader struct {
	Header         string
	Severity       finding.Severity
	Title          string
	Description    string
	Recommendation string
}

var informationDisclosureHeaders = []disclosureHeader{
	{
		Header:         "Server",
		Severity:       finding.SeverityInfo,
		Title:          "Server Header Present",
		Description:    "Server header reveals: %s",
		Recommendation: "Consider removing or obfuscating the Server header",
	},
	{
		Header:         "X-Powered-By",
		Severity:       finding.SeverityLow,
		Title:          "X-Powered-By Header Present",
		Description:    "Technology disclosed: %s",
		Recommendation: "Remove the X-Powered-By header",
	},
}

var hstsMaxAgePattern = regexp.MustCompile(`(?i)max-age\s*=\s*"?(\d+)`)

// HeaderPolicies returns a copy of the header registry in evaluation order.
func HeaderPolicies() []HeaderPolicy {
	out := make([]HeaderPolicy, len(securityHeaderPolicies))
	copy(out, securityHeaderPolicies)
	return out
}

// AnalyzeSecurityHeaders diffs response headers against the header registry
// and reports technology disclosure headers. It performs no I/O.
func AnalyzeSecurityHeaders(headers http.Header) []finding.Finding {
	findings := []finding.Finding{}

	for _, policy := range securityHeaderPolicies {
		value := strings.TrimSpace(headers.Get(policy.Header))
		if value == "" {
			findings = append(findings, finding.Finding{
				Category:       finding.CategorySecurityHeaders,
				Severity:       policy.Severity,
				Title:          "Missing " + policy.Header,
				Description:    policy.Description,
				Recommendation: policy.Recommendation,
				OWASPCategory:  "A05",
			})
			continue
		}
		if policy.CheckFunc != nil {
			findings = append(findings, policy.CheckFunc(value)...)
		}
	}

	for _, h := range informationDisclosureHeaders {
		value := headers.Get(h.Header)
		if value == "" {
			continue
		}
		findings = append(findings, finding.Finding{
			Category:       finding.CategoryInformationDisclosure,
			Severity:       h.Severity,
			Title:          h.Title,
			Description:    fmt.Sprintf(h.Description, value),
			Recommendation: h.Recommendation,
			OWASPCategory:  "A05",
		})
	}

	return findings
}

// checkHSTS flags a max-age shorter than one year. A header without max-age
// counts as max-age=0.
func checkHSTS(value string) []finding.Finding {
	maxAge := 0
	if m := hstsMaxAgePattern.FindStringSubmatch(value); m != nil {
		if parsed, err := strconv.Atoi(m[1]); err == nil {
			maxAge = parsed
		} else {
			// Overflowing digit runs are far above the threshold.
			maxAge = constants.HSTSMinMaxAge
		}
	}
	if maxAge >= constants.HSTSMinMaxAge {
		return nil
	}
	return []finding.Finding{{
		Category:       finding.CategorySecurityHeaders,
		Severity:       finding.SeverityMedium,
		Title:          "Weak HSTS Configuration",
		Description:    fmt.Sprintf("HSTS max-age is %d seconds. Recommended minimum is 1 year (%d)", maxAge, constants.HSTSMinMaxAge),
		Recommendation: "Increase max-age to at least 31536000",
		OWASPCategory:  "A05",
	}}
}

// checkXFrameOptions flags the obsolete ALLOW-FROM directive.
func checkXFrameOptions(value string) []finding.Finding {
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(value)), "ALLOW-FROM") {
		return nil
	}
	return []finding.Finding{{
		Category:       finding.CategorySecurityHeaders,
		Severity:       finding.SeverityMedium,
		Title:          "Deprecated X-Frame-Options Value",
		Description:    "ALLOW-FROM is deprecated and not supported by modern browsers",
		Recommendation: "Use CSP frame-ancestors directive instead",
		OWASPCategory:  "A05",
	}}
}

// connectionFailed is the single finding reported when the target cannot be fetched.
func connectionFailed(err error) finding.Finding {
	return finding.Finding{
		Category:       finding.CategoryConnection,
		Severity:       finding.SeverityCritical,
		Title:          "Connection Failed",
		Description:    "Unable to connect: " + err.Error(),
		Recommendation: "Verify the URL is accessible",
	}
}

// HeaderChecker fetches the target once and analyzes its response headers.
type HeaderChecker struct {
	Client    *http.Client
	UserAgent string
	Timeout   time.Duration
	Logger    *zap.Logger
}

// NewHeaderChecker creates a header checker with its own bounded client.
func NewHeaderChecker(timeout time.Duration, opts ClientOptions, userAgent string, logger *zap.Logger) *HeaderChecker {
	opts.Timeout = timeout
	return &HeaderChecker{
		Client:    NewHTTPClient(opts),
		UserAgent: userAgent,
		Timeout:   timeout,
		Logger:    logger,
	}
}

// Check performs a GET against the target and evaluates the header registry.
func (h *HeaderChecker) Check(ctx context.Context, target string) ModuleResult {
	result := newModuleResult(ModuleHeaders, target)
	defer result.finish()

	info := ParseTarget(target)
	resp, _, err := doRequest(ctx, h.client(), http.MethodGet, info.FullURL, h.UserAgent, nil, h.Timeout, 1)
	if err != nil && resp == nil {
		h.logger().Debug("header fetch failed", zap.String("target", target), zap.Error(err))
		result.Error = err.Error()
		result.Findings = []finding.Finding{connectionFailed(err)}
		return result
	}

	result.Success = true
	result.StatusCode = resp.StatusCode
	result.Headers = flattenHeaders(resp.Header)
	result.Findings = AnalyzeSecurityHeaders(resp.Header)
	result.Cookies = AnalyzeCookies(resp.Header, info.IsHTTPS())
	return result
}

// Name returns the name of this checker
func (h *HeaderChecker) Name() string {
	return ModuleHeaders
}

func (h *HeaderChecker) client() *http.Client {
	if h.Client == nil {
		return NewHTTPClient(ClientOptions{Timeout: h.Timeout})
	}
	return h.Client
}

func (h *HeaderChecker) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}
