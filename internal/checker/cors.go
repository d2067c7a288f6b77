package checker

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/khanhnv2901/secscan/internal/domain/finding"
	"github.com/khanhnv2901/secscan/internal/shared/constants"
	"go.uber.org/zap"
)

// CORSPolicy is the cross-origin policy observed in a preflight response.
// Advisories collect hygiene notes that do not affect the score.
type CORSPolicy struct {
	RequestOrigin    string            `json:"request_origin" yaml:"request_origin"`
	StatusCode       int               `json:"status_code" yaml:"status_code"`
	AllowOrigin      string            `json:"allow_origin,omitempty" yaml:"allow_origin,omitempty"`
	AllowCredentials bool              `json:"allow_credentials" yaml:"allow_credentials"`
	AllowMethods     string            `json:"allow_methods,omitempty" yaml:"allow_methods,omitempty"`
	AllowHeaders     string            `json:"allow_headers,omitempty" yaml:"allow_headers,omitempty"`
	ExposeHeaders    string            `json:"expose_headers,omitempty" yaml:"expose_headers,omitempty"`
	MaxAge           string            `json:"max_age,omitempty" yaml:"max_age,omitempty"`
	VaryOrigin       bool              `json:"vary_origin" yaml:"vary_origin"`
	Headers          map[string]string `json:"headers" yaml:"headers"`
	Advisories       []string          `json:"advisories,omitempty" yaml:"advisories,omitempty"`
}

// AnalyzeCORS classifies the preflight response headers received for
// requestOrigin. Wildcard with credentials is reported instead of, not in
// addition to, the plain wildcard finding.
func AnalyzeCORS(headers http.Header, requestOrigin string) []finding.Finding {
	findings := []finding.Finding{}
	allowOrigin := strings.TrimSpace(headers.Get("Access-Control-Allow-Origin"))
	allowCredentials := strings.EqualFold(strings.TrimSpace(headers.Get("Access-Control-Allow-Credentials")), "true")

	switch {
	case allowOrigin == "*" && allowCredentials:
		findings = append(findings, finding.Finding{
			Category:       finding.CategoryCORS,
			Severity:       finding.SeverityCritical,
			Title:          "Dangerous CORS Configuration",
			Description:    "Wildcard origin (*) with credentials allowed",
			Recommendation: "Never use wildcard with credentials=true",
			OWASPCategory:  "A05",
			CWEID:          "CWE-942",
		})
	case allowOrigin == "*":
		findings = append(findings, finding.Finding{
			Category:       finding.CategoryCORS,
			Severity:       finding.SeverityMedium,
			Title:          "Wildcard CORS Origin",
			Description:    "Access-Control-Allow-Origin is set to *",
			Recommendation: "Specify explicit allowed origins instead of wildcard",
		})
	}

	if requestOrigin != "" && allowOrigin == requestOrigin {
		findings = append(findings, finding.Finding{
			Category:       finding.CategoryCORS,
			Severity:       finding.SeverityCritical,
			Title:          "CORS Reflects Origin",
			Description:    "Server reflects any origin, allowing cross-origin requests from anywhere",
			Recommendation: "Validate origins against a whitelist",
			Evidence:       "Access-Control-Allow-Origin: " + allowOrigin,
			OWASPCategory:  "A05",
			CWEID:          "CWE-942",
		})
	}

	return findings
}

// describeCORSPolicy captures the policy headers and non-scoring advisories.
func describeCORSPolicy(resp *http.Response, requestOrigin string) *CORSPolicy {
	headers := resp.Header
	policy := &CORSPolicy{
		RequestOrigin:    requestOrigin,
		StatusCode:       resp.StatusCode,
		AllowOrigin:      headers.Get("Access-Control-Allow-Origin"),
		AllowCredentials: strings.EqualFold(headers.Get("Access-Control-Allow-Credentials"), "true"),
		AllowMethods:     headers.Get("Access-Control-Allow-Methods"),
		AllowHeaders:     headers.Get("Access-Control-Allow-Headers"),
		ExposeHeaders:    headers.Get("Access-Control-Expose-Headers"),
		MaxAge:           headers.Get("Access-Control-Max-Age"),
		VaryOrigin:       varyIncludesOrigin(headers.Values("Vary")),
		Headers:          flattenHeaders(headers),
	}

	if strings.Contains(policy.AllowHeaders, "*") {
		policy.Advisories = append(policy.Advisories, "Access-Control-Allow-Headers allows any header (*)")
	}
	if strings.Contains(policy.ExposeHeaders, "*") {
		policy.Advisories = append(policy.Advisories, "Access-Control-Expose-Headers exposes all headers (*)")
	}
	if policy.AllowOrigin != "" && policy.AllowOrigin != "*" && !policy.VaryOrigin {
		policy.Advisories = append(policy.Advisories, "Vary: Origin header missing (responses may be cached incorrectly)")
	}
	if policy.AllowOrigin != "" && policy.MaxAge == "" {
		policy.Advisories = append(policy.Advisories, "Access-Control-Max-Age header missing (preflight responses may not be cached)")
	}
	return policy
}

func varyIncludesOrigin(values []string) bool {
	for _, value := range values {
		for _, token := range strings.Split(value, ",") {
			if strings.EqualFold(strings.TrimSpace(token), "origin") {
				return true
			}
		}
	}
	return false
}

// CORSChecker sends a preflight from an adversarial origin and classifies
// the returned policy.
type CORSChecker struct {
	Client    *http.Client
	Origin    string
	UserAgent string
	Timeout   time.Duration
	Logger    *zap.Logger
}

// NewCORSChecker creates a CORS analyzer using the default adversarial origin.
func NewCORSChecker(timeout time.Duration, opts ClientOptions, userAgent string, logger *zap.Logger) *CORSChecker {
	opts.Timeout = timeout
	return &CORSChecker{
		Client:    NewHTTPClient(opts),
		Origin:    constants.AdversarialOrigin,
		UserAgent: userAgent,
		Timeout:   timeout,
		Logger:    logger,
	}
}

// Name returns the name of this checker
func (c *CORSChecker) Name() string {
	return ModuleCORS
}

// Check issues the preflight. A failed request yields success=false and no
// findings.
func (c *CORSChecker) Check(ctx context.Context, target string) ModuleResult {
	result := newModuleResult(ModuleCORS, target)
	defer result.finish()

	origin := c.Origin
	if origin == "" {
		origin = constants.AdversarialOrigin
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = constants.CORSTimeout
	}

	header := http.Header{}
	header.Set("Origin", origin)
	header.Set("Access-Control-Request-Method", http.MethodGet)

	client := c.Client
	if client == nil {
		client = NewHTTPClient(ClientOptions{Timeout: timeout})
	}

	info := ParseTarget(target)
	resp, _, err := doRequest(ctx, client, http.MethodOptions, info.FullURL, c.UserAgent, header, timeout, 1)
	if err != nil && resp == nil {
		if c.Logger != nil {
			c.Logger.Debug("cors preflight failed", zap.String("target", target), zap.Error(err))
		}
		result.Error = err.Error()
		return result
	}

	result.Success = true
	result.StatusCode = resp.StatusCode
	result.Headers = flattenHeaders(resp.Header)
	result.CORS = describeCORSPolicy(resp, origin)
	result.Findings = AnalyzeCORS(resp.Header, origin)
	return result
}
