package checker

import (
	"net/http"
	"strings"
)

// CookieIssue records a Set-Cookie header missing hardening attributes.
// Cookie issues are reported alongside header findings but are not scored.
type CookieIssue struct {
	Name            string `json:"name" yaml:"name"`
	MissingSecure   bool   `json:"missing_secure" yaml:"missing_secure"`
	MissingHTTPOnly bool   `json:"missing_http_only" yaml:"missing_http_only"`
	MissingSameSite bool   `json:"missing_same_site" yaml:"missing_same_site"`
}

// AnalyzeCookies inspects Set-Cookie headers for missing Secure, HttpOnly or
// SameSite attributes. Secure is only expected on https targets.
func AnalyzeCookies(headers http.Header, https bool) []CookieIssue {
	raw := headers.Values("Set-Cookie")
	if len(raw) == 0 {
		return nil
	}

	var issues []CookieIssue
	for _, line := range raw {
		cookie, err := http.ParseSetCookie(line)
		if err != nil {
			continue
		}
		issue := CookieIssue{
			Name:            cookie.Name,
			MissingSecure:   https && !cookie.Secure,
			MissingHTTPOnly: !cookie.HttpOnly,
			MissingSameSite: !strings.Contains(strings.ToLower(line), "samesite="),
		}
		if issue.MissingSecure || issue.MissingHTTPOnly || issue.MissingSameSite {
			issues = append(issues, issue)
		}
	}
	return issues
}
