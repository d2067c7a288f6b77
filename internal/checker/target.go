package checker

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/khanhnv2901/secscan/internal/shared/constants"
)

// TargetInfo contains parsed target information
type TargetInfo struct {
	Original string // Original target string
	Scheme   string // http or https
	Host     string // Hostname (without protocol, path, port)
	Port     string // Port if specified
	Path     string // Path if specified
	FullURL  string // Full normalized URL (for HTTP requests)
}

// ParseTarget parses a target string into structured components.
// This handles various input formats:
//   - example.com
//   - http://example.com
//   - https://example.com:443/path
//   - example.com:8080
func ParseTarget(target string) *TargetInfo {
	target = strings.TrimSpace(target)
	info := &TargetInfo{Original: target}

	parsed, err := url.Parse(target)

	// Bare hosts ("example.com", "example.com:8080") parse with an empty or
	// dotted scheme; retry them as http URLs.
	if err != nil || parsed.Scheme == "" || parsed.Host == "" || strings.Contains(parsed.Scheme, ".") {
		parsed, err = url.Parse("http://" + target)
	}
	if err != nil || parsed == nil {
		return info
	}

	info.Scheme = strings.ToLower(parsed.Scheme)
	info.Host = parsed.Hostname()
	info.Port = parsed.Port()
	info.Path = parsed.Path
	info.FullURL = parsed.String()
	return info
}

// IsHTTPS reports whether the target uses the https scheme.
func (t *TargetInfo) IsHTTPS() bool {
	return t.Scheme == "https"
}

// Origin returns scheme://host[:port] without path or query.
func (t *TargetInfo) Origin() string {
	host := t.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if t.Port != "" {
		host += ":" + t.Port
	}
	return t.Scheme + "://" + host
}

// TLSEndpoint returns the host and port a TLS handshake should target.
func (t *TargetInfo) TLSEndpoint() (string, int) {
	if t.Port != "" {
		if p, err := strconv.Atoi(t.Port); err == nil {
			return t.Host, p
		}
	}
	return t.Host, constants.DefaultTLSPort
}

// WithQueryParam returns the full URL with param=value appended to any
// existing query string.
func (t *TargetInfo) WithQueryParam(param, value string) string {
	u, err := url.Parse(t.FullURL)
	if err != nil {
		return t.FullURL
	}
	pair := param + "=" + url.QueryEscape(value)
	if u.RawQuery == "" {
		u.RawQuery = pair
	} else {
		u.RawQuery += "&" + pair
	}
	return u.String()
}

// WithPath returns the origin joined with path, dropping any path or query
// on the original target.
func (t *TargetInfo) WithPath(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return t.Origin() + path
}

// ExtractHost extracts just the hostname from a target.
func ExtractHost(target string) string {
	return ParseTarget(target).Host
}

// hostPort joins host and port for dialing.
func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
