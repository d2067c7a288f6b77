package checker

import "testing"

func TestParseTarget(t *testing.T) {
	tests := []struct {
		input   string
		scheme  string
		host    string
		port    string
		path    string
		fullURL string
	}{
		{input: "example.com", scheme: "http", host: "example.com", fullURL: "http://example.com"},
		{input: "https://example.com/login", scheme: "https", host: "example.com", path: "/login", fullURL: "https://example.com/login"},
		{input: "example.com:8443", scheme: "http", host: "example.com", port: "8443", fullURL: "http://example.com:8443"},
		{input: "  HTTPS://Example.com:443/a?b=c ", scheme: "https", host: "Example.com", port: "443", path: "/a", fullURL: "https://Example.com:443/a?b=c"},
		{input: "http://[::1]:8080/", scheme: "http", host: "::1", port: "8080", path: "/", fullURL: "http://[::1]:8080/"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			info := ParseTarget(tt.input)
			if info.Scheme != tt.scheme || info.Host != tt.host || info.Port != tt.port || info.Path != tt.path {
				t.Fatalf("ParseTarget(%q) = %+v", tt.input, info)
			}
			if info.FullURL != tt.fullURL {
				t.Errorf("FullURL = %q, want %q", info.FullURL, tt.fullURL)
			}
		})
	}
}

func TestTargetInfo_TLSEndpoint(t *testing.T) {
	host, port := ParseTarget("https://example.com/app").TLSEndpoint()
	if host != "example.com" || port != 443 {
		t.Fatalf("got %s:%d, want example.com:443", host, port)
	}
	host, port = ParseTarget("https://example.com:8443").TLSEndpoint()
	if host != "example.com" || port != 8443 {
		t.Fatalf("got %s:%d, want example.com:8443", host, port)
	}
}

func TestTargetInfo_WithQueryParam(t *testing.T) {
	info := ParseTarget("https://example.com/search")
	if got := info.WithQueryParam("q", "<b>"); got != "https://example.com/search?q=%3Cb%3E" {
		t.Errorf("unexpected url %q", got)
	}
	info = ParseTarget("https://example.com/search?page=2")
	if got := info.WithQueryParam("id", "1'"); got != "https://example.com/search?page=2&id=1%27" {
		t.Errorf("unexpected url %q", got)
	}
}

func TestTargetInfo_WithPath(t *testing.T) {
	info := ParseTarget("https://example.com:8443/app/login?next=/")
	if got := info.WithPath("/.env"); got != "https://example.com:8443/.env" {
		t.Errorf("unexpected url %q", got)
	}
	if got := info.WithPath("admin"); got != "https://example.com:8443/admin" {
		t.Errorf("unexpected url %q", got)
	}
	if got := ParseTarget("http://[::1]:8080").Origin(); got != "http://[::1]:8080" {
		t.Errorf("unexpected origin %q", got)
	}
}

func TestExtractHost(t *testing.T) {
	if got := ExtractHost("https://api.example.com:8443/v1"); got != "api.example.com" {
		t.Fatalf("ExtractHost = %q", got)
	}
}
