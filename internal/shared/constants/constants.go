package constants

import (
	"io/fs"
	"time"
)

const (
	// DefaultDirPerm is the default permission used when creating directories.
	DefaultDirPerm fs.FileMode = 0o755
	// DefaultFilePerm is the default permission used when creating files.
	DefaultFilePerm fs.FileMode = 0o644
)

// Per-module network budgets.
const (
	HeaderFetchTimeout  = 10 * time.Second
	TLSHandshakeTimeout = 10 * time.Second
	ProbeTimeout        = 5 * time.Second
	PathProbeTimeout    = 3 * time.Second
	CORSTimeout         = 5 * time.Second
	ScanDeadline        = 60 * time.Second
)

const (
	// MaxRedirects caps redirects followed by every HTTP-based module.
	MaxRedirects = 3
	// MaxBodyBytes caps how much of a response body a probe reads.
	MaxBodyBytes int64 = 1 << 20
	// MaxRequestBodyBytes caps API request bodies.
	MaxRequestBodyBytes int64 = 1 << 20
	// RecommendationLimit caps the recommendation list returned with a scan.
	RecommendationLimit = 10
	// DefaultUserAgent identifies scanner traffic.
	DefaultUserAgent = "secscan/1.0 (+security-scanner)"
)

const (
	// AdversarialOrigin is sent as Origin in CORS preflight probes.
	AdversarialOrigin = "https://evil-attacker.com"
	// HSTSMinMaxAge is the smallest acceptable HSTS max-age (one year).
	HSTSMinMaxAge = 31536000
	// DefaultTLSPort is used when a TLS target has no explicit port.
	DefaultTLSPort = 443
)

const (
	// CertExpiryCriticalDays flags certificates that expire within a week.
	CertExpiryCriticalDays = 7
	// CertExpiryWarningDays flags certificates that expire within a month.
	CertExpiryWarningDays = 30
	// JWTMaxLifetime is the longest remaining token lifetime not flagged.
	JWTMaxLifetime = 24 * time.Hour
)
