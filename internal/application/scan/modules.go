package scan

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/khanhnv2901/secscan/internal/checker"
	"github.com/khanhnv2901/secscan/internal/shared/constants"
)

// TLSInspector is a checker that can also inspect an explicit host and port.
type TLSInspector interface {
	checker.Checker
	Inspect(ctx context.Context, host string, port int) checker.ModuleResult
}

// Modules is the set of network modules a scan can dispatch to.
type Modules struct {
	Headers         checker.Checker
	TLS             TLSInspector
	Vulnerabilities checker.Checker
	CORS            checker.Checker
}

// Settings are the per-module network budgets and probing options.
type Settings struct {
	HeaderTimeout      time.Duration
	TLSTimeout         time.Duration
	ProbeTimeout       time.Duration
	PathTimeout        time.Duration
	CORSTimeout        time.Duration
	MaxRedirects       int
	PathConcurrency    int
	ProbeMode          checker.ProbeMode
	UserAgent          string
	MaxBodyBytes       int64
	ClientHello        string
	InsecureSkipVerify bool
	// AllowPrivate lets modules connect to private and loopback addresses.
	// When false every dial, including redirect hops, is checked.
	AllowPrivate bool
}

// DefaultSettings returns the stock module budgets.
func DefaultSettings() Settings {
	return Settings{
		HeaderTimeout:   constants.HeaderFetchTimeout,
		TLSTimeout:      constants.TLSHandshakeTimeout,
		ProbeTimeout:    constants.ProbeTimeout,
		PathTimeout:     constants.PathProbeTimeout,
		CORSTimeout:     constants.CORSTimeout,
		MaxRedirects:    constants.MaxRedirects,
		PathConcurrency: 4,
		ProbeMode:       checker.ProbeModeFirstMatch,
		UserAgent:       constants.DefaultUserAgent,
		MaxBodyBytes:    constants.MaxBodyBytes,
		ClientHello:     checker.ClientHelloGo,
	}
}

// NewModules builds the four network modules from settings. Zero values
// fall back to DefaultSettings.
func NewModules(s Settings, logger *zap.Logger) Modules {
	d := DefaultSettings()
	if s.HeaderTimeout <= 0 {
		s.HeaderTimeout = d.HeaderTimeout
	}
	if s.TLSTimeout <= 0 {
		s.TLSTimeout = d.TLSTimeout
	}
	if s.ProbeTimeout <= 0 {
		s.ProbeTimeout = d.ProbeTimeout
	}
	if s.PathTimeout <= 0 {
		s.PathTimeout = d.PathTimeout
	}
	if s.CORSTimeout <= 0 {
		s.CORSTimeout = d.CORSTimeout
	}
	if s.PathConcurrency <= 0 {
		s.PathConcurrency = d.PathConcurrency
	}
	if s.ProbeMode == "" {
		s.ProbeMode = d.ProbeMode
	}
	if s.UserAgent == "" {
		s.UserAgent = d.UserAgent
	}
	if s.MaxBodyBytes <= 0 {
		s.MaxBodyBytes = d.MaxBodyBytes
	}

	opts := checker.ClientOptions{
		MaxRedirects:       s.MaxRedirects,
		InsecureSkipVerify: s.InsecureSkipVerify,
		BlockPrivate:       !s.AllowPrivate,
	}

	probeOpts := opts
	probeOpts.Timeout = s.ProbeTimeout
	vuln := checker.NewVulnerabilityChecker(probeOpts, s.ProbeMode, s.UserAgent, logger)
	vuln.ProbeTimeout = s.ProbeTimeout
	vuln.PathTimeout = s.PathTimeout
	vuln.PathConcurrency = s.PathConcurrency
	vuln.MaxBodyBytes = s.MaxBodyBytes

	tlsChecker := checker.NewTLSChecker(s.TLSTimeout, s.ClientHello, logger)
	tlsChecker.BlockPrivate = !s.AllowPrivate

	return Modules{
		Headers:         checker.NewHeaderChecker(s.HeaderTimeout, opts, s.UserAgent, logger),
		TLS:             tlsChecker,
		Vulnerabilities: vuln,
		CORS:            checker.NewCORSChecker(s.CORSTimeout, opts, s.UserAgent, logger),
	}
}
