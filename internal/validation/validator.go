// Package validation checks API and CLI input before any scan runs, including
// the guard that keeps scans away from private and loopback addresses.
package validation

import (
	"context"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/khanhnv2901/secscan/internal/domain/scan"
	sharedErrors "github.com/khanhnv2901/secscan/internal/shared/errors"
)

const resolveTimeout = 2 * time.Second

// Resolver looks up the addresses of a hostname. *net.Resolver satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Validator validates scan input. The zero value rejects private targets
// and resolves hostnames with net.DefaultResolver.
type Validator struct {
	AllowPrivate bool
	Resolver     Resolver
}

// New returns a validator; allowPrivate disables the private-address guard.
func New(allowPrivate bool) *Validator {
	return &Validator{AllowPrivate: allowPrivate}
}

var carrierGradeNAT = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}
var thisNetwork = &net.IPNet{IP: net.IPv4(0, 0, 0, 0), Mask: net.CIDRMask(8, 32)}

// IsPrivateIP reports whether ip is loopback, private, link-local,
// unspecified or in a shared/reserved range that must not be scanned.
func IsPrivateIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsInterfaceLocalMulticast() {
		return true
	}
	if v4 := ip.To4(); v4 != nil {
		return carrierGradeNAT.Contains(v4) || thisNetwork.Contains(v4)
	}
	return false
}

// ValidateScanRequest validates a scan target and scan type together and
// returns the parsed scan type.
func (v *Validator) ValidateScanRequest(ctx context.Context, rawURL, scanType string) (scan.Type, error) {
	var errs sharedErrors.ValidationErrors

	v.checkURL(ctx, "url", rawURL, &errs)

	parsed, err := scan.ParseType(scanType)
	if err != nil {
		errs.Add("scanType", "must be one of full, headers, ssl, vulnerabilities")
	}

	if err := errs.OrNil(); err != nil {
		return "", err
	}
	return parsed, nil
}

// ValidateURL validates an absolute http(s) URL.
func (v *Validator) ValidateURL(ctx context.Context, rawURL string) error {
	var errs sharedErrors.ValidationErrors
	v.checkURL(ctx, "url", rawURL, &errs)
	return errs.OrNil()
}

// ValidateHost validates a TLS inspection endpoint. A port of zero selects
// the default.
func (v *Validator) ValidateHost(ctx context.Context, hostname string, port int) error {
	var errs sharedErrors.ValidationErrors

	host := strings.TrimSpace(hostname)
	switch {
	case host == "":
		errs.Add("hostname", sharedErrors.ErrEmptyTarget.Error())
	case strings.ContainsAny(host, "/?#@ "):
		errs.Add("hostname", "must be a bare hostname or IP address")
	default:
		v.checkPrivate(ctx, "hostname", strings.Trim(host, "[]"), &errs)
	}

	if port < 0 || port > 65535 {
		errs.Add("port", sharedErrors.ErrInvalidPort.Error())
	}
	return errs.OrNil()
}

// ValidateToken rejects an empty JWT.
func (v *Validator) ValidateToken(token string) error {
	var errs sharedErrors.ValidationErrors
	if strings.TrimSpace(token) == "" {
		errs.Add("token", sharedErrors.ErrEmptyToken.Error())
	}
	return errs.OrNil()
}

func (v *Validator) checkURL(ctx context.Context, field, rawURL string, errs *sharedErrors.ValidationErrors) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		errs.Add(field, sharedErrors.ErrEmptyTarget.Error())
		return
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		errs.Add(field, "must be a valid absolute URL")
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		errs.Add(field, sharedErrors.ErrUnsupportedScheme.Error())
		return
	}
	if u.Hostname() == "" {
		errs.Add(field, "must include a hostname")
		return
	}
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err != nil || n < 1 || n > 65535 {
			errs.Add(field, sharedErrors.ErrInvalidPort.Error())
			return
		}
	}

	v.checkPrivate(ctx, field, u.Hostname(), errs)
}

func (v *Validator) checkPrivate(ctx context.Context, field, host string, errs *sharedErrors.ValidationErrors) {
	if v.AllowPrivate {
		return
	}

	lower := strings.ToLower(strings.TrimSuffix(host, "."))
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") {
		errs.Add(field, sharedErrors.ErrPrivateTarget.Error())
		return
	}

	if ip := net.ParseIP(lower); ip != nil {
		if IsPrivateIP(ip) {
			errs.Add(field, sharedErrors.ErrPrivateTarget.Error())
		}
		return
	}

	resolver := v.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	// Unresolvable names are left to the scan, which reports the connection failure.
	addrs, err := resolver.LookupIPAddr(ctx, lower)
	if err != nil {
		return
	}
	for _, addr := range addrs {
		if IsPrivateIP(addr.IP) {
			errs.Add(field, sharedErrors.ErrPrivateTarget.Error())
			return
		}
	}
}
