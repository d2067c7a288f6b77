package checker

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
	"time"

	"github.com/khanhnv2901/secscan/internal/domain/finding"
	"github.com/khanhnv2901/secscan/internal/shared/constants"
	utls "github.com/refraction-networking/utls"
	"go.uber.org/zap"
)

// versionSSL30 is the legacy SSL 3.0 protocol version (0x0300), defined
// locally to avoid the deprecated tls.VersionSSL30 symbol.
const versionSSL30 uint16 = 0x0300

// ClientHello profiles accepted by TLSChecker.ClientHello.
const (
	ClientHelloGo      = "go"
	ClientHelloChrome  = "chrome"
	ClientHelloFirefox = "firefox"
)

var browserClientHellos = map[string]utls.ClientHelloID{
	ClientHelloChrome:  utls.HelloChrome_Auto,
	ClientHelloFirefox: utls.HelloFirefox_Auto,
}

// weakCipherTokens are matched against the upper-cased cipher suite name.
var weakCipherTokens = []string{"DES", "RC4", "MD5", "NULL", "EXPORT"}

// CertificateInfo describes the leaf certificate presented by the server.
type CertificateInfo struct {
	Issuer             string    `json:"issuer" yaml:"issuer"`
	Subject            string    `json:"subject" yaml:"subject"`
	ValidFrom          time.Time `json:"valid_from" yaml:"valid_from"`
	ValidTo            time.Time `json:"valid_to" yaml:"valid_to"`
	DaysUntilExpiry    int       `json:"days_until_expiry" yaml:"days_until_expiry"`
	Fingerprint        string    `json:"fingerprint" yaml:"fingerprint"`
	SerialNumber       string    `json:"serial_number" yaml:"serial_number"`
	DNSNames           []string  `json:"dns_names,omitempty" yaml:"dns_names,omitempty"`
	SignatureAlgorithm string    `json:"signature_algorithm" yaml:"signature_algorithm"`
	SelfSigned         bool      `json:"self_signed" yaml:"self_signed"`
}

// ConnectionInfo describes the negotiated TLS session and the trust verdict.
type ConnectionInfo struct {
	Protocol           string `json:"protocol" yaml:"protocol"`
	Cipher             string `json:"cipher" yaml:"cipher"`
	Authorized         bool   `json:"authorized" yaml:"authorized"`
	AuthorizationError string `json:"authorization_error,omitempty" yaml:"authorization_error,omitempty"`
	ClientHello        string `json:"client_hello" yaml:"client_hello"`
}

// handshakeState is the subset of a finished handshake the inspector needs,
// shared by the crypto/tls and utls dialers.
type handshakeState struct {
	Version          uint16
	CipherSuite      uint16
	PeerCertificates []*x509.Certificate
}

// TLSChecker completes a TLS handshake without transport verification and
// then evaluates trust, expiry, protocol and cipher explicitly.
type TLSChecker struct {
	Timeout     time.Duration
	ClientHello string
	// Roots overrides the system pool used for trust evaluation.
	Roots *x509.CertPool
	// BlockPrivate refuses handshakes with private and loopback addresses.
	BlockPrivate bool
	Now          func() time.Time
	Logger       *zap.Logger

	blocked func(ip net.IP, port string) bool
}

// NewTLSChecker creates a TLS inspector using the given ClientHello profile.
func NewTLSChecker(timeout time.Duration, clientHello string, logger *zap.Logger) *TLSChecker {
	return &TLSChecker{
		Timeout:     timeout,
		ClientHello: clientHello,
		Now:         time.Now,
		Logger:      logger,
	}
}

// ValidClientHello reports whether name is a supported ClientHello profile.
func ValidClientHello(name string) bool {
	if name == "" || name == ClientHelloGo {
		return true
	}
	_, ok := browserClientHellos[name]
	return ok
}

// Name returns the name of this checker
func (c *TLSChecker) Name() string {
	return ModuleSSL
}

// Check inspects the TLS endpoint derived from a target URL.
func (c *TLSChecker) Check(ctx context.Context, target string) ModuleResult {
	info := ParseTarget(target)
	host, port := info.TLSEndpoint()
	result := c.Inspect(ctx, host, port)
	result.Target = target
	return result
}

// Inspect handshakes with host:port and reports certificate findings.
func (c *TLSChecker) Inspect(ctx context.Context, host string, port int) ModuleResult {
	if port <= 0 {
		port = constants.DefaultTLSPort
	}
	result := newModuleResult(ModuleSSL, hostPort(host, port))
	defer result.finish()

	if host == "" {
		err := errors.New("empty hostname")
		result.Error = err.Error()
		result.Findings = []finding.Finding{sslConnectionFailed(err)}
		return result
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = constants.TLSHandshakeTimeout
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	state, err := c.handshake(hctx, host, port)
	if err != nil {
		c.logger().Debug("tls handshake failed",
			zap.String("host", host),
			zap.Int("port", port),
			zap.Error(err))
		result.Error = err.Error()
		if isTimeout(hctx, err) {
			result.Findings = []finding.Finding{sslConnectionTimeout()}
		} else {
			result.Findings = []finding.Finding{sslConnectionFailed(err)}
		}
		return result
	}
	if len(state.PeerCertificates) == 0 {
		err := errors.New("server presented no certificate")
		result.Error = err.Error()
		result.Findings = []finding.Finding{sslConnectionFailed(err)}
		return result
	}

	now := c.now()
	leaf := state.PeerCertificates[0]
	cert := describeCertificate(leaf, now)
	conn := &ConnectionInfo{
		Protocol:    tlsVersionString(state.Version),
		Cipher:      cipherSuiteString(state.CipherSuite),
		ClientHello: c.clientHelloName(),
	}
	if verr := c.verify(state.PeerCertificates, host, now); verr != nil {
		conn.AuthorizationError = verr.Error()
	} else {
		conn.Authorized = true
	}

	result.Success = true
	result.Certificate = cert
	result.Connection = conn
	result.Findings = evaluateTLS(cert, conn, state.Version)
	return result
}

// evaluateTLS turns the observed certificate and session into findings.
func evaluateTLS(cert *CertificateInfo, conn *ConnectionInfo, version uint16) []finding.Finding {
	findings := []finding.Finding{}

	if !conn.Authorized {
		desc := "Certificate is not trusted by certificate authorities"
		if conn.AuthorizationError != "" {
			desc += ": " + conn.AuthorizationError
		}
		findings = append(findings, finding.Finding{
			Category:       finding.CategorySSL,
			Severity:       finding.SeverityCritical,
			Title:          "Untrusted Certificate",
			Description:    desc,
			Recommendation: "Use a certificate from a trusted CA",
			OWASPCategory:  "A02",
			CWEID:          "CWE-295",
		})
	}

	switch days := cert.DaysUntilExpiry; {
	case days < 0:
		findings = append(findings, finding.Finding{
			Category:       finding.CategorySSL,
			Severity:       finding.SeverityCritical,
			Title:          "Certificate Expired",
			Description:    fmt.Sprintf("Certificate expired %d days ago", -days),
			Recommendation: "Renew the SSL certificate immediately",
			OWASPCategory:  "A02",
			CWEID:          "CWE-298",
		})
	case days < constants.CertExpiryCriticalDays:
		findings = append(findings, finding.Finding{
			Category:       finding.CategorySSL,
			Severity:       finding.SeverityCritical,
			Title:          "Certificate Expiring Very Soon",
			Description:    fmt.Sprintf("Certificate expires in %d days", days),
			Recommendation: "Renew the SSL certificate immediately",
			OWASPCategory:  "A02",
		})
	case days < constants.CertExpiryWarningDays:
		findings = append(findings, finding.Finding{
			Category:       finding.CategorySSL,
			Severity:       finding.SeverityHigh,
			Title:          "Certificate Expiring Soon",
			Description:    fmt.Sprintf("Certificate expires in %d days", days),
			Recommendation: "Schedule certificate renewal",
			OWASPCategory:  "A02",
		})
	}

	if version < tls.VersionTLS12 {
		findings = append(findings, finding.Finding{
			Category:       finding.CategorySSL,
			Severity:       finding.SeverityHigh,
			Title:          "Weak TLS Version",
			Description:    fmt.Sprintf("Using %s. This version has known vulnerabilities", conn.Protocol),
			Recommendation: "Upgrade to TLS 1.2 or TLS 1.3",
			OWASPCategory:  "A02",
			CWEID:          "CWE-326",
		})
	}

	if isWeakCipher(conn.Cipher) {
		findings = append(findings, finding.Finding{
			Category:       finding.CategorySSL,
			Severity:       finding.SeverityHigh,
			Title:          "Weak Cipher Suite",
			Description:    "Using weak cipher: " + conn.Cipher,
			Recommendation: "Configure server to use strong cipher suites",
			OWASPCategory:  "A02",
			CWEID:          "CWE-327",
		})
	}

	return findings
}

func isWeakCipher(name string) bool {
	upper := strings.ToUpper(name)
	for _, token := range weakCipherTokens {
		if strings.Contains(upper, token) {
			return true
		}
	}
	return false
}

// describeCertificate extracts the reportable fields of a leaf certificate.
func describeCertificate(cert *x509.Certificate, now time.Time) *CertificateInfo {
	return &CertificateInfo{
		Issuer:             cert.Issuer.String(),
		Subject:            cert.Subject.String(),
		ValidFrom:          cert.NotBefore.UTC(),
		ValidTo:            cert.NotAfter.UTC(),
		DaysUntilExpiry:    daysUntil(cert.NotAfter, now),
		Fingerprint:        certificateFingerprint(cert),
		SerialNumber:       fmt.Sprintf("%X", cert.SerialNumber),
		DNSNames:           cert.DNSNames,
		SignatureAlgorithm: cert.SignatureAlgorithm.String(),
		SelfSigned:         isSelfSigned(cert),
	}
}

// daysUntil returns whole days until t, rounded down; negative once t has passed.
func daysUntil(t, now time.Time) int {
	return int(math.Floor(t.Sub(now).Hours() / 24))
}

// certificateFingerprint returns the SHA-256 digest as colon-separated hex.
func certificateFingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}

func isSelfSigned(cert *x509.Certificate) bool {
	if cert.Subject.String() != cert.Issuer.String() {
		return false
	}
	return cert.CheckSignatureFrom(cert) == nil
}

// verify checks the presented chain against the configured roots for host.
func (c *TLSChecker) verify(chain []*x509.Certificate, host string, now time.Time) error {
	intermediates := x509.NewCertPool()
	for _, cert := range chain[1:] {
		intermediates.AddCert(cert)
	}
	_, err := chain[0].Verify(x509.VerifyOptions{
		DNSName:       host,
		Roots:         c.Roots,
		Intermediates: intermediates,
		CurrentTime:   now,
	})
	return err
}

func (c *TLSChecker) handshake(ctx context.Context, host string, port int) (*handshakeState, error) {
	dialer := newDialer(0, c.BlockPrivate, c.blocked)
	rawConn, err := dialer.DialContext(ctx, "tcp", hostPort(host, port))
	if err != nil {
		return nil, err
	}
	defer rawConn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = rawConn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = rawConn.Close() })
	defer stop()

	if id, ok := browserClientHellos[c.ClientHello]; ok {
		return utlsHandshake(rawConn, host, id)
	}
	return stdHandshake(ctx, rawConn, host)
}

func stdHandshake(ctx context.Context, rawConn net.Conn, host string) (*handshakeState, error) {
	conn := tls.Client(rawConn, &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: true, // #nosec G402 -- trust is evaluated explicitly in verify
		MinVersion:         tls.VersionTLS10,
		CipherSuites:       allCipherSuites(),
	})
	if err := conn.HandshakeContext(ctx); err != nil {
		return nil, err
	}
	state := conn.ConnectionState()
	return &handshakeState{
		Version:          state.Version,
		CipherSuite:      state.CipherSuite,
		PeerCertificates: state.PeerCertificates,
	}, nil
}

func utlsHandshake(rawConn net.Conn, host string, id utls.ClientHelloID) (*handshakeState, error) {
	conn := utls.UClient(rawConn, &utls.Config{
		ServerName:         host,
		InsecureSkipVerify: true, // #nosec G402 -- trust is evaluated explicitly in verify
	}, id)
	if err := conn.Handshake(); err != nil {
		return nil, err
	}
	state := conn.ConnectionState()
	return &handshakeState{
		Version:          state.Version,
		CipherSuite:      state.CipherSuite,
		PeerCertificates: state.PeerCertificates,
	}, nil
}

// allCipherSuites offers insecure suites too so weak servers still complete
// the handshake and can be reported.
func allCipherSuites() []uint16 {
	var ids []uint16
	for _, s := range tls.CipherSuites() {
		ids = append(ids, s.ID)
	}
	for _, s := range tls.InsecureCipherSuites() {
		ids = append(ids, s.ID)
	}
	return ids
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func sslConnectionTimeout() finding.Finding {
	return finding.Finding{
		Category:       finding.CategorySSL,
		Severity:       finding.SeverityCritical,
		Title:          "SSL Connection Timeout",
		Description:    "Could not establish SSL connection within timeout",
		Recommendation: "Check if the server supports HTTPS",
	}
}

func sslConnectionFailed(err error) finding.Finding {
	return finding.Finding{
		Category:       finding.CategorySSL,
		Severity:       finding.SeverityCritical,
		Title:          "SSL Connection Failed",
		Description:    err.Error(),
		Recommendation: "Verify HTTPS is configured correctly",
	}
}

func (c *TLSChecker) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

func (c *TLSChecker) clientHelloName() string {
	if _, ok := browserClientHellos[c.ClientHello]; ok {
		return c.ClientHello
	}
	return ClientHelloGo
}

func (c *TLSChecker) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// tlsVersionString converts TLS version constant to string
func tlsVersionString(version uint16) string {
	switch version {
	case versionSSL30:
		return "SSL 3.0"
	case tls.VersionTLS10:
		return "TLS 1.0"
	case tls.VersionTLS11:
		return "TLS 1.1"
	case tls.VersionTLS12:
		return "TLS 1.2"
	case tls.VersionTLS13:
		return "TLS 1.3"
	default:
		return fmt.Sprintf("Unknown (0x%04x)", version)
	}
}

// cipherSuiteString converts cipher suite constant to string
func cipherSuiteString(suite uint16) string {
	if name := tls.CipherSuiteName(suite); !strings.HasPrefix(name, "0x") {
		return name
	}
	return fmt.Sprintf("Unknown (0x%04x)", suite)
}
