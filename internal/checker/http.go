package checker

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"syscall"
	"time"

	"github.com/khanhnv2901/secscan/internal/shared/constants"
	sharedErrors "github.com/khanhnv2901/secscan/internal/shared/errors"
	"github.com/khanhnv2901/secscan/internal/validation"
	"golang.org/x/net/publicsuffix"
)

// ClientOptions configures the HTTP clients used by the scanning modules.
type ClientOptions struct {
	Timeout            time.Duration
	MaxRedirects       int
	InsecureSkipVerify bool
	// BlockPrivate refuses connections to private, loopback and link-local
	// addresses at dial time, so redirects and DNS answers that change after
	// validation cannot reach internal hosts. Proxies are bypassed when set.
	BlockPrivate bool
	// Transport overrides the default transport (tests, proxies).
	Transport http.RoundTripper

	// blocked replaces the private address test when BlockPrivate is set.
	blocked func(ip net.IP, port string) bool
}

// NewHTTPClient builds a client with a bounded redirect chain. A zero
// MaxRedirects falls back to the package default; a negative value disables
// redirects entirely.
func NewHTTPClient(opts ClientOptions) *http.Client {
	transport := opts.Transport
	if transport == nil {
		proxy := http.ProxyFromEnvironment
		if opts.BlockPrivate {
			proxy = nil
		}
		transport = &http.Transport{
			Proxy:       proxy,
			DialContext: newDialer(opts.dialTimeout(), opts.BlockPrivate, opts.blocked).DialContext,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: opts.InsecureSkipVerify, // #nosec G402 -- opt-in via scanner.insecure_skip_verify
				MinVersion:         tls.VersionTLS10,
			},
			TLSHandshakeTimeout:   opts.dialTimeout(),
			ResponseHeaderTimeout: opts.Timeout,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       30 * time.Second,
		}
	}

	maxRedirects := opts.MaxRedirects
	if maxRedirects == 0 {
		maxRedirects = constants.MaxRedirects
	}

	client := &http.Client{
		Timeout:   opts.Timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if maxRedirects < 0 || len(via) > maxRedirects {
				return fmt.Errorf("stopped after %d redirects", len(via)-1)
			}
			return nil
		},
	}

	return client
}

// withFreshJar returns a shallow copy of client that owns a new cookie jar.
// Connections stay pooled through the shared transport.
func withFreshJar(client *http.Client) *http.Client {
	c := *client
	c.Jar = nil
	if jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List}); err == nil {
		c.Jar = jar
	}
	return &c
}

// newDialer returns a dialer that, when block is set, rejects every resolved
// address for which blocked reports true. A nil blocked rejects private
// addresses as defined by validation.IsPrivateIP.
func newDialer(timeout time.Duration, block bool, blocked func(net.IP, string) bool) *net.Dialer {
	d := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	if !block {
		return d
	}
	if blocked == nil {
		blocked = func(ip net.IP, _ string) bool { return validation.IsPrivateIP(ip) }
	}
	d.Control = func(_, address string, _ syscall.RawConn) error {
		host, port, err := net.SplitHostPort(address)
		if err != nil {
			return err
		}
		ip := net.ParseIP(host)
		if ip == nil || blocked(ip, port) {
			return fmt.Errorf("dial %s: %w", address, sharedErrors.ErrPrivateTarget)
		}
		return nil
	}
	return d
}

func (o ClientOptions) dialTimeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return constants.HeaderFetchTimeout
}

// doRequest issues a request with a per-call timeout and returns the response
// with at most maxBody bytes of its body. The body is always closed.
func doRequest(ctx context.Context, client *http.Client, method, target, userAgent string, header http.Header, timeout time.Duration, maxBody int64) (*http.Response, []byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if maxBody <= 0 {
		maxBody = constants.MaxBodyBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return resp, body, fmt.Errorf("read body: %w", err)
	}
	return resp, body, nil
}

// flattenHeaders lower-cases header names and joins repeated values.
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for key, values := range h {
		out[strings.ToLower(key)] = strings.Join(values, ", ")
	}
	return out
}
