package cmd

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/khanhnv2901/secscan/internal/application"
)

// newTestAppContext builds an AppContext from built-in defaults with a JSON
// store under a temp dir. mutate may adjust the config before use.
func newTestAppContext(t *testing.T, mutate func(cfg *CLIConfig)) *AppContext {
	t.Helper()

	cfg, err := loadCLIConfig(newViper())
	if err != nil {
		t.Fatalf("failed to load default config: %v", err)
	}
	cfg.Storage.Driver = application.StorageJSON
	cfg.Storage.Dir = t.TempDir()
	cfg.Scanner.AllowPrivateTargets = true
	cfg.Tracing.Endpoint = ""
	if mutate != nil {
		mutate(cfg)
	}

	return &AppContext{Logger: zaptest.NewLogger(t), Config: cfg}
}

// hardenedHeaders sets every header the header analyzer looks for.
func hardenedHeaders(h http.Header) {
	h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	h.Set("Content-Security-Policy", "default-src 'self'")
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	h.Set("Permissions-Policy", "geolocation=()")
	h.Set("X-XSS-Protection", "1; mode=block")
}

// newTargetServer starts a target that either sends every security header or
// none of them.
func newTargetServer(t *testing.T, hardened bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hardened {
			hardenedHeaders(w.Header())
		} else {
			w.Header().Set("X-Powered-By", "PHP/5.6")
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>ok</body></html>"))
	}))
	t.Cleanup(srv.Close)
	return srv
}
