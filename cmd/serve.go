package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/khanhnv2901/secscan/internal/api"
	scanapp "github.com/khanhnv2901/secscan/internal/application/scan"
)

// serveOptions are the flags of `secscan serve`.
type serveOptions struct {
	Addr            string
	AuthToken       string
	CORSOrigins     []string
	RateLimit       int
	RateBurst       int
	ScansPerMinute  int
	ShutdownTimeout time.Duration
	AllowPrivate    bool
	TrustedProxies  []string
}

var serveOpts serveOptions

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run secscan as a REST API service",
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)
		opts := resolveServeOptions(cmd, appCtx)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		listener, err := net.Listen("tcp", opts.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", opts.Addr, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%s API server listening on %s\n", colorInfo("→"), listener.Addr())
		fmt.Fprintf(cmd.ErrOrStderr(), "%s Press Ctrl+C to gracefully shutdown\n", colorInfo("→"))

		return runServe(ctx, appCtx, opts, listener, cmd.ErrOrStderr())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveOpts.Addr, "addr", defaultAddr, "Address for the API server")
	serveCmd.Flags().StringVar(&serveOpts.AuthToken, "auth-token", "", "Optional shared secret for API requests")
	serveCmd.Flags().StringSliceVar(&serveOpts.CORSOrigins, "cors-origins", []string{}, "Allowed CORS origins (empty = allow all)")
	serveCmd.Flags().IntVar(&serveOpts.RateLimit, "rate-limit", 10, "Rate limit per IP (requests/second, 0 = disabled)")
	serveCmd.Flags().IntVar(&serveOpts.RateBurst, "rate-burst", 20, "Rate limit burst size")
	serveCmd.Flags().IntVar(&serveOpts.ScansPerMinute, "scans-per-minute", 5, "Scan requests per minute per IP (0 = disabled)")
	serveCmd.Flags().DurationVar(&serveOpts.ShutdownTimeout, "shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")
	serveCmd.Flags().BoolVar(&serveOpts.AllowPrivate, "allow-private", false, "allow loopback and private network targets")
	serveCmd.Flags().StringSliceVar(&serveOpts.TrustedProxies, "trusted-proxies", []string{}, "Proxy IPs or CIDRs whose X-Forwarded-For is trusted (empty = none)")
}

// resolveServeOptions fills unset flags from the server config section.
func resolveServeOptions(cmd *cobra.Command, appCtx *AppContext) serveOptions {
	opts := serveOpts
	cfg := appCtx.Config.Server
	flags := cmd.Flags()

	setStringFlagIfUnset(flags, "addr", cfg.Addr)
	setStringFlagIfUnset(flags, "auth-token", cfg.AuthToken)
	opts.Addr = serveOpts.Addr
	opts.AuthToken = serveOpts.AuthToken
	if f := flags.Lookup("cors-origins"); f == nil || !f.Changed {
		opts.CORSOrigins = cfg.CORSOrigins
	}
	if f := flags.Lookup("trusted-proxies"); f == nil || !f.Changed {
		opts.TrustedProxies = cfg.TrustedProxies
	}
	applyIntDefault(flags, "rate-limit", cfg.RateLimit, func(v int) { opts.RateLimit = v })
	applyIntDefault(flags, "rate-burst", cfg.RateBurst, func(v int) { opts.RateBurst = v })
	applyIntDefault(flags, "scans-per-minute", cfg.ScansPerMinute, func(v int) { opts.ScansPerMinute = v })
	applyDurationDefault(flags, "shutdown-timeout", cfg.ShutdownTimeout, func(v time.Duration) { opts.ShutdownTimeout = v })
	applyBoolDefault(flags, "allow-private", appCtx.Config.Scanner.AllowPrivateTargets, func(v bool) { opts.AllowPrivate = v })
	return opts
}

// healthService adapts the orchestrator to api.HealthService.
type healthService struct {
	orchestrator *scanapp.Orchestrator
}

func (h *healthService) Check(ctx context.Context) error {
	return nil
}

func (h *healthService) Ready(ctx context.Context) error {
	return h.orchestrator.Ready(ctx)
}

// runServe serves the API on listener until ctx is cancelled, then drains
// requests and background jobs within the shutdown timeout.
func runServe(ctx context.Context, appCtx *AppContext, opts serveOptions, listener net.Listener, status io.Writer) error {
	logger := appCtx.logger()

	obs, err := setupObservability(ctx, appCtx.Config, true)
	if err != nil {
		_ = listener.Close()
		return err
	}
	container, err := appCtx.newContainer(ctx, obs, opts.AllowPrivate)
	if err != nil {
		_ = listener.Close()
		_ = obs.Shutdown(context.Background())
		return err
	}

	jobs := api.NewJobManager(container.Orchestrator, logger)
	metricsPath := ""
	if appCtx.Config.Metrics.Enabled {
		metricsPath = appCtx.Config.Metrics.Path
	}

	server := api.NewServer(api.Config{
		Scanner:        container.Orchestrator,
		Scans:          container.Orchestrator,
		Health:         &healthService{orchestrator: container.Orchestrator},
		Jobs:           jobs,
		Validator:      appCtx.validator(opts.AllowPrivate),
		Metrics:        obs.Metrics,
		MetricsPath:    metricsPath,
		AuthToken:      opts.AuthToken,
		Logger:         logger,
		CORSOrigins:    opts.CORSOrigins,
		RateLimit:      opts.RateLimit,
		RateBurst:      opts.RateBurst,
		ScansPerMinute: opts.ScansPerMinute,
		TrustedProxies: opts.TrustedProxies,
	})

	// Synchronous scans hold the connection for up to the scan deadline.
	writeTimeout := appCtx.Config.Scanner.ScanDeadline + 15*time.Second
	httpServer := &http.Server{
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("api server started",
		zap.String("addr", listener.Addr().String()),
		zap.String("storage_driver", appCtx.Config.Storage.Driver),
		zap.Bool("auth", opts.AuthToken != ""),
		zap.String("metrics_path", metricsPath),
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Serve(listener)
	}()

	var serveErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		fmt.Fprintf(status, "\n%s Shutting down...\n", colorInfo("→"))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed, forcing close", zap.Error(err))
		if closeErr := httpServer.Close(); closeErr != nil && serveErr == nil {
			serveErr = fmt.Errorf("failed to gracefully shutdown server: %w (close error: %v)", err, closeErr)
		}
	}
	if err := jobs.Close(shutdownCtx); err != nil {
		logger.Warn("background scans did not finish", zap.Error(err))
	}
	server.Close()
	if err := obs.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to flush traces", zap.Error(err))
	}
	if err := container.Close(); err != nil {
		logger.Warn("failed to close scan store", zap.Error(err))
	}

	if serveErr == nil {
		fmt.Fprintf(status, "%s Server shutdown complete\n", colorSuccess("✓"))
	}
	return serveErr
}
