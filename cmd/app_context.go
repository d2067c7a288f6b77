package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/khanhnv2901/secscan/internal/application"
	scanapp "github.com/khanhnv2901/secscan/internal/application/scan"
	"github.com/khanhnv2901/secscan/internal/validation"
)

// AppContext carries the resolved configuration and logger into commands.
type AppContext struct {
	Logger *zap.Logger
	Config *CLIConfig

	closeLog func() error
}

type appContextKey struct{}

var globalAppContext *AppContext

func storeAppContext(cmd *cobra.Command, appCtx *AppContext) {
	globalAppContext = appCtx
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(context.WithValue(ctx, appContextKey{}, appCtx))
}

// getAppContext returns the context stored by the root command, falling back
// to built-in defaults so commands stay usable in tests.
func getAppContext(cmd *cobra.Command) *AppContext {
	if cmd != nil && cmd.Context() != nil {
		if appCtx, ok := cmd.Context().Value(appContextKey{}).(*AppContext); ok && appCtx != nil {
			return appCtx
		}
	}
	if globalAppContext != nil {
		return globalAppContext
	}
	cfg, err := loadCLIConfig(newViper())
	if err != nil {
		cfg = &CLIConfig{}
	}
	return &AppContext{Logger: zap.NewNop(), Config: cfg}
}

// Close flushes the logger and releases its file sink.
func (a *AppContext) Close() {
	if a == nil || a.Logger == nil {
		return
	}
	_ = a.Logger.Sync()
	if a.closeLog != nil {
		_ = a.closeLog()
	}
}

func (a *AppContext) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}

// moduleSettings returns the module settings, letting modules dial private
// addresses when configured or requested.
func (a *AppContext) moduleSettings(allowPrivate bool) scanapp.Settings {
	settings := a.Config.Settings()
	settings.AllowPrivate = settings.AllowPrivate || allowPrivate
	return settings
}

// newContainer wires the store and orchestrator from configuration.
func (a *AppContext) newContainer(ctx context.Context, obs *observability, allowPrivate bool) (*application.Container, error) {
	opts := application.Options{
		StorageDriver: a.Config.Storage.Driver,
		StorageDir:    a.Config.Storage.Dir,
		StorageDSN:    a.Config.Storage.DSN,
		Settings:      a.moduleSettings(allowPrivate),
		Scan:          a.Config.ScanConfig(),
		Logger:        a.logger(),
	}
	if obs != nil {
		opts.Metrics = obs.Metrics
		if obs.Tracing != nil {
			opts.Tracer = obs.Tracing.Tracer
		}
	}
	container, err := application.NewContainer(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	return container, nil
}

// validator builds the target validator, allowing private targets when
// configured or requested.
func (a *AppContext) validator(allowPrivate bool) *validation.Validator {
	return validation.New(allowPrivate || a.Config.Scanner.AllowPrivateTargets)
}
