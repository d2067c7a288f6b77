package application

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	scanapp "github.com/khanhnv2901/secscan/internal/application/scan"
	"github.com/khanhnv2901/secscan/internal/domain/scan"
	"github.com/khanhnv2901/secscan/internal/infrastructure/persistence/json"
	"github.com/khanhnv2901/secscan/internal/infrastructure/persistence/postgres"
	"github.com/khanhnv2901/secscan/internal/metrics"
)

// Storage drivers accepted by NewContainer.
const (
	StorageNone     = "none"
	StorageJSON     = "json"
	StoragePostgres = "postgres"
)

// Options selects the scan store and module settings.
type Options struct {
	StorageDriver string
	StorageDir    string
	StorageDSN    string

	Settings scanapp.Settings
	Scan     scanapp.Config

	Metrics *metrics.Recorder
	Tracer  trace.Tracer
	Logger  *zap.Logger
}

// Container holds all application services and repositories
// This is a simple dependency injection container
type Container struct {
	// Repositories
	ScanRepo scan.Repository

	// Services
	Orchestrator *scanapp.Orchestrator
	Metrics      *metrics.Recorder

	closers []func() error
}

// NewContainer creates a new application service container
func NewContainer(ctx context.Context, opts Options) (*Container, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Container{Metrics: opts.Metrics}

	// Initialize repositories
	switch driver := strings.ToLower(strings.TrimSpace(opts.StorageDriver)); driver {
	case "", StorageNone:
	case StorageJSON:
		repo, err := json.NewScanRepository(opts.StorageDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create scan repository: %w", err)
		}
		c.ScanRepo = repo
	case StoragePostgres:
		repo, err := postgres.Open(ctx, postgres.Options{DSN: opts.StorageDSN}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create scan repository: %w", err)
		}
		c.ScanRepo = repo
		c.closers = append(c.closers, repo.Close)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", opts.StorageDriver)
	}

	// Initialize services
	modules := scanapp.NewModules(opts.Settings, logger)
	c.Orchestrator = scanapp.NewOrchestrator(modules, c.ScanRepo, opts.Scan, logger,
		scanapp.WithMetrics(opts.Metrics),
		scanapp.WithTracer(opts.Tracer),
	)

	return c, nil
}

// Close releases store connections.
func (c *Container) Close() error {
	var firstErr error
	for _, closeFn := range c.closers {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
