package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/khanhnv2901/secscan/internal/checker"
	"github.com/khanhnv2901/secscan/internal/domain/finding"
	"github.com/khanhnv2901/secscan/internal/domain/scan"
	"github.com/khanhnv2901/secscan/internal/metrics"
	"github.com/khanhnv2901/secscan/internal/shared/constants"
	sharedErrors "github.com/khanhnv2901/secscan/internal/shared/errors"
)

// Config bounds a single scan.
type Config struct {
	ScanDeadline        time.Duration
	ModuleConcurrency   int
	RecommendationLimit int
}

// Summary counts findings per severity and per OWASP category.
type Summary struct {
	finding.Summary `yaml:",inline"`
	OWASP           map[string]int `json:"owasp,omitempty" yaml:"owasp,omitempty"`
}

// Result is the aggregate outcome of one scan.
type Result struct {
	ScanID          string                          `json:"scanId,omitempty" yaml:"scan_id,omitempty"`
	URL             string                          `json:"url" yaml:"url"`
	ScanType        scan.Type                       `json:"scanType" yaml:"scan_type"`
	SecurityScore   int                             `json:"securityScore" yaml:"security_score"`
	Summary         Summary                         `json:"summary" yaml:"summary"`
	Results         map[string]checker.ModuleResult `json:"results" yaml:"results"`
	Findings        []finding.Finding               `json:"findings" yaml:"findings"`
	Recommendations []finding.Recommendation        `json:"recommendations" yaml:"recommendations"`
	StartedAt       time.Time                       `json:"startedAt" yaml:"started_at"`
	CompletedAt     time.Time                       `json:"completedAt" yaml:"completed_at"`
	DurationMs      float64                         `json:"durationMs" yaml:"duration_ms"`
}

// Pinger is implemented by stores that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Orchestrator runs the modules selected by a scan type, merges their
// findings and scores the result. It performs no network I/O itself.
type Orchestrator struct {
	modules Modules
	repo    scan.Repository
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Recorder
	tracer  trace.Tracer
	now     func() time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records scan metrics on r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(o *Orchestrator) { o.metrics = r }
}

// WithTracer emits one span per scan and per module.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithClock injects the clock used for timestamps and JWT analysis.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// NewOrchestrator creates an orchestrator. repo may be nil, in which case
// scans are not persisted.
func NewOrchestrator(modules Modules, repo scan.Repository, cfg Config, logger *zap.Logger, opts ...Option) *Orchestrator {
	if cfg.ScanDeadline <= 0 {
		cfg.ScanDeadline = constants.ScanDeadline
	}
	if cfg.ModuleConcurrency <= 0 {
		cfg.ModuleConcurrency = 4
	}
	if cfg.RecommendationLimit <= 0 {
		cfg.RecommendationLimit = constants.RecommendationLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Orchestrator{
		modules: modules,
		repo:    repo,
		cfg:     cfg,
		logger:  logger,
		tracer:  noop.NewTracerProvider().Tracer(""),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunScan scans target with the modules selected by scanType. Unreachable
// targets still produce a result; only an internal module failure returns
// an error wrapping ErrScanFailed.
func (o *Orchestrator) RunScan(ctx context.Context, target string, scanType scan.Type) (*Result, error) {
	if scanType == "" {
		scanType = scan.TypeFull
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.ScanDeadline)
	defer cancel()

	ctx, span := o.tracer.Start(ctx, "scan", trace.WithAttributes(
		attribute.String("scan.url", target),
		attribute.String("scan.type", string(scanType)),
	))
	defer span.End()

	record, err := scan.NewRecord(target, scanType)
	if err != nil {
		return nil, err
	}
	startedAt := o.now().UTC()
	if err := record.Start(startedAt); err != nil {
		return nil, fmt.Errorf("start scan record: %w", err)
	}
	persisted := o.save(ctx, record)

	log := o.logger.With(
		zap.String("scan_id", record.ID()),
		zap.String("url", target),
		zap.String("scan_type", string(scanType)),
	)
	log.Info("scan started")

	selected := o.plan(target, scanType)
	results, err := o.dispatch(ctx, target, selected)
	if err != nil {
		if ferr := record.Fail(o.now().UTC(), err.Error()); ferr != nil {
			log.Warn("failed to mark scan failed", zap.Error(ferr))
		}
		o.save(context.WithoutCancel(ctx), record)
		o.metrics.ObserveScan(string(scanType), string(scan.StatusFailed), 0, nil)
		span.RecordError(err)
		span.SetStatus(codes.Error, "scan failed")
		log.Error("scan failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", sharedErrors.ErrScanFailed, err)
	}

	findings := make([]finding.Finding, 0)
	byModule := make(map[string]checker.ModuleResult, len(results))
	for _, res := range results {
		findings = append(findings, res.Findings...)
		byModule[res.Module] = res
	}
	recommendations := finding.Recommendations(findings, o.cfg.RecommendationLimit)

	completedAt := o.now().UTC()
	if err := record.Complete(completedAt, findings, recommendations); err != nil {
		return nil, fmt.Errorf("complete scan record: %w", err)
	}
	if !o.save(context.WithoutCancel(ctx), record) {
		persisted = false
	}

	result := &Result{
		URL:             target,
		ScanType:        scanType,
		SecurityScore:   record.Score(),
		Summary:         Summary{Summary: finding.Summarize(findings), OWASP: finding.CountByOWASP(findings)},
		Results:         byModule,
		Findings:        findings,
		Recommendations: recommendations,
		StartedAt:       startedAt,
		CompletedAt:     completedAt,
		DurationMs:      float64(completedAt.Sub(startedAt).Microseconds()) / 1000,
	}
	if persisted {
		result.ScanID = record.ID()
	}

	o.metrics.ObserveScan(string(scanType), string(scan.StatusCompleted), result.SecurityScore, findings)
	span.SetAttributes(
		attribute.Int("scan.score", result.SecurityScore),
		attribute.Int("scan.findings", len(findings)),
	)
	log.Info("scan completed",
		zap.Int("score", result.SecurityScore),
		zap.Int("findings", len(findings)),
		zap.Float64("duration_ms", result.DurationMs))

	return result, nil
}

// plan returns the modules for scanType in merge order. TLS is only
// inspected for https targets.
func (o *Orchestrator) plan(target string, scanType scan.Type) []checker.Checker {
	https := checker.ParseTarget(target).IsHTTPS()
	var selected []checker.Checker
	add := func(c checker.Checker) {
		if c != nil {
			selected = append(selected, c)
		}
	}

	switch scanType {
	case scan.TypeHeaders:
		add(o.modules.Headers)
	case scan.TypeSSL:
		if https && o.modules.TLS != nil {
			add(o.modules.TLS)
		}
	case scan.TypeVulnerabilities:
		add(o.modules.Vulnerabilities)
	default:
		add(o.modules.Headers)
		if https && o.modules.TLS != nil {
			add(o.modules.TLS)
		}
		add(o.modules.Vulnerabilities)
		add(o.modules.CORS)
	}
	return selected
}

// dispatch runs the modules in parallel and returns their results in the
// order given. A panicking module fails the whole scan.
func (o *Orchestrator) dispatch(ctx context.Context, target string, modules []checker.Checker) ([]checker.ModuleResult, error) {
	results := make([]checker.ModuleResult, len(modules))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.ModuleConcurrency)

	for i, module := range modules {
		g.Go(func() (err error) {
			name := module.Name()
			mctx, span := o.tracer.Start(gctx, "module."+name, trace.WithAttributes(attribute.String("module", name)))
			defer span.End()
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("module %s panicked: %v", name, r)
					span.RecordError(err)
					span.SetStatus(codes.Error, "panic")
				}
			}()

			res := module.Check(mctx, target)
			if res.Module == "" {
				res.Module = name
			}
			results[i] = res

			o.metrics.ObserveModule(name, res.DurationMs)
			span.SetAttributes(
				attribute.Bool("module.success", res.Success),
				attribute.Int("module.findings", len(res.Findings)),
			)
			o.logger.Debug("module finished",
				zap.String("module", name),
				zap.Bool("success", res.Success),
				zap.Int("findings", len(res.Findings)),
				zap.Float64("duration_ms", res.DurationMs))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// save persists record and reports whether it was stored. Store failures
// never fail a scan.
func (o *Orchestrator) save(ctx context.Context, record *scan.Record) bool {
	if o.repo == nil {
		return false
	}
	if err := o.repo.Save(ctx, record); err != nil {
		o.logger.Warn("failed to persist scan",
			zap.String("scan_id", record.ID()),
			zap.String("status", string(record.Status())),
			zap.Error(err))
		return false
	}
	return true
}

// CheckHeaders runs only the header analyzer.
func (o *Orchestrator) CheckHeaders(ctx context.Context, target string) checker.ModuleResult {
	return o.runSingle(ctx, o.modules.Headers, target)
}

// CheckCORS runs only the CORS analyzer.
func (o *Orchestrator) CheckCORS(ctx context.Context, target string) checker.ModuleResult {
	return o.runSingle(ctx, o.modules.CORS, target)
}

// CheckTLS inspects host:port. A zero port selects 443.
func (o *Orchestrator) CheckTLS(ctx context.Context, host string, port int) checker.ModuleResult {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.ScanDeadline)
	defer cancel()
	ctx, span := o.tracer.Start(ctx, "module."+checker.ModuleSSL)
	defer span.End()

	res := o.modules.TLS.Inspect(ctx, host, port)
	o.metrics.ObserveModule(checker.ModuleSSL, res.DurationMs)
	return res
}

// AnalyzeJWT lints token against the orchestrator clock.
func (o *Orchestrator) AnalyzeJWT(token string) checker.JWTAnalysis {
	return checker.AnalyzeJWT(token, o.now())
}

func (o *Orchestrator) runSingle(ctx context.Context, module checker.Checker, target string) checker.ModuleResult {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.ScanDeadline)
	defer cancel()
	ctx, span := o.tracer.Start(ctx, "module."+module.Name())
	defer span.End()

	res := module.Check(ctx, target)
	o.metrics.ObserveModule(module.Name(), res.DurationMs)
	return res
}

// GetScan loads a stored scan record.
func (o *Orchestrator) GetScan(ctx context.Context, id string) (*scan.Record, error) {
	if o.repo == nil {
		return nil, sharedErrors.ErrStoreNotConfigured
	}
	record, err := o.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get scan: %w", err)
	}
	return record, nil
}

// ListScans returns up to limit stored scans, newest first.
func (o *Orchestrator) ListScans(ctx context.Context, limit int) ([]*scan.Record, error) {
	if o.repo == nil {
		return nil, sharedErrors.ErrStoreNotConfigured
	}
	records, err := o.repo.FindAll(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	return records, nil
}

// DeleteScan removes a stored scan record.
func (o *Orchestrator) DeleteScan(ctx context.Context, id string) error {
	if o.repo == nil {
		return sharedErrors.ErrStoreNotConfigured
	}
	if err := o.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete scan: %w", err)
	}
	return nil
}

// HasStore reports whether scans are persisted.
func (o *Orchestrator) HasStore() bool {
	return o.repo != nil
}

// Ready reports whether the configured store is reachable.
func (o *Orchestrator) Ready(ctx context.Context) error {
	p, ok := o.repo.(Pinger)
	if !ok {
		return nil
	}
	if err := p.Ping(ctx); err != nil {
		return errors.Join(sharedErrors.ErrRepositoryOperation, err)
	}
	return nil
}
