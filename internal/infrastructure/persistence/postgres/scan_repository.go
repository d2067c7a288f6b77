package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/khanhnv2901/secscan/internal/domain/finding"
	"github.com/khanhnv2901/secscan/internal/domain/scan"
	sharedErrors "github.com/khanhnv2901/secscan/internal/shared/errors"
)

// Options configures the connection pool.
type Options struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ScanRepository implements scan.Repository on PostgreSQL.
type ScanRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

type scanRow struct {
	ID              string       `db:"id"`
	URL             string       `db:"url"`
	ScanType        string       `db:"scan_type"`
	Status          string       `db:"status"`
	Score           int          `db:"score"`
	StartedAt       sql.NullTime `db:"started_at"`
	CompletedAt     sql.NullTime `db:"completed_at"`
	ErrorMessage    string       `db:"error_message"`
	Recommendations string       `db:"recommendations"`
}

type findingRow struct {
	ScanID         string `db:"scan_id"`
	Position       int    `db:"position"`
	Category       string `db:"category"`
	Severity       string `db:"severity"`
	Title          string `db:"title"`
	Description    string `db:"description"`
	Evidence       string `db:"evidence"`
	Recommendation string `db:"recommendation"`
	OWASPCategory  string `db:"owasp_category"`
	CWEID          string `db:"cwe_id"`
}

// Open connects to PostgreSQL and applies the schema migrations.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (*ScanRepository, error) {
	if opts.DSN == "" {
		return nil, fmt.Errorf("%w: storage dsn", sharedErrors.ErrMissingRequired)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	repo := &ScanRepository{db: db, logger: logger}
	start := time.Now()
	if err := repo.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("scan store ready",
		zap.String("driver", "postgres"),
		zap.Duration("migrate_duration", time.Since(start)))

	return repo, nil
}

// NewScanRepository wraps an existing connection. The schema must already exist.
func NewScanRepository(db *sqlx.DB, logger *zap.Logger) *ScanRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScanRepository{db: db, logger: logger}
}

// Save upserts the scan row and replaces its findings in one transaction.
func (r *ScanRepository) Save(ctx context.Context, record *scan.Record) error {
	recsJSON, err := json.Marshal(record.Recommendations())
	if err != nil {
		return fmt.Errorf("%w: %v", sharedErrors.ErrSerializationFailed, err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", sharedErrors.ErrRepositoryOperation, err)
	}
	defer func() { _ = tx.Rollback() }()

	row := scanRow{
		ID:              record.ID(),
		URL:             record.URL(),
		ScanType:        string(record.ScanType()),
		Status:          string(record.Status()),
		Score:           record.Score(),
		StartedAt:       nullTime(record.StartedAt()),
		CompletedAt:     nullTime(record.CompletedAt()),
		ErrorMessage:    record.ErrorMessage(),
		Recommendations: string(recsJSON),
	}

	upsert := `
		INSERT INTO security_scans (
			id, url, scan_type, status, score, started_at, completed_at,
			error_message, recommendations
		) VALUES (
			:id, :url, :scan_type, :status, :score, :started_at, :completed_at,
			:error_message, :recommendations
		)
		ON CONFLICT (id) DO UPDATE SET
			url = EXCLUDED.url,
			scan_type = EXCLUDED.scan_type,
			status = EXCLUDED.status,
			score = EXCLUDED.score,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			error_message = EXCLUDED.error_message,
			recommendations = EXCLUDED.recommendations
	`
	if _, err := tx.NamedExecContext(ctx, upsert, row); err != nil {
		return fmt.Errorf("%w: upsert scan: %v", sharedErrors.ErrRepositoryOperation, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM security_findings WHERE scan_id = $1`, record.ID()); err != nil {
		return fmt.Errorf("%w: clear findings: %v", sharedErrors.ErrRepositoryOperation, err)
	}

	insert := `
		INSERT INTO security_findings (
			scan_id, position, category, severity, title, description,
			evidence, recommendation, owasp_category, cwe_id
		) VALUES (
			:scan_id, :position, :category, :severity, :title, :description,
			:evidence, :recommendation, :owasp_category, :cwe_id
		)
	`
	for i, f := range record.Findings() {
		fr := findingRow{
			ScanID:         record.ID(),
			Position:       i,
			Category:       string(f.Category),
			Severity:       string(f.Severity),
			Title:          f.Title,
			Description:    f.Description,
			Evidence:       f.Evidence,
			Recommendation: f.Recommendation,
			OWASPCategory:  f.OWASPCategory,
			CWEID:          f.CWEID,
		}
		if _, err := tx.NamedExecContext(ctx, insert, fr); err != nil {
			return fmt.Errorf("%w: insert finding %d: %v", sharedErrors.ErrRepositoryOperation, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", sharedErrors.ErrRepositoryOperation, err)
	}

	r.logger.Debug("scan saved",
		zap.String("scan_id", record.ID()),
		zap.String("status", string(record.Status())),
		zap.Int("findings", len(record.Findings())))
	return nil
}

// FindByID retrieves a scan record with its findings
func (r *ScanRepository) FindByID(ctx context.Context, id string) (*scan.Record, error) {
	var row scanRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, url, scan_type, status, score, started_at, completed_at,
		       error_message, recommendations
		FROM security_scans
		WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sharedErrors.ErrScanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get scan: %v", sharedErrors.ErrRepositoryOperation, err)
	}

	var findings []findingRow
	if err := r.db.SelectContext(ctx, &findings, `
		SELECT scan_id, position, category, severity, title, description,
		       evidence, recommendation, owasp_category, cwe_id
		FROM security_findings
		WHERE scan_id = $1
		ORDER BY position`, id); err != nil {
		return nil, fmt.Errorf("%w: get findings: %v", sharedErrors.ErrRepositoryOperation, err)
	}

	return toRecord(row, findings)
}

// FindAll retrieves up to limit scans, newest first. Findings are loaded per
// scan.
func (r *ScanRepository) FindAll(ctx context.Context, limit int) ([]*scan.Record, error) {
	query := `
		SELECT id, url, scan_type, status, score, started_at, completed_at,
		       error_message, recommendations
		FROM security_scans
		ORDER BY started_at DESC NULLS LAST, created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	var rows []scanRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("%w: list scans: %v", sharedErrors.ErrRepositoryOperation, err)
	}

	records := make([]*scan.Record, 0, len(rows))
	for _, row := range rows {
		var findings []findingRow
		if err := r.db.SelectContext(ctx, &findings, `
			SELECT scan_id, position, category, severity, title, description,
			       evidence, recommendation, owasp_category, cwe_id
			FROM security_findings
			WHERE scan_id = $1
			ORDER BY position`, row.ID); err != nil {
			return nil, fmt.Errorf("%w: get findings: %v", sharedErrors.ErrRepositoryOperation, err)
		}
		record, err := toRecord(row, findings)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// Delete removes a scan and, by cascade, its findings
func (r *ScanRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM security_scans WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: delete scan: %v", sharedErrors.ErrRepositoryOperation, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return sharedErrors.ErrScanNotFound
	}
	return nil
}

// Ping verifies the database connection.
func (r *ScanRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the connection pool.
func (r *ScanRepository) Close() error {
	return r.db.Close()
}

func toRecord(row scanRow, rows []findingRow) (*scan.Record, error) {
	var recs []finding.Recommendation
	if row.Recommendations != "" {
		if err := json.Unmarshal([]byte(row.Recommendations), &recs); err != nil {
			return nil, fmt.Errorf("%w: recommendations: %v", sharedErrors.ErrDeserializationFailed, err)
		}
	}

	findings := make([]finding.Finding, 0, len(rows))
	for _, fr := range rows {
		findings = append(findings, finding.Finding{
			Category:       finding.Category(fr.Category),
			Severity:       finding.Severity(fr.Severity),
			Title:          fr.Title,
			Description:    fr.Description,
			Evidence:       fr.Evidence,
			Recommendation: fr.Recommendation,
			OWASPCategory:  fr.OWASPCategory,
			CWEID:          fr.CWEID,
		})
	}

	return scan.Reconstruct(
		row.ID,
		row.URL,
		scan.Type(row.ScanType),
		scan.Status(row.Status),
		row.StartedAt.Time,
		row.CompletedAt.Time,
		row.Score,
		findings,
		recs,
		row.ErrorMessage,
	), nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
