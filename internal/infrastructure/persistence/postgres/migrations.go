package postgres

import (
	"context"
	"fmt"
)

// schemaMigrations are applied in order on Open. Each statement is idempotent.
var schemaMigrations = []string{
	`CREATE TABLE IF NOT EXISTS security_scans (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		scan_type TEXT NOT NULL,
		status TEXT NOT NULL,
		score INTEGER NOT NULL DEFAULT 100,
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		error_message TEXT NOT NULL DEFAULT '',
		recommendations TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS security_findings (
		scan_id TEXT NOT NULL REFERENCES security_scans(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		category TEXT NOT NULL,
		severity TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		evidence TEXT NOT NULL DEFAULT '',
		recommendation TEXT NOT NULL DEFAULT '',
		owasp_category TEXT NOT NULL DEFAULT '',
		cwe_id TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (scan_id, position)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_security_scans_started_at ON security_scans(started_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_security_findings_severity ON security_findings(severity)`,
}

func (r *ScanRepository) migrate(ctx context.Context) error {
	for i, stmt := range schemaMigrations {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
