package scan

import "context"

// Repository defines the interface for scan record persistence
type Repository interface {
	// Save creates or replaces a scan record together with its findings
	Save(ctx context.Context, record *Record) error

	// FindByID retrieves a scan record by its ID
	FindByID(ctx context.Context, id string) (*Record, error)

	// FindAll retrieves up to limit records, newest first. A limit of zero
	// or less returns every record.
	FindAll(ctx context.Context, limit int) ([]*Record, error)

	// Delete removes a scan record by its ID
	Delete(ctx context.Context, id string) error
}
