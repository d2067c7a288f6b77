package json

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/khanhnv2901/secscan/internal/domain/finding"
	"github.com/khanhnv2901/secscan/internal/domain/scan"
	"github.com/khanhnv2901/secscan/internal/shared/constants"
	sharedErrors "github.com/khanhnv2901/secscan/internal/shared/errors"
	"github.com/khanhnv2901/secscan/internal/shared/security"
)

const scanFileSuffix = ".json"

// scanDTO is the data transfer object for JSON serialization
type scanDTO struct {
	ID              string              `json:"id"`
	URL             string              `json:"url"`
	ScanType        string              `json:"scan_type"`
	Status          string              `json:"status"`
	StartedAt       string              `json:"started_at,omitempty"`
	CompletedAt     string              `json:"completed_at,omitempty"`
	Score           int                 `json:"score"`
	Error           string              `json:"error,omitempty"`
	Findings        []findingDTO        `json:"findings"`
	Recommendations []recommendationDTO `json:"recommendations"`
}

type findingDTO struct {
	Category       string `json:"category"`
	Severity       string `json:"severity"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Evidence       string `json:"evidence,omitempty"`
	Recommendation string `json:"recommendation,omitempty"`
	OWASPCategory  string `json:"owasp_category,omitempty"`
	CWEID          string `json:"cwe_id,omitempty"`
}

type recommendationDTO struct {
	Priority string `json:"priority"`
	Title    string `json:"title"`
	Action   string `json:"action"`
}

// ScanRepository implements the scan.Repository interface with one JSON file
// per scan under a base directory.
type ScanRepository struct {
	dir string
	mu  sync.RWMutex
}

// NewScanRepository creates a new JSON-based scan repository
func NewScanRepository(dir string) (*ScanRepository, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: storage directory", sharedErrors.ErrMissingRequired)
	}

	if err := os.MkdirAll(dir, constants.DefaultDirPerm); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &ScanRepository{dir: dir}, nil
}

// Save persists a scan record with its findings
func (r *ScanRepository) Save(ctx context.Context, record *scan.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	filePath, err := r.pathFor(record.ID())
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(toDTO(record), "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", sharedErrors.ErrSerializationFailed, err)
	}

	// Write then rename so readers never observe a partial file.
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, constants.DefaultFilePerm); err != nil {
		return fmt.Errorf("%w: save scan: %v", sharedErrors.ErrRepositoryOperation, err)
	}
	if err := os.Rename(tmp, filePath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: save scan: %v", sharedErrors.ErrRepositoryOperation, err)
	}
	return nil
}

// FindByID retrieves a scan record by its ID
func (r *ScanRepository) FindByID(ctx context.Context, id string) (*scan.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	filePath, err := r.pathFor(id)
	if err != nil {
		return nil, sharedErrors.ErrScanNotFound
	}

	record, err := loadFromFile(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, sharedErrors.ErrScanNotFound
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// FindAll retrieves up to limit scan records, newest first
func (r *ScanRepository) FindAll(ctx context.Context, limit int) ([]*scan.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read storage directory: %v", sharedErrors.ErrRepositoryOperation, err)
	}

	records := make([]*scan.Record, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), scanFileSuffix) {
			continue
		}

		record, err := loadFromFile(filepath.Join(r.dir, entry.Name()))
		if err != nil {
			continue
		}
		records = append(records, record)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].StartedAt().After(records[j].StartedAt())
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Delete removes a scan record by its ID
func (r *ScanRepository) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	filePath, err := r.pathFor(id)
	if err != nil {
		return sharedErrors.ErrScanNotFound
	}
	if err := os.Remove(filePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return sharedErrors.ErrScanNotFound
		}
		return fmt.Errorf("%w: delete scan: %v", sharedErrors.ErrRepositoryOperation, err)
	}
	return nil
}

// Ping verifies the storage directory is still reachable.
func (r *ScanRepository) Ping(ctx context.Context) error {
	if _, err := os.Stat(r.dir); err != nil {
		return fmt.Errorf("%w: %v", sharedErrors.ErrRepositoryOperation, err)
	}
	return nil
}

// Helper methods

func (r *ScanRepository) pathFor(id string) (string, error) {
	if err := security.ValidateIdentifier(id); err != nil {
		return "", err
	}
	return security.ResolveWithin(r.dir, id+scanFileSuffix)
}

func loadFromFile(filePath string) (*scan.Record, error) {
	data, err := os.ReadFile(filePath) // #nosec G304 -- path resolved within the storage directory
	if err != nil {
		return nil, err
	}

	var dto scanDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, fmt.Errorf("%w: %v", sharedErrors.ErrDeserializationFailed, err)
	}

	return fromDTO(dto)
}

func toDTO(record *scan.Record) scanDTO {
	dto := scanDTO{
		ID:              record.ID(),
		URL:             record.URL(),
		ScanType:        string(record.ScanType()),
		Status:          string(record.Status()),
		Score:           record.Score(),
		Error:           record.ErrorMessage(),
		Findings:        make([]findingDTO, 0),
		Recommendations: make([]recommendationDTO, 0),
	}

	if !record.StartedAt().IsZero() {
		dto.StartedAt = record.StartedAt().UTC().Format(time.RFC3339Nano)
	}
	if !record.CompletedAt().IsZero() {
		dto.CompletedAt = record.CompletedAt().UTC().Format(time.RFC3339Nano)
	}

	for _, f := range record.Findings() {
		dto.Findings = append(dto.Findings, findingDTO{
			Category:       string(f.Category),
			Severity:       string(f.Severity),
			Title:          f.Title,
			Description:    f.Description,
			Evidence:       f.Evidence,
			Recommendation: f.Recommendation,
			OWASPCategory:  f.OWASPCategory,
			CWEID:          f.CWEID,
		})
	}
	for _, rec := range record.Recommendations() {
		dto.Recommendations = append(dto.Recommendations, recommendationDTO{
			Priority: string(rec.Priority),
			Title:    rec.Title,
			Action:   rec.Action,
		})
	}

	return dto
}

func fromDTO(dto scanDTO) (*scan.Record, error) {
	var startedAt, completedAt time.Time
	var err error
	if dto.StartedAt != "" {
		if startedAt, err = time.Parse(time.RFC3339Nano, dto.StartedAt); err != nil {
			return nil, fmt.Errorf("%w: started_at: %v", sharedErrors.ErrDeserializationFailed, err)
		}
	}
	if dto.CompletedAt != "" {
		if completedAt, err = time.Parse(time.RFC3339Nano, dto.CompletedAt); err != nil {
			return nil, fmt.Errorf("%w: completed_at: %v", sharedErrors.ErrDeserializationFailed, err)
		}
	}

	findings := make([]finding.Finding, 0, len(dto.Findings))
	for _, f := range dto.Findings {
		findings = append(findings, finding.Finding{
			Category:       finding.Category(f.Category),
			Severity:       finding.Severity(f.Severity),
			Title:          f.Title,
			Description:    f.Description,
			Evidence:       f.Evidence,
			Recommendation: f.Recommendation,
			OWASPCategory:  f.OWASPCategory,
			CWEID:          f.CWEID,
		})
	}
	recommendations := make([]finding.Recommendation, 0, len(dto.Recommendations))
	for _, rec := range dto.Recommendations {
		recommendations = append(recommendations, finding.Recommendation{
			Priority: finding.Severity(rec.Priority),
			Title:    rec.Title,
			Action:   rec.Action,
		})
	}

	return scan.Reconstruct(
		dto.ID,
		dto.URL,
		scan.Type(dto.ScanType),
		scan.Status(dto.Status),
		startedAt,
		completedAt,
		dto.Score,
		findings,
		recommendations,
		dto.Error,
	), nil
}
