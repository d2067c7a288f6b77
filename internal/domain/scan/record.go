package scan

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/khanhnv2901/secscan/internal/domain/finding"
	sharedErrors "github.com/khanhnv2901/secscan/internal/shared/errors"
)

// Type selects which modules a scan runs.
type Type string

const (
	TypeFull            Type = "full"
	TypeHeaders         Type = "headers"
	TypeSSL             Type = "ssl"
	TypeVulnerabilities Type = "vulnerabilities"
)

// Types lists the accepted scan types.
var Types = []Type{TypeFull, TypeHeaders, TypeSSL, TypeVulnerabilities}

// ParseType parses a scan type. An empty string selects a full scan.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return TypeFull, nil
	case TypeFull, TypeHeaders, TypeSSL, TypeVulnerabilities:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", sharedErrors.ErrUnsupportedScanType, s)
	}
}

// Status represents the lifecycle state of a scan record
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Record is the persisted history of one scan. It is the aggregate root
// for the findings and recommendations a scan produced.
type Record struct {
	id              string
	url             string
	scanType        Type
	status          Status
	startedAt       time.Time
	completedAt     time.Time
	score           int
	findings        []finding.Finding
	recommendations []finding.Recommendation
	errorMessage    string
}

// NewRecord creates a pending scan record for url.
func NewRecord(url string, scanType Type) (*Record, error) {
	if strings.TrimSpace(url) == "" {
		return nil, sharedErrors.ErrEmptyTarget
	}
	if scanType == "" {
		scanType = TypeFull
	}
	return &Record{
		id:       uuid.NewString(),
		url:      url,
		scanType: scanType,
		status:   StatusPending,
		score:    finding.MaxScore,
	}, nil
}

// Reconstruct creates a record from persisted data
func Reconstruct(id, url string, scanType Type, status Status, startedAt, completedAt time.Time,
	score int, findings []finding.Finding, recommendations []finding.Recommendation, errorMessage string) *Record {
	return &Record{
		id:              id,
		url:             url,
		scanType:        scanType,
		status:          status,
		startedAt:       startedAt,
		completedAt:     completedAt,
		score:           score,
		findings:        findings,
		recommendations: recommendations,
		errorMessage:    errorMessage,
	}
}

// Business methods

// Start marks the scan as running
func (r *Record) Start(at time.Time) error {
	if r.status != StatusPending {
		return sharedErrors.ErrScanAlreadyStarted
	}
	r.status = StatusRunning
	r.startedAt = at
	return nil
}

// Complete stores the scan outcome and marks the record completed. The
// score is derived from the findings.
func (r *Record) Complete(at time.Time, findings []finding.Finding, recommendations []finding.Recommendation) error {
	switch r.status {
	case StatusRunning:
	case StatusPending:
		return sharedErrors.ErrScanNotStarted
	default:
		return sharedErrors.ErrScanAlreadyCompleted
	}
	r.status = StatusCompleted
	r.completedAt = at
	r.findings = append([]finding.Finding(nil), findings...)
	r.recommendations = append([]finding.Recommendation(nil), recommendations...)
	r.score = finding.Score(findings)
	return nil
}

// Fail marks the scan as failed with a reason
func (r *Record) Fail(at time.Time, reason string) error {
	if r.status.IsTerminal() {
		return sharedErrors.ErrScanAlreadyCompleted
	}
	r.status = StatusFailed
	r.completedAt = at
	r.errorMessage = reason
	return nil
}

// Getters

func (r *Record) ID() string {
	return r.id
}

func (r *Record) URL() string {
	return r.url
}

func (r *Record) ScanType() Type {
	return r.scanType
}

func (r *Record) Status() Status {
	return r.status
}

func (r *Record) StartedAt() time.Time {
	return r.startedAt
}

func (r *Record) CompletedAt() time.Time {
	return r.completedAt
}

func (r *Record) Score() int {
	return r.score
}

func (r *Record) ErrorMessage() string {
	return r.errorMessage
}

func (r *Record) Findings() []finding.Finding {
	// Return a copy to prevent external modification
	out := make([]finding.Finding, len(r.findings))
	copy(out, r.findings)
	return out
}

func (r *Record) Recommendations() []finding.Recommendation {
	out := make([]finding.Recommendation, len(r.recommendations))
	copy(out, r.recommendations)
	return out
}

// Summary counts the stored findings by severity.
func (r *Record) Summary() finding.Summary {
	return finding.Summarize(r.findings)
}
