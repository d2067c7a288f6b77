package api

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	scanapp "github.com/khanhnv2901/secscan/internal/application/scan"
	"github.com/khanhnv2901/secscan/internal/domain/scan"
)

// Job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

const defaultMaxJobs = 1000

// ErrJobManagerClosed is returned by StartJob after Close.
var ErrJobManagerClosed = errors.New("job manager is shutting down")

// Job tracks one background scan.
type Job struct {
	ID         string     `json:"id"`
	URL        string     `json:"url"`
	ScanType   scan.Type  `json:"scanType"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	ScanID     string     `json:"scanId,omitempty"`
	Score      *int       `json:"securityScore,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// IsFinished reports whether the job reached a terminal status.
func (j Job) IsFinished() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}

// JobRequest is the body of POST /jobs.
type JobRequest struct {
	URL      string `json:"url"`
	ScanType string `json:"scanType"`
}

// ScanRunner executes a scan; the orchestrator satisfies it.
type ScanRunner interface {
	RunScan(ctx context.Context, target string, scanType scan.Type) (*scanapp.Result, error)
}

// JobManager runs scans in the background and keeps a bounded history of
// their outcome for polling and streaming.
type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	subscribers map[chan Job]struct{}
	maxJobs     int

	runner ScanRunner
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// NewJobManager creates a job manager dispatching to runner.
func NewJobManager(runner ScanRunner, logger *zap.Logger) *JobManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &JobManager{
		jobs:        make(map[string]*Job),
		subscribers: make(map[chan Job]struct{}),
		maxJobs:     defaultMaxJobs,
		runner:      runner,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
	go m.cleanupLoop(5 * time.Minute)
	return m
}

// StartJob records a pending job and runs the scan in the background. The
// request context only bounds job creation, not the scan.
func (m *JobManager) StartJob(ctx context.Context, req JobRequest) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scanType, err := scan.ParseType(req.ScanType)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrJobManagerClosed
	}
	job := &Job{
		ID:        generateID("job"),
		URL:       req.URL,
		ScanType:  scanType,
		Status:    JobPending,
		CreatedAt: time.Now().UTC(),
	}
	m.jobs[job.ID] = job
	m.broadcast(*job)
	created := *job
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(created.ID, created.URL, scanType)
	return &created, nil
}

func (m *JobManager) run(id, target string, scanType scan.Type) {
	defer m.wg.Done()

	m.UpdateJob(id, func(j *Job) {
		now := time.Now().UTC()
		j.Status = JobRunning
		j.StartedAt = &now
	})

	result, err := m.runner.RunScan(m.ctx, target, scanType)

	m.UpdateJob(id, func(j *Job) {
		now := time.Now().UTC()
		j.FinishedAt = &now
		if err != nil {
			j.Status = JobFailed
			j.Error = err.Error()
			return
		}
		score := result.SecurityScore
		j.Status = JobCompleted
		j.ScanID = result.ScanID
		j.Score = &score
	})

	if err != nil {
		m.logger.Warn("scan job failed", zap.String("job_id", id), zap.String("url", target), zap.Error(err))
	}
}

// UpdateJob applies update to a stored job and notifies subscribers.
func (m *JobManager) UpdateJob(id string, update func(*Job)) *Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil
	}
	update(job)
	m.broadcast(*job)
	copy := *job
	return &copy
}

// GetJob returns a copy of the job, or nil when unknown.
func (m *JobManager) GetJob(ctx context.Context, id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if job, ok := m.jobs[id]; ok {
		copy := *job
		return &copy, nil
	}
	return nil, nil
}

// ListJobs returns up to limit jobs, newest first.
func (m *JobManager) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := make([]Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, *job)
	}

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID > jobs[j].ID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	if limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// Subscribe returns a channel of job updates and a function that stops them.
func (m *JobManager) Subscribe() (chan Job, func()) {
	ch := make(chan Job, 16)
	m.mu.Lock()
	m.subscribers[ch] = struct{}{}
	m.mu.Unlock()
	return ch, func() {
		m.mu.Lock()
		if _, ok := m.subscribers[ch]; ok {
			delete(m.subscribers, ch)
			close(ch)
		}
		m.mu.Unlock()
	}
}

// broadcast must be called with m.mu held.
func (m *JobManager) broadcast(job Job) {
	for ch := range m.subscribers {
		select {
		case ch <- job:
		default:
			m.logger.Debug("dropped job update for slow subscriber", zap.String("job_id", job.ID))
		}
	}
}

// SetMaxJobs configures the maximum number of jobs to retain in memory
func (m *JobManager) SetMaxJobs(max int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if max > 0 {
		m.maxJobs = max
	}
}

// Close cancels running scans and waits for them to record their outcome.
func (m *JobManager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func generateID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

// cleanupLoop trims finished jobs beyond maxJobs until the manager closes.
func (m *JobManager) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.prune()
		}
	}
}

// prune drops the oldest finished jobs until at most maxJobs remain.
func (m *JobManager) prune() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.jobs) <= m.maxJobs {
		return
	}

	type jobWithTime struct {
		id   string
		time time.Time
	}
	var finished []jobWithTime
	for id, job := range m.jobs {
		if !job.IsFinished() {
			continue
		}
		at := job.CreatedAt
		if job.FinishedAt != nil {
			at = *job.FinishedAt
		}
		finished = append(finished, jobWithTime{id: id, time: at})
	}

	sort.Slice(finished, func(i, j int) bool {
		return finished[i].time.Before(finished[j].time)
	})

	toRemove := len(m.jobs) - m.maxJobs
	if toRemove > len(finished) {
		toRemove = len(finished)
	}
	for i := 0; i < toRemove; i++ {
		delete(m.jobs, finished[i].id)
	}
}
