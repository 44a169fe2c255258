package mcp

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"qr-spider/pkg/config"
	"qr-spider/pkg/models"
)

// JobStatus represents the current state of a crawl job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsActive reports whether the job has not reached a terminal state
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// Job represents a background crawl job
type Job struct {
	ID             string             `json:"id"`
	SeedURL        string             `json:"seed_url"`
	Host           string             `json:"host"`
	Config         config.CrawlConfig `json:"-"`
	Status         JobStatus          `json:"status"`
	StartedAt      time.Time          `json:"started_at"`
	CompletedAt    time.Time          `json:"completed_at,omitempty"`
	PagesProcessed int                `json:"pages_processed"`
	QRCodesFound   int                `json:"qr_codes_found"`
	WechatQRCodes  int                `json:"wechat_qr_codes"`
	Findings       []models.QrFinding `json:"findings,omitempty"`
	ErrorMessage   string             `json:"error_message,omitempty"`

	// Internal fields
	ctx    context.Context
	cancel context.CancelFunc
}

// JobManager manages background crawl jobs. At most one job per host is
// active at a time.
type JobManager struct {
	jobs   map[string]*Job
	mu     sync.RWMutex
	byhost map[string]string // host -> jobID for active jobs
}

// NewJobManager creates a new job manager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:   make(map[string]*Job),
		byhost: make(map[string]string),
	}
}

// CreateJob creates a pending job for seedURL. If a job for the same host
// is still active it is returned instead and created is false.
func (m *JobManager) CreateJob(seedURL, host string, cfg config.CrawlConfig) (job *Job, created bool, err error) {
	if host == "" {
		return nil, false, errors.New("job host is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existingJobID, exists := m.byhost[host]; exists {
		if existing := m.jobs[existingJobID]; existing != nil && existing.Status.IsActive() {
			return existing.snapshot(), false, nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &Job{
		ID:        uuid.New().String(),
		SeedURL:   seedURL,
		Host:      host,
		Config:    cfg,
		Status:    JobStatusPending,
		StartedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	m.jobs[j.ID] = j
	m.byhost[host] = j.ID

	return j.snapshot(), true, nil
}

// snapshot copies the job so callers can read it without holding the lock.
// Must be called with m.mu held.
func (j *Job) snapshot() *Job {
	c := *j
	c.Findings = slices.Clone(j.Findings)
	return &c
}

// GetJob returns a copy of the job, or nil if unknown
func (m *JobManager) GetJob(jobID string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if job, exists := m.jobs[jobID]; exists {
		return job.snapshot()
	}
	return nil
}

// GetJobByHost returns a copy of the active job for host, or nil
func (m *JobManager) GetJobByHost(host string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if jobID, exists := m.byhost[host]; exists {
		if job := m.jobs[jobID]; job != nil {
			return job.snapshot()
		}
	}
	return nil
}

// IsRunning checks if a job is currently active for a host
func (m *JobManager) IsRunning(host string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if jobID, exists := m.byhost[host]; exists {
		job := m.jobs[jobID]
		return job != nil && job.Status.IsActive()
	}
	return false
}

// UpdateStatus moves an active job to status. Terminal jobs are left as
// they are, so a crawl that returns after cancel_job stays cancelled.
func (m *JobManager) UpdateStatus(jobID string, status JobStatus, errorMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, exists := m.jobs[jobID]
	if !exists || !job.Status.IsActive() {
		return
	}
	job.Status = status
	if !status.IsActive() {
		job.CompletedAt = time.Now()
		job.cancel()
		delete(m.byhost, job.Host)
	}
	if errorMsg != "" {
		job.ErrorMessage = errorMsg
	}
}

// RecordEvent folds one crawl event into the job's progress
func (m *JobManager) RecordEvent(jobID string, ev models.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, exists := m.jobs[jobID]
	if !exists {
		return
	}
	if ev.ProcessedCount > job.PagesProcessed {
		job.PagesProcessed = ev.ProcessedCount
	}
	switch ev.Type {
	case models.EventQRFound:
		if ev.Finding != nil {
			job.Findings = append(job.Findings, *ev.Finding)
			if ev.Finding.IsWechatVariant {
				job.WechatQRCodes++
			}
		}
		job.QRCodesFound = len(job.Findings)
	case models.EventSummary:
		job.PagesProcessed = ev.TotalPages
		job.QRCodesFound = ev.TotalQRCodes
		job.WechatQRCodes = ev.VariantCount
	}
}

// CancelJob cancels an active job
func (m *JobManager) CancelJob(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, exists := m.jobs[jobID]; exists && job.Status.IsActive() {
		job.cancel()
		job.Status = JobStatusCancelled
		job.CompletedAt = time.Now()
		delete(m.byhost, job.Host)
		return true
	}
	return false
}

// CancelAll cancels all active jobs
func (m *JobManager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.jobs {
		if job.Status.IsActive() {
			job.cancel()
			job.Status = JobStatusCancelled
			job.CompletedAt = time.Now()
		}
	}
	m.byhost = make(map[string]string)
}

// ListJobs returns copies of all jobs, oldest first
func (m *JobManager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job.snapshot())
	}
	slices.SortFunc(jobs, func(a, b *Job) int { return a.StartedAt.Compare(b.StartedAt) })
	return jobs
}

// GetContext returns the context for a job (for running the crawler)
func (m *JobManager) GetContext(jobID string) context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if job, exists := m.jobs[jobID]; exists {
		return job.ctx
	}
	return context.Background()
}
