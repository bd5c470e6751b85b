// Package queue sequences DownloadJobs one at a time: it persists every job
// to the store, resumes stuck jobs after an unclean shutdown, and drives
// each job through the orchestrator in submission order.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/segmentio/ksuid"

	"github.com/datallboy/gonzb/internal/domain"
	"github.com/datallboy/gonzb/internal/nzb"
)

// Store is the persistence contract the queue needs; internal/store's
// PersistentStore satisfies it.
type Store interface {
	SaveQueueItem(ctx context.Context, job *domain.DownloadJob) error
	GetQueueItem(ctx context.Context, id string) (*domain.DownloadJob, error)
	GetActiveQueueItems(ctx context.Context) ([]*domain.DownloadJob, error)
	ResetStuckQueueItems(ctx context.Context, newStatus domain.JobStatus, oldStatuses ...domain.JobStatus) error
	DeleteQueueItem(ctx context.Context, id string) error
}

// Runner drives a single job to completion; internal/orchestrator.Orchestrator
// satisfies it.
type Runner interface {
	Run(ctx context.Context, job *domain.DownloadJob) error
}

// Logger is the minimal call shape the queue needs from internal/logger.
type Logger interface {
	Debug(format string, v ...interface{})
	Info(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Error(format string, v ...interface{})
}

// Manager holds the in-RAM job queue and drives it one job at a time; every
// mutation is also persisted through Store so a restart can resume.
type Manager struct {
	mu         sync.RWMutex
	queue      []*domain.DownloadJob
	activeItem *domain.DownloadJob

	store    Store
	runner   Runner
	parser   *nzb.Parser
	logger   Logger
	stopFunc context.CancelFunc

	newJobChan chan struct{}
}

// New builds a Manager. If loadExisting is true, pending/stuck jobs are
// hydrated from store immediately (used by the long-running "serve" mode;
// a one-shot CLI download skips this).
func New(store Store, runner Runner, logger Logger, loadExisting bool) *Manager {
	m := &Manager{
		store:      store,
		runner:     runner,
		parser:     nzb.NewParser(),
		logger:     logger,
		newJobChan: make(chan struct{}, 1),
	}

	if loadExisting {
		m.initFromStore()
	}

	return m
}

func (m *Manager) initFromStore() {
	ctx := context.Background()

	if err := m.store.ResetStuckQueueItems(ctx, domain.StatusQueued, domain.StatusQueued, domain.StatusDownloading, domain.StatusAssembling, domain.StatusRepairing, domain.StatusExtracting); err != nil {
		m.logger.Error("failed to reset stuck queue items: %v", err)
	}

	jobs, err := m.store.GetActiveQueueItems(ctx)
	if err != nil {
		m.logger.Error("failed to load queue from store: %v", err)
		return
	}

	m.mu.Lock()
	m.queue = jobs
	m.mu.Unlock()

	m.logger.Info("queue initialized with %d jobs", len(jobs))
}

// Add parses nzbPath, creates a new DownloadJob, persists it, and wakes the
// Start loop.
func (m *Manager) Add(ctx context.Context, nzbPath, name, outDir, password string, autoExtract bool) (*domain.DownloadJob, error) {
	n, err := m.parser.ParseFile(nzbPath)
	if err != nil {
		return nil, err
	}

	id := ksuid.New().String()
	job := domain.NewDownloadJob(id, nzbPath, name, outDir, autoExtract)
	job.Password = password

	files, err := nzb.NewPreparer(outDir, password).Prepare(n)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare job %s: %w", id, err)
	}
	job.Files = files
	job.TotalBytes = uint64(job.TotalSize())

	if err := m.store.SaveQueueItem(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job to store: %w", err)
	}

	m.mu.Lock()
	m.queue = append(m.queue, job)
	m.mu.Unlock()

	select {
	case m.newJobChan <- struct{}{}:
	default:
	}

	return job, nil
}

// Start runs the dispatch loop until ctx is cancelled. Only one job runs at
// a time; the orchestrator fans work out within that job.
func (m *Manager) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.stopFunc = cancel
	m.mu.Unlock()

	for {
		next := m.nextPending()
		if next == nil {
			select {
			case <-m.newJobChan:
				continue
			case <-loopCtx.Done():
				return
			}
		}

		if loopCtx.Err() != nil {
			return
		}

		jobCtx, jobCancel := context.WithCancel(loopCtx)
		next.CancelFunc = jobCancel

		m.mu.Lock()
		m.activeItem = next
		m.mu.Unlock()

		if len(next.Files) == 0 {
			if n, err := m.parser.ParseFile(next.NzbPath); err == nil {
				if files, err := nzb.NewPreparer(next.OutDir, next.Password).Prepare(n); err == nil {
					next.Files = files
				}
			}
		}

		err := m.runner.Run(jobCtx, next)
		jobCancel()

		m.finalize(jobCtx, next, err)

		m.mu.Lock()
		m.activeItem = nil
		m.mu.Unlock()
	}
}

func (m *Manager) nextPending() *domain.DownloadJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, job := range m.queue {
		if !job.Status().IsTerminal() && job.Status() != domain.StatusPaused {
			return job
		}
	}
	return nil
}

func (m *Manager) finalize(ctx context.Context, job *domain.DownloadJob, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Warn("job %s finished with error: %v", job.ID, err)
	}

	if err := m.store.SaveQueueItem(ctx, job); err != nil {
		m.logger.Error("failed to persist final job state for %s: %v", job.ID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, j := range m.queue {
		if j.ID == job.ID && j.Status().IsTerminal() {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			break
		}
	}
}

// GetItem returns a job by ID from the live queue, falling back to store.
func (m *Manager) GetItem(ctx context.Context, id string) (*domain.DownloadJob, bool) {
	m.mu.RLock()
	for _, job := range m.queue {
		if job.ID == id {
			m.mu.RUnlock()
			return job, true
		}
	}
	m.mu.RUnlock()

	job, err := m.store.GetQueueItem(ctx, id)
	if err != nil || job == nil {
		return nil, false
	}
	return job, true
}

// List returns a snapshot of the live queue.
func (m *Manager) List() []*domain.DownloadJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]*domain.DownloadJob, len(m.queue))
	copy(items, m.queue)
	return items
}

// ActiveItem returns the job currently being driven by the dispatch loop, if
// any.
func (m *Manager) ActiveItem() *domain.DownloadJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeItem
}

// Cancel cancels a running or queued job by ID. Returns false if the job is
// unknown or already terminal.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.queue {
		if job.ID != id {
			continue
		}
		if job.Status().IsTerminal() {
			return false
		}
		if job.CancelFunc != nil {
			job.CancelFunc()
		}
		return true
	}
	return false
}

// Stop halts the dispatch loop and cancels whatever job is currently active.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopFunc != nil {
		m.stopFunc()
	}
	if m.activeItem != nil && m.activeItem.CancelFunc != nil {
		m.activeItem.CancelFunc()
	}
}
