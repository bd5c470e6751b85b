package domain

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type JobStatus string

const (
	StatusQueued      JobStatus = "queued"
	StatusDownloading JobStatus = "downloading"
	StatusAssembling  JobStatus = "assembling"
	StatusRepairing   JobStatus = "repairing"
	StatusExtracting  JobStatus = "extracting"
	StatusCompleted   JobStatus = "completed"
	StatusPaused      JobStatus = "paused"
	StatusFailed      JobStatus = "failed"
	StatusCancelled   JobStatus = "cancelled"
)

// IsTerminal reports whether the status will never transition again.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// DownloadJob is a single NZB submission as it moves through the engine.
type DownloadJob struct {
	ID       string
	NzbPath  string
	Name     string
	Password string
	OutDir   string

	mu          sync.RWMutex
	status      JobStatus
	errorMsg    string
	autoExtract bool

	Files []*DownloadFile

	BytesWritten atomic.Uint64
	TotalBytes   uint64

	StartedAt  time.Time
	CancelFunc context.CancelFunc

	pauseCond *sync.Cond
	pauseMu   sync.Mutex
	paused    bool
}

func NewDownloadJob(id, nzbPath, name, outDir string, autoExtract bool) *DownloadJob {
	j := &DownloadJob{
		ID:          id,
		NzbPath:     nzbPath,
		Name:        name,
		OutDir:      outDir,
		status:      StatusQueued,
		autoExtract: autoExtract,
	}
	j.pauseCond = sync.NewCond(&j.pauseMu)
	return j
}

func (j *DownloadJob) Status() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

func (j *DownloadJob) SetStatus(s JobStatus) {
	j.mu.Lock()
	j.status = s
	j.mu.Unlock()
}

func (j *DownloadJob) ErrorMessage() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.errorMsg
}

func (j *DownloadJob) SetError(msg string) {
	j.mu.Lock()
	j.errorMsg = msg
	j.mu.Unlock()
}

func (j *DownloadJob) AutoExtract() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.autoExtract
}

// Pause blocks future WaitIfPaused callers until Resume is called. It does
// not interrupt in-flight reads; it only gates the next segment dispatch.
func (j *DownloadJob) Pause() {
	j.pauseMu.Lock()
	j.paused = true
	j.pauseMu.Unlock()
	j.SetStatus(StatusPaused)
}

func (j *DownloadJob) Resume() {
	j.pauseMu.Lock()
	j.paused = false
	j.pauseMu.Unlock()
	j.pauseCond.Broadcast()
	j.SetStatus(StatusDownloading)
}

// WaitIfPaused blocks the calling goroutine on the condition variable while
// the job is paused, waking immediately if ctx is cancelled.
func (j *DownloadJob) WaitIfPaused(ctx context.Context) {
	j.pauseMu.Lock()
	for j.paused {
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				j.pauseCond.Broadcast()
			case <-done:
			}
		}()
		j.pauseCond.Wait()
		close(done)
		if ctx.Err() != nil {
			break
		}
	}
	j.pauseMu.Unlock()
}

// TotalSize sums the declared size of every file in the job.
func (j *DownloadJob) TotalSize() int64 {
	var total int64
	for _, f := range j.Files {
		total += f.TotalSegmentBytes()
	}
	return total
}

// AllComplete reports whether every file in the job is already on disk.
func (j *DownloadJob) AllComplete() bool {
	if len(j.Files) == 0 {
		return false
	}
	for _, f := range j.Files {
		if !f.IsComplete {
			return false
		}
	}
	return true
}
