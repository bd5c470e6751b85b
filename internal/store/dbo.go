package store

import (
	"database/sql"
	"time"

	"github.com/datallboy/gonzb/internal/domain"
)

// queueItemDBO maps to the queue_items table. Files are never persisted —
// they're cheap to re-derive by re-parsing the .nzb on resume, so only the
// job-level bookkeeping needed to rebuild a domain.DownloadJob is stored.
type queueItemDBO struct {
	ID           string
	NzbPath      string
	Name         string
	OutDir       string
	Password     string
	AutoExtract  bool
	Status       string
	Error        sql.NullString
	BytesWritten int64
	TotalBytes   int64
	CreatedAt    time.Time
}

func dboFromJob(job *domain.DownloadJob) queueItemDBO {
	dbo := queueItemDBO{
		ID:           job.ID,
		NzbPath:      job.NzbPath,
		Name:         job.Name,
		OutDir:       job.OutDir,
		Password:     job.Password,
		AutoExtract:  job.AutoExtract(),
		Status:       string(job.Status()),
		BytesWritten: int64(job.BytesWritten.Load()),
		TotalBytes:   int64(job.TotalBytes),
	}
	if msg := job.ErrorMessage(); msg != "" {
		dbo.Error = sql.NullString{String: msg, Valid: true}
	}
	return dbo
}

func (q *queueItemDBO) toJob() *domain.DownloadJob {
	job := domain.NewDownloadJob(q.ID, q.NzbPath, q.Name, q.OutDir, q.AutoExtract)
	job.Password = q.Password
	job.SetStatus(domain.JobStatus(q.Status))
	if q.Error.Valid {
		job.SetError(q.Error.String)
	}
	job.BytesWritten.Store(uint64(q.BytesWritten))
	job.TotalBytes = uint64(q.TotalBytes)
	return job
}
