package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/datallboy/gonzb/internal/domain"
)

// SaveQueueItem upserts the job-level row for job. It does not persist Files;
// those are re-derived by re-parsing the .nzb on resume.
func (s *PersistentStore) SaveQueueItem(ctx context.Context, job *domain.DownloadJob) error {
	dbo := dboFromJob(job)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queue_items (id, nzb_path, name, out_dir, password, auto_extract, status, error, bytes_written, total_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			bytes_written = excluded.bytes_written,
			total_bytes = excluded.total_bytes`,
		dbo.ID, dbo.NzbPath, dbo.Name, dbo.OutDir, dbo.Password, dbo.AutoExtract,
		dbo.Status, dbo.Error, dbo.BytesWritten, dbo.TotalBytes,
	)
	return err
}

const queueItemColumns = `id, nzb_path, name, out_dir, password, auto_extract, status, error, bytes_written, total_bytes, created_at`

func scanQueueItem(row interface{ Scan(...any) error }) (*domain.DownloadJob, error) {
	var qi queueItemDBO
	if err := row.Scan(
		&qi.ID, &qi.NzbPath, &qi.Name, &qi.OutDir, &qi.Password, &qi.AutoExtract,
		&qi.Status, &qi.Error, &qi.BytesWritten, &qi.TotalBytes, &qi.CreatedAt,
	); err != nil {
		return nil, err
	}
	return qi.toJob(), nil
}

// GetQueueItem fetches a single job by ID. Returns (nil, nil) if not found.
func (s *PersistentStore) GetQueueItem(ctx context.Context, id string) (*domain.DownloadJob, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+queueItemColumns+" FROM queue_items WHERE id = ?", id)
	job, err := scanQueueItem(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get queue item %s: %w", id, err)
	}
	return job, nil
}

// GetActiveQueueItems returns every job not in a terminal state, oldest first.
func (s *PersistentStore) GetActiveQueueItems(ctx context.Context) ([]*domain.DownloadJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+queueItemColumns+` FROM queue_items
		WHERE status NOT IN (?, ?, ?)
		ORDER BY created_at ASC`,
		string(domain.StatusCompleted), string(domain.StatusFailed), string(domain.StatusCancelled),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch active queue: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.DownloadJob
	for rows.Next() {
		job, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue row: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ResetStuckQueueItems flips any job left in oldStatuses (the queue manager
// passes every non-terminal, non-paused status) to newStatus, used on
// startup to recover from an unclean shutdown.
func (s *PersistentStore) ResetStuckQueueItems(ctx context.Context, newStatus domain.JobStatus, oldStatuses ...domain.JobStatus) error {
	if len(oldStatuses) == 0 {
		return nil
	}

	placeholders := make([]string, len(oldStatuses))
	args := make([]interface{}, len(oldStatuses)+1)
	args[0] = string(newStatus)
	for i, status := range oldStatuses {
		placeholders[i] = "?"
		args[i+1] = string(status)
	}

	query := fmt.Sprintf(
		"UPDATE queue_items SET status = ?, error = 'unexpected shutdown' WHERE status IN (%s)",
		strings.Join(placeholders, ","),
	)
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

// DeleteQueueItem removes a job row outright. The queue manager does not
// call it; terminal jobs keep their row with its final status.
func (s *PersistentStore) DeleteQueueItem(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM queue_items WHERE id = ?", id)
	return err
}

// RecordProviderStats upserts accumulated counters for one provider.
func (s *PersistentStore) RecordProviderStats(ctx context.Context, stats domain.ProviderStats) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_stats (provider_id, segments_fetched, fallbacks_triggered, last_used)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(provider_id) DO UPDATE SET
			segments_fetched = segments_fetched + excluded.segments_fetched,
			fallbacks_triggered = fallbacks_triggered + excluded.fallbacks_triggered,
			last_used = excluded.last_used`,
		stats.ProviderID, stats.SegmentsFetched, stats.FallbacksTriggered, stats.LastUsed,
	)
	return err
}
