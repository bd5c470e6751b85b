// Package segment drives the per-segment download loop: fetch via the
// fallback manager, decode yEnc, verify CRC, write to a scratch file, and
// retry with exponential backoff on transient failure. A segment is pinned
// to one provider at a time; once that provider's own retry budget is
// exhausted the fallback manager hands back the next provider in line.
package segment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/datallboy/gonzb/internal/domain"
	"github.com/datallboy/gonzb/internal/fallback"
	"github.com/datallboy/gonzb/internal/pool"
	"github.com/datallboy/gonzb/internal/yenc"
)

// Writer is the narrow interface segment.Downloader needs from the
// assembler: persist one segment's decoded bytes to its scratch file.
type Writer interface {
	WriteScratchSegment(scratchDir, fileName string, segNum int, data []byte) (string, error)
}

// Hooks lets callers observe retry/fallback/CRC activity without the
// downloader importing the events package directly.
type Hooks struct {
	OnRetry       func(job domain.SegmentJob, attempt uint, err error)
	OnCRCMismatch func(job domain.SegmentJob, err error)
}

// Downloader processes one SegmentJob at a time, walking the fallback
// manager's provider order and using retry-go to apply per-provider backoff.
type Downloader struct {
	manager *fallback.Manager
	writer  Writer
	hooks   Hooks
}

func NewDownloader(manager *fallback.Manager, writer Writer, hooks Hooks) *Downloader {
	return &Downloader{
		manager: manager,
		writer:  writer,
		hooks:   hooks,
	}
}

// backoffDelay implements spec.md's documented retryBackoffMs * 2^(attempt-1)
// formula, scoped to a single provider's own configured backoff base.
func backoffDelay(p *pool.Pool) retry.DelayTypeFunc {
	base := p.RetryBackoffMs()
	return func(attempt uint, err error, _ *retry.Config) time.Duration {
		if errors.Is(err, domain.ErrProviderBusy) {
			// Providers being momentarily saturated deserves a quick recheck,
			// not the full exponential backoff reserved for real failures.
			return 100 * time.Millisecond
		}
		n := attempt
		if n < 1 {
			n = 1
		}
		ms := float64(base) * math.Pow(2, float64(n-1))
		return time.Duration(ms) * time.Millisecond
	}
}

// Process downloads, decodes, verifies, and scratch-writes a single segment.
// It pins the segment to a provider (resuming a prior pin if one exists),
// retries transient errors against that provider up to its own
// RetryAttempts, and advances to the next provider in the fallback manager's
// order once that budget is exhausted. Returns domain.ErrAllProvidersExhausted
// once every provider in the order has been tried.
func (d *Downloader) Process(ctx context.Context, job domain.SegmentJob) (int64, error) {
	seg := job.Segment
	fb := seg.EnsureFallback()

	providerID := fb.Current()
	if providerID == "" {
		providers := d.manager.Providers()
		if len(providers) == 0 {
			return 0, domain.ErrAllProvidersExhausted
		}
		providerID = providers[0].ProviderID()
		fb.SetCurrent(providerID)
	}

	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		p, ok := d.manager.PoolByID(providerID)
		if !ok {
			return 0, domain.ErrAllProvidersExhausted
		}

		written, offset, err := d.processProvider(ctx, job, p, fb)
		if err == nil {
			seg.Offset = offset
			d.manager.RecordSuccess(providerID)
			return written, nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return 0, err
		}

		next, ok := d.manager.NextProvider(providerID)
		if !ok {
			return 0, domain.ErrAllProvidersExhausted
		}
		providerID = next.ProviderID()
		fb.SetCurrent(providerID)
	}
}

// processProvider retries a single provider up to its own RetryAttempts,
// recording each failed attempt against the segment's fallback record.
func (d *Downloader) processProvider(ctx context.Context, job domain.SegmentJob, p *pool.Pool, fb *domain.FallbackRecord) (int64, int64, error) {
	var written, offset int64
	attempt := uint(0)

	err := retry.Do(
		func() error {
			attempt++
			job.RetryCount = int(attempt) - 1
			n, off, err := d.attempt(ctx, job, p)
			if err != nil {
				fb.RecordFailure(p.ProviderID())
				return err
			}
			written, offset = n, off
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(p.RetryAttempts())),
		retry.DelayType(backoffDelay(p)),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, domain.ErrArticleNotFound) && !errors.Is(err, context.Canceled)
		}),
		retry.OnRetry(func(n uint, err error) {
			if d.hooks.OnRetry != nil {
				d.hooks.OnRetry(job, n, err)
			}
		}),
		retry.LastErrorOnly(true),
	)

	return written, offset, err
}

func (d *Downloader) attempt(ctx context.Context, job domain.SegmentJob, p *pool.Pool) (int64, int64, error) {
	seg := job.Segment
	reader, err := d.manager.FetchFrom(ctx, p, seg, job.Groups)
	if err != nil {
		return 0, 0, err
	}
	defer reader.Close()

	decoder := yenc.NewStreamDecoder(reader)
	if err := decoder.DiscardHeader(); err != nil {
		return 0, 0, err
	}

	if decoder.Header.FileSize > 0 {
		job.File.SetActualSize(decoder.Header.FileSize)
	}

	writeOffset := decoder.Header.PartOffset
	if writeOffset == 0 && job.Offset != 0 {
		writeOffset = job.Offset
	}

	data := make([]byte, seg.Bytes)
	n, err := io.ReadFull(decoder, data)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return 0, 0, fmt.Errorf("%w: %v", domain.ErrInvalidYenc, err)
	}

	if n == 0 {
		return 0, 0, fmt.Errorf("%w: zero-length segment body", domain.ErrEmptyBody)
	}

	// A CRC mismatch is a non-fatal observability signal (spec: CrcMismatch
	// is a notice, not a failure) — the segment still completes.
	if err := decoder.Verify(); err != nil && d.hooks.OnCRCMismatch != nil {
		d.hooks.OnCRCMismatch(job, err)
	}

	if _, err := d.writer.WriteScratchSegment(job.ScratchDir, job.File.Name, seg.Number, data[:n]); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", domain.ErrAssemblyIOError, err)
	}

	return int64(n), writeOffset, nil
}
