// Package orchestrator drives a single DownloadJob through its full state
// machine: dispatching segment downloads across a bounded worker pool,
// assembling finished files, running PAR2 verify/repair, and optionally
// extracting archives.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/datallboy/gonzb/internal/assembler"
	"github.com/datallboy/gonzb/internal/domain"
	"github.com/datallboy/gonzb/internal/events"
	"github.com/datallboy/gonzb/internal/extraction"
	"github.com/datallboy/gonzb/internal/par2"
	"github.com/datallboy/gonzb/internal/segment"
)

// Orchestrator wires every per-job collaborator together. One Orchestrator
// is shared across jobs; per-job state (files, offsets, cancellation) lives
// on the domain.DownloadJob passed to Run.
type Orchestrator struct {
	segments   *segment.Downloader
	assembler  *assembler.Assembler
	par2       par2.Adapter
	extraction *extraction.Manager
	bus        *events.Bus
	capacity   func() int
}

func New(segments *segment.Downloader, asm *assembler.Assembler, par2Adapter par2.Adapter, extractionMgr *extraction.Manager, bus *events.Bus, capacity func() int) *Orchestrator {
	return &Orchestrator{
		segments:   segments,
		assembler:  asm,
		par2:       par2Adapter,
		extraction: extractionMgr,
		bus:        bus,
		capacity:   capacity,
	}
}

// Run drives job from Queued to a terminal state. It returns the terminal
// error, if any; the job's Status reflects the same outcome.
func (o *Orchestrator) Run(ctx context.Context, job *domain.DownloadJob) error {
	defer o.assembler.CloseAll()

	scratchDir := filepath.Join(job.OutDir, ".segments")
	defer func() { _ = o.assembler.RemoveScratchDir(scratchDir) }()

	if err := os.MkdirAll(job.OutDir, 0o755); err != nil {
		return fmt.Errorf("%w: creating out dir: %v", domain.ErrAssemblyIOError, err)
	}

	if job.AllComplete() {
		o.finish(job, nil)
		return nil
	}

	job.StartedAt = time.Now()
	job.BytesWritten.Store(0)
	job.TotalBytes = uint64(job.TotalSize())
	job.SetStatus(domain.StatusDownloading)

	stopProgress := o.startProgressTicker(ctx, job)
	err := o.downloadAll(ctx, job, scratchDir)
	stopProgress()

	if err != nil {
		o.finish(job, err)
		return err
	}

	job.SetStatus(domain.StatusAssembling)
	for _, f := range job.Files {
		if err := o.assembler.AssembleFile(f, scratchDir); err != nil {
			o.finish(job, err)
			return err
		}
	}
	if err := o.assembler.Finalize(job.Files); err != nil {
		o.finish(job, err)
		return err
	}

	if err := o.repairIfNeeded(ctx, job); err != nil {
		o.finish(job, err)
		return err
	}

	if job.AutoExtract() {
		if err := o.extractIfNeeded(ctx, job); err != nil {
			o.finish(job, err)
			return err
		}
	}

	o.finish(job, nil)
	return nil
}

// downloadAll fans every pending segment out across a pool bounded by the
// configured capacity (the provider connection limit, or the
// segment_concurrency override), so no more segments are in flight than
// there are connections to serve them.
func (o *Orchestrator) downloadAll(ctx context.Context, job *domain.DownloadJob, scratchDir string) error {
	maxGoroutines := o.capacity()
	if maxGoroutines < 1 {
		maxGoroutines = 1
	}

	p := pool.New().WithContext(ctx).WithMaxGoroutines(maxGoroutines).WithFirstError()

	for _, file := range job.Files {
		if file.IsComplete {
			continue
		}

		var offset int64
		for idx := range file.Segments {
			segPtr := &file.Segments[idx]
			sj := domain.SegmentJob{
				Segment:    segPtr,
				File:       file,
				Groups:     file.Groups,
				Offset:     offset,
				ScratchDir: scratchDir,
			}
			offset += segPtr.Bytes

			p.Go(func(ctx context.Context) error {
				return o.runSegment(ctx, job, sj)
			})
		}
	}

	return p.Wait()
}

func (o *Orchestrator) runSegment(ctx context.Context, job *domain.DownloadJob, sj domain.SegmentJob) error {
	job.WaitIfPaused(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}

	n, err := o.segments.Process(ctx, sj)
	if n > 0 {
		job.BytesWritten.Add(uint64(n))
	}
	return err
}

func (o *Orchestrator) startProgressTicker(ctx context.Context, job *domain.DownloadJob) func() {
	ticker := time.NewTicker(time.Second)
	done := make(chan struct{})

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				o.bus.Publish(events.Event{
					Kind:         events.KindProgress,
					JobID:        job.ID,
					BytesWritten: job.BytesWritten.Load(),
					TotalBytes:   job.TotalBytes,
					Status:       job.Status(),
				})
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }
}

func (o *Orchestrator) repairIfNeeded(ctx context.Context, job *domain.DownloadJob) error {
	names := make([]string, 0, len(job.Files))
	for _, f := range job.Files {
		names = append(names, f.Name)
	}

	main, ok := par2.FindMainVolume(names)
	if !ok {
		return nil
	}

	job.SetStatus(domain.StatusRepairing)

	mainPath := ""
	for _, f := range job.Files {
		if f.Name == main {
			mainPath = f.FinalPath
		}
	}
	if mainPath == "" {
		return nil
	}

	result, err := o.par2.Verify(ctx, mainPath)
	if err != nil {
		return err
	}

	if !result.NeedsRepair {
		return nil
	}

	if _, err := o.par2.Repair(ctx, mainPath); err != nil {
		return err
	}

	return nil
}

func (o *Orchestrator) extractIfNeeded(ctx context.Context, job *domain.DownloadJob) error {
	for _, f := range job.Files {
		ext, ok, err := o.extraction.Find(f.FinalPath)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrExtractionFailed, err)
		}
		if !ok {
			continue
		}

		job.SetStatus(domain.StatusExtracting)

		destDir := strings.TrimSuffix(f.FinalPath, filepathExt(f.FinalPath))
		if _, err := ext.Extract(ctx, f.FinalPath, destDir); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrExtractionFailed, err)
		}
	}
	return nil
}

func filepathExt(name string) string {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return ""
	}
	return name[idx:]
}

func (o *Orchestrator) finish(job *domain.DownloadJob, err error) {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			job.SetStatus(domain.StatusCancelled)
			job.SetError("cancelled by user")
		} else {
			job.SetStatus(domain.StatusFailed)
			job.SetError(err.Error())
		}
		o.bus.Publish(events.Event{Kind: events.KindFailed, JobID: job.ID, Status: job.Status(), Err: err})
		return
	}

	job.SetStatus(domain.StatusCompleted)
	job.BytesWritten.Store(job.TotalBytes)
	o.bus.Publish(events.Event{
		Kind:         events.KindCompleted,
		JobID:        job.ID,
		BytesWritten: job.BytesWritten.Load(),
		TotalBytes:   job.TotalBytes,
		Status:       job.Status(),
	})
}
