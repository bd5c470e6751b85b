// Package assembler turns per-segment scratch files into complete files. A
// segment.Downloader writes each segment's decoded body to its own scratch
// file under a job-scoped ".segments" directory while the job is still in
// the Downloading phase; the Assembler only reads those scratch files back
// and writes the real ".part" file once the job transitions to Assembling,
// then truncates to the yEnc-reported size and renames into place.
package assembler

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/datallboy/gonzb/internal/domain"
)

type fileHandle struct {
	mu   sync.Mutex
	file *os.File
}

// Assembler is the concurrency-safe WriteAt-based file writer every job
// uses during its Assembling phase.
type Assembler struct {
	mu      sync.RWMutex
	handles map[string]*fileHandle
}

func New() *Assembler {
	return &Assembler{handles: make(map[string]*fileHandle)}
}

// WriteAt writes data at offset into the ".part" file at path, opening it on
// first use.
func (a *Assembler) WriteAt(path string, data []byte, offset int64) error {
	h, err := a.getOrCreate(path)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.file.WriteAt(data, offset)
	return err
}

// PreAllocate truncates the ".part" file to size, creating a sparse file on
// platforms that support it, so out-of-order segment writes never need to
// grow the file mid-flight.
func (a *Assembler) PreAllocate(path string, size int64) error {
	h, err := a.getOrCreate(path)
	if err != nil {
		return err
	}
	return h.file.Truncate(size)
}

func (a *Assembler) getOrCreate(path string) (*fileHandle, error) {
	a.mu.RLock()
	h, ok := a.handles[path]
	a.mu.RUnlock()
	if ok {
		return h, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if h, ok = a.handles[path]; ok {
		return h, nil
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: opening part file: %v", domain.ErrAssemblyIOError, err)
	}

	h = &fileHandle{file: f}
	a.handles[path] = h
	return h, nil
}

// CloseFile truncates to finalSize (dropping any pre-allocated padding),
// syncs, and closes the handle. finalSize of 0 skips the truncate.
func (a *Assembler) CloseFile(path string, finalSize int64) error {
	a.mu.Lock()
	h, ok := a.handles[path]
	if ok {
		delete(a.handles, path)
	}
	a.mu.Unlock()

	if !ok {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if finalSize > 0 {
		if err := h.file.Truncate(finalSize); err != nil {
			return fmt.Errorf("%w: truncating to final size: %v", domain.ErrAssemblyIOError, err)
		}
	}

	_ = h.file.Sync()
	return h.file.Close()
}

// CloseAll closes every open handle, best-effort, used for cleanup on
// cancellation or job completion.
func (a *Assembler) CloseAll() {
	a.mu.RLock()
	paths := make([]string, 0, len(a.handles))
	for p := range a.handles {
		paths = append(paths, p)
	}
	a.mu.RUnlock()

	for _, p := range paths {
		_ = a.CloseFile(p, 0)
	}
}

// scratchPath returns the path a segment's scratch file lives at:
// <scratchDir>/<fileName>.<segNum>.tmp.
func scratchPath(scratchDir, fileName string, segNum int) string {
	return filepath.Join(scratchDir, fmt.Sprintf("%s.%d.tmp", fileName, segNum))
}

// WriteScratchSegment persists one segment's decoded body to its own scratch
// file, creating scratchDir on first use. It satisfies segment.Writer.
func (a *Assembler) WriteScratchSegment(scratchDir, fileName string, segNum int, data []byte) (string, error) {
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: creating scratch dir: %v", domain.ErrAssemblyIOError, err)
	}
	path := scratchPath(scratchDir, fileName, segNum)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("%w: writing scratch segment: %v", domain.ErrAssemblyIOError, err)
	}
	return path, nil
}

// AssembleFile pre-allocates f's ".part" file and copies every segment's
// scratch file into it at the segment's resolved Offset, in ascending
// segment-number order, deleting each scratch file once consumed. Segments
// are processed in order specifically so that two segments claiming
// overlapping offsets resolve deterministically: the later-numbered segment's
// write is the one that lands last. A missing scratch file is skipped and no
// zero-fill is written for it; the orchestrator only calls AssembleFile after
// every segment in f has succeeded.
func (a *Assembler) AssembleFile(f *domain.DownloadFile, scratchDir string) error {
	if f.IsComplete {
		return nil
	}

	finalSize := f.GetActualSize()
	if finalSize == 0 {
		finalSize = f.Size
	}
	if err := a.PreAllocate(f.PartPath, finalSize); err != nil {
		return err
	}

	segments := make([]domain.Segment, len(f.Segments))
	copy(segments, f.Segments)
	sort.Slice(segments, func(i, j int) bool { return segments[i].Number < segments[j].Number })

	for _, seg := range segments {
		path := scratchPath(scratchDir, f.Name, seg.Number)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("%w: reading scratch segment: %v", domain.ErrAssemblyIOError, err)
		}

		if err := a.WriteAt(f.PartPath, data, seg.Offset); err != nil {
			return err
		}
		_ = os.Remove(path)
	}

	return nil
}

// RemoveScratchDir deletes a job's entire scratch directory. The orchestrator
// calls this unconditionally on every exit path so cancellation, failure, and
// success all leave no scratch files behind.
func (a *Assembler) RemoveScratchDir(scratchDir string) error {
	return os.RemoveAll(scratchDir)
}

// Finalize closes every non-complete file's handle (truncating to its
// reported actual size when known) and renames its ".part" scratch file to
// its final path.
func (a *Assembler) Finalize(files []*domain.DownloadFile) error {
	for _, f := range files {
		if f.IsComplete {
			continue
		}

		finalSize := f.GetActualSize()
		if finalSize == 0 {
			finalSize = f.Size
		}

		if err := a.CloseFile(f.PartPath, finalSize); err != nil {
			return err
		}

		if err := os.Rename(f.PartPath, f.FinalPath); err != nil {
			return fmt.Errorf("%w: renaming %s: %v", domain.ErrAssemblyIOError, f.Name, err)
		}
		f.IsComplete = true
	}
	return nil
}
