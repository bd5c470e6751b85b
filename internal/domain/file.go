package domain

import (
	"path/filepath"
	"strings"
	"sync/atomic"
)

// DownloadFile represents one file within an NZB, written to its ".part"
// file while it is assembled and renamed to its sanitized final path once
// assembly finishes.
type DownloadFile struct {
	Name     string // sanitized on-disk filename
	Subject  string
	Index    int // original order within the NZB
	Size     int64
	IsPar2   bool
	Groups   []string
	Poster   string
	Password string

	PartPath   string
	FinalPath  string
	IsComplete bool

	Segments []Segment

	actualSize atomic.Int64
}

// NewDownloadFile builds a live download task. If size is <= 0 it is
// computed from the segment list.
func NewDownloadFile(name string, size int64, index int, segments []Segment, outDir, password string) *DownloadFile {
	if size <= 0 {
		for _, s := range segments {
			size += s.Bytes
		}
	}

	f := &DownloadFile{
		Name:     name,
		Size:     size,
		Index:    index,
		Segments: segments,
		Password: password,
		IsPar2:   strings.HasSuffix(strings.ToLower(name), ".par2"),
	}
	f.Prepare(outDir)
	return f
}

// Prepare (re)computes PartPath/FinalPath for a given output directory. It is
// split out from the constructor so a resumed job can re-home a file without
// rebuilding the whole task.
func (f *DownloadFile) Prepare(outDir string) {
	final := filepath.Join(outDir, f.Name)
	f.PartPath = final + ".part"
	f.FinalPath = final
}

func (f *DownloadFile) SetActualSize(size int64) { f.actualSize.Store(size) }
func (f *DownloadFile) GetActualSize() int64     { return f.actualSize.Load() }

// TotalSegmentBytes sums the declared size of every segment backing this
// file, independent of the (possibly more accurate) yEnc-reported size.
func (f *DownloadFile) TotalSegmentBytes() int64 {
	var total int64
	for _, s := range f.Segments {
		total += s.Bytes
	}
	return total
}
