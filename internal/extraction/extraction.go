// Package extraction is a contract-only archive-extraction layer: an
// Extractor interface plus thin CLI adapters for the common Usenet archive
// formats, left exactly as narrow as spec.md's "a contract only" framing.
package extraction

import "context"

// Extractor extracts one archive format to a destination directory.
type Extractor interface {
	// Extract extracts the archive at archivePath into destDir, returning
	// the paths of the files it produced.
	Extract(ctx context.Context, archivePath, destDir string) ([]string, error)

	// CanExtract reports whether this extractor recognizes filePath as one
	// of its own archives (by extension and, where practical, magic bytes).
	CanExtract(filePath string) (bool, error)

	// Name is the human-readable extractor name (e.g. "RAR", "7-Zip").
	Name() string
}

// Manager holds every Extractor whose CLI tool was found on PATH at
// startup, and picks the right one for a given file.
type Manager struct {
	extractors []Extractor
}

// NewManager probes for unrar, unzip, and 7z/7za, registering whichever are
// available. A manager with zero extractors is valid — the orchestrator
// simply never finds an archive it can extract.
func NewManager() *Manager {
	m := &Manager{}

	if e, err := NewCLIUnrar(); err == nil {
		m.extractors = append(m.extractors, e)
	}
	if e, err := NewCLIUnzip(); err == nil {
		m.extractors = append(m.extractors, e)
	}
	if e, err := NewCLI7z(); err == nil {
		m.extractors = append(m.extractors, e)
	}

	return m
}

func (m *Manager) Available() []string {
	names := make([]string, len(m.extractors))
	for i, e := range m.extractors {
		names[i] = e.Name()
	}
	return names
}

func (m *Manager) HasExtractors() bool { return len(m.extractors) > 0 }

// Find returns the first registered extractor that claims filePath, if any.
func (m *Manager) Find(filePath string) (Extractor, bool, error) {
	for _, e := range m.extractors {
		ok, err := e.CanExtract(filePath)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return e, true, nil
		}
	}
	return nil, false, nil
}
