package nzb

import (
	"html"
	"os"
	"regexp"
	"strings"

	"github.com/datallboy/gonzb/internal/domain"
)

var (
	reYencSuffix = regexp.MustCompile(`(?i)\s+yenc.*$`)
	reLeadCounter = regexp.MustCompile(`^\[\d+/\d+\]\s+`)
	reBadChars    = regexp.MustCompile(`[\\/:*?"<>|]`)
)

// Preparer converts a parsed domain.NZB into runtime download files: it
// sanitizes each file's subject line into an on-disk name, marks files that
// already exist at the target path as complete, and builds the
// domain.Segment list each file downloads from.
type Preparer struct {
	outDir   string
	password string
}

func NewPreparer(outDir, password string) *Preparer {
	return &Preparer{outDir: outDir, password: password}
}

// Prepare returns one domain.DownloadFile per NZB file entry, in original
// order. A file already present at its final path is marked IsComplete and
// still included, so job-level progress accounting covers it.
func (p *Preparer) Prepare(n *domain.NZB) ([]*domain.DownloadFile, error) {
	files := make([]*domain.DownloadFile, 0, len(n.Files))

	for i, raw := range n.Files {
		name := sanitizeFileName(raw.Subject)
		if name == "" {
			name = raw.Subject
		}

		segments := make([]domain.Segment, 0, len(raw.Segments))
		for _, s := range raw.Segments {
			segments = append(segments, domain.Segment{
				Number:    s.Number,
				Bytes:     s.Bytes,
				MessageID: s.MessageID,
			})
		}

		file := domain.NewDownloadFile(name, 0, i, segments, p.outDir, p.password)
		file.Subject = raw.Subject
		file.Poster = raw.Poster
		file.Groups = raw.Groups

		if _, err := os.Stat(file.FinalPath); err == nil {
			file.IsComplete = true
		}

		files = append(files, file)
	}

	return files, nil
}

// sanitizeFileName extracts a clean filename from a Usenet subject line. It
// first tries the quoted-filename convention ("...name.ext" yEnc (1/14)) and
// falls back to stripping the yEnc/part-counter metadata directly.
func sanitizeFileName(subject string) string {
	res := html.UnescapeString(subject)

	firstQuote := strings.Index(res, "\"")
	lastQuote := strings.LastIndex(res, "\"")
	if firstQuote != -1 && lastQuote != -1 && firstQuote < lastQuote {
		res = res[firstQuote+1 : lastQuote]
	} else {
		res = reYencSuffix.ReplaceAllString(res, "")
		res = reLeadCounter.ReplaceAllString(res, "")
	}

	res = reBadChars.ReplaceAllString(res, "_")
	return strings.TrimSpace(res)
}
