package nzb

import (
	"strings"
	"testing"
)

const sampleNzb = `<?xml version="1.0" encoding="UTF-8"?>
<nzb xmlns="http://www.newzbin.com/DTD/2003/nzb">
  <file subject="[1/2] &quot;movie.mkv&quot; yEnc (1/5)" poster="poster@example.com">
    <groups><group>alt.binaries.test</group></groups>
    <segments>
      <segment number="1" bytes="500000">part1@example.com</segment>
      <segment number="2" bytes="500000">part2@example.com</segment>
    </segments>
  </file>
</nzb>`

func TestParse(t *testing.T) {
	n, err := NewParser().Parse(strings.NewReader(sampleNzb))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(n.Files) != 1 {
		t.Fatalf("want 1 file, got %d", len(n.Files))
	}
	if len(n.Files[0].Segments) != 2 {
		t.Fatalf("want 2 segments, got %d", len(n.Files[0].Segments))
	}
}

func TestParseEmptyRejected(t *testing.T) {
	_, err := NewParser().Parse(strings.NewReader(`<nzb></nzb>`))
	if err == nil {
		t.Fatal("want error for nzb with no files")
	}
}

func TestSanitizeFileNameQuoted(t *testing.T) {
	got := sanitizeFileName(`[1/2] "movie.mkv" yEnc (1/5)`)
	if got != "movie.mkv" {
		t.Fatalf("got %q, want movie.mkv", got)
	}
}

func TestSanitizeFileNameFallback(t *testing.T) {
	got := sanitizeFileName(`[01/14] movie.r01 yEnc (1/745)`)
	if got != "movie.r01" {
		t.Fatalf("got %q, want movie.r01", got)
	}
}

func TestSanitizeFileNameStripsBadChars(t *testing.T) {
	got := sanitizeFileName(`bad:name*file?.txt`)
	if strings.ContainsAny(got, `:*?`) {
		t.Fatalf("got %q, expected os-illegal chars stripped", got)
	}
}
