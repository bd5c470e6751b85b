// Package nzb parses .nzb XML documents and prepares the parsed files for
// download: sanitizing subject lines into on-disk names, detecting files
// already completed from a prior run, and converting the wire segment list
// into the runtime domain.Segment/domain.DownloadFile types.
package nzb

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"

	"github.com/datallboy/gonzb/internal/domain"
)

// Parser decodes .nzb documents into domain.NZB.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// ParseFile opens path and decodes it as an .nzb document.
func (p *Parser) ParseFile(path string) (*domain.NZB, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening nzb: %v", domain.ErrInvalidNzb, err)
	}
	defer f.Close()

	return p.Parse(f)
}

// Parse decodes r as an .nzb document.
func (p *Parser) Parse(r io.Reader) (*domain.NZB, error) {
	var n domain.NZB
	if err := xml.NewDecoder(r).Decode(&n); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidNzb, err)
	}
	if len(n.Files) == 0 {
		return nil, fmt.Errorf("%w: no files present", domain.ErrInvalidNzb)
	}
	return &n, nil
}
