package assembler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/datallboy/gonzb/internal/domain"
)

func TestWriteAtAndFinalize(t *testing.T) {
	dir := t.TempDir()
	partPath := filepath.Join(dir, "output.bin.part")
	finalPath := filepath.Join(dir, "output.bin")

	a := New()
	if err := a.PreAllocate(partPath, 10); err != nil {
		t.Fatalf("PreAllocate: %v", err)
	}

	if err := a.WriteAt(partPath, []byte("hello"), 0); err != nil {
		t.Fatalf("WriteAt first half: %v", err)
	}
	if err := a.WriteAt(partPath, []byte("world"), 5); err != nil {
		t.Fatalf("WriteAt second half: %v", err)
	}

	f := &domain.DownloadFile{Name: "output.bin", PartPath: partPath, FinalPath: finalPath, Size: 10}

	if err := a.Finalize([]*domain.DownloadFile{f}); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if !f.IsComplete {
		t.Fatal("expected IsComplete to be true after Finalize")
	}

	got, err := os.ReadFile(finalPath)
	if err != nil {
		t.Fatalf("reading final file: %v", err)
	}
	if string(got) != "helloworld" {
		t.Fatalf("final contents = %q, want %q", got, "helloworld")
	}

	if _, err := os.Stat(partPath); !os.IsNotExist(err) {
		t.Fatal("expected .part file to be renamed away")
	}
}
