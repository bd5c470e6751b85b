package extraction

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

var zipSignatures = [][]byte{
	{0x50, 0x4B, 0x03, 0x04}, // Standard ZIP
	{0x50, 0x4B, 0x05, 0x06}, // Empty ZIP
	{0x50, 0x4B, 0x07, 0x08}, // Spanned ZIP
}

// CLIUnzip extracts ZIP archives via the system unzip binary.
type CLIUnzip struct {
	BinaryPath string
}

func NewCLIUnzip() (*CLIUnzip, error) {
	path, err := exec.LookPath("unzip")
	if err != nil {
		return nil, fmt.Errorf("unzip binary not found in PATH: %w", err)
	}
	return &CLIUnzip{BinaryPath: path}, nil
}

func (u *CLIUnzip) Name() string { return "ZIP" }

func (u *CLIUnzip) CanExtract(filePath string) (bool, error) {
	lower := strings.ToLower(filepath.Base(filePath))
	if !strings.HasSuffix(lower, ".zip") {
		return false, nil
	}

	isZip, err := hasZipSignature(filePath)
	if err != nil {
		return false, fmt.Errorf("verifying zip signature: %w", err)
	}
	return isZip, nil
}

func (u *CLIUnzip) Extract(ctx context.Context, archivePath, destDir string) ([]string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating destination dir: %w", err)
	}

	cmd := exec.CommandContext(ctx, u.BinaryPath, "-o", "-q", archivePath, "-d", destDir)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("unzip extraction failed: %w\noutput: %s", err, output)
	}

	return listDir(destDir)
}

func hasZipSignature(filePath string) (bool, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return false, err
	}
	defer file.Close()

	header := make([]byte, 4)
	n, err := file.Read(header)
	if err != nil {
		return false, err
	}
	if n < 4 {
		return false, nil
	}

	for _, sig := range zipSignatures {
		if bytes.Equal(header, sig) {
			return true, nil
		}
	}
	return false, nil
}
