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

var rarSignatures = [][]byte{
	{0x52, 0x61, 0x72, 0x21, 0x1A, 0x07, 0x00},       // RAR 1.5+
	{0x52, 0x61, 0x72, 0x21, 0x1A, 0x07, 0x01, 0x00}, // RAR 5.0+
}

// CLIUnrar extracts RAR and multi-part .partNN.rar archives via the system
// unrar binary.
type CLIUnrar struct {
	BinaryPath string
}

func NewCLIUnrar() (*CLIUnrar, error) {
	path, err := exec.LookPath("unrar")
	if err != nil {
		return nil, fmt.Errorf("unrar binary not found in PATH: %w", err)
	}
	return &CLIUnrar{BinaryPath: path}, nil
}

func (u *CLIUnrar) Name() string { return "RAR" }

// CanExtract recognizes .rar files, and the ".001" first volume of a split
// RAR set, by extension and signature. For .partNN.rar sets it only claims
// the first volume (part01/part001/part1) so the caller doesn't try to
// extract each volume independently.
func (u *CLIUnrar) CanExtract(filePath string) (bool, error) {
	lower := strings.ToLower(filepath.Base(filePath))

	if !strings.HasSuffix(lower, ".rar") && !strings.HasSuffix(lower, ".001") {
		return false, nil
	}

	if strings.Contains(lower, ".part") {
		if !(strings.Contains(lower, ".part01.rar") ||
			strings.Contains(lower, ".part001.rar") ||
			strings.Contains(lower, ".part1.rar")) {
			return false, nil
		}
	}

	isRar, err := hasRarSignature(filePath)
	if err != nil {
		return false, fmt.Errorf("verifying rar signature: %w", err)
	}
	return isRar, nil
}

func (u *CLIUnrar) Extract(ctx context.Context, archivePath, destDir string) ([]string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating destination dir: %w", err)
	}

	// x = extract with full paths, -o+ = overwrite, -y = non-interactive,
	// -kb = keep broken files so a partial extract is still inspectable.
	args := []string{"x", "-o+", "-y", "-kb", archivePath, destDir + string(filepath.Separator)}
	cmd := exec.CommandContext(ctx, u.BinaryPath, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("unrar extraction failed: %w\noutput: %s", err, output)
	}

	return listDir(destDir)
}

func hasRarSignature(filePath string) (bool, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return false, err
	}
	defer file.Close()

	header := make([]byte, 8)
	n, err := file.Read(header)
	if err != nil {
		return false, err
	}
	if n < 7 {
		return false, nil
	}

	for _, sig := range rarSignatures {
		if bytes.Equal(header[:len(sig)], sig) {
			return true, nil
		}
	}
	return false, nil
}
