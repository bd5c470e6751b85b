// Package par2 defines the abstract contract for PAR2 verification/repair
// and a thin CLI adapter over the "par2" binary. Invocation logic beyond
// this contract (parsing par2's verbose output in detail, choosing between
// competing implementations) is out of scope.
package par2

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/datallboy/gonzb/internal/domain"
)

const (
	VerifyTimeout = 5 * time.Minute
	RepairTimeout = 10 * time.Minute
)

// Result is the outcome of a verify-then-maybe-repair pass over one release.
type Result struct {
	Success       bool
	NeedsRepair   bool
	Repaired      bool
	Skipped       bool // true if no par2 binary was available
	FilesDamaged  []string
	FilesMissing  []string
	Message       string
}

// Adapter is the contract the orchestrator drives: verify, and repair if
// verify says damage is present.
type Adapter interface {
	Verify(ctx context.Context, mainPar2Path string) (Result, error)
	Repair(ctx context.Context, mainPar2Path string) (Result, error)
}

// CLIAdapter shells out to a "par2"-compatible binary. If the binary is not
// on PATH, Verify/Repair both return a Result{Skipped: true, Success: true}
// rather than an error — a release with no .par2 files, or a host with no
// par2 tool installed, is not itself a failure.
type CLIAdapter struct {
	BinaryPath string
}

func NewCLIAdapter() *CLIAdapter {
	path, err := exec.LookPath("par2")
	if err != nil {
		return &CLIAdapter{BinaryPath: ""}
	}
	return &CLIAdapter{BinaryPath: path}
}

func (c *CLIAdapter) available() bool { return c.BinaryPath != "" }

// Verify runs "par2 v" against the main .par2 volume. Exit code 0 means
// everything checks out; exit code 1 means damage was found but is
// repairable; any other outcome (including a non-exit-code error) is
// reported as a failure.
func (c *CLIAdapter) Verify(ctx context.Context, mainPar2Path string) (Result, error) {
	if !c.available() {
		return Result{Success: true, Skipped: true, Message: "par2 binary not found, skipping verification"}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, VerifyTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.BinaryPath, "v", "-q", mainPar2Path)
	output, err := cmd.CombinedOutput()

	if err == nil {
		return Result{Success: true, Message: "verification passed"}, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		switch exitErr.ExitCode() {
		case 1:
			missing, damaged := parseVerifyOutput(string(output))
			return Result{
				Success:      false,
				NeedsRepair:  true,
				FilesMissing: missing,
				FilesDamaged: damaged,
				Message:      "damage detected, repair possible",
			}, nil
		default:
			return Result{Success: false, Message: fmt.Sprintf("par2 verify exited %d", exitErr.ExitCode())},
				fmt.Errorf("%w: par2 verify exited %d", domain.ErrPar2RepairFailed, exitErr.ExitCode())
		}
	}

	return Result{Success: false}, fmt.Errorf("%w: %v", domain.ErrPar2RepairFailed, err)
}

// Repair runs "par2 r" against the main .par2 volume, assuming Verify
// already reported NeedsRepair.
func (c *CLIAdapter) Repair(ctx context.Context, mainPar2Path string) (Result, error) {
	if !c.available() {
		return Result{Success: true, Skipped: true, Message: "par2 binary not found, skipping repair"}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, RepairTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.BinaryPath, "r", mainPar2Path)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return Result{Success: false, Message: string(output)},
			fmt.Errorf("%w: %v", domain.ErrPar2RepairFailed, err)
	}

	return Result{Success: true, Repaired: true, Message: "repair succeeded"}, nil
}

// FindMainVolume picks the smallest-indexed ".par2" file (not a ".volNNN+M")
// out of a release's files, which is the file par2 expects as its
// entry point.
func FindMainVolume(names []string) (string, bool) {
	var best string
	for _, n := range names {
		lower := strings.ToLower(n)
		if !strings.HasSuffix(lower, ".par2") {
			continue
		}
		if strings.Contains(lower, ".vol") {
			continue
		}
		if best == "" || len(n) < len(best) {
			best = n
		}
	}
	return best, best != ""
}

func parseVerifyOutput(output string) (missing, damaged []string) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.Contains(line, "Missing."):
			missing = append(missing, filepath.Base(strings.Fields(line)[0]))
		case strings.Contains(line, "damaged."):
			damaged = append(damaged, filepath.Base(strings.Fields(line)[0]))
		}
	}
	return missing, damaged
}
