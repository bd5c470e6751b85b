// Package platform probes the host for the external CLI tools the engine
// shells out to. None of them are hard requirements: par2 and the archive
// tools each degrade to a skipped/no-op result when absent, so this is a
// startup diagnostic, not a gate.
package platform

import "os/exec"

// OptionalBinaries lists the external tools repair and extraction shell out
// to. Archive tools are grouped since only one of a pair needs to be present.
var OptionalBinaries = map[string][]string{
	"par2 repair":    {"par2"},
	"zip extraction": {"unzip"},
	"rar extraction": {"unrar"},
	"7z extraction":  {"7z", "7za"},
}

// MissingDependency names a capability whose backing binaries were not
// found on PATH, and which alternates were checked.
type MissingDependency struct {
	Capability string
	Candidates []string
}

// CheckDependencies reports every capability in OptionalBinaries whose
// binaries are all absent from PATH, for logging at startup. An empty
// result means every tool the engine knows how to use is available.
func CheckDependencies() []MissingDependency {
	var missing []MissingDependency
	for capability, candidates := range OptionalBinaries {
		if anyOnPath(candidates) {
			continue
		}
		missing = append(missing, MissingDependency{Capability: capability, Candidates: candidates})
	}
	return missing
}

func anyOnPath(candidates []string) bool {
	for _, bin := range candidates {
		if _, err := exec.LookPath(bin); err == nil {
			return true
		}
	}
	return false
}
