package main

import (
	"os"
	"path/filepath"
	"runtime"
)

const defaultLinuxDataRoot = "/var/lib/meshmond"

// defaultDataRoot mirrors the teacher's pkg/sdk/defaults.DataRoot,
// trimmed to the one thing this daemon needs: a writable directory for
// per-network keys and resolved config.
func defaultDataRoot() string {
	if runtime.GOOS == "darwin" {
		home, err := os.UserHomeDir()
		if err != nil {
			return defaultLinuxDataRoot
		}
		return filepath.Join(home, "Library", "Application Support", "meshmond")
	}
	return defaultLinuxDataRoot
}
