package main

import (
	"os"
	"path/filepath"
	"runtime"
)

const defaultLinuxDataRoot = "/var/lib/meshmond"

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
