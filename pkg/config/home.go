package config

import (
	"os"
	"path/filepath"
	"sync"
)

const envHome = "GOOFY_HOME"

var (
	homeOnce sync.Once
	homeDir  string
)

// GetHome returns the harness home directory.
//
// Resolution order:
//  1. $GOOFY_HOME environment variable
//  2. Parent of the binary's directory (if binary is in <home>/bin/)
//  3. Current working directory (development fallback)
func GetHome() string {
	homeOnce.Do(func() {
		homeDir = resolveHome()
	})
	return homeDir
}

// GetStateDir returns <home>/state.
func GetStateDir() string {
	return filepath.Join(GetHome(), "state")
}

// GetTestListDir returns <home>/test_lists.
func GetTestListDir() string {
	return filepath.Join(GetHome(), "test_lists")
}

func resolveHome() string {
	if env := os.Getenv(envHome); env != "" {
		return env
	}

	// Binary-relative: if binary is at <home>/bin/goofy, use <home>
	if execPath, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(execPath); err == nil {
			execPath = resolved
		}
		binDir := filepath.Dir(execPath)
		if filepath.Base(binDir) == "bin" {
			return filepath.Dir(binDir)
		}
	}

	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}

	return "."
}

// ResetHome resets the cached home directory (for testing).
func ResetHome() {
	homeOnce = sync.Once{}
	homeDir = ""
}
