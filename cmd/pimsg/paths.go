package main

import (
	"fmt"
	"os"
	"path/filepath"

	"pimsg/pkg/protocol"
)

// Paths holds the resolved messenger state locations.
// Use ResolvePaths() to populate this struct with defaults + env overrides.
type Paths struct {
	BaseDir string // ~/.pi/agent/messenger or PI_MESSENGER_HOME
	Cwd     string // working directory (project scope)
}

// ResolvePaths returns the messenger paths, respecting env overrides.
// Environment variables:
//   - PI_MESSENGER_HOME: base directory for all shared state
//     (default: ~/.pi/agent/messenger)
func ResolvePaths() (*Paths, error) {
	base := os.Getenv(protocol.EnvHome)
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home dir: %w", err)
		}
		base = filepath.Join(home, filepath.FromSlash(protocol.BaseSubdir))
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working dir: %w", err)
	}

	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create messenger base dir: %w", err)
	}
	return &Paths{BaseDir: base, Cwd: cwd}, nil
}
