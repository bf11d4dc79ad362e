package config

import (
	"os"
	"path/filepath"
)

// Environment variable names recognized by the resolver.
const (
	// EnvConfigRoot overrides the directory holding the INI layers.
	EnvConfigRoot = "BEARS_CONFIG_ROOT"
	// EnvCustomized holds a comma-separated k=v override list applied by the
	// legacy single-file layout. A reserved zone_env=<section> entry copies
	// that whole section into [default] before the literal overrides land.
	EnvCustomized = "customized_config"
	// EnvCIBranch marks a CI checkout, which uses a fixed workspace path.
	EnvCIBranch = "CI_HEAD_BRANCH"
)

// ciWorkspace is where CI jobs check the repository out.
const ciWorkspace = "/home/code"

// Well-known file names inside the config root.
const (
	baseFileName    = "env.ini"
	defaultFileName = "config_default.ini"
	commonFileName  = "common.ini"
)

// DefaultRoot returns the directory the resolver reads INI layers from:
// BEARS_CONFIG_ROOT when set, the fixed CI workspace when running under CI,
// otherwise config/env relative to the working directory.
func DefaultRoot() string {
	if root := os.Getenv(EnvConfigRoot); root != "" {
		return root
	}

	if os.Getenv(EnvCIBranch) != "" {
		return filepath.Join(ciWorkspace, "config", "env")
	}

	return filepath.Join("config", "env")
}
