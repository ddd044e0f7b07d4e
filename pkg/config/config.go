// Package config loads messenger settings with precedence
// defaults ← user ← project. The user file is TOML under the messenger base
// directory; the project file is JSON (with a YAML fallback) under
// <cwd>/.pi/messenger. Absent files are fine; malformed files fail loudly so
// a typo never silently reverts to defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"pimsg/pkg/protocol"
)

// Caps bounds the output captured from one crew role.
type Caps struct {
	MaxBytes int `json:"maxBytes" toml:"max_bytes" yaml:"max_bytes"`
	MaxLines int `json:"maxLines" toml:"max_lines" yaml:"max_lines"`
}

// CrewConfig tunes the task scheduler.
type CrewConfig struct {
	Concurrency struct {
		Workers int `json:"workers" toml:"workers" yaml:"workers"`
	} `json:"concurrency" toml:"concurrency" yaml:"concurrency"`
	Review struct {
		Enabled       bool `json:"enabled" toml:"enabled" yaml:"enabled"`
		MaxIterations int  `json:"maxIterations" toml:"max_iterations" yaml:"max_iterations"`
	} `json:"review" toml:"review" yaml:"review"`
	Planning struct {
		MaxPasses int `json:"maxPasses" toml:"max_passes" yaml:"max_passes"`
	} `json:"planning" toml:"planning" yaml:"planning"`
	Work struct {
		MaxAttemptsPerTask int  `json:"maxAttemptsPerTask" toml:"max_attempts_per_task" yaml:"max_attempts_per_task"`
		MaxWaves           int  `json:"maxWaves" toml:"max_waves" yaml:"max_waves"`
		StopOnBlock        bool `json:"stopOnBlock" toml:"stop_on_block" yaml:"stop_on_block"`
	} `json:"work" toml:"work" yaml:"work"`
	Truncation map[string]Caps `json:"truncation" toml:"truncation" yaml:"truncation"`
}

// Config is the merged messenger configuration.
type Config struct {
	AutoRegister      bool     `json:"autoRegister" toml:"auto_register" yaml:"auto_register"`
	AutoRegisterPaths []string `json:"autoRegisterPaths" toml:"auto_register_paths" yaml:"auto_register_paths"`
	ScopeToFolder     bool     `json:"scopeToFolder" toml:"scope_to_folder" yaml:"scope_to_folder"`
	NameTheme         string   `json:"nameTheme" toml:"name_theme" yaml:"name_theme"`
	FeedRetention     int      `json:"feedRetention" toml:"feed_retention" yaml:"feed_retention"`
	StuckThreshold    int      `json:"stuckThreshold" toml:"stuck_threshold" yaml:"stuck_threshold"` // seconds
	StuckNotify       bool     `json:"stuckNotify" toml:"stuck_notify" yaml:"stuck_notify"`
	AutoStatus        bool     `json:"autoStatus" toml:"auto_status" yaml:"auto_status"`
	CrewEventsInFeed  bool     `json:"crewEventsInFeed" toml:"crew_events_in_feed" yaml:"crew_events_in_feed"`
	ContextMode       string   `json:"contextMode" toml:"context_mode" yaml:"context_mode"` // full|minimal|none

	Crew CrewConfig `json:"crew" toml:"crew" yaml:"crew"`
}

// Default returns the built-in configuration.
func Default() Config {
	var c Config
	c.AutoRegister = false
	c.ScopeToFolder = false
	c.NameTheme = "default"
	c.FeedRetention = 50
	c.StuckThreshold = 300
	c.StuckNotify = true
	c.AutoStatus = true
	c.CrewEventsInFeed = true
	c.ContextMode = "full"
	c.Crew.Concurrency.Workers = 2
	c.Crew.Review.Enabled = true
	c.Crew.Review.MaxIterations = 3
	c.Crew.Planning.MaxPasses = 3
	c.Crew.Work.MaxAttemptsPerTask = 5
	c.Crew.Work.MaxWaves = 50
	c.Crew.Work.StopOnBlock = false
	return c
}

// Load merges defaults, the user file under baseDir, and the project file
// under projectDir. Later layers win key by key; keys a layer omits keep the
// value beneath.
func Load(baseDir, projectDir string) (Config, error) {
	cfg := Default()

	userPath := filepath.Join(baseDir, "config.toml")
	if data, err := os.ReadFile(userPath); err == nil { //nolint:gosec // path under the base dir
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", userPath, err)
		}
	}

	projDir := filepath.Join(projectDir, protocol.ProjectConfigSubdir)
	jsonPath := filepath.Join(projDir, "config.json")
	if data, err := os.ReadFile(jsonPath); err == nil { //nolint:gosec // path under the project dir
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", jsonPath, err)
		}
		return cfg, nil
	}

	yamlPath := filepath.Join(projDir, "config.yaml")
	if data, err := os.ReadFile(yamlPath); err == nil { //nolint:gosec // path under the project dir
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", yamlPath, err)
		}
	}
	return cfg, nil
}

// AutoRegisterMatch reports whether cwd falls under any configured
// auto-register path. Patterns support a leading ~ and shell globs; a
// pattern naming a directory also matches everything beneath it.
func AutoRegisterMatch(patterns []string, cwd string) bool {
	for _, pattern := range patterns {
		p := expandHome(pattern)
		if p == "" {
			continue
		}
		if ok, err := filepath.Match(p, cwd); err == nil && ok {
			return true
		}
		clean := strings.TrimSuffix(p, "/")
		if cwd == clean || strings.HasPrefix(cwd, clean+"/") {
			return true
		}
	}
	return false
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
