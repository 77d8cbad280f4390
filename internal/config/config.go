// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	StateDir string `json:"state_dir" yaml:"state_dir"` // relative to the repository root

	Database struct {
		Path     string `json:"path" yaml:"path"` // defaults to <state_dir>/db
		InMemory bool   `json:"in_memory" yaml:"in_memory"`
	} `json:"database" yaml:"database"`

	Objects struct {
		CacheSize       int `json:"cache_size" yaml:"cache_size"`
		CompressMinSize int `json:"compress_min_size" yaml:"compress_min_size"`
		CompressLevel   int `json:"compress_level" yaml:"compress_level"` // 1=fastest, 4=best
	} `json:"objects" yaml:"objects"`

	Diff struct {
		Mode         string `json:"mode" yaml:"mode"` // lines, bytes
		ContextLines int    `json:"context_lines" yaml:"context_lines"`
	} `json:"diff" yaml:"diff"`

	Worktrees struct {
		Root string `json:"root" yaml:"root"` // defaults to <state_dir>/worktrees
	} `json:"worktrees" yaml:"worktrees"`

	Watch struct {
		DebounceMillis int `json:"debounce_ms" yaml:"debounce_ms"`
	} `json:"watch" yaml:"watch"`

	Ignore []string `json:"ignore" yaml:"ignore"`

	Environment string `json:"environment" yaml:"environment"` // dev, prod
	LogLevel    string `json:"log_level" yaml:"log_level"`     // debug, info, warn, error
}

// DefaultStateDir is the state directory name used when none is configured.
const DefaultStateDir = ".tm"

var defaultIgnore = []string{".git", "node_modules", "vendor", "dist", "build"}

// Default returns a Config with every field set to its default.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

func (c *Config) applyDefaults() {
	if c.StateDir == "" {
		c.StateDir = DefaultStateDir
	}
	if c.Objects.CacheSize == 0 {
		c.Objects.CacheSize = 1000
	}
	if c.Objects.CompressMinSize == 0 {
		c.Objects.CompressMinSize = 1024
	}
	if c.Objects.CompressLevel == 0 {
		c.Objects.CompressLevel = 2
	}
	if c.Diff.Mode == "" {
		c.Diff.Mode = "lines"
	}
	if c.Diff.ContextLines == 0 {
		c.Diff.ContextLines = 3
	}
	if c.Watch.DebounceMillis == 0 {
		c.Watch.DebounceMillis = 200
	}
	if c.Ignore == nil {
		c.Ignore = append([]string(nil), defaultIgnore...)
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if lvl := os.Getenv("TM_LOG_LEVEL"); lvl != "" {
		c.LogLevel = lvl
	}
}

// Validate rejects values the components cannot work with.
func (c *Config) Validate() error {
	switch c.Diff.Mode {
	case "lines", "bytes":
	default:
		return fmt.Errorf("diff.mode must be lines or bytes, got %q", c.Diff.Mode)
	}
	if c.Diff.ContextLines < 0 {
		return fmt.Errorf("diff.context_lines cannot be negative")
	}
	if c.Objects.CacheSize < 0 {
		return fmt.Errorf("objects.cache_size cannot be negative")
	}
	if filepath.IsAbs(c.StateDir) || strings.ContainsAny(c.StateDir, `/\`) {
		return fmt.Errorf("state_dir must be a single directory name, got %q", c.StateDir)
	}
	return nil
}

// Locate returns the config file inside the state directory stateDir of
// root, or "" if none exists. An empty stateDir means DefaultStateDir.
func Locate(root, stateDir string) string {
	if stateDir == "" {
		stateDir = DefaultStateDir
	}
	for _, name := range []string{"config.yaml", "config.yml", "config.json"} {
		p := filepath.Join(root, stateDir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Load decodes path as YAML or JSON depending on its extension.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var config Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.NewDecoder(file).Decode(&config); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", path, err)
		}
	default:
		if err := json.NewDecoder(file).Decode(&config); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", path, err)
		}
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Save writes c to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
