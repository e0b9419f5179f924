// Package config loads Grafema project configuration from
// .grafema/config.yaml. Missing file means defaults: zero-config
// analysis of the current directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all Grafema configuration.
type Config struct {
	Project    ProjectConfig    `yaml:"project"`
	Store      StoreConfig      `yaml:"store"`
	Resolution ResolutionConfig `yaml:"resolution"`
	Guarantees GuaranteesConfig `yaml:"guarantees"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ProjectConfig describes the codebase under analysis.
type ProjectConfig struct {
	Root string `yaml:"root"`
	// Ignore lists gitignore-style patterns excluded from discovery,
	// in addition to the project's own .gitignore.
	Ignore []string `yaml:"ignore"`
	// Services optionally pins service roots (relative directories).
	// Empty means discovery finds them from package manifests.
	Services []string `yaml:"services"`
}

// StoreConfig configures graph persistence.
type StoreConfig struct {
	// Path of the SQLite database, relative to the project root.
	Path string `yaml:"path"`
}

// ResolutionConfig supplies explicit identity mappings consumed by the
// enrichment cascade. An explicit mapping always wins over
// conventional and inferred strategies.
type ResolutionConfig struct {
	Mappings []Mapping `yaml:"mappings"`
}

// Mapping declares "references matching Source resolve to Target".
// Source matches a pending link's target hint (a callee name, a URL
// path, a deployment name); Target is the node ID to link to.
type Mapping struct {
	Kind   string `yaml:"kind"` // call | http-request | deployment | ...
	Source string `yaml:"source"`
	Target string `yaml:"target"`
}

// GuaranteesConfig lists guarantee definition files loaded at startup,
// in addition to guarantees managed through the API.
type GuaranteesConfig struct {
	Paths []string `yaml:"paths"`
}

// LoggingConfig configures categorized debug logging.
type LoggingConfig struct {
	Enabled    bool            `yaml:"enabled"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
}

// Default returns the zero-config defaults for a project root.
func Default(root string) *Config {
	return &Config{
		Project: ProjectConfig{Root: root},
		Store:   StoreConfig{Path: filepath.Join(".grafema", "graph.db")},
		Logging: LoggingConfig{Enabled: false, Level: "info"},
	}
}

// Load reads .grafema/config.yaml under root, falling back to defaults
// when the file does not exist.
func Load(root string) (*Config, error) {
	cfg := Default(root)

	path := filepath.Join(root, ".grafema", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Project.Root == "" {
		cfg.Project.Root = root
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(".grafema", "graph.db")
	}
	return cfg, nil
}

// StoreDBPath resolves the store path against the project root.
func (c *Config) StoreDBPath() string {
	if filepath.IsAbs(c.Store.Path) {
		return c.Store.Path
	}
	return filepath.Join(c.Project.Root, c.Store.Path)
}

// MappingsFor returns the explicit mappings declared for a link kind.
func (c *Config) MappingsFor(kind string) map[string]string {
	out := make(map[string]string)
	for _, m := range c.Resolution.Mappings {
		if m.Kind == kind {
			out[m.Source] = m.Target
		}
	}
	return out
}
