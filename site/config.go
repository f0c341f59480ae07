package site

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/fwdslsh/unify-sub006/cascade"
)

// Config holds the build configuration.
type Config struct {
	SourceDir   string         `yaml:"source_dir"`
	OutputDir   string         `yaml:"output_dir"`
	Concurrency int            `yaml:"concurrency"`
	BuildLog    string         `yaml:"build_log"`
	Cascade     cascade.Config `yaml:"cascade"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.SourceDir == "" {
		c.SourceDir = "."
	}
	if c.OutputDir == "" {
		c.OutputDir = "dist"
	}
	if c.Concurrency <= 0 {
		c.Concurrency = runtime.NumCPU()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Cascade.Logger == nil {
		c.Cascade.Logger = c.Logger
	}
}

func (c *Config) validate() error {
	src, err := filepath.Abs(c.SourceDir)
	if err != nil {
		return fmt.Errorf("site: source_dir: %w", err)
	}
	out, err := filepath.Abs(c.OutputDir)
	if err != nil {
		return fmt.Errorf("site: output_dir: %w", err)
	}
	if src == out {
		return fmt.Errorf("site: output_dir must differ from source_dir (%s)", src)
	}
	fi, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("site: source_dir: %w", err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("site: source_dir %s is not a directory", src)
	}
	return nil
}

// LoadConfigFile reads a YAML config file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
