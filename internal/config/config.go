package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config captures the optional bundle.yaml settings for a project.
type Config struct {
	Version   int             `yaml:"version"`
	Minify    *bool           `yaml:"minify,omitempty"`
	Modules   string          `yaml:"node_modules_mode,omitempty"`
	Ignore    []string        `yaml:"ignore,omitempty"`
	Warehouse WarehouseConfig `yaml:"warehouse,omitempty"`
}

// WarehouseConfig overrides the package origin for a project.
type WarehouseConfig struct {
	URL     string `yaml:"url,omitempty"`
	Release string `yaml:"release,omitempty"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{Version: 1}
}

// Load reads the config file at path, returning defaults when it is missing.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field values that cannot be verified by decoding alone.
func (c Config) Validate() error {
	switch c.Modules {
	case "", "skip", "symlink", "copy":
	default:
		return fmt.Errorf("invalid node_modules_mode %q (want skip, symlink or copy)", c.Modules)
	}
	for _, pattern := range c.Ignore {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("invalid ignore pattern %q: %w", pattern, err)
		}
	}
	return nil
}

// MinifyValue reports the effective minify flag applying defaults.
func (c Config) MinifyValue() bool {
	if c.Minify == nil {
		return true
	}
	return *c.Minify
}

// IgnorePatterns compiles the extra ignore patterns. Validate has already
// established they compile.
func (c Config) IgnorePatterns() []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(c.Ignore))
	for _, pattern := range c.Ignore {
		out = append(out, regexp.MustCompile(pattern))
	}
	return out
}
