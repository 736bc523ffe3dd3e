package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/c360/reliabus/errors"
)

// EnvPrefix prefixes every environment variable read by the Loader
const EnvPrefix = "RELIABUS_"

// Loader builds a Config from defaults, YAML file layers and the
// environment, in that order. Later layers override earlier ones field by
// field.
type Loader struct {
	layers      []string
	envPrefix   string
	environment map[string]string
}

// NewLoader creates a loader reading the process environment
func NewLoader() *Loader {
	return &Loader{envPrefix: EnvPrefix}
}

// AddLayer adds a YAML file layer. Layers are applied in the order added.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// WithEnvironment replaces the process environment, for tests
func (l *Loader) WithEnvironment(environment map[string]string) *Loader {
	l.environment = environment
	return l
}

// Load merges all layers and validates the result
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		if err := l.applyFile(cfg, path); err != nil {
			return nil, errors.WrapFatal(err, "Loader", "Load", fmt.Sprintf("load %s", path))
		}
	}

	opts := env.Options{Prefix: l.envPrefix}
	if l.environment != nil {
		opts.Environment = l.environment
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"Loader", "Load", "apply environment")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFile overlays a YAML file onto cfg. ${VAR} references in the file
// are expanded from the environment first.
func (l *Loader) applyFile(cfg *Config, path string) error {
	data, err := safeReadFile(path)
	if err != nil {
		return err
	}

	expanded := os.Expand(string(data), l.lookup)
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("%w: parse yaml: %v", errors.ErrInvalidConfig, err)
	}
	return nil
}

func (l *Loader) lookup(key string) string {
	if l.environment != nil {
		return l.environment[key]
	}
	return os.Getenv(key)
}

// Load is shorthand for a loader with an optional single file layer
func Load(path string) (*Config, error) {
	l := NewLoader()
	if path != "" {
		l.AddLayer(path)
	}
	return l.Load()
}
