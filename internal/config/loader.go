package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/knadh/koanf/maps"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the prefix of namespaced environment variables.
const DefaultEnvPrefix = "IPSHOW_"

// portEnv is honoured without a prefix for compatibility with PaaS hosts.
const portEnv = "PORT"

// Loader layers configuration sources into a Config.
type Loader struct {
	k         *koanf.Koanf
	envPrefix string
	filePath  string
	overrides map[string]any
	envKeys   map[string]string
}

// Option configures a Loader.
type Option func(*Loader)

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// WithConfigFile sets the YAML file path.
func WithConfigFile(path string) Option {
	return func(l *Loader) {
		l.filePath = strings.TrimSpace(path)
	}
}

// WithOverrides applies values above every other source, keyed by koanf path.
func WithOverrides(values map[string]any) Option {
	return func(l *Loader) {
		l.overrides = values
	}
}

// NewLoader creates a loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: DefaultEnvPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}

	// Underscores separate sections and words alike, so env names are
	// matched against the known keys instead of split blindly.
	l.envKeys = make(map[string]string)
	for _, key := range Keys() {
		l.envKeys[l.envName(key)] = key
	}
	return l
}

// envName returns the environment variable for a koanf key.
func (l *Loader) envName(key string) string {
	return l.envPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Load reads every source, then unmarshals and validates the result.
func (l *Loader) Load() (Config, error) {
	var cfg Config

	if err := l.k.Load(mapProvider(Defaults()), nil); err != nil {
		return cfg, fmt.Errorf("load defaults: %w", err)
	}
	if l.filePath != "" {
		if err := l.k.Load(file.Provider(l.filePath), yaml.Parser()); err != nil {
			return cfg, fmt.Errorf("load config file %s: %w", l.filePath, err)
		}
	}
	if err := l.k.Load(env.ProviderWithValue(l.envPrefix, ".", l.envValue), nil); err != nil {
		return cfg, fmt.Errorf("load env: %w", err)
	}
	if err := l.k.Load(env.ProviderWithValue(portEnv, ".", portValue), nil); err != nil {
		return cfg, fmt.Errorf("load %s: %w", portEnv, err)
	}
	if len(l.overrides) > 0 {
		if err := l.k.Load(mapProvider(l.overrides), nil); err != nil {
			return cfg, fmt.Errorf("load overrides: %w", err)
		}
	}

	if err := l.k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// envValue maps IPSHOW_TOKEN_PURGE_INTERVAL to token.purge_interval. Unknown
// and blank variables map to "" and are skipped.
func (l *Loader) envValue(name, value string) (string, any) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}
	return l.envKeys[name], value
}

// portValue accepts PORT itself, skipping it when blank.
func portValue(name, value string) (string, any) {
	value = strings.TrimSpace(value)
	if name != portEnv || value == "" {
		return "", nil
	}
	return "port", value
}

// Load is shorthand for NewLoader(opts...).Load().
func Load(opts ...Option) (Config, error) {
	return NewLoader(opts...).Load()
}

// errReadBytesNotSupported is returned when koanf asks a map provider for bytes.
var errReadBytesNotSupported = errors.New("config: map provider does not support ReadBytes")

// mapProvider feeds a flat map of koanf paths to koanf.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errReadBytesNotSupported
}

// Read unflattens dotted keys so they merge with nested file sources.
func (m mapProvider) Read() (map[string]any, error) {
	return maps.Unflatten(m, "."), nil
}
