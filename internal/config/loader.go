package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// Loader reads configuration from files and readers.
type Loader struct {
	lookupEnv func(string) (string, bool)
	applyEnv  bool
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLookupEnv replaces os.LookupEnv, mainly for tests.
func WithLookupEnv(fn func(string) (string, bool)) LoaderOption {
	return func(l *Loader) {
		l.lookupEnv = fn
	}
}

// WithEnvOverrides toggles the deployment environment overrides applied
// after parsing. Enabled by default.
func WithEnvOverrides(enabled bool) LoaderOption {
	return func(l *Loader) {
		l.applyEnv = enabled
	}
}

// NewLoader creates a new configuration loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		lookupEnv: os.LookupEnv,
		applyEnv:  true,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadConfig loads configuration from a file path.
func LoadConfig(path string) (*GatewayConfig, error) {
	return NewLoader().Load(path)
}

// LoadConfigFromReader loads configuration from an io.Reader.
func LoadConfigFromReader(r io.Reader) (*GatewayConfig, error) {
	return NewLoader().LoadFromReader(r)
}

// Load loads configuration from a file path. A missing file yields the
// defaults with environment overrides applied.
func (l *Loader) Load(path string) (*GatewayConfig, error) {
	if path == "" {
		return l.finish(DefaultConfig()), nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", path, err)
	}

	data, err := os.ReadFile(absPath) //nolint:gosec // operator-supplied path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %s not found: %w", path, err)
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return l.parseConfig(data)
}

// LoadFromReader loads configuration from an io.Reader.
func (l *Loader) LoadFromReader(r io.Reader) (*GatewayConfig, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return l.parseConfig(data)
}

// parseConfig decodes YAML over the defaults, so omitted keys keep their
// default values.
func (l *Loader) parseConfig(data []byte) (*GatewayConfig, error) {
	content := l.substituteEnvVars(string(data))

	cfg := DefaultConfig()
	if strings.TrimSpace(content) != "" {
		dec := yaml.NewDecoder(bytes.NewReader([]byte(content)))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	return l.finish(cfg), nil
}

func (l *Loader) finish(cfg *GatewayConfig) *GatewayConfig {
	if l.applyEnv {
		ApplyEnvOverrides(cfg, l.lookupEnv)
	}
	return cfg
}

// substituteEnvVars replaces ${VAR} and ${VAR:-default} patterns with
// environment values. "$$" escapes a literal dollar sign.
func (l *Loader) substituteEnvVars(content string) string {
	content = strings.ReplaceAll(content, "$$", "\x00ESCAPED_DOLLAR\x00")

	result := envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		defaultValue := ""
		if len(submatches) >= 3 {
			defaultValue = submatches[2]
		}

		if value, exists := l.lookupEnv(varName); exists {
			return value
		}
		return defaultValue
	})

	return strings.ReplaceAll(result, "\x00ESCAPED_DOLLAR\x00", "$")
}
