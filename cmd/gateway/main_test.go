package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelmah/apigateway/internal/observability"
)

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("GATEWAY_TEST_VALUE", "set")
	assert.Equal(t, "set", getEnvOrDefault("GATEWAY_TEST_VALUE", "fallback"))
	assert.Equal(t, "fallback", getEnvOrDefault("GATEWAY_TEST_MISSING", "fallback"))
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{value: "", def: true, want: true},
		{value: "yes", def: false, want: true},
		{value: "ON", def: false, want: true},
		{value: "0", def: true, want: false},
		{value: "off", def: true, want: false},
		{value: "maybe", def: true, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("GATEWAY_TEST_BOOL", tt.value)
			assert.Equal(t, tt.want, getEnvBool("GATEWAY_TEST_BOOL", tt.def))
		})
	}
}

func TestParseFlags_Defaults(t *testing.T) {
	t.Setenv("GATEWAY_CONFIG_PATH", "")
	t.Setenv("GATEWAY_ADDR", "")
	t.Setenv("PORT", "5050")

	f := parseFlags(flag.NewFlagSet("test", flag.ContinueOnError), nil)

	assert.Equal(t, "configs/gateway.yaml", f.configPath)
	assert.Equal(t, "info", f.logLevel)
	assert.Equal(t, "json", f.logFormat)
	assert.Equal(t, ":5050", f.addr)
	assert.True(t, f.watch)
	assert.False(t, f.showVersion)
}

func TestParseFlags_Overrides(t *testing.T) {
	t.Setenv("GATEWAY_LOG_LEVEL", "warn")

	f := parseFlags(flag.NewFlagSet("test", flag.ContinueOnError), []string{
		"-config", "", "-addr", ":6000", "-log-format", "console", "-watch=false",
	})

	assert.Empty(t, f.configPath)
	assert.Equal(t, "warn", f.logLevel)
	assert.Equal(t, "console", f.logFormat)
	assert.Equal(t, ":6000", f.addr)
	assert.False(t, f.watch)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("discovery:\n  mode: cloud\n"), 0o600))
	t.Setenv("SERVICE_MODE", "")

	cfg, err := loadConfig(cliFlags{configPath: path, addr: "127.0.0.1:7000"}, observability.NopLogger())
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.Server.Address)
	assert.Equal(t, "cloud", cfg.Discovery.Mode)

	_, err = loadConfig(cliFlags{configPath: filepath.Join(dir, "missing.yaml")}, observability.NopLogger())
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("cache:\n  capacity: -1\n"), 0o600))
	_, err = loadConfig(cliFlags{configPath: path}, observability.NopLogger())
	assert.Error(t, err)
}
