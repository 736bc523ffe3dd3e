package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/reliabus/config"
)

func TestParse_Defaults(t *testing.T) {
	t.Setenv("RELIABUS_CONFIG", "")

	f, err := Parse("reliabus", nil, &bytes.Buffer{})
	require.NoError(t, err)

	assert.Empty(t, f.ConfigPath)
	assert.False(t, f.ShowVersion)
	assert.False(t, f.Validate)

	cfg := config.Default()
	f.Apply(cfg)
	assert.Equal(t, config.Default(), cfg, "unset flags must not override the config layers")
}

func TestParse_ConfigPathFromEnvironment(t *testing.T) {
	t.Setenv("RELIABUS_CONFIG", "/etc/reliabus.yaml")

	f, err := Parse("reliabus", nil, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "/etc/reliabus.yaml", f.ConfigPath)

	f, err = Parse("reliabus", []string{"-c", "local.yaml"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "local.yaml", f.ConfigPath)
}

func TestApply_OverridesExplicitFlags(t *testing.T) {
	f, err := Parse("reliabus", []string{
		"-nats-url", "nats://bus:4222",
		"-log-level", "trace",
		"-log-format", "text",
		"-metrics-port", "9090",
	}, &bytes.Buffer{})
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Metrics.Port = 8080
	f.Apply(cfg)

	assert.Equal(t, "nats://bus:4222", cfg.NATS.URL)
	assert.Equal(t, "trace", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Metrics.Port)
}

func TestApply_ExplicitZeroDisablesMetrics(t *testing.T) {
	f, err := Parse("reliabus", []string{"-metrics-port=0"}, &bytes.Buffer{})
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Metrics.Port = 8080
	f.Apply(cfg)
	assert.Equal(t, 0, cfg.Metrics.Port)
}

func TestParse_UnknownFlag(t *testing.T) {
	out := &bytes.Buffer{}
	_, err := Parse("reliabus", []string{"-nope"}, out)
	assert.Error(t, err)
	assert.Contains(t, out.String(), "Usage: reliabus")
}

func TestParse_SpecialFlags(t *testing.T) {
	f, err := Parse("reliabus", []string{"-v", "-validate"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.True(t, f.ShowVersion)
	assert.True(t, f.Validate)
}

func TestParse_HelpPrintsUsage(t *testing.T) {
	out := &bytes.Buffer{}
	f, err := Parse("reliabus-echo", []string{"-h"}, out)
	require.NoError(t, err)
	assert.True(t, f.ShowHelp)
	assert.Contains(t, out.String(), "Usage: reliabus-echo")
	assert.Contains(t, out.String(), "-nats-url")
}
