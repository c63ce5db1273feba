// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := NewLoader("").Load()
	require.NoError(t, err)

	assert.Equal(t, 47989, cfg.Ports.HTTP)
	assert.Equal(t, 47984, cfg.Ports.HTTPS)
	assert.Equal(t, 48010, cfg.Ports.RTSP)
	assert.Equal(t, 47999, cfg.Ports.Control)
	assert.Equal(t, 45*time.Second, cfg.Probe.MetadataTimeout)
	assert.Equal(t, int64(1000), cfg.Capture.MinViableBytes)
	assert.Equal(t, []string{StrategyRTSP, StrategyHTTP, StrategyScreengrab}, cfg.Capture.Strategies)
	assert.True(t, filepath.IsAbs(cfg.Output.Dir))
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, "hyprmoon.yaml", `
runtime:
  image: custom-image
  start_timeout: 10s
ports:
  http: 58989
classifier:
  target_color: blue
`)
	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "custom-image", cfg.Runtime.Image)
	assert.Equal(t, 10*time.Second, cfg.Runtime.StartTimeout)
	assert.Equal(t, 58989, cfg.Ports.HTTP)
	assert.Equal(t, 47984, cfg.Ports.HTTPS, "untouched fields keep their defaults")
	assert.Equal(t, "blue", cfg.Classifier.TargetColor)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "hyprmoon.yml", "runtime:\n  image: from-file\n")
	t.Setenv("HYPRMOON_IMAGE", "from-env")
	t.Setenv("HYPRMOON_ALLOW_DEGRADED", "true")
	t.Setenv("HYPRMOON_CAPTURE_DURATION", "3s")

	l := NewLoader(path)
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Runtime.Image)
	assert.True(t, cfg.Classifier.AllowDegraded)
	assert.Equal(t, 3*time.Second, cfg.Capture.Duration)
	assert.Contains(t, l.ConsumedEnvKeys, "HYPRMOON_IMAGE")
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "hyprmoon.yaml", "runtime:\n  imagee: typo\n")
	_, err := NewLoader(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strict config parse error")
}

func TestLoad_RejectsMultipleDocuments(t *testing.T) {
	path := writeConfig(t, "hyprmoon.yaml", "runtime:\n  image: a\n---\nruntime:\n  image: b\n")
	_, err := NewLoader(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiple documents")
}

func TestLoad_RejectsNonYAML(t *testing.T) {
	path := writeConfig(t, "hyprmoon.json", "{}")
	_, err := NewLoader(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported config format")
}

func TestLoad_EmptyFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "empty.yaml", "")
	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "hyprmoon-ubuntu", cfg.Runtime.Image)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"duplicate ports", func(c *Config) { c.Ports.RTSP = c.Ports.HTTP }, "ports.rtsp"},
		{"port out of range", func(c *Config) { c.Ports.Control = 70000 }, "ports.control"},
		{"unknown strategy", func(c *Config) { c.Capture.Strategies = []string{"carrier-pigeon"} }, "capture.strategies"},
		{"minority frame threshold", func(c *Config) { c.Classifier.FrameThreshold = 0.4 }, "classifier.frame_threshold"},
		{"video below frame threshold", func(c *Config) { c.Classifier.VideoThreshold = 0.55 }, "classifier.video_threshold"},
		{"bad health mode", func(c *Config) { c.Health.Mode = "icmp" }, "health.mode"},
		{"bad resolution", func(c *Config) { c.Runtime.Resolution = "wide" }, "runtime.resolution"},
		{"telemetry without endpoint", func(c *Config) { c.Telemetry.Enabled = true }, "telemetry.endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}

	require.NoError(t, Validate(Defaults()))
}

func TestParseResolution(t *testing.T) {
	w, h, err := ParseResolution("1920x1080")
	require.NoError(t, err)
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)

	_, _, err = ParseResolution("0x10")
	assert.Error(t, err)
}
