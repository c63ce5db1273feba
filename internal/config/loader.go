// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override key.
const EnvPrefix = "HYPRMOON_"

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	ConsumedEnvKeys map[string]struct{} // Mechanical tracking of consumed keys
}

// NewLoader creates a new configuration loader. An empty path skips the file layer.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath:      configPath,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[EnvPrefix+key] = struct{}{}
	return ParseString(EnvPrefix+key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[EnvPrefix+key] = struct{}{}
	return ParseBool(EnvPrefix+key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[EnvPrefix+key] = struct{}{}
	return ParseInt(EnvPrefix+key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[EnvPrefix+key] = struct{}{}
	return ParseDuration(EnvPrefix+key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[EnvPrefix+key] = struct{}{}
	return ParseFloat(EnvPrefix+key, defaultVal)
}

// Load loads configuration with precedence: ENV > File > Defaults.
// Order is strict: Defaults -> Parse File (Strict) -> Apply Env -> Validate.
func (l *Loader) Load() (Config, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)

	if abs, err := filepath.Abs(cfg.Output.Dir); err == nil {
		cfg.Output.Dir = abs
	}
	if abs, err := filepath.Abs(cfg.Runtime.WorkspaceDir); err == nil {
		cfg.Runtime.WorkspaceDir = abs
	}

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes a YAML file on top of cfg with STRICT parsing.
// Unknown fields cause a fatal error to prevent silent misconfiguration.
func (l *Loader) loadFile(path string, cfg *Config) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

// mergeEnv applies HYPRMOON_* overrides on top of cfg.
func (l *Loader) mergeEnv(cfg *Config) {
	cfg.Runtime.Binary = l.envString("RUNTIME", cfg.Runtime.Binary)
	cfg.Runtime.Image = l.envString("IMAGE", cfg.Runtime.Image)
	cfg.Runtime.Compositor = l.envString("COMPOSITOR", cfg.Runtime.Compositor)
	cfg.Runtime.ClientCommand = l.envString("CLIENT_COMMAND", cfg.Runtime.ClientCommand)
	cfg.Runtime.WorkspaceDir = l.envString("WORKSPACE_DIR", cfg.Runtime.WorkspaceDir)
	cfg.Runtime.Host = l.envString("HOST", cfg.Runtime.Host)
	cfg.Runtime.Privileged = l.envBool("PRIVILEGED", cfg.Runtime.Privileged)
	cfg.Runtime.StartTimeout = l.envDuration("START_TIMEOUT", cfg.Runtime.StartTimeout)

	cfg.Ports.HTTP = l.envInt("HTTP_PORT", cfg.Ports.HTTP)
	cfg.Ports.HTTPS = l.envInt("HTTPS_PORT", cfg.Ports.HTTPS)
	cfg.Ports.RTSP = l.envInt("RTSP_PORT", cfg.Ports.RTSP)
	cfg.Ports.Control = l.envInt("CONTROL_PORT", cfg.Ports.Control)

	cfg.Health.Mode = l.envString("HEALTH_MODE", cfg.Health.Mode)
	cfg.Health.Timeout = l.envDuration("HEALTH_TIMEOUT", cfg.Health.Timeout)

	cfg.Probe.MetadataTimeout = l.envDuration("METADATA_TIMEOUT", cfg.Probe.MetadataTimeout)
	cfg.Probe.DeviceName = l.envString("DEVICE_NAME", cfg.Probe.DeviceName)

	cfg.Capture.Duration = l.envDuration("CAPTURE_DURATION", cfg.Capture.Duration)
	cfg.Capture.StrategyTimeout = l.envDuration("STRATEGY_TIMEOUT", cfg.Capture.StrategyTimeout)
	cfg.Capture.FFmpegBin = l.envString("FFMPEG_BIN", cfg.Capture.FFmpegBin)

	cfg.Classifier.TargetColor = l.envString("TARGET_COLOR", cfg.Classifier.TargetColor)
	cfg.Classifier.FrameSampleLimit = l.envInt("FRAME_SAMPLE_LIMIT", cfg.Classifier.FrameSampleLimit)
	cfg.Classifier.FrameThreshold = l.envFloat("FRAME_THRESHOLD", cfg.Classifier.FrameThreshold)
	cfg.Classifier.VideoThreshold = l.envFloat("VIDEO_THRESHOLD", cfg.Classifier.VideoThreshold)
	cfg.Classifier.Mode = l.envString("ANALYSIS_MODE", cfg.Classifier.Mode)
	cfg.Classifier.AllowDegraded = l.envBool("ALLOW_DEGRADED", cfg.Classifier.AllowDegraded)

	cfg.Output.Dir = l.envString("OUTPUT_DIR", cfg.Output.Dir)
	cfg.Output.ReportJSON = l.envString("REPORT_JSON", cfg.Output.ReportJSON)
	cfg.Output.Bundle = l.envString("BUNDLE", cfg.Output.Bundle)
	cfg.Output.MetricsFile = l.envString("METRICS_FILE", cfg.Output.MetricsFile)
	cfg.Output.HistoryDB = l.envString("HISTORY_DB", cfg.Output.HistoryDB)

	cfg.Telemetry.Enabled = l.envBool("OTEL_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Endpoint = l.envString("OTEL_ENDPOINT", cfg.Telemetry.Endpoint)

	cfg.Log.Level = l.envString("LOG_LEVEL", cfg.Log.Level)
}
