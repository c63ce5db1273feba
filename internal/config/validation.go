// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ValidationError describes a single invalid field.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Message, e.Value)
}

// Validate checks cross-field invariants and returns every violation joined.
func Validate(cfg Config) error {
	var errs []error
	add := func(field string, value any, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}

	if strings.TrimSpace(cfg.Runtime.Binary) == "" {
		add("runtime.binary", cfg.Runtime.Binary, "must not be empty")
	}
	if strings.TrimSpace(cfg.Runtime.Image) == "" {
		add("runtime.image", cfg.Runtime.Image, "must not be empty")
	}
	if _, _, err := ParseResolution(cfg.Runtime.Resolution); err != nil {
		add("runtime.resolution", cfg.Runtime.Resolution, err.Error())
	}
	if cfg.Runtime.StartTimeout <= 0 {
		add("runtime.start_timeout", cfg.Runtime.StartTimeout, "must be positive")
	}

	ports := map[string]int{
		"ports.http":    cfg.Ports.HTTP,
		"ports.https":   cfg.Ports.HTTPS,
		"ports.rtsp":    cfg.Ports.RTSP,
		"ports.control": cfg.Ports.Control,
	}
	seen := make(map[int]string, len(ports))
	for _, field := range []string{"ports.http", "ports.https", "ports.rtsp", "ports.control"} {
		p := ports[field]
		if p <= 0 || p > 65535 {
			add(field, p, "must be a valid TCP port")
			continue
		}
		if other, dup := seen[p]; dup {
			add(field, p, "duplicates "+other)
		}
		seen[p] = field
	}
	if cfg.Ports.MaxAttempts < 1 {
		add("ports.max_attempts", cfg.Ports.MaxAttempts, "must be at least 1")
	}
	if cfg.Ports.MaxAttempts > 1 && cfg.Ports.Stride <= 0 {
		add("ports.stride", cfg.Ports.Stride, "must be positive when max_attempts > 1")
	}

	switch cfg.Health.Mode {
	case HealthModeHTTP, HealthModeTCP:
	default:
		add("health.mode", cfg.Health.Mode, "must be http or tcp")
	}
	if cfg.Health.Timeout <= 0 || cfg.Health.Interval <= 0 {
		add("health.timeout", cfg.Health.Timeout, "timeout and interval must be positive")
	}
	if cfg.Probe.MetadataTimeout <= 0 || cfg.Probe.Interval <= 0 {
		add("probe.metadata_timeout", cfg.Probe.MetadataTimeout, "timeout and interval must be positive")
	}

	if len(cfg.Capture.Strategies) == 0 {
		add("capture.strategies", cfg.Capture.Strategies, "at least one strategy is required")
	}
	for _, s := range cfg.Capture.Strategies {
		switch s {
		case StrategyRTSP, StrategyHTTP, StrategyScreengrab:
		default:
			add("capture.strategies", s, "unknown strategy")
		}
	}
	if cfg.Capture.MinViableBytes < 0 {
		add("capture.min_viable_bytes", cfg.Capture.MinViableBytes, "must not be negative")
	}
	if cfg.Capture.StrategyTimeout <= 0 {
		add("capture.strategy_timeout", cfg.Capture.StrategyTimeout, "must be positive")
	}

	switch strings.ToLower(cfg.Classifier.TargetColor) {
	case "green", "red", "blue":
	default:
		add("classifier.target_color", cfg.Classifier.TargetColor, "must be green, red or blue")
	}
	if cfg.Classifier.FrameSampleLimit < 1 {
		add("classifier.frame_sample_limit", cfg.Classifier.FrameSampleLimit, "must be at least 1")
	}
	if cfg.Classifier.FrameThreshold <= 0.5 || cfg.Classifier.FrameThreshold >= 1 {
		add("classifier.frame_threshold", cfg.Classifier.FrameThreshold, "must be a majority in (0.5, 1)")
	}
	if cfg.Classifier.VideoThreshold < cfg.Classifier.FrameThreshold || cfg.Classifier.VideoThreshold >= 1 {
		add("classifier.video_threshold", cfg.Classifier.VideoThreshold, "must be in [frame_threshold, 1)")
	}
	switch cfg.Classifier.Mode {
	case AnalysisAuto, AnalysisHeuristic:
	default:
		add("classifier.mode", cfg.Classifier.Mode, "must be auto or heuristic")
	}

	if cfg.Output.Dir == "" {
		add("output.dir", cfg.Output.Dir, "must not be empty")
	}
	if cfg.Teardown.Timeout <= 0 {
		add("teardown.timeout", cfg.Teardown.Timeout, "must be positive")
	}
	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		add("telemetry.endpoint", cfg.Telemetry.Endpoint, "required when telemetry is enabled")
	}

	return errors.Join(errs...)
}

// ParseResolution splits a "WxH" string.
func ParseResolution(s string) (width, height int, err error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("resolution must look like 1920x1080")
	}
	width, errW := strconv.Atoi(w)
	height, errH := strconv.Atoi(h)
	if errW != nil || errH != nil || width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("resolution must look like 1920x1080")
	}
	return width, height, nil
}
