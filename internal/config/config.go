// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config holds the verification harness configuration.
//
// Precedence is ENV > File > Defaults. The YAML file is parsed strictly:
// unknown keys are a load error.
package config

import "time"

// Health probe modes.
const (
	HealthModeHTTP = "http"
	HealthModeTCP  = "tcp"
)

// Classifier analysis modes.
const (
	AnalysisAuto      = "auto"
	AnalysisHeuristic = "heuristic"
)

// Capture strategy names, in canonical order.
const (
	StrategyRTSP       = "rtsp-stream"
	StrategyHTTP       = "http-stream"
	StrategyScreengrab = "in-environment-screengrab"
)

// Config is the complete harness configuration.
type Config struct {
	Runtime    RuntimeConfig    `yaml:"runtime"`
	Ports      PortsConfig      `yaml:"ports"`
	Health     HealthConfig     `yaml:"health"`
	Probe      ProbeConfig      `yaml:"probe"`
	Capture    CaptureConfig    `yaml:"capture"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Output     OutputConfig     `yaml:"output"`
	Teardown   TeardownConfig   `yaml:"teardown"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Log        LogConfig        `yaml:"log"`
}

// RuntimeConfig describes the isolated runtime (container) to launch.
type RuntimeConfig struct {
	Binary        string        `yaml:"binary"`         // container CLI: docker or podman
	Image         string        `yaml:"image"`          // image hosting compositor + streaming service
	Compositor    string        `yaml:"compositor"`     // compositor binary inside the image
	ClientCommand string        `yaml:"client_command"` // known-visual-state client inside the image
	WorkspaceDir  string        `yaml:"workspace_dir"`  // host dir mounted at /workspace
	Host          string        `yaml:"host"`           // host the published ports are reachable on
	Resolution    string        `yaml:"resolution"`     // headless monitor size, WxH
	RefreshRate   int           `yaml:"refresh_rate"`
	Privileged    bool          `yaml:"privileged"`
	StartTimeout  time.Duration `yaml:"start_timeout"`
	SettleDelay   time.Duration `yaml:"settle_delay"`       // wait after launch before liveness check
	ClientDelay   time.Duration `yaml:"client_grace_delay"` // compositor init time before client paints
}

// PortsConfig is the base port set and the stride used to find a free one.
type PortsConfig struct {
	HTTP        int `yaml:"http"`
	HTTPS       int `yaml:"https"`
	RTSP        int `yaml:"rtsp"`
	Control     int `yaml:"control"`
	Stride      int `yaml:"stride"`
	MaxAttempts int `yaml:"max_attempts"`
}

// HealthConfig controls the post-start health wait.
type HealthConfig struct {
	// Mode is "http" (GET /serverinfo answers 2xx) or "tcp". In tcp mode a
	// port counts only when its connection is not dropped right after accept,
	// since the runtime's port proxy accepts before the service listens.
	Mode                string        `yaml:"mode"`
	Timeout             time.Duration `yaml:"timeout"`
	Interval            time.Duration `yaml:"interval"`
	ClientMarkerTimeout time.Duration `yaml:"client_marker_timeout"`
}

// ProbeConfig controls the protocol probe.
type ProbeConfig struct {
	MetadataTimeout time.Duration `yaml:"metadata_timeout"`
	Interval        time.Duration `yaml:"interval"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	PairingTimeout  time.Duration `yaml:"pairing_timeout"`
	DeviceName      string        `yaml:"device_name"`
	InsecureTLS     bool          `yaml:"insecure_tls"`
}

// CaptureConfig controls the capture strategy chain.
type CaptureConfig struct {
	Strategies      []string      `yaml:"strategies"`
	Duration        time.Duration `yaml:"duration"`
	StrategyTimeout time.Duration `yaml:"strategy_timeout"`
	MinViableBytes  int64         `yaml:"min_viable_bytes"`
	FFmpegBin       string        `yaml:"ffmpeg_bin"`
	RTSPPreflight   bool          `yaml:"rtsp_preflight"`
}

// ClassifierConfig controls artifact classification.
type ClassifierConfig struct {
	TargetColor         string  `yaml:"target_color"`
	FrameSampleLimit    int     `yaml:"frame_sample_limit"`
	FrameThreshold      float64 `yaml:"frame_threshold"`
	VideoThreshold      float64 `yaml:"video_threshold"`
	Mode                string  `yaml:"mode"`
	HeuristicFloorBytes int64   `yaml:"heuristic_floor_bytes"`
	AllowDegraded       bool    `yaml:"allow_degraded"`
}

// OutputConfig controls where evidence is written.
type OutputConfig struct {
	Dir          string `yaml:"dir"`
	ReportJSON   string `yaml:"report_json"`
	Bundle       string `yaml:"bundle"`
	MetricsFile  string `yaml:"metrics_file"`
	HistoryDB    string `yaml:"history_db"`
	LogTailLines int    `yaml:"log_tail_lines"`
}

// TeardownConfig bounds environment teardown.
type TeardownConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// TelemetryConfig configures optional OTLP tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Defaults returns the configuration used when nothing else is specified.
// Port numbers are the Moonlight protocol defaults.
func Defaults() Config {
	return Config{
		Runtime: RuntimeConfig{
			Binary:        "docker",
			Image:         "hyprmoon-ubuntu",
			Compositor:    "/usr/local/bin/Hyprland",
			ClientCommand: "/workspace/green_client",
			WorkspaceDir:  ".",
			Host:          "localhost",
			Resolution:    "1920x1080",
			RefreshRate:   60,
			StartTimeout:  30 * time.Second,
			SettleDelay:   3 * time.Second,
			ClientDelay:   5 * time.Second,
		},
		Ports: PortsConfig{
			HTTP:        47989,
			HTTPS:       47984,
			RTSP:        48010,
			Control:     47999,
			Stride:      1000,
			MaxAttempts: 8,
		},
		Health: HealthConfig{
			Mode:                HealthModeHTTP,
			Timeout:             45 * time.Second,
			Interval:            2 * time.Second,
			ClientMarkerTimeout: 30 * time.Second,
		},
		Probe: ProbeConfig{
			MetadataTimeout: 45 * time.Second,
			Interval:        2 * time.Second,
			RequestTimeout:  10 * time.Second,
			PairingTimeout:  15 * time.Second,
			DeviceName:      "HyprMoon-E2E-Test",
			InsecureTLS:     true,
		},
		Capture: CaptureConfig{
			Strategies:      []string{StrategyRTSP, StrategyHTTP, StrategyScreengrab},
			Duration:        8 * time.Second,
			StrategyTimeout: 20 * time.Second,
			MinViableBytes:  1000,
			FFmpegBin:       "ffmpeg",
			RTSPPreflight:   true,
		},
		Classifier: ClassifierConfig{
			TargetColor:         "green",
			FrameSampleLimit:    30,
			FrameThreshold:      0.6,
			VideoThreshold:      0.7,
			Mode:                AnalysisAuto,
			HeuristicFloorBytes: 10 * 1024,
		},
		Output: OutputConfig{
			Dir:          "test_output",
			LogTailLines: 50,
		},
		Teardown: TeardownConfig{
			Timeout: 15 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Exporter:     "http",
			SamplingRate: 1.0,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
