// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/helixml/hyprmoon/internal/capture"
	"github.com/helixml/hyprmoon/internal/classify"
	"github.com/helixml/hyprmoon/internal/config"
	"github.com/helixml/hyprmoon/internal/environment"
	"github.com/helixml/hyprmoon/internal/executor"
	"github.com/helixml/hyprmoon/internal/history"
	"github.com/helixml/hyprmoon/internal/log"
	"github.com/helixml/hyprmoon/internal/metrics"
	"github.com/helixml/hyprmoon/internal/moonlight"
	"github.com/helixml/hyprmoon/internal/report"
	"github.com/helixml/hyprmoon/internal/telemetry"
	"github.com/helixml/hyprmoon/internal/verification"
	"github.com/helixml/hyprmoon/internal/version"
)

const serviceName = "hyprmoon-verify"

// runOptions are command-line overrides. Flags win over env and file.
type runOptions struct {
	configPath    string
	outputDir     string
	reportJSON    string
	bundle        string
	metricsFile   string
	historyDB     string
	targetColor   string
	logLevel      string
	pretty        bool
	allowDegraded bool
}

func (o *runOptions) bind(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVarP(&o.configPath, "config", "c", "", "path to config file (YAML)")
	f.StringVar(&o.outputDir, "output-dir", "", "directory for captured evidence")
	f.StringVar(&o.reportJSON, "report-json", "", "write the JSON report to this path")
	f.StringVar(&o.bundle, "bundle", "", "write a tar.zst evidence bundle to this path")
	f.StringVar(&o.metricsFile, "metrics-file", "", "write Prometheus textfile metrics to this path")
	f.StringVar(&o.historyDB, "history-db", "", "record the run in this SQLite database")
	f.StringVar(&o.targetColor, "target-color", "", "expected screen colour (green, red, blue)")
	f.StringVar(&o.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	f.BoolVar(&o.pretty, "pretty", false, "human-readable log output")
	f.BoolVar(&o.allowDegraded, "allow-degraded", false, "accept size-heuristic verdicts as a pass")
}

// apply layers explicitly set flags over cfg.
func (o *runOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	set := func(name string) bool {
		fl := cmd.Flags().Lookup(name)
		return fl != nil && fl.Changed
	}
	if set("output-dir") {
		if abs, err := filepath.Abs(o.outputDir); err == nil {
			cfg.Output.Dir = abs
		}
	}
	if set("report-json") {
		cfg.Output.ReportJSON = o.reportJSON
	}
	if set("bundle") {
		cfg.Output.Bundle = o.bundle
	}
	if set("metrics-file") {
		cfg.Output.MetricsFile = o.metricsFile
	}
	if set("history-db") {
		cfg.Output.HistoryDB = o.historyDB
	}
	if set("target-color") {
		cfg.Classifier.TargetColor = o.targetColor
	}
	if set("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if set("pretty") {
		cfg.Log.Pretty = o.pretty
	}
	if set("allow-degraded") {
		cfg.Classifier.AllowDegraded = o.allowDegraded
	}
}

func loadConfig(cmd *cobra.Command, o *runOptions) (config.Config, error) {
	cfg, err := config.NewLoader(o.configPath).Load()
	if err != nil {
		return cfg, err
	}
	o.apply(cmd, &cfg)
	if err := config.Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// pipeline wires the production collaborators for cfg.
func pipeline(cfg config.Config) (*verification.Orchestrator, error) {
	exec := executor.NewOS()

	ctrl := environment.NewController(exec, environment.Options{
		Runtime:         cfg.Runtime,
		Ports:           cfg.Ports,
		Health:          cfg.Health,
		OutputDir:       cfg.Output.Dir,
		TargetColor:     cfg.Classifier.TargetColor,
		TeardownTimeout: cfg.Teardown.Timeout,
	})

	probe := moonlight.NewProbe(cfg.Probe)
	chain, err := capture.NewDefaultChain(exec, cfg.Runtime.Binary, cfg.Capture, cfg.Runtime.Resolution, probe.PreflightRTSP)
	if err != nil {
		return nil, err
	}

	classifier, err := classify.New(cfg.Classifier, &classify.FFmpegExtractor{Exec: exec, FFmpeg: cfg.Capture.FFmpegBin})
	if err != nil {
		return nil, err
	}

	return verification.New(ctrl, probe, chain, classifier, verification.OptionsFromConfig(cfg)), nil
}

func runVerify(cmd *cobra.Command, o *runOptions, stdout, stderr io.Writer) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd, o)
	if err != nil {
		return err
	}

	log.Configure(log.Config{
		Level:   cfg.Log.Level,
		Output:  stderr,
		Service: serviceName,
		Version: version.Version,
		Pretty:  cfg.Log.Pretty,
	})
	logger := log.WithComponent("cli")
	logger.Info().
		Str(log.FieldEvent, "config.loaded").
		Str("path", o.configPath).
		Str("output_dir", cfg.Output.Dir).
		Str("image", cfg.Runtime.Image).
		Msg("configuration loaded")

	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: version.Version,
		Environment:    "local",
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	if err := os.MkdirAll(cfg.Output.Dir, 0o750); err != nil {
		return fmt.Errorf("output dir: %w", err)
	}
	orch, err := pipeline(cfg)
	if err != nil {
		return err
	}

	rep := orch.Run(ctx)

	if err := report.WriteText(stdout, rep); err != nil {
		logger.Warn().Err(err).Msg("print report")
	}
	if err := writeOutputs(context.WithoutCancel(ctx), cfg.Output, rep); err != nil {
		logger.Warn().Err(err).Str(log.FieldEvent, "output.failed").Msg("some run outputs were not written")
	}

	if !rep.Passed {
		return errRunFailed
	}
	return nil
}

// writeOutputs persists the optional artifacts of a finished run. Every
// output is attempted; failures are joined.
func writeOutputs(ctx context.Context, out config.OutputConfig, rep *verification.Report) error {
	var errs []error
	if out.ReportJSON != "" {
		errs = append(errs, report.WriteJSON(out.ReportJSON, rep))
	}
	if out.Bundle != "" {
		errs = append(errs, report.WriteBundle(out.Bundle, rep))
	}
	if out.MetricsFile != "" {
		errs = append(errs, metrics.WriteTextfile(out.MetricsFile))
	}
	if out.HistoryDB != "" {
		errs = append(errs, recordHistory(ctx, out.HistoryDB, rep))
	}
	return errors.Join(errs...)
}

func recordHistory(ctx context.Context, path string, rep *verification.Report) error {
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Record(ctx, rep)
}
