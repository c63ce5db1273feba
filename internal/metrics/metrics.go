// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics provides Prometheus metrics for a verification run.
//
// Metrics live on a dedicated registry so the textfile export only carries
// harness series. No run_id or container name in labels.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every harness metric.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// StageTotal counts stage outcomes.
	StageTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "hyprmoon_verify_stage_total",
		Help: "Total number of verification stages, by stage and status.",
	}, []string{"stage", "status"})

	// StageDuration tracks how long each stage took.
	StageDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hyprmoon_verify_stage_duration_seconds",
		Help:    "Duration of verification stages.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 45, 60, 120},
	}, []string{"stage"})

	// CaptureAttemptsTotal counts capture strategy attempts.
	CaptureAttemptsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "hyprmoon_verify_capture_attempts_total",
		Help: "Total number of capture attempts, by strategy and outcome.",
	}, []string{"strategy", "outcome"})

	// PollAttemptsTotal counts bounded polling attempts.
	PollAttemptsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "hyprmoon_verify_poll_attempts_total",
		Help: "Total number of polling attempts, by probe and result.",
	}, []string{"probe", "result"})

	// CommandDuration tracks external tool invocations.
	CommandDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hyprmoon_verify_command_duration_seconds",
		Help:    "Duration of external commands, by tool and outcome.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2.5, 10), // 10ms to ~38s
	}, []string{"tool", "outcome"})

	// ClassifierConfidence is the confidence of the last verdict.
	ClassifierConfidence = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hyprmoon_verify_classifier_confidence",
		Help: "Confidence of the most recent classification, by method.",
	}, []string{"method"})

	// RunPassed is 1 when the last run passed and 0 otherwise.
	RunPassed = factory.NewGauge(prometheus.GaugeOpts{
		Name: "hyprmoon_verify_run_passed",
		Help: "Whether the most recent verification run passed.",
	})

	// ProcTerminateTotal counts termination signals sent to process groups.
	ProcTerminateTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "hyprmoon_verify_proc_terminate_total",
		Help: "Total number of termination signals, by signal and result.",
	}, []string{"signal", "result"})

	// ProcWaitTotal counts how terminated process groups exited.
	ProcWaitTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "hyprmoon_verify_proc_wait_total",
		Help: "Total number of reaped process groups, by outcome.",
	}, []string{"outcome"})
)

// ObserveStage records the outcome and duration of one stage.
func ObserveStage(stage, status string, seconds float64) {
	StageTotal.WithLabelValues(stage, status).Inc()
	StageDuration.WithLabelValues(stage).Observe(seconds)
}

// IncCaptureAttempt records one capture strategy attempt.
func IncCaptureAttempt(strategy, outcome string) {
	CaptureAttemptsTotal.WithLabelValues(strategy, outcome).Inc()
}

// IncPollAttempt records one polling attempt.
func IncPollAttempt(probe string, ok bool) {
	result := "miss"
	if ok {
		result = "hit"
	}
	PollAttemptsTotal.WithLabelValues(probe, result).Inc()
}

// ObserveCommand records one external command invocation.
func ObserveCommand(tool, outcome string, seconds float64) {
	CommandDuration.WithLabelValues(tool, outcome).Observe(seconds)
}

// SetVerdict records the last classifier result.
func SetVerdict(method string, confidence float64) {
	ClassifierConfidence.WithLabelValues(method).Set(confidence)
}

// SetRunPassed records the final run outcome.
func SetRunPassed(passed bool) {
	if passed {
		RunPassed.Set(1)
		return
	}
	RunPassed.Set(0)
}

// IncProcTerminate records a termination signal sent to a process group.
func IncProcTerminate(signal, result string) {
	ProcTerminateTotal.WithLabelValues(signal, result).Inc()
}

// IncProcWait records how a terminated process group exited.
func IncProcWait(outcome string) {
	ProcWaitTotal.WithLabelValues(outcome).Inc()
}

// WriteTextfile writes the registry in the node_exporter textfile format.
// The write is atomic.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
