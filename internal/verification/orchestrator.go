// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package verification sequences one end-to-end verification run: start an
// isolated environment, probe the streaming service, capture what it shows,
// classify it, tear everything down and report.
package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/helixml/hyprmoon/internal/capture"
	"github.com/helixml/hyprmoon/internal/classify"
	"github.com/helixml/hyprmoon/internal/config"
	"github.com/helixml/hyprmoon/internal/environment"
	"github.com/helixml/hyprmoon/internal/log"
	"github.com/helixml/hyprmoon/internal/metrics"
	"github.com/helixml/hyprmoon/internal/moonlight"
	"github.com/helixml/hyprmoon/internal/pipeline/fsm"
	"github.com/helixml/hyprmoon/internal/telemetry"
)

// ErrHealthTimeout is recorded when the environment never became healthy.
var ErrHealthTimeout = errors.New("environment not healthy before deadline")

// Environment controls the isolated runtime.
type Environment interface {
	Start(ctx context.Context, runID string) (*environment.Handle, error)
	WaitHealthy(ctx context.Context, h *environment.Handle, timeout time.Duration) bool
	FetchLogs(ctx context.Context, h *environment.Handle, tail int) string
	WaitForClientMarker(ctx context.Context, h *environment.Handle, timeout time.Duration) bool
	Stop(ctx context.Context, h *environment.Handle) error
}

// Prober talks to the streaming service.
type Prober interface {
	FetchServerMetadata(ctx context.Context, t moonlight.Target) (*moonlight.ServerMetadata, error)
	AttemptPairing(ctx context.Context, t moonlight.Target, clientID string) moonlight.PairingSession
}

// Capturer produces one artifact or a *capture.ExhaustedError.
type Capturer interface {
	Run(ctx context.Context, t capture.Target) (*capture.Artifact, error)
}

// Classifier judges an artifact.
type Classifier interface {
	Classify(ctx context.Context, art *capture.Artifact) classify.Verdict
}

// Options tunes the orchestrator.
type Options struct {
	HealthTimeout       time.Duration
	ClientMarkerTimeout time.Duration
	TeardownTimeout     time.Duration
	LogTailLines        int
	AllowDegraded       bool

	NewRunID func() string
	Now      func() time.Time
}

// OptionsFromConfig maps configuration onto Options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		HealthTimeout:       cfg.Health.Timeout,
		ClientMarkerTimeout: cfg.Health.ClientMarkerTimeout,
		TeardownTimeout:     cfg.Teardown.Timeout,
		LogTailLines:        cfg.Output.LogTailLines,
		AllowDegraded:       cfg.Classifier.AllowDegraded,
	}
}

// Orchestrator runs verification pipelines. It holds no per-run state and
// may be reused; every Run starts a fresh environment.
type Orchestrator struct {
	env        Environment
	probe      Prober
	capturer   Capturer
	classifier Classifier
	opts       Options
}

// New returns an Orchestrator over its collaborators.
func New(env Environment, probe Prober, capturer Capturer, classifier Classifier, opts Options) *Orchestrator {
	if opts.TeardownTimeout <= 0 {
		opts.TeardownTimeout = 15 * time.Second
	}
	if opts.LogTailLines <= 0 {
		opts.LogTailLines = 50
	}
	if opts.NewRunID == nil {
		opts.NewRunID = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{env: env, probe: probe, capturer: capturer, classifier: classifier, opts: opts}
}

type step struct {
	stage string
	event Event
	run   func(ctx context.Context) Outcome
}

// run carries the state of a single pipeline execution.
type run struct {
	o       *Orchestrator
	report  *Report
	handle  *environment.Handle
	machine *fsm.Machine[State, Event]
}

// Run executes one pipeline and always returns a complete report. Operator
// interruption through ctx skips straight to teardown.
func (o *Orchestrator) Run(ctx context.Context) *Report {
	runID := o.opts.NewRunID()
	ctx = log.ContextWithRunID(ctx, runID)
	logger := log.WithComponentFromContext(ctx, "verification")
	ctx, span := telemetry.StartStage(ctx, "run", attribute.String(telemetry.RunIDKey, runID))

	r := &run{
		o: o,
		report: &Report{
			RunID:         runID,
			StartedAt:     o.opts.Now(),
			FinalState:    StateInit,
			AllowDegraded: o.opts.AllowDegraded,
		},
	}
	steps := r.steps()
	for _, s := range steps {
		r.report.Stages = append(r.report.Stages, StageResult{Stage: s.stage, Status: StatusNotRun})
	}

	machine, err := fsm.New(StateInit, transitions(r.finalize))
	if err != nil {
		logger.Error().Err(err).Msg("invalid pipeline definition")
		r.report.FailedStage = "init"
		r.report.FinishedAt = o.opts.Now()
		telemetry.EndSpan(span, err)
		return r.report
	}
	machine.OnTransition = func(st fsm.Step[State, Event]) {
		logger.Debug().
			Str(log.FieldOldState, string(st.From)).
			Str(log.FieldNewState, string(st.To)).
			Str(log.FieldEvent, string(st.Event)).
			Msg("pipeline transition")
	}
	r.machine = machine

	logger.Info().Str(log.FieldEvent, "run.started").Msg("verification run started")

	for _, s := range steps {
		if ctx.Err() != nil {
			r.report.Interrupted = true
			break
		}
		out := r.runStage(ctx, s)
		if out.Kind == OutcomeHardFailure {
			r.report.FailedStage = s.stage
			break
		}
		if s.event == "" {
			continue
		}
		if _, err := machine.Fire(ctx, s.event); err != nil {
			logger.Error().Err(err).Str(log.FieldStage, s.stage).Msg("pipeline transition rejected")
			r.report.FailedStage = s.stage
			break
		}
	}

	if _, err := machine.Fire(ctx, EventFinalize); err != nil {
		logger.Error().Err(err).Msg("finalisation transition rejected")
	}
	r.report.FinalState = machine.State()

	span.SetAttributes(attribute.Bool(telemetry.RunPassedKey, r.report.Passed))
	var runErr error
	if !r.report.Passed {
		runErr = fmt.Errorf("verification failed at %s", r.failedAt())
	}
	telemetry.EndSpan(span, runErr)

	logger.Info().
		Str(log.FieldEvent, "run.finished").
		Bool("passed", r.report.Passed).
		Bool("interrupted", r.report.Interrupted).
		Str("failed_stage", r.report.FailedStage).
		Dur("duration", r.report.Duration()).
		Msg("verification run finished")
	return r.report
}

func (r *run) steps() []step {
	return []step{
		{stage: StageEnvStart, event: EventEnvStarted, run: r.startEnvironment},
		{stage: StageEnvHealth, event: EventEnvHealthy, run: r.waitHealthy},
		{stage: StageMetadata, event: EventMetadataObtained, run: r.fetchMetadata},
		{stage: StagePairing, event: EventPairingAttempted, run: r.attemptPairing},
		{stage: StageClientMarker, run: r.waitClientMarker},
		{stage: StageCapture, event: EventArtifactCaptured, run: r.captureArtifact},
		{stage: StageClassify, event: EventClassified, run: r.classifyArtifact},
	}
}

// transitions is the forward chain plus a finalize edge from every
// non-terminal state.
func transitions(finalize func(ctx context.Context, from, to State, ev Event) error) []fsm.Transition[State, Event] {
	forward := []fsm.Transition[State, Event]{
		{From: StateInit, Event: EventEnvStarted, To: StateEnvStarted},
		{From: StateEnvStarted, Event: EventEnvHealthy, To: StateEnvHealthy},
		{From: StateEnvHealthy, Event: EventMetadataObtained, To: StateMetadataObtained},
		{From: StateMetadataObtained, Event: EventPairingAttempted, To: StatePairingAttempted},
		{From: StatePairingAttempted, Event: EventArtifactCaptured, To: StateArtifactCaptured},
		{From: StateArtifactCaptured, Event: EventClassified, To: StateClassified},
	}
	for _, s := range []State{
		StateInit, StateEnvStarted, StateEnvHealthy, StateMetadataObtained,
		StatePairingAttempted, StateArtifactCaptured, StateClassified,
	} {
		forward = append(forward, fsm.Transition[State, Event]{From: s, Event: EventFinalize, To: StateReported, Action: finalize})
	}
	return forward
}

func (r *run) runStage(ctx context.Context, s step) Outcome {
	logger := log.WithComponentFromContext(ctx, "verification").With().Str(log.FieldStage, s.stage).Logger()
	sctx := log.ContextWithStage(ctx, s.stage)
	sctx, span := telemetry.StartStage(sctx, s.stage)

	start := r.o.opts.Now()
	out := s.run(sctx)
	elapsed := r.o.opts.Now().Sub(start)

	if out.Failed() && ctx.Err() != nil {
		r.report.Interrupted = true
		out.Reason = "interrupted: " + out.Reason
	}

	res := StageResult{
		Stage:    s.stage,
		Status:   out.status(),
		Reason:   out.Reason,
		Soft:     out.Kind == OutcomeSoftFailure,
		Duration: elapsed,
	}
	r.report.set(res)
	metrics.ObserveStage(s.stage, string(res.Status), elapsed.Seconds())

	var spanErr error
	if out.Failed() {
		spanErr = errors.New(out.Reason)
		span.SetAttributes(telemetry.ErrorAttributes(spanErr, string(out.Kind))...)
	}
	span.SetAttributes(attribute.String(telemetry.StageStatus, string(res.Status)))
	telemetry.EndSpan(span, spanErr)

	switch out.Kind {
	case OutcomeSuccess:
		logger.Info().Str(log.FieldEvent, "stage.passed").Dur("duration", elapsed).Msg("stage passed")
	case OutcomeSoftFailure:
		logger.Warn().Str(log.FieldEvent, "stage.soft_failed").Str(log.FieldReason, out.Reason).Msg("stage failed, continuing")
	default:
		logger.Error().Str(log.FieldEvent, "stage.failed").Str(log.FieldReason, out.Reason).Msg("stage failed, aborting")
	}
	return out
}

func (r *run) startEnvironment(ctx context.Context) Outcome {
	h, err := r.o.env.Start(ctx, r.report.RunID)
	if h != nil {
		r.handle = h
		r.report.Environment = &EnvironmentSummary{
			Name:        h.Name,
			ContainerID: h.ContainerID,
			Host:        h.Host,
			Ports:       h.Ports,
			OutputDir:   h.OutputDir,
		}
	}
	if err != nil {
		return hard(err.Error())
	}
	if h == nil {
		return hard("environment start returned no handle")
	}
	return success()
}

func (r *run) waitHealthy(ctx context.Context) Outcome {
	if !r.o.env.WaitHealthy(ctx, r.handle, r.o.opts.HealthTimeout) {
		return hard(fmt.Sprintf("%v (%s)", ErrHealthTimeout, r.o.opts.HealthTimeout))
	}
	return success()
}

func (r *run) probeTarget() moonlight.Target {
	return moonlight.Target{Host: r.handle.Host, HTTPPort: r.handle.Ports.HTTP, HTTPSPort: r.handle.Ports.HTTPS}
}

func (r *run) fetchMetadata(ctx context.Context) Outcome {
	md, err := r.o.probe.FetchServerMetadata(ctx, r.probeTarget())
	if err != nil {
		return hard(err.Error())
	}
	r.report.Metadata = md
	return success()
}

func (r *run) attemptPairing(ctx context.Context) Outcome {
	session := r.o.probe.AttemptPairing(ctx, r.probeTarget(), moonlight.NewClientID())
	r.report.Pairing = &session
	if !session.Initiated() {
		return soft("pairing not initiated: " + session.Reason)
	}
	return success()
}

func (r *run) waitClientMarker(ctx context.Context) Outcome {
	seen := r.o.env.WaitForClientMarker(ctx, r.handle, r.o.opts.ClientMarkerTimeout)
	r.report.ClientMarker = seen
	if !seen {
		return soft(fmt.Sprintf("client start marker not seen within %s", r.o.opts.ClientMarkerTimeout))
	}
	return success()
}

func (r *run) captureArtifact(ctx context.Context) Outcome {
	h := r.handle
	art, err := r.o.capturer.Run(ctx, capture.Target{
		Host:               h.Host,
		HTTPPort:           h.Ports.HTTP,
		RTSPPort:           h.Ports.RTSP,
		ContainerName:      h.Name,
		OutputDir:          h.OutputDir,
		ContainerOutputDir: environment.ContainerOutputDir,
	})
	if err != nil {
		var exhausted *capture.ExhaustedError
		if errors.As(err, &exhausted) {
			r.report.CaptureFailures = exhausted.Failures
		}
		return hard(err.Error())
	}
	r.report.Artifact = art
	trace.SpanFromContext(ctx).SetAttributes(telemetry.CaptureAttributes(art.Strategy, art.Size, string(art.Kind))...)
	return success()
}

func (r *run) classifyArtifact(ctx context.Context) Outcome {
	v := r.o.classifier.Classify(ctx, r.report.Artifact)
	r.report.Verdict = &v
	metrics.SetVerdict(string(v.Method), v.Confidence)
	trace.SpanFromContext(ctx).SetAttributes(telemetry.VerdictAttributes(v.Matching, v.Confidence, string(v.Method), v.FramesExamined)...)

	if v.Passes(r.o.opts.AllowDegraded) {
		return success()
	}
	r.report.FailedStage = StageClassify
	return soft(verdictReason(v, r.o.opts.AllowDegraded))
}

func verdictReason(v classify.Verdict, allowDegraded bool) string {
	switch {
	case v.Method == classify.MethodUndecodable:
		return "artifact could not be decoded"
	case v.Degraded && v.Matching && !allowDegraded:
		return "degraded size-heuristic verdict not accepted"
	case !v.Matching:
		return fmt.Sprintf("not matching (confidence %.2f, threshold %.2f)", v.Confidence, v.Threshold)
	default:
		return fmt.Sprintf("confidence %.2f not above threshold %.2f", v.Confidence, v.Threshold)
	}
}

// finalize is the action of every finalize edge. Errors are recorded in the
// report, never returned, so REPORTED is always reached.
func (r *run) finalize(ctx context.Context, from, _ State, _ Event) error {
	logger := log.WithComponentFromContext(ctx, "verification")
	fctx := context.WithoutCancel(ctx)
	rep := r.report
	rep.LastState = from
	rep.Passed = r.passed()

	if !rep.Passed && r.handle != nil {
		rep.Logs = r.o.env.FetchLogs(fctx, r.handle, r.o.opts.LogTailLines)
	}

	if r.handle != nil {
		stopCtx, cancel := context.WithTimeout(fctx, r.o.opts.TeardownTimeout)
		err := r.o.env.Stop(stopCtx, r.handle)
		cancel()
		if err != nil {
			rep.TeardownError = err.Error()
			logger.Warn().Err(err).Str(log.FieldEvent, "run.teardown_failed").Msg("teardown reported errors")
		}
	}

	for i := range rep.Stages {
		if rep.Stages[i].Status == StatusNotRun {
			rep.Stages[i].Status = StatusSkipped
			metrics.ObserveStage(rep.Stages[i].Stage, string(StatusSkipped), 0)
		}
	}
	rep.FinishedAt = r.o.opts.Now()
	metrics.SetRunPassed(rep.Passed)
	return nil
}

func (r *run) passed() bool {
	rep := r.report
	if rep.Interrupted || rep.Artifact == nil || rep.Verdict == nil {
		return false
	}
	if rep.FailedStage != "" {
		return false
	}
	return rep.Verdict.Passes(rep.AllowDegraded)
}

func (r *run) failedAt() string {
	if r.report.FailedStage != "" {
		return r.report.FailedStage
	}
	if r.report.Interrupted {
		return "interruption"
	}
	return string(r.report.LastState)
}
