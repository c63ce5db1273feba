// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package verification

import (
	"time"

	"github.com/helixml/hyprmoon/internal/capture"
	"github.com/helixml/hyprmoon/internal/classify"
	"github.com/helixml/hyprmoon/internal/environment"
	"github.com/helixml/hyprmoon/internal/moonlight"
)

// State is a pipeline position.
type State string

const (
	StateInit             State = "INIT"
	StateEnvStarted       State = "ENV_STARTED"
	StateEnvHealthy       State = "ENV_HEALTHY"
	StateMetadataObtained State = "METADATA_OBTAINED"
	StatePairingAttempted State = "PAIRING_ATTEMPTED"
	StateArtifactCaptured State = "ARTIFACT_CAPTURED"
	StateClassified       State = "CLASSIFIED"
	StateReported         State = "REPORTED"
)

// Event advances the pipeline.
type Event string

const (
	EventEnvStarted       Event = "env_started"
	EventEnvHealthy       Event = "env_healthy"
	EventMetadataObtained Event = "metadata_obtained"
	EventPairingAttempted Event = "pairing_attempted"
	EventArtifactCaptured Event = "artifact_captured"
	EventClassified       Event = "classified"
	EventFinalize         Event = "finalize"
)

// Stage names as they appear in reports, metrics and spans.
const (
	StageEnvStart     = "env_start"
	StageEnvHealth    = "env_health"
	StageMetadata     = "metadata"
	StagePairing      = "pairing"
	StageClientMarker = "client_marker"
	StageCapture      = "capture"
	StageClassify     = "classify"
)

// StageStatus is the recorded result of one stage.
type StageStatus string

const (
	StatusNotRun  StageStatus = "not_run"
	StatusPassed  StageStatus = "passed"
	StatusFailed  StageStatus = "failed"
	StatusSkipped StageStatus = "skipped"
)

// OutcomeKind tags a stage result. Only hard failures halt the pipeline.
type OutcomeKind string

const (
	OutcomeSuccess     OutcomeKind = "success"
	OutcomeSoftFailure OutcomeKind = "soft_failure"
	OutcomeHardFailure OutcomeKind = "hard_failure"
)

// Outcome is what a stage hands back to the orchestrator.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
}

func success() Outcome           { return Outcome{Kind: OutcomeSuccess} }
func soft(reason string) Outcome { return Outcome{Kind: OutcomeSoftFailure, Reason: reason} }
func hard(reason string) Outcome { return Outcome{Kind: OutcomeHardFailure, Reason: reason} }

// Failed reports whether the stage did not succeed.
func (o Outcome) Failed() bool { return o.Kind != OutcomeSuccess }

func (o Outcome) status() StageStatus {
	if o.Failed() {
		return StatusFailed
	}
	return StatusPassed
}

// StageResult is one row of the report.
type StageResult struct {
	Stage    string        `json:"stage"`
	Status   StageStatus   `json:"status"`
	Reason   string        `json:"reason,omitempty"`
	Soft     bool          `json:"soft,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// EnvironmentSummary identifies the runtime instance a run used.
type EnvironmentSummary struct {
	Name        string              `json:"name"`
	ContainerID string              `json:"container_id,omitempty"`
	Host        string              `json:"host"`
	Ports       environment.PortSet `json:"ports"`
	OutputDir   string              `json:"output_dir"`
}

// Report is the complete result of one verification run. It is always
// produced, whatever failed.
type Report struct {
	RunID           string                    `json:"run_id"`
	StartedAt       time.Time                 `json:"started_at"`
	FinishedAt      time.Time                 `json:"finished_at"`
	Passed          bool                      `json:"passed"`
	Interrupted     bool                      `json:"interrupted,omitempty"`
	FinalState      State                     `json:"final_state"`
	LastState       State                     `json:"last_state"`
	FailedStage     string                    `json:"failed_stage,omitempty"`
	Stages          []StageResult             `json:"stages"`
	Environment     *EnvironmentSummary       `json:"environment,omitempty"`
	Metadata        *moonlight.ServerMetadata `json:"metadata,omitempty"`
	Pairing         *moonlight.PairingSession `json:"pairing,omitempty"`
	ClientMarker    bool                      `json:"client_marker"`
	Artifact        *capture.Artifact         `json:"artifact,omitempty"`
	CaptureFailures []capture.Failure         `json:"capture_failures,omitempty"`
	Verdict         *classify.Verdict         `json:"verdict,omitempty"`
	AllowDegraded   bool                      `json:"allow_degraded,omitempty"`
	TeardownError   string                    `json:"teardown_error,omitempty"`
	Logs            string                    `json:"logs,omitempty"`
}

// Duration is the wall time of the run.
func (r *Report) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// Stage returns the named stage result.
func (r *Report) Stage(name string) (StageResult, bool) {
	for _, s := range r.Stages {
		if s.Stage == name {
			return s, true
		}
	}
	return StageResult{}, false
}

func (r *Report) set(res StageResult) {
	for i := range r.Stages {
		if r.Stages[i].Stage == res.Stage {
			r.Stages[i] = res
			return
		}
	}
	r.Stages = append(r.Stages, res)
}
