// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package capture obtains a visual artifact from a running environment by
// trying capture strategies in a fixed order until one yields a viable file.
package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/helixml/hyprmoon/internal/log"
	"github.com/helixml/hyprmoon/internal/metrics"
	"github.com/helixml/hyprmoon/internal/telemetry"
)

// ErrNoArtifact is returned by a strategy that ran but produced nothing usable.
var ErrNoArtifact = errors.New("no artifact")

// Target is where and how a strategy can reach the environment.
type Target struct {
	Host               string
	HTTPPort           int
	RTSPPort           int
	ContainerName      string
	OutputDir          string // host side of the output mount
	ContainerOutputDir string // runtime side of the output mount
}

// Strategy is one way of producing an artifact.
type Strategy interface {
	Name() string
	Capture(ctx context.Context, t Target, budget time.Duration) (*Artifact, error)
}

// Failure records why one strategy yielded no artifact.
type Failure struct {
	Strategy string `json:"strategy"`
	Reason   string `json:"reason"`
}

// ExhaustedError is returned when every strategy failed.
type ExhaustedError struct {
	Failures []Failure
	Err      error // set when the run was interrupted
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Strategy+": "+f.Reason)
	}
	return "capture exhausted: " + strings.Join(parts, "; ")
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Chain runs strategies in order and stops at the first viable artifact.
type Chain struct {
	strategies []Strategy
	minViable  int64
	budget     time.Duration
}

// NewChain builds a chain. Artifacts of minViable bytes or fewer count as no artifact.
func NewChain(minViable int64, budget time.Duration, strategies ...Strategy) *Chain {
	return &Chain{strategies: strategies, minViable: minViable, budget: budget}
}

// Strategies returns the strategy names in order.
func (c *Chain) Strategies() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return names
}

// Run tries each strategy once. Each gets its own timeout; a timeout or
// error is recorded and the next strategy runs.
func (c *Chain) Run(ctx context.Context, t Target) (*Artifact, error) {
	logger := log.WithComponentFromContext(ctx, "capture")
	var failures []Failure

	for _, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			failures = append(failures, Failure{Strategy: s.Name(), Reason: "interrupted"})
			return nil, &ExhaustedError{Failures: failures, Err: err}
		}

		art, reason := c.attempt(ctx, s, t)
		if reason == "" {
			metrics.IncCaptureAttempt(s.Name(), "ok")
			logger.Info().
				Str(log.FieldEvent, "capture.succeeded").
				Str(log.FieldStrategy, s.Name()).
				Int64(log.FieldBytes, art.Size).
				Str(log.FieldMediaKind, string(art.Kind)).
				Str(log.FieldPath, art.Path).
				Msg("artifact captured")
			return art, nil
		}

		metrics.IncCaptureAttempt(s.Name(), outcomeLabel(reason))
		logger.Warn().
			Str(log.FieldEvent, "capture.strategy_failed").
			Str(log.FieldStrategy, s.Name()).
			Str(log.FieldReason, reason).
			Msg("capture strategy yielded no artifact")
		failures = append(failures, Failure{Strategy: s.Name(), Reason: reason})
	}

	if len(failures) == 0 {
		failures = append(failures, Failure{Strategy: "-", Reason: "no strategies configured"})
	}
	return nil, &ExhaustedError{Failures: failures, Err: ctx.Err()}
}

func (c *Chain) attempt(ctx context.Context, s Strategy, t Target) (*Artifact, string) {
	sctx := ctx
	if c.budget > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, c.budget)
		defer cancel()
	}
	sctx, span := telemetry.Tracer(telemetry.TracerName).Start(sctx, "capture."+s.Name())
	defer span.End()

	art, err := s.Capture(sctx, t, c.budget)
	switch {
	case err != nil:
		span.RecordError(err)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, "timeout"
		}
		return nil, err.Error()
	case art == nil:
		return nil, ErrNoArtifact.Error()
	case art.Size <= c.minViable:
		return nil, fmt.Sprintf("artifact too small (%d bytes)", art.Size)
	}
	span.SetAttributes(telemetry.CaptureAttributes(s.Name(), art.Size, string(art.Kind))...)
	return art, ""
}

func outcomeLabel(reason string) string {
	switch {
	case reason == "timeout":
		return "timeout"
	case strings.HasPrefix(reason, "artifact too small"):
		return "too_small"
	case reason == ErrNoArtifact.Error():
		return "empty"
	default:
		return "error"
	}
}
