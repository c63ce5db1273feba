// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/helixml/hyprmoon/internal/log"
	"github.com/helixml/hyprmoon/internal/metrics"
	"github.com/helixml/hyprmoon/internal/procgroup"
)

const (
	defaultStdoutLimit = 64 << 20 // capture artifacts can arrive on stdout
	defaultStderrLines = 100
	defaultGrace       = 2 * time.Second
)

// OS runs commands on the host in their own process group.
type OS struct {
	// StdoutLimit caps captured stdout bytes.
	StdoutLimit int
	// StderrLines is the number of trailing stderr lines kept.
	StderrLines int
	// Grace is the SIGTERM to SIGKILL window on timeout.
	Grace time.Duration
}

// NewOS returns an OS executor with default limits.
func NewOS() *OS {
	return &OS{
		StdoutLimit: defaultStdoutLimit,
		StderrLines: defaultStderrLines,
		Grace:       defaultGrace,
	}
}

// Run implements Executor.
func (e *OS) Run(ctx context.Context, c Command) (Result, error) {
	logger := log.WithComponentFromContext(ctx, "executor")

	runCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	stdout := &cappedBuffer{max: e.stdoutLimit()}
	stderr := &lineWriter{ring: NewRingBuffer(e.stderrLines())}

	// #nosec G204 -- command lines are assembled from operator configuration
	cmd := exec.Command(c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Orphaned grandchildren holding the pipes must not block Wait forever.
	cmd.WaitDelay = e.grace()
	procgroup.Set(cmd)

	logger.Debug().Str("cmd", c.String()).Dur("timeout", c.Timeout).Msg("exec")

	start := time.Now()
	if err := cmd.Start(); err != nil {
		metrics.ObserveCommand(c.Tool(), "spawn_error", 0)
		return Result{ExitCode: -1}, fmt.Errorf("start %s: %w", c.Tool(), err)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var (
		waitErr  error
		timedOut bool
	)
	select {
	case waitErr = <-waitCh:
	case <-runCtx.Done():
		timedOut = true
		_ = procgroup.Terminate(cmd, waitCh, e.grace())
	}
	stderr.flush()

	res := Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.ring.GetAll(),
		Duration: time.Since(start),
		TimedOut: timedOut,
	}

	outcome := "ok"
	switch {
	case timedOut:
		res.ExitCode = -1
		outcome = "timeout"
	case waitErr == nil:
		res.ExitCode = 0
	default:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else if cmd.ProcessState != nil {
			res.ExitCode = cmd.ProcessState.ExitCode()
		} else {
			res.ExitCode = -1
		}
		outcome = "nonzero"
	}
	metrics.ObserveCommand(c.Tool(), outcome, res.Duration.Seconds())

	logger.Debug().
		Str("tool", c.Tool()).
		Int("exit_code", res.ExitCode).
		Bool("timed_out", res.TimedOut).
		Bool("stdout_truncated", stdout.truncated).
		Dur("duration", res.Duration).
		Msg("exec finished")

	// Parent cancellation is distinct from the command's own timeout.
	if timedOut && ctx.Err() != nil {
		return res, fmt.Errorf("%s interrupted: %w", c.Tool(), ctx.Err())
	}
	return res, nil
}

func (e *OS) stdoutLimit() int {
	if e.StdoutLimit > 0 {
		return e.StdoutLimit
	}
	return defaultStdoutLimit
}

func (e *OS) stderrLines() int {
	if e.StderrLines > 0 {
		return e.StderrLines
	}
	return defaultStderrLines
}

func (e *OS) grace() time.Duration {
	if e.Grace > 0 {
		return e.Grace
	}
	return defaultGrace
}
