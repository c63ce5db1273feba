// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package executor runs external tools (container CLI, ffmpeg) with bounded
// time. Every other component that needs a process goes through the
// Executor interface so tests can substitute a Fake.
package executor

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Executor runs a single external command to completion.
//
// A command that exceeds its Timeout is reported as Result{TimedOut: true,
// ExitCode: -1} with a nil error. Only failures to spawn (binary missing,
// permission denied) and parent context cancellation return an error.
type Executor interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// Command describes one invocation.
type Command struct {
	Name    string
	Args    []string
	Env     []string // appended to the parent environment
	Dir     string
	Timeout time.Duration // zero means bounded only by ctx
}

// Tool is the base name of the binary, used as a metrics label.
func (c Command) Tool() string {
	return filepath.Base(c.Name)
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Result is the observable outcome of a command.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []string // last lines only
	Duration time.Duration
	TimedOut bool
}

// OK reports a clean zero exit.
func (r Result) OK() bool {
	return r.ExitCode == 0 && !r.TimedOut
}

// StderrTail joins the last n stderr lines.
func (r Result) StderrTail(n int) string {
	lines := r.Stderr
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// Reason summarises a failed result for reports.
func (r Result) Reason() string {
	switch {
	case r.TimedOut:
		return "timeout"
	case r.ExitCode != 0:
		if tail := r.StderrTail(1); tail != "" {
			return "exit " + strconv.Itoa(r.ExitCode) + ": " + tail
		}
		return "exit " + strconv.Itoa(r.ExitCode)
	default:
		return ""
	}
}
