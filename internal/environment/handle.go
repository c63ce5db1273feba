// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package environment

import (
	"errors"
	"fmt"
	"sync"

	"github.com/helixml/hyprmoon/internal/fsutil"
)

// State is the lifecycle state of a Handle.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateFailed   State = "failed"
	StateStopped  State = "stopped"
)

// ErrHandleStopped is returned for operations on a stopped handle.
var ErrHandleStopped = errors.New("environment handle already stopped")

// StartError reports why the runtime could not be brought up.
type StartError struct {
	Reason string
	Err    error
}

func (e *StartError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("environment start failed: %s: %v", e.Reason, e.Err)
	}
	return "environment start failed: " + e.Reason
}

func (e *StartError) Unwrap() error { return e.Err }

// Handle is a live (or formerly live) runtime instance. A Handle is owned
// by exactly one run and is never reused once stopped.
type Handle struct {
	RunID       string
	Name        string
	Host        string
	Ports       PortSet
	OutputDir   string
	ContainerID string
	ConfigPath  string

	mu      sync.Mutex
	state   State
	created bool
	tracker *fsutil.Tracker
}

// NewHandle builds a handle for an already running environment, for example
// one started outside the harness.
func NewHandle(runID, name, host string, ports PortSet, outputDir string) *Handle {
	return &Handle{
		RunID:     runID,
		Name:      name,
		Host:      host,
		Ports:     ports,
		OutputDir: outputDir,
		state:     StateRunning,
		tracker:   fsutil.NewTracker(),
	}
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	if h == nil {
		return StateStopped
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handle) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

func (h *Handle) stopped() bool {
	return h == nil || h.State() == StateStopped
}
