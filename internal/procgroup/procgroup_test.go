// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build linux

package procgroup

import (
	"errors"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminate_KillsWholeGroup(t *testing.T) {
	// The shell ignores SIGTERM so escalation to SIGKILL is exercised.
	cmd := exec.Command("bash", "-c", "trap '' TERM; sleep 10 & sleep 10")
	Set(cmd)
	require.NoError(t, cmd.Start())

	pid := cmd.Process.Pid
	pgid, err := syscall.Getpgid(pid)
	require.NoError(t, err)
	assert.Equal(t, pid, pgid, "process should be group leader")

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	time.Sleep(100 * time.Millisecond)
	start := time.Now()
	err = Terminate(cmd, waitCh, 200*time.Millisecond)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			assert.True(t, status.Signaled())
		}
	}

	time.Sleep(50 * time.Millisecond)
	err = syscall.Kill(-pgid, syscall.Signal(0))
	if err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		t.Fatalf("process group %d still exists after Terminate", pgid)
	}
	assert.ErrorIs(t, err, syscall.ESRCH)
}

func TestTerminate_ExitsOnSIGTERM(t *testing.T) {
	cmd := exec.Command("sleep", "10")
	Set(cmd)
	require.NoError(t, cmd.Start())

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	start := time.Now()
	_ = Terminate(cmd, waitCh, 5*time.Second)
	assert.Less(t, time.Since(start), 2*time.Second, "SIGTERM should end sleep before grace elapses")
}

func TestTerminate_NilCommand(t *testing.T) {
	assert.NoError(t, Terminate(nil, nil, time.Millisecond))
	assert.NoError(t, Kill(&exec.Cmd{}, syscall.SIGKILL))
}
