// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package environment launches and tears down the isolated runtime that
// hosts the compositor, the streaming service and the known-visual-state
// client.
package environment

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/helixml/hyprmoon/internal/config"
	"github.com/helixml/hyprmoon/internal/executor"
	"github.com/helixml/hyprmoon/internal/fsutil"
	"github.com/helixml/hyprmoon/internal/log"
	"github.com/helixml/hyprmoon/internal/platform/httpx"
	"github.com/helixml/hyprmoon/internal/poll"
)

// Paths inside the runtime.
const (
	ContainerConfigPath = "/test_config/hyprland.conf"
	ContainerWorkspace  = "/workspace"
	ContainerOutputDir  = "/workspace/test_output"
)

const (
	namePrefix      = "hyprmoon-verify-"
	logsTimeout     = 10 * time.Second
	inspectTimeout  = 10 * time.Second
	healthPathInfo  = "/serverinfo"
	logsUnavailable = "<logs unavailable: %s>"
)

// Options configures a Controller.
type Options struct {
	Runtime         config.RuntimeConfig
	Ports           config.PortsConfig
	Health          config.HealthConfig
	OutputDir       string
	TargetColor     string
	TeardownTimeout time.Duration
}

// Controller starts, checks and stops runtime instances.
type Controller struct {
	exec   executor.Executor
	opts   Options
	ports  *PortAllocator
	client *http.Client
}

// NewController returns a Controller using exec for every runtime CLI call.
func NewController(exec executor.Executor, opts Options) *Controller {
	if opts.TeardownTimeout <= 0 {
		opts.TeardownTimeout = 15 * time.Second
	}
	return &Controller{
		exec:   exec,
		opts:   opts,
		ports:  defaultAllocator,
		client: httpx.NewClient(5 * time.Second),
	}
}

// ContainerName derives the run-scoped runtime name from a run ID.
func ContainerName(runID string) string {
	id := strings.ReplaceAll(runID, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return namePrefix + strings.ToLower(id)
}

// Start launches a new runtime instance. Once ports are reserved a handle is
// always returned, also on failure, so logs can be fetched and Stop stays safe.
func (c *Controller) Start(ctx context.Context, runID string) (*Handle, error) {
	logger := log.WithComponentFromContext(ctx, "environment")
	rt := c.opts.Runtime

	width, height, err := config.ParseResolution(rt.Resolution)
	if err != nil {
		return nil, &StartError{Reason: "invalid resolution", Err: err}
	}

	base := PortSet{HTTP: c.opts.Ports.HTTP, HTTPS: c.opts.Ports.HTTPS, RTSP: c.opts.Ports.RTSP, Control: c.opts.Ports.Control}
	ports, err := c.ports.Allocate(ctx, base, c.opts.Ports.Stride, c.opts.Ports.MaxAttempts)
	if err != nil {
		return nil, &StartError{Reason: "ports unavailable", Err: err}
	}

	h := &Handle{
		RunID:     runID,
		Name:      ContainerName(runID),
		Host:      rt.Host,
		Ports:     ports,
		OutputDir: c.opts.OutputDir,
		state:     StateStarting,
		tracker:   fsutil.NewTracker(),
	}
	logger = logger.With().Str(log.FieldContainer, h.Name).Stringer("ports", ports).Logger()

	fail := func(reason string, err error) (*Handle, error) {
		h.setState(StateFailed)
		logger.Error().Err(err).Str(log.FieldEvent, "environment.start_failed").Str(log.FieldReason, reason).Msg("environment start failed")
		return h, &StartError{Reason: reason, Err: err}
	}

	if err := os.MkdirAll(h.OutputDir, 0o750); err != nil {
		return fail("output directory", err)
	}

	conf, err := SessionConfig{
		RunID:         runID,
		Width:         width,
		Height:        height,
		RefreshRate:   rt.RefreshRate,
		ClientCommand: rt.ClientCommand,
		ClientDelay:   rt.ClientDelay,
		TargetColor:   c.opts.TargetColor,
	}.Render()
	if err != nil {
		return fail("session config", err)
	}
	h.ConfigPath, err = h.tracker.CreateTemp("", "hyprmoon-hyprland-*.conf", conf)
	if err != nil {
		return fail("session config", err)
	}
	// The runtime user must be able to read the bind-mounted file.
	_ = os.Chmod(h.ConfigPath, 0o644) // #nosec G302 -- non-secret compositor config

	h.mu.Lock()
	h.created = true
	h.mu.Unlock()

	res, err := c.exec.Run(ctx, executor.Command{
		Name:    rt.Binary,
		Args:    c.runArgs(h),
		Timeout: rt.StartTimeout,
	})
	switch {
	case err != nil:
		return fail("launch", err)
	case res.TimedOut:
		return fail("timeout", fmt.Errorf("runtime did not start within %s", rt.StartTimeout))
	case !res.OK():
		return fail("launch exited non-zero", errors.New(res.Reason()))
	}
	h.ContainerID = strings.TrimSpace(string(res.Stdout))

	if err := sleepCtx(ctx, rt.SettleDelay); err != nil {
		return fail("interrupted", err)
	}

	running, reason := c.isRunning(ctx, h)
	if !running {
		return fail("exited immediately", errors.New(reason))
	}

	h.setState(StateRunning)
	logger.Info().Str(log.FieldEvent, "environment.started").Str("container_id", shortID(h.ContainerID)).Msg("environment started")
	return h, nil
}

func (c *Controller) runArgs(h *Handle) []string {
	rt := c.opts.Runtime
	args := []string{
		"run", "-d",
		"--name", h.Name,
		"--entrypoint", "/bin/bash",
	}
	if rt.Privileged {
		args = append(args, "--privileged")
	}
	args = append(args,
		"-v", h.ConfigPath+":"+ContainerConfigPath+":ro",
		"-v", rt.WorkspaceDir+":"+ContainerWorkspace,
		"-v", h.OutputDir+":"+ContainerOutputDir,
	)
	for _, p := range h.Ports.All() {
		port := strconv.Itoa(p)
		args = append(args, "-p", port+":"+port)
	}
	env := []string{
		"WLR_BACKENDS=headless",
		"WLR_LIBINPUT_NO_DEVICES=1",
		"WLR_HEADLESS_OUTPUTS=1",
		"XDG_RUNTIME_DIR=/tmp",
		"WAYLAND_DISPLAY=wayland-0",
		"MOONLIGHT_HTTP_PORT=" + strconv.Itoa(h.Ports.HTTP),
		"MOONLIGHT_HTTPS_PORT=" + strconv.Itoa(h.Ports.HTTPS),
		"MOONLIGHT_RTSP_PORT=" + strconv.Itoa(h.Ports.RTSP),
		"MOONLIGHT_CONTROL_PORT=" + strconv.Itoa(h.Ports.Control),
	}
	for _, e := range env {
		args = append(args, "-e", e)
	}
	return append(args, rt.Image, "-c", "exec "+rt.Compositor+" --config "+ContainerConfigPath)
}

func (c *Controller) isRunning(ctx context.Context, h *Handle) (bool, string) {
	res, err := c.exec.Run(ctx, executor.Command{
		Name:    c.opts.Runtime.Binary,
		Args:    []string{"inspect", "-f", "{{.State.Running}}", h.Name},
		Timeout: inspectTimeout,
	})
	if err != nil {
		return false, err.Error()
	}
	if !res.OK() {
		return false, "inspect: " + res.Reason()
	}
	if strings.TrimSpace(string(res.Stdout)) != "true" {
		return false, "container is not running"
	}
	return true, ""
}

// WaitHealthy polls the runtime until it answers or timeout elapses. It
// never blocks past the bound and returns false on cancellation.
func (c *Controller) WaitHealthy(ctx context.Context, h *Handle, timeout time.Duration) bool {
	if h.stopped() {
		return false
	}
	logger := log.WithComponentFromContext(ctx, "environment")

	probe := c.httpHealthy
	if c.opts.Health.Mode == config.HealthModeTCP {
		probe = c.tcpHealthy
	}

	attempts, err := poll.Until(ctx, poll.Options{
		Name:     "health",
		Interval: c.opts.Health.Interval,
		Budget:   timeout,
	}, func(ctx context.Context) (bool, error) { return probe(ctx, h) })
	if err != nil {
		logger.Warn().Err(err).Int("attempts", attempts).Str(log.FieldEvent, "environment.health_timeout").Msg("environment not healthy")
		return false
	}
	logger.Info().Int("attempts", attempts).Str(log.FieldEvent, "environment.healthy").Msg("environment healthy")
	return true
}

func (c *Controller) httpHealthy(ctx context.Context, h *Handle) (bool, error) {
	url := "http://" + net.JoinHostPort(h.Host, strconv.Itoa(h.Ports.HTTP)) + healthPathInfo
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false, err
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, fmt.Errorf("status %d", resp.StatusCode)
	}
	return true, nil
}

// tcpHealthy needs a published port whose connection stays open for
// tcpHoldWindow. Runtime port proxies accept before the service listens and
// then drop the connection, so a bare accept proves nothing.
func (c *Controller) tcpHealthy(ctx context.Context, h *Handle) (bool, error) {
	var d net.Dialer
	var lastErr error
	for _, p := range h.Ports.All() {
		dialCtx, cancel := context.WithTimeout(ctx, time.Second)
		conn, err := d.DialContext(dialCtx, "tcp", net.JoinHostPort(h.Host, strconv.Itoa(p)))
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		err = holdsOpen(conn)
		_ = conn.Close()
		if err == nil {
			return true, nil
		}
		lastErr = fmt.Errorf("port %d: %w", p, err)
	}
	return false, lastErr
}

const tcpHoldWindow = 250 * time.Millisecond

// holdsOpen reports nil when the peer either sends data or keeps quiet for
// the whole window.
func holdsOpen(conn net.Conn) error {
	if err := conn.SetReadDeadline(time.Now().Add(tcpHoldWindow)); err != nil {
		return err
	}
	var b [1]byte
	n, err := conn.Read(b[:])
	if n > 0 {
		return nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return nil
	}
	return fmt.Errorf("connection dropped by peer: %w", err)
}

// FetchLogs returns the last tail lines of runtime output. It never fails:
// problems are reported as a placeholder string.
func (c *Controller) FetchLogs(ctx context.Context, h *Handle, tail int) string {
	if h == nil {
		return fmt.Sprintf(logsUnavailable, "no environment")
	}
	if h.State() == StateStopped {
		return fmt.Sprintf(logsUnavailable, ErrHandleStopped)
	}
	if tail <= 0 {
		tail = 50
	}
	res, err := c.exec.Run(context.WithoutCancel(ctx), executor.Command{
		Name:    c.opts.Runtime.Binary,
		Args:    []string{"logs", "--tail", strconv.Itoa(tail), h.Name},
		Timeout: logsTimeout,
	})
	if err != nil {
		return fmt.Sprintf(logsUnavailable, err)
	}
	if !res.OK() {
		return fmt.Sprintf(logsUnavailable, res.Reason())
	}

	// The runtime replays the container's stderr on its own stderr.
	var b strings.Builder
	b.Write(res.Stdout)
	for _, line := range res.Stderr {
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	return b.String()
}

// WaitForClientMarker watches runtime logs for the client's start markers.
// A miss is soft evidence only.
func (c *Controller) WaitForClientMarker(ctx context.Context, h *Handle, timeout time.Duration) bool {
	if h.stopped() {
		return false
	}
	markers := ClientMarkers(c.opts.TargetColor)
	_, err := poll.Until(ctx, poll.Options{
		Name:     "client_marker",
		Interval: c.opts.Health.Interval,
		Budget:   timeout,
	}, func(ctx context.Context) (bool, error) {
		logs := c.FetchLogs(ctx, h, 200)
		for _, m := range markers {
			if strings.Contains(logs, m) {
				return true, nil
			}
		}
		return false, nil
	})
	return err == nil
}

// Stop tears the runtime down. It is idempotent and safe on nil, failed or
// already stopped handles. It runs on its own bounded context so operator
// interruption cannot skip teardown.
func (c *Controller) Stop(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	if h.state == StateStopped {
		h.mu.Unlock()
		return nil
	}
	created := h.created
	h.state = StateStopped
	h.mu.Unlock()

	logger := log.WithComponentFromContext(ctx, "environment").With().Str(log.FieldContainer, h.Name).Logger()
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.TeardownTimeout)
	defer cancel()

	var errs []error
	if created {
		res, err := c.exec.Run(stopCtx, executor.Command{
			Name:    c.opts.Runtime.Binary,
			Args:    []string{"rm", "-f", h.Name},
			Timeout: c.opts.TeardownTimeout,
		})
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("remove runtime: %w", err))
		case !res.OK():
			errs = append(errs, fmt.Errorf("remove runtime: %s", res.Reason()))
		}
	}
	c.ports.Release(h.Ports)
	if h.tracker != nil {
		if err := h.tracker.Cleanup(); err != nil {
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		logger.Warn().Err(err).Str(log.FieldEvent, "environment.stop_failed").Msg("environment teardown incomplete")
	} else {
		logger.Info().Str(log.FieldEvent, "environment.stopped").Msg("environment stopped")
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
