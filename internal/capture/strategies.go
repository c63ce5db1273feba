// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/helixml/hyprmoon/internal/config"
	"github.com/helixml/hyprmoon/internal/executor"
	"github.com/helixml/hyprmoon/internal/fsutil"
	"github.com/helixml/hyprmoon/internal/moonlight"
)

// grabTimeout bounds the in-environment screenshot command itself.
const grabTimeout = "5s"

// RTSPStream records the service's RTSP stream with ffmpeg.
type RTSPStream struct {
	Exec     executor.Executor
	FFmpeg   string
	Duration time.Duration
	// Preflight, when set, must succeed before ffmpeg is started.
	Preflight func(ctx context.Context, url string) error
	Now       func() time.Time
}

func (s *RTSPStream) Name() string { return config.StrategyRTSP }

func (s *RTSPStream) Capture(ctx context.Context, t Target, budget time.Duration) (*Artifact, error) {
	url := moonlight.RTSPURL(t.Host, t.RTSPPort)
	if s.Preflight != nil {
		if err := s.Preflight(ctx, url); err != nil {
			return nil, fmt.Errorf("rtsp preflight: %w", err)
		}
	}

	name := fmt.Sprintf("moonlight_stream_%d.mp4", stamp(s.Now))
	out, err := hostPath(t.OutputDir, name)
	if err != nil {
		return nil, err
	}
	args := []string{
		"-y", "-v", "error",
		"-rtsp_transport", "tcp",
		"-i", url,
		"-t", seconds(s.Duration),
		"-c:v", "libx264", "-preset", "ultrafast",
		out,
	}
	if err := run(ctx, s.Exec, executor.Command{Name: s.FFmpeg, Args: args, Timeout: budget}); err != nil {
		return nil, err
	}
	return readArtifact(t.OutputDir, name, s.Name())
}

// HTTPStream records the service's HTTP stream endpoint with ffmpeg.
type HTTPStream struct {
	Exec     executor.Executor
	FFmpeg   string
	Duration time.Duration
	Now      func() time.Time
}

func (s *HTTPStream) Name() string { return config.StrategyHTTP }

func (s *HTTPStream) Capture(ctx context.Context, t Target, budget time.Duration) (*Artifact, error) {
	url := "http://" + net.JoinHostPort(t.Host, strconv.Itoa(t.HTTPPort)) + "/stream"
	name := fmt.Sprintf("moonlight_http_stream_%d.mp4", stamp(s.Now))
	out, err := hostPath(t.OutputDir, name)
	if err != nil {
		return nil, err
	}
	args := []string{
		"-y", "-v", "error",
		"-i", url,
		"-t", seconds(s.Duration),
		out,
	}
	if err := run(ctx, s.Exec, executor.Command{Name: s.FFmpeg, Args: args, Timeout: budget}); err != nil {
		return nil, err
	}
	return readArtifact(t.OutputDir, name, s.Name())
}

// Screengrab takes a screenshot inside the runtime and reads it back through
// the output mount. grim is tried first, then ffmpeg x11grab.
type Screengrab struct {
	Exec       executor.Executor
	Runtime    string
	Resolution string
	Now        func() time.Time
}

func (s *Screengrab) Name() string { return config.StrategyScreengrab }

func (s *Screengrab) Capture(ctx context.Context, t Target, budget time.Duration) (*Artifact, error) {
	if t.ContainerName == "" {
		return nil, errors.New("no runtime to grab from")
	}
	name := fmt.Sprintf("container_screenshot_%d.png", stamp(s.Now))
	inner := path.Join(t.ContainerOutputDir, name)
	script := fmt.Sprintf(
		"grim %[1]s 2>/dev/null || DISPLAY=:0 ffmpeg -y -v error -f x11grab -video_size %[2]s -i :0 -frames:v 1 %[1]s",
		inner, s.Resolution)

	cmd := executor.Command{
		Name:    s.Runtime,
		Args:    []string{"exec", t.ContainerName, "timeout", grabTimeout, "bash", "-c", script},
		Timeout: budget,
	}
	if err := run(ctx, s.Exec, cmd); err != nil {
		return nil, err
	}
	return readArtifact(t.OutputDir, name, s.Name())
}

// run maps executor outcomes onto strategy errors.
func run(ctx context.Context, exec executor.Executor, cmd executor.Command) error {
	res, err := exec.Run(ctx, cmd)
	if err != nil {
		return err
	}
	if res.TimedOut {
		return fmt.Errorf("%s: %w", cmd.Tool(), context.DeadlineExceeded)
	}
	if !res.OK() {
		return fmt.Errorf("%s %s", cmd.Tool(), res.Reason())
	}
	return nil
}

func hostPath(dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("output dir: %w", err)
	}
	return fsutil.ConfineRelPath(dir, name)
}

func readArtifact(dir, name, strategy string) (*Artifact, error) {
	p, err := fsutil.ConfineRelPath(dir, name)
	if err != nil {
		return nil, err
	}
	if err := fsutil.IsRegularFile(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s not written", ErrNoArtifact, name)
		}
		return nil, err
	}
	// #nosec G304 -- path confined to the run's output directory
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return NewArtifact(data, strategy, p), nil
}

func stamp(now func() time.Time) int64 {
	if now == nil {
		return time.Now().Unix()
	}
	return now().Unix()
}

func seconds(d time.Duration) string {
	if d <= 0 {
		d = 8 * time.Second
	}
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

// NewDefaultChain builds the canonical chain in the configured order.
func NewDefaultChain(exec executor.Executor, runtime string, cfg config.CaptureConfig, resolution string, preflight func(ctx context.Context, url string) error) (*Chain, error) {
	var strategies []Strategy
	for _, name := range cfg.Strategies {
		switch name {
		case config.StrategyRTSP:
			s := &RTSPStream{Exec: exec, FFmpeg: cfg.FFmpegBin, Duration: cfg.Duration}
			if cfg.RTSPPreflight {
				s.Preflight = preflight
			}
			strategies = append(strategies, s)
		case config.StrategyHTTP:
			strategies = append(strategies, &HTTPStream{Exec: exec, FFmpeg: cfg.FFmpegBin, Duration: cfg.Duration})
		case config.StrategyScreengrab:
			strategies = append(strategies, &Screengrab{Exec: exec, Runtime: runtime, Resolution: resolution})
		default:
			return nil, fmt.Errorf("unknown capture strategy %q", name)
		}
	}
	return NewChain(cfg.MinViableBytes, cfg.StrategyTimeout, strategies...), nil
}
