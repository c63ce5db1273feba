// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package classify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/disintegration/imaging"

	"github.com/helixml/hyprmoon/internal/capture"
	"github.com/helixml/hyprmoon/internal/executor"
	"github.com/helixml/hyprmoon/internal/fsutil"
	"github.com/helixml/hyprmoon/internal/log"
)

// ErrExtractorUnavailable means no frame decoder exists in this environment.
var ErrExtractorUnavailable = errors.New("frame extractor unavailable")

// FrameExtractor decodes up to limit frames from a video artifact.
type FrameExtractor interface {
	Frames(ctx context.Context, art *capture.Artifact, limit int) ([]image.Image, error)
}

// FFmpegExtractor samples frames with ffmpeg into a scratch directory.
type FFmpegExtractor struct {
	Exec    executor.Executor
	FFmpeg  string
	FPS     float64
	Timeout time.Duration
	// ScratchDir holds the temporary input and frame files; empty uses os.TempDir.
	ScratchDir string
}

const extractTimeout = 30 * time.Second

// Frames implements FrameExtractor.
func (x *FFmpegExtractor) Frames(ctx context.Context, art *capture.Artifact, limit int) ([]image.Image, error) {
	if x.Exec == nil || x.FFmpeg == "" {
		return nil, ErrExtractorUnavailable
	}
	if limit <= 0 {
		limit = 30
	}

	dir, err := os.MkdirTemp(x.ScratchDir, "hyprmoon-frames-")
	if err != nil {
		return nil, fmt.Errorf("frame scratch dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	input := art.Path
	if input == "" {
		tracker := fsutil.NewTracker()
		defer func() { _ = tracker.Cleanup() }()
		if input, err = tracker.CreateTemp(dir, "input-*.bin", art.Data); err != nil {
			return nil, err
		}
	}

	fps := x.FPS
	if fps <= 0 {
		fps = 4
	}
	timeout := x.Timeout
	if timeout <= 0 {
		timeout = extractTimeout
	}
	cmd := executor.Command{
		Name: x.FFmpeg,
		Args: []string{
			"-v", "error",
			"-i", input,
			"-vf", "fps=" + strconv.FormatFloat(fps, 'f', -1, 64),
			"-frames:v", strconv.Itoa(limit),
			filepath.Join(dir, "frame_%03d.png"),
		},
		Timeout: timeout,
	}
	res, err := x.Exec.Run(ctx, cmd)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %v", ErrExtractorUnavailable, err)
		}
		return nil, err
	}
	if res.TimedOut {
		return nil, fmt.Errorf("frame extraction: %w", context.DeadlineExceeded)
	}
	if !res.OK() {
		return nil, fmt.Errorf("frame extraction: %s", res.Reason())
	}

	return readFrames(ctx, dir, limit)
}

func readFrames(ctx context.Context, dir string, limit int) ([]image.Image, error) {
	files, err := filepath.Glob(filepath.Join(dir, "frame_*.png"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	if len(files) > limit {
		files = files[:limit]
	}

	logger := log.WithComponentFromContext(ctx, "classify")
	frames := make([]image.Image, 0, len(files))
	for _, f := range files {
		// #nosec G304 -- files enumerated from our own scratch directory
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("read frame: %w", err)
		}
		img, err := imaging.Decode(bytes.NewReader(data))
		if err != nil {
			logger.Debug().Err(err).Str("frame", filepath.Base(f)).Msg("skipping undecodable frame")
			continue
		}
		frames = append(frames, img)
	}
	return frames, nil
}
