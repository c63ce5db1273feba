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
	"image/color"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixml/hyprmoon/internal/capture"
	"github.com/helixml/hyprmoon/internal/config"
	"github.com/helixml/hyprmoon/internal/executor"
)

var (
	green = color.NRGBA{R: 0, G: 220, B: 40, A: 255}
	red   = color.NRGBA{R: 230, G: 10, B: 10, A: 255}
)

func solid(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newClassifier(t *testing.T, extractor FrameExtractor) *Classifier {
	t.Helper()
	c, err := New(config.Defaults().Classifier, extractor)
	require.NoError(t, err)
	return c
}

func TestClassify_AllGreenImage(t *testing.T) {
	art := capture.NewArtifact(encodePNG(t, solid(100, 100, green)), "test", "shot.png")

	v := newClassifier(t, nil).Classify(context.Background(), art)

	assert.True(t, v.Matching)
	assert.InDelta(t, 1.0, v.Confidence, 1e-9)
	assert.Equal(t, 1, v.FramesExamined)
	assert.Equal(t, MethodPixel, v.Method)
	assert.False(t, v.Degraded)
	assert.True(t, v.Passes(false))
}

func TestClassify_UniformRedImage(t *testing.T) {
	art := capture.NewArtifact(encodePNG(t, solid(100, 100, red)), "test", "shot.png")

	v := newClassifier(t, nil).Classify(context.Background(), art)

	assert.False(t, v.Matching)
	assert.LessOrEqual(t, v.Confidence, 1e-6)
	assert.False(t, v.Passes(true))
}

func TestClassify_PartialOverlayDoesNotMatch(t *testing.T) {
	img := solid(100, 100, green)
	for y := 0; y < 50; y++ {
		for x := 0; x < 100; x++ {
			img.Set(x, y, red)
		}
	}
	art := capture.NewArtifact(encodePNG(t, img), "test", "shot.png")

	v := newClassifier(t, nil).Classify(context.Background(), art)

	assert.False(t, v.Matching)
	assert.InDelta(t, 0.5, v.Confidence, 0.01)
}

func TestClassify_LargeImageIsDownscaled(t *testing.T) {
	c := newClassifier(t, nil)
	assert.InDelta(t, 1.0, c.MatchFraction(solid(1920, 1080, green)), 1e-9)
}

func TestClassify_NearBlackIsExcluded(t *testing.T) {
	c := newClassifier(t, nil)
	dark := color.NRGBA{R: 0, G: 20, B: 0, A: 255}
	assert.Zero(t, c.MatchFraction(solid(10, 10, dark)))
}

func TestClassify_Undecodable(t *testing.T) {
	art := capture.NewArtifact(bytes.Repeat([]byte{0x42}, 4096), "test", "shot.png")

	v := newClassifier(t, nil).Classify(context.Background(), art)

	assert.False(t, v.Matching)
	assert.Zero(t, v.Confidence)
	assert.Equal(t, MethodUndecodable, v.Method)
}

func TestClassify_HeuristicMode(t *testing.T) {
	cfg := config.Defaults().Classifier
	cfg.Mode = config.AnalysisHeuristic
	c, err := New(cfg, nil)
	require.NoError(t, err)

	big := capture.NewArtifact(bytes.Repeat([]byte{1}, 20*1024), "test", "")
	v := c.Classify(context.Background(), big)
	assert.True(t, v.Matching)
	assert.Equal(t, 0.5, v.Confidence)
	assert.True(t, v.Degraded)
	assert.Equal(t, MethodHeuristic, v.Method)
	assert.False(t, v.Passes(false), "degraded verdict needs opt-in")
	assert.True(t, v.Passes(true))

	small := capture.NewArtifact(bytes.Repeat([]byte{1}, 512), "test", "")
	v = c.Classify(context.Background(), small)
	assert.False(t, v.Matching)
	assert.True(t, v.Degraded)
}

type fakeExtractor struct {
	frames []image.Image
	err    error
	limit  int
}

func (f *fakeExtractor) Frames(_ context.Context, _ *capture.Artifact, limit int) ([]image.Image, error) {
	f.limit = limit
	return f.frames, f.err
}

func videoArtifact() *capture.Artifact {
	return &capture.Artifact{Data: bytes.Repeat([]byte{7}, 64*1024), Size: 64 * 1024, Kind: capture.KindVideo}
}

func TestClassify_VideoMajority(t *testing.T) {
	var frames []image.Image
	for i := 0; i < 8; i++ {
		frames = append(frames, solid(32, 32, green))
	}
	frames = append(frames, solid(32, 32, red), solid(32, 32, red))
	x := &fakeExtractor{frames: frames}

	v := newClassifier(t, x).Classify(context.Background(), videoArtifact())

	assert.Equal(t, 30, x.limit)
	assert.True(t, v.Matching)
	assert.InDelta(t, 0.8, v.Confidence, 1e-9)
	assert.Equal(t, 10, v.FramesExamined)
	assert.Equal(t, 0.7, v.Threshold)
}

func TestClassify_VideoStartupCorruptionBelowThreshold(t *testing.T) {
	frames := []image.Image{solid(8, 8, green), solid(8, 8, green), solid(8, 8, red), solid(8, 8, red)}

	v := newClassifier(t, &fakeExtractor{frames: frames}).Classify(context.Background(), videoArtifact())

	assert.False(t, v.Matching)
	assert.InDelta(t, 0.5, v.Confidence, 1e-9)
}

func TestClassify_VideoWithoutExtractorDegrades(t *testing.T) {
	x := &fakeExtractor{err: fmt.Errorf("%w: ffmpeg missing", ErrExtractorUnavailable)}

	v := newClassifier(t, x).Classify(context.Background(), videoArtifact())

	assert.True(t, v.Degraded)
	assert.Equal(t, MethodHeuristic, v.Method)
	assert.True(t, v.Matching)
}

func TestClassify_VideoExtractionFailureIsUndecodable(t *testing.T) {
	x := &fakeExtractor{err: errors.New("moov atom not found")}

	v := newClassifier(t, x).Classify(context.Background(), videoArtifact())

	assert.Equal(t, MethodUndecodable, v.Method)
	assert.False(t, v.Matching)
	assert.Zero(t, v.Confidence)
}

func TestClassify_PackageHelper(t *testing.T) {
	target, err := Preset("green")
	require.NoError(t, err)
	art := capture.NewArtifact(encodePNG(t, solid(40, 40, green)), "test", "a.png")

	v := Classify(context.Background(), art, target, 30)
	assert.True(t, v.Matching)
}

func TestTarget_RedWrapsAroundZero(t *testing.T) {
	target, err := Preset("RED")
	require.NoError(t, err)

	assert.True(t, target.Matches(colorful.Color{R: 1, G: 0, B: 0.1}))
	assert.True(t, target.Matches(colorful.Color{R: 1, G: 0.1, B: 0}))
	assert.False(t, target.Matches(colorful.Color{R: 0, G: 1, B: 0}))
}

func TestPreset_Unknown(t *testing.T) {
	_, err := Preset("mauve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blue, green, red")
}

func TestFFmpegExtractor_ReadsFrames(t *testing.T) {
	frame := encodePNG(t, solid(16, 16, green))
	fake := &executor.Fake{Handler: func(_ context.Context, cmd executor.Command) (executor.Result, error) {
		input := cmd.Args[3]
		if _, err := os.Stat(input); err != nil {
			return executor.Result{}, err
		}
		dir := filepath.Dir(cmd.Args[len(cmd.Args)-1])
		for i := 1; i <= 3; i++ {
			name := filepath.Join(dir, fmt.Sprintf("frame_%03d.png", i))
			if err := os.WriteFile(name, frame, 0o600); err != nil {
				return executor.Result{}, err
			}
		}
		return executor.Result{}, nil
	}}
	x := &FFmpegExtractor{Exec: fake, FFmpeg: "ffmpeg", ScratchDir: t.TempDir()}

	frames, err := x.Frames(context.Background(), videoArtifact(), 2)
	require.NoError(t, err)
	assert.Len(t, frames, 2)

	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "ffmpeg", calls[0].Name)
	assert.Contains(t, strings.Join(calls[0].Args, " "), "-frames:v 2")
}

func TestFFmpegExtractor_MissingBinary(t *testing.T) {
	fake := &executor.Fake{Handler: func(context.Context, executor.Command) (executor.Result, error) {
		return executor.Result{ExitCode: -1}, fmt.Errorf("start ffmpeg: %w", exec.ErrNotFound)
	}}
	x := &FFmpegExtractor{Exec: fake, FFmpeg: "ffmpeg", ScratchDir: t.TempDir()}

	_, err := x.Frames(context.Background(), videoArtifact(), 5)
	assert.ErrorIs(t, err, ErrExtractorUnavailable)
}

func TestFFmpegExtractor_Timeout(t *testing.T) {
	fake := &executor.Fake{Handler: func(context.Context, executor.Command) (executor.Result, error) {
		return executor.Result{ExitCode: -1, TimedOut: true}, nil
	}}
	x := &FFmpegExtractor{Exec: fake, FFmpeg: "ffmpeg", ScratchDir: t.TempDir()}

	_, err := x.Frames(context.Background(), videoArtifact(), 5)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
