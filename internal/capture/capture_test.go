// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixml/hyprmoon/internal/config"
	"github.com/helixml/hyprmoon/internal/executor"
)

type stubStrategy struct {
	name  string
	art   *Artifact
	err   error
	block bool
	calls int
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Capture(ctx context.Context, _ Target, _ time.Duration) (*Artifact, error) {
	s.calls++
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.art, s.err
}

func sized(n int) *Artifact {
	return NewArtifact(bytes.Repeat([]byte{0x42}, n), "stub", "")
}

func TestChain_FirstViableWins(t *testing.T) {
	first := &stubStrategy{name: "a", err: errors.New("connection refused")}
	second := &stubStrategy{name: "b", art: sized(5000)}
	third := &stubStrategy{name: "c", art: sized(9000)}

	art, err := NewChain(1000, time.Second, first, second, third).Run(context.Background(), Target{})
	require.NoError(t, err)
	assert.Equal(t, int64(5000), art.Size)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
	assert.Zero(t, third.calls, "later strategies never run after a success")
}

func TestChain_SubThresholdIsNoArtifact(t *testing.T) {
	tiny := &stubStrategy{name: "tiny", art: sized(1000)}
	ok := &stubStrategy{name: "ok", art: sized(1001)}

	art, err := NewChain(1000, time.Second, tiny, ok).Run(context.Background(), Target{})
	require.NoError(t, err)
	assert.Equal(t, int64(1001), art.Size)
	assert.Equal(t, 1, tiny.calls)
}

func TestChain_Exhausted(t *testing.T) {
	chain := NewChain(1000, 50*time.Millisecond,
		&stubStrategy{name: "rtsp-stream", block: true},
		&stubStrategy{name: "http-stream", art: sized(10)},
		&stubStrategy{name: "in-environment-screengrab"},
	)

	_, err := chain.Run(context.Background(), Target{})
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, []Failure{
		{Strategy: "rtsp-stream", Reason: "timeout"},
		{Strategy: "http-stream", Reason: "artifact too small (10 bytes)"},
		{Strategy: "in-environment-screengrab", Reason: "no artifact"},
	}, exhausted.Failures)
	assert.Contains(t, err.Error(), "rtsp-stream: timeout")
	assert.Equal(t, []string{"rtsp-stream", "http-stream", "in-environment-screengrab"}, chain.Strategies())
}

func TestChain_Interrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &stubStrategy{name: "a", art: sized(5000)}

	_, err := NewChain(1000, time.Second, s).Run(ctx, Target{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, s.calls)
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: 200, B: uint8(y), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// writesOutput is an executor that materialises payload at path(cmd).
func writesOutput(t *testing.T, payload []byte, path func(executor.Command) string) *executor.Fake {
	return &executor.Fake{Handler: func(_ context.Context, c executor.Command) (executor.Result, error) {
		require.NoError(t, os.WriteFile(path(c), payload, 0o600))
		return executor.Result{}, nil
	}}
}

func fixedNow() time.Time { return time.Unix(1700000000, 0) }

func TestRTSPStream_Capture(t *testing.T) {
	dir := t.TempDir()
	payload := pngBytes(t, 64, 64)
	fake := writesOutput(t, payload, func(c executor.Command) string { return c.Args[len(c.Args)-1] })

	var preflightURL string
	s := &RTSPStream{
		Exec:     fake,
		FFmpeg:   "ffmpeg",
		Duration: 8 * time.Second,
		Now:      fixedNow,
		Preflight: func(_ context.Context, url string) error {
			preflightURL = url
			return nil
		},
	}
	art, err := s.Capture(context.Background(), Target{Host: "localhost", RTSPPort: 48010, OutputDir: dir}, time.Second)
	require.NoError(t, err)

	assert.Equal(t, "rtsp://localhost:48010/", preflightURL)
	assert.Equal(t, "rtsp-stream", art.Strategy)
	assert.Equal(t, "moonlight_stream_1700000000.mp4", filepath.Base(art.Path))
	assert.Equal(t, int64(len(payload)), art.Size)
	assert.Len(t, art.Digest, 64)

	args := strings.Join(fake.Calls()[0].Args, " ")
	assert.Contains(t, args, "-rtsp_transport tcp -i rtsp://localhost:48010/ -t 8")
	assert.Equal(t, time.Second, fake.Calls()[0].Timeout)
}

func TestRTSPStream_PreflightFailureSkipsFFmpeg(t *testing.T) {
	fake := &executor.Fake{}
	s := &RTSPStream{Exec: fake, FFmpeg: "ffmpeg", Preflight: func(context.Context, string) error {
		return errors.New("connection refused")
	}}
	_, err := s.Capture(context.Background(), Target{Host: "localhost", RTSPPort: 1, OutputDir: t.TempDir()}, time.Second)
	require.ErrorContains(t, err, "rtsp preflight: connection refused")
	assert.Empty(t, fake.Calls())
}

func TestHTTPStream_TimeoutIsNoArtifact(t *testing.T) {
	fake := &executor.Fake{Handler: func(context.Context, executor.Command) (executor.Result, error) {
		return executor.Result{ExitCode: -1, TimedOut: true}, nil
	}}
	s := &HTTPStream{Exec: fake, FFmpeg: "ffmpeg"}
	_, err := s.Capture(context.Background(), Target{Host: "localhost", HTTPPort: 47989, OutputDir: t.TempDir()}, time.Second)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, strings.Join(fake.Calls()[0].Args, " "), "-i http://localhost:47989/stream")
}

func TestHTTPStream_FileNeverWritten(t *testing.T) {
	s := &HTTPStream{Exec: &executor.Fake{}, FFmpeg: "ffmpeg"}
	_, err := s.Capture(context.Background(), Target{Host: "localhost", HTTPPort: 1, OutputDir: t.TempDir()}, time.Second)
	require.ErrorIs(t, err, ErrNoArtifact)
}

func TestScreengrab_Capture(t *testing.T) {
	dir := t.TempDir()
	payload := pngBytes(t, 80, 60)
	fake := writesOutput(t, payload, func(executor.Command) string {
		return filepath.Join(dir, "container_screenshot_1700000000.png")
	})
	s := &Screengrab{Exec: fake, Runtime: "docker", Resolution: "1920x1080", Now: fixedNow}

	art, err := s.Capture(context.Background(), Target{
		ContainerName:      "hyprmoon-verify-abc",
		OutputDir:          dir,
		ContainerOutputDir: "/workspace/test_output",
	}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, KindImage, art.Kind)

	c := fake.Calls()[0]
	assert.Equal(t, "docker", c.Name)
	assert.Equal(t, []string{"exec", "hyprmoon-verify-abc", "timeout", "5s", "bash", "-c"}, c.Args[:6])
	assert.Contains(t, c.Args[6], "grim /workspace/test_output/container_screenshot_1700000000.png")
	assert.Contains(t, c.Args[6], "-video_size 1920x1080")
}

func TestScreengrab_NonZeroExit(t *testing.T) {
	fake := &executor.Fake{Handler: func(context.Context, executor.Command) (executor.Result, error) {
		return executor.Result{ExitCode: 124, Stderr: []string{"timed out"}}, nil
	}}
	s := &Screengrab{Exec: fake, Runtime: "docker", Resolution: "1920x1080"}
	_, err := s.Capture(context.Background(), Target{ContainerName: "x", OutputDir: t.TempDir()}, time.Second)
	require.ErrorContains(t, err, "docker exit 124: timed out")
}

func TestDetectKind(t *testing.T) {
	mp4 := append([]byte("\x00\x00\x00\x18ftypmp42\x00\x00\x00\x00mp42isom"), make([]byte, 64)...)
	assert.Equal(t, KindVideo, DetectKind(mp4, ""))
	assert.Equal(t, KindImage, DetectKind(pngBytes(t, 4, 4), ""))
	assert.Equal(t, KindVideo, DetectKind([]byte("opaque"), "clip.mkv"))
	assert.Equal(t, KindUnknown, DetectKind([]byte("opaque"), "blob.bin"))
}

func TestNewDefaultChain(t *testing.T) {
	cfg := config.Defaults().Capture
	chain, err := NewDefaultChain(&executor.Fake{}, "docker", cfg, "1920x1080", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"rtsp-stream", "http-stream", "in-environment-screengrab"}, chain.Strategies())

	cfg.Strategies = []string{"bogus"}
	_, err = NewDefaultChain(&executor.Fake{}, "docker", cfg, "1920x1080", nil)
	assert.Error(t, err)
}
