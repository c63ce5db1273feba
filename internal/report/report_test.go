// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package report

import (
	"archive/tar"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixml/hyprmoon/internal/capture"
	"github.com/helixml/hyprmoon/internal/classify"
	"github.com/helixml/hyprmoon/internal/environment"
	"github.com/helixml/hyprmoon/internal/moonlight"
	"github.com/helixml/hyprmoon/internal/verification"
)

func failedReport() *verification.Report {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &verification.Report{
		RunID:       "run-1",
		StartedAt:   start,
		FinishedAt:  start.Add(50 * time.Second),
		FinalState:  verification.StateReported,
		LastState:   verification.StateEnvHealthy,
		FailedStage: verification.StageMetadata,
		Stages: []verification.StageResult{
			{Stage: verification.StageEnvStart, Status: verification.StatusPassed, Duration: 4 * time.Second},
			{Stage: verification.StageEnvHealth, Status: verification.StatusPassed, Duration: time.Second},
			{Stage: verification.StageMetadata, Status: verification.StatusFailed, Reason: "server metadata: no_response after 23 attempts", Duration: 45 * time.Second},
			{Stage: verification.StagePairing, Status: verification.StatusSkipped},
		},
		Environment: &verification.EnvironmentSummary{
			Name:  "hyprmoon-verify-abcd1234",
			Host:  "localhost",
			Ports: environment.PortSet{HTTP: 47989, HTTPS: 47984, RTSP: 48010, Control: 47999},
		},
		Logs: "wolf: listening\nStarting green client\n",
	}
}

func passedReport() *verification.Report {
	r := failedReport()
	r.FailedStage = ""
	r.Passed = true
	r.Logs = ""
	r.Metadata = &moonlight.ServerMetadata{Hostname: "Hyprland", AppVersion: "7.1.431.1", Scheme: "http", Port: 47989}
	r.Pairing = &moonlight.PairingSession{Status: moonlight.PairingInitiated, Scheme: "http"}
	r.ClientMarker = true
	r.Artifact = capture.NewArtifact([]byte("\x89PNG\r\n\x1a\nnot really"), "rtsp-stream", "")
	r.Verdict = &classify.Verdict{Matching: true, Confidence: 0.97, FramesExamined: 1, Threshold: 0.6, Method: classify.MethodPixel}
	return r
}

func TestText_Failure(t *testing.T) {
	out := Text(failedReport())

	assert.Contains(t, out, "result:      FAIL at metadata")
	assert.Contains(t, out, "no_response after 23 attempts")
	assert.Contains(t, out, "hyprmoon-verify-abcd1234")
	assert.Contains(t, out, "--- runtime log tail ---\nwolf: listening\nStarting green client\n--- end of log tail ---")
	assert.Regexp(t, `pairing\s+skipped\s+-`, out)
}

func TestText_Pass(t *testing.T) {
	out := Text(passedReport())

	assert.Contains(t, out, "result:      PASS")
	assert.Contains(t, out, "server:      Hyprland (app 7.1.431.1, via http:47989)")
	assert.Contains(t, out, "client:      start marker seen")
	assert.Contains(t, out, "confidence=0.970")
	assert.NotContains(t, out, "runtime log tail")
	assert.NotContains(t, out, "DEGRADED")
}

func TestText_DegradedIsFlagged(t *testing.T) {
	r := passedReport()
	r.Passed = false
	r.FailedStage = verification.StageClassify
	r.Verdict = &classify.Verdict{Matching: true, Confidence: 0.5, Threshold: 0.25, Method: classify.MethodHeuristic, Degraded: true}

	out := Text(r)
	assert.Contains(t, out, "method=size-heuristic")
	assert.Contains(t, out, "DEGRADED (not accepted)")
}

func TestWriteText_PropagatesWriterErrors(t *testing.T) {
	err := WriteText(failingWriter{}, failedReport())
	require.Error(t, err)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, WriteJSON(path, passedReport()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, true, got["passed"])
	assert.Equal(t, "REPORTED", got["final_state"])
	artifact := got["artifact"].(map[string]any)
	assert.Equal(t, "rtsp-stream", artifact["strategy"])
	assert.NotContains(t, artifact, "Data")
}

func TestJSON_TruncatesLongLogs(t *testing.T) {
	r := failedReport()
	r.Logs = strings.Repeat("x", maxJSONLogBytes*2)

	data, err := JSON(r)
	require.NoError(t, err)
	assert.Less(t, len(data), maxJSONLogBytes+4096)
	assert.Len(t, r.Logs, maxJSONLogBytes*2, "input report must not be modified")
}

func TestJSON_TruncationKeepsRunesWhole(t *testing.T) {
	r := failedReport()
	// Two-byte runes followed by one ASCII byte put the cut mid-rune.
	r.Logs = strings.Repeat("é", maxJSONLogBytes) + "a"

	data, err := JSON(r)
	require.NoError(t, err)
	var got struct {
		Logs string `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.True(t, utf8.ValidString(got.Logs))
	assert.NotContains(t, got.Logs, string(utf8.RuneError))
	assert.True(t, strings.HasSuffix(got.Logs, "éa"))
}

func TestWriteBundle(t *testing.T) {
	r := passedReport()
	r.Logs = "log line\n"
	path := filepath.Join(t.TempDir(), "evidence.tar.zst")
	require.NoError(t, WriteBundle(path, r))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	zr, err := zstd.NewReader(f)
	require.NoError(t, err)
	defer zr.Close()

	contents := map[string]string{}
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		contents[hdr.Name] = string(data)
	}

	require.Contains(t, contents, EntryJSON)
	require.Contains(t, contents, EntryText)
	assert.Equal(t, "log line\n", contents[EntryLogs])
	assert.Equal(t, string(r.Artifact.Data), contents["artifact-rtsp-stream.png"])
	assert.Contains(t, contents[EntryText], "PASS")
}

func TestArtifactEntry(t *testing.T) {
	assert.Equal(t, "artifact-rtsp-stream.mp4", ArtifactEntry(&capture.Artifact{Strategy: "rtsp-stream", Path: "/out/moonlight_stream_1.MP4"}))
	assert.Equal(t, "artifact-x.bin", ArtifactEntry(&capture.Artifact{Strategy: "x", Kind: capture.KindUnknown}))
}
