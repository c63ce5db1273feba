// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixml/hyprmoon/internal/capture"
	"github.com/helixml/hyprmoon/internal/classify"
	"github.com/helixml/hyprmoon/internal/verification"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func report(id string, started time.Time, passed bool) *verification.Report {
	r := &verification.Report{
		RunID:      id,
		StartedAt:  started,
		FinishedAt: started.Add(30 * time.Second),
		Passed:     passed,
		FinalState: verification.StateReported,
	}
	if passed {
		r.Artifact = &capture.Artifact{Strategy: "rtsp-stream", Kind: capture.KindVideo, Size: 4096}
		r.Verdict = &classify.Verdict{Matching: true, Confidence: 0.9, Method: classify.MethodPixel, Threshold: 0.7}
	} else {
		r.FailedStage = verification.StageCapture
		r.CaptureFailures = []capture.Failure{{Strategy: "rtsp-stream", Reason: "timeout"}}
	}
	return r
}

func TestStore_RecordAndRecent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Record(ctx, report("a", base, true)))
	require.NoError(t, s.Record(ctx, report("b", base.Add(time.Hour), false)))
	require.NoError(t, s.Record(ctx, report("c", base.Add(2*time.Hour), true)))

	entries, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "c", entries[0].RunID)
	assert.Equal(t, "b", entries[1].RunID)
	assert.Equal(t, verification.StageCapture, entries[1].FailedStage)
	assert.Equal(t, 30*time.Second, entries[0].Duration)
	assert.Equal(t, "rtsp-stream", entries[0].Strategy)
	assert.InDelta(t, 0.9, entries[0].Confidence, 1e-9)
	assert.True(t, entries[0].StartedAt.Equal(base.Add(2*time.Hour)))

	passed, total, err := s.PassRate(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, passed)
	assert.Equal(t, 3, total)
}

func TestStore_RecordIsIdempotent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	r := report("same", time.Now().UTC(), false)

	require.NoError(t, s.Record(ctx, r))
	r.Passed = true
	require.NoError(t, s.Record(ctx, r))

	entries, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Passed)
}

func TestStore_Report(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.Record(ctx, report("x", time.Now().UTC(), false)))

	got, err := s.Report(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, verification.StageCapture, got.FailedStage)
	assert.Equal(t, []capture.Failure{{Strategy: "rtsp-stream", Reason: "timeout"}}, got.CaptureFailures)

	_, err = s.Report(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.sqlite")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Record(context.Background(), report("keep", time.Now().UTC(), true)))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	entries, err := s.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
