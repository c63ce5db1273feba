// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package report

import (
	"archive/tar"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/helixml/hyprmoon/internal/capture"
	"github.com/helixml/hyprmoon/internal/fsutil"
	"github.com/helixml/hyprmoon/internal/verification"
)

// Bundle entry names.
const (
	EntryJSON = "report.json"
	EntryText = "report.txt"
	EntryLogs = "logs.txt"
)

type entry struct {
	name string
	data []byte
}

// WriteBundle atomically writes a tar.zst evidence bundle holding the JSON
// and text reports, the runtime log tail and the captured artifact.
func WriteBundle(path string, r *verification.Report) error {
	jsonData, err := JSON(r)
	if err != nil {
		return err
	}

	err = fsutil.WriteAtomic(path, 0o644, func(w io.Writer) error {
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return err
		}
		tw := tar.NewWriter(zw)

		entries := []entry{
			{EntryJSON, jsonData},
			{EntryText, []byte(Text(r))},
			{EntryLogs, []byte(r.Logs)},
		}
		if a := r.Artifact; a != nil && len(a.Data) > 0 {
			entries = append(entries, entry{ArtifactEntry(a), a.Data})
		}

		mod := r.FinishedAt
		for _, e := range entries {
			hdr := &tar.Header{
				Name:    e.name,
				Mode:    0o644,
				Size:    int64(len(e.data)),
				ModTime: mod,
				Format:  tar.FormatPAX,
			}
			if err := tw.WriteHeader(hdr); err != nil {
				_ = zw.Close()
				return err
			}
			if _, err := tw.Write(e.data); err != nil {
				_ = zw.Close()
				return err
			}
		}
		if err := tw.Close(); err != nil {
			_ = zw.Close()
			return err
		}
		return zw.Close()
	})
	if err != nil {
		return fmt.Errorf("write bundle %s: %w", path, err)
	}
	return nil
}

// ArtifactEntry is the bundle name of the captured artifact.
func ArtifactEntry(a *capture.Artifact) string {
	ext := strings.ToLower(filepath.Ext(a.Path))
	if ext == "" {
		switch a.Kind {
		case capture.KindImage:
			ext = ".png"
		case capture.KindVideo:
			ext = ".mp4"
		default:
			ext = ".bin"
		}
	}
	return "artifact-" + a.Strategy + ext
}
