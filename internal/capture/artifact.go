// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package capture

import (
	"encoding/hex"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// Kind is the coarse media type of an artifact.
type Kind string

const (
	KindImage   Kind = "image"
	KindVideo   Kind = "video"
	KindUnknown Kind = "unknown"
)

// Artifact is captured evidence of what the environment displayed.
type Artifact struct {
	Data     []byte `json:"-"`
	Strategy string `json:"strategy"`
	Size     int64  `json:"size"`
	Kind     Kind   `json:"kind"`
	Path     string `json:"path,omitempty"`
	Digest   string `json:"digest"`
}

// NewArtifact wraps data, sniffing its kind and computing a BLAKE3 digest.
func NewArtifact(data []byte, strategy, path string) *Artifact {
	sum := blake3.Sum256(data)
	return &Artifact{
		Data:     data,
		Strategy: strategy,
		Size:     int64(len(data)),
		Kind:     DetectKind(data, path),
		Path:     path,
		Digest:   hex.EncodeToString(sum[:]),
	}
}

// DetectKind sniffs content first and falls back to the file extension.
func DetectKind(data []byte, path string) Kind {
	ct := http.DetectContentType(data)
	switch {
	case strings.HasPrefix(ct, "image/"):
		return KindImage
	case strings.HasPrefix(ct, "video/"):
		return KindVideo
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff", ".webp":
		return KindImage
	case ".mp4", ".mkv", ".webm", ".mov", ".ts", ".avi":
		return KindVideo
	}
	return KindUnknown
}
