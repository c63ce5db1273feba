// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package classify decides whether captured evidence shows the target color.
package classify

import (
	"bytes"
	"context"
	"errors"
	"image"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
	_ "golang.org/x/image/webp" // register WebP with image.Decode

	"github.com/helixml/hyprmoon/internal/capture"
	"github.com/helixml/hyprmoon/internal/config"
	"github.com/helixml/hyprmoon/internal/log"
)

// Method names how a verdict was reached.
type Method string

const (
	MethodPixel       Method = "pixel"
	MethodHeuristic   Method = "size-heuristic"
	MethodUndecodable Method = "undecodable"
)

const (
	// maxEdge bounds the analysed image size; classification is ratio based.
	maxEdge = 640

	heuristicConfidence = 0.5
	heuristicThreshold  = 0.25
)

// Verdict is the outcome of classifying one artifact.
type Verdict struct {
	Matching       bool    `json:"matching"`
	Confidence     float64 `json:"confidence"`
	FramesExamined int     `json:"frames_examined"`
	Threshold      float64 `json:"threshold"`
	Method         Method  `json:"method"`
	Degraded       bool    `json:"degraded"`
}

// Passes applies the run pass rule to the verdict.
func (v Verdict) Passes(allowDegraded bool) bool {
	if v.Degraded && !allowDegraded {
		return false
	}
	return v.Matching && v.Confidence > v.Threshold
}

// Classifier evaluates artifacts against a Target.
type Classifier struct {
	Target           Target
	FrameThreshold   float64
	VideoThreshold   float64
	FrameSampleLimit int
	// Heuristic forces the size-only mode.
	Heuristic  bool
	FloorBytes int64
	Extractor  FrameExtractor
}

// New builds a Classifier from configuration.
func New(cfg config.ClassifierConfig, extractor FrameExtractor) (*Classifier, error) {
	target, err := Preset(cfg.TargetColor)
	if err != nil {
		return nil, err
	}
	return &Classifier{
		Target:           target,
		FrameThreshold:   cfg.FrameThreshold,
		VideoThreshold:   cfg.VideoThreshold,
		FrameSampleLimit: cfg.FrameSampleLimit,
		Heuristic:        cfg.Mode == config.AnalysisHeuristic,
		FloorBytes:       cfg.HeuristicFloorBytes,
		Extractor:        extractor,
	}, nil
}

// Classify evaluates art against target with the default thresholds.
func Classify(ctx context.Context, art *capture.Artifact, target Target, frameSampleLimit int) Verdict {
	d := config.Defaults().Classifier
	c := &Classifier{
		Target:           target,
		FrameThreshold:   d.FrameThreshold,
		VideoThreshold:   d.VideoThreshold,
		FrameSampleLimit: frameSampleLimit,
		FloorBytes:       d.HeuristicFloorBytes,
	}
	return c.Classify(ctx, art)
}

// Classify never fails; undecodable input yields a non-matching verdict.
func (c *Classifier) Classify(ctx context.Context, art *capture.Artifact) Verdict {
	logger := log.WithComponentFromContext(ctx, "classify")
	if art == nil || len(art.Data) == 0 {
		return undecodable(c.FrameThreshold)
	}
	if c.Heuristic {
		return c.heuristic(art.Size)
	}

	var v Verdict
	switch art.Kind {
	case capture.KindVideo:
		v = c.classifyVideo(ctx, art)
	case capture.KindImage:
		v = c.classifyImageBytes(art.Data)
	default:
		v = c.classifyImageBytes(art.Data)
		if v.Method == MethodUndecodable {
			v = c.classifyVideo(ctx, art)
		}
	}

	logger.Info().
		Str("event", "classify.verdict").
		Str("method", string(v.Method)).
		Bool("matching", v.Matching).
		Float64("confidence", v.Confidence).
		Int("frames", v.FramesExamined).
		Bool("degraded", v.Degraded).
		Msg("artifact classified")
	return v
}

func (c *Classifier) classifyImageBytes(data []byte) Verdict {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return undecodable(c.FrameThreshold)
	}
	frac := c.MatchFraction(img)
	return Verdict{
		Matching:       frac > c.FrameThreshold,
		Confidence:     frac,
		FramesExamined: 1,
		Threshold:      c.FrameThreshold,
		Method:         MethodPixel,
	}
}

func (c *Classifier) classifyVideo(ctx context.Context, art *capture.Artifact) Verdict {
	if c.Extractor == nil {
		return c.heuristic(art.Size)
	}
	frames, err := c.Extractor.Frames(ctx, art, c.FrameSampleLimit)
	if errors.Is(err, ErrExtractorUnavailable) {
		return c.heuristic(art.Size)
	}
	if err != nil || len(frames) == 0 {
		logger := log.WithComponentFromContext(ctx, "classify")
		logger.Warn().Err(err).Int("frames", len(frames)).Msg("no frames decoded")
		return undecodable(c.VideoThreshold)
	}
	if c.FrameSampleLimit > 0 && len(frames) > c.FrameSampleLimit {
		frames = frames[:c.FrameSampleLimit]
	}

	matching := 0
	for _, f := range frames {
		if c.MatchFraction(f) > c.FrameThreshold {
			matching++
		}
	}
	conf := float64(matching) / float64(len(frames))
	return Verdict{
		Matching:       conf > c.VideoThreshold,
		Confidence:     conf,
		FramesExamined: len(frames),
		Threshold:      c.VideoThreshold,
		Method:         MethodPixel,
	}
}

// MatchFraction returns the share of pixels inside the target band.
func (c *Classifier) MatchFraction(img image.Image) float64 {
	b := img.Bounds()
	if b.Dx() > maxEdge || b.Dy() > maxEdge {
		img = imaging.Fit(img, maxEdge, maxEdge, imaging.Box)
	}
	nrgba := imaging.Clone(img)
	total := nrgba.Rect.Dx() * nrgba.Rect.Dy()
	if total == 0 {
		return 0
	}

	matched := 0
	pix := nrgba.Pix
	for y := 0; y < nrgba.Rect.Dy(); y++ {
		row := pix[y*nrgba.Stride : y*nrgba.Stride+nrgba.Rect.Dx()*4]
		for x := 0; x+3 < len(row); x += 4 {
			if row[x+3] == 0 {
				continue
			}
			col := colorful.Color{
				R: float64(row[x]) / 255,
				G: float64(row[x+1]) / 255,
				B: float64(row[x+2]) / 255,
			}
			if c.Target.Matches(col) {
				matched++
			}
		}
	}
	return float64(matched) / float64(total)
}

func (c *Classifier) heuristic(size int64) Verdict {
	v := Verdict{
		Threshold: heuristicThreshold,
		Method:    MethodHeuristic,
		Degraded:  true,
	}
	if size > c.FloorBytes {
		v.Matching = true
		v.Confidence = heuristicConfidence
	}
	return v
}

func undecodable(threshold float64) Verdict {
	return Verdict{Threshold: threshold, Method: MethodUndecodable}
}
