// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// TracerName is the instrumentation scope of every harness span.
const TracerName = "github.com/helixml/hyprmoon"

// Common attribute keys for consistent tracing across the harness.
const (
	// Run attributes
	RunIDKey     = "verify.run_id"
	StageKey     = "verify.stage"
	StageStatus  = "verify.stage_status"
	RunPassedKey = "verify.passed"

	// Probe attributes
	ProbeSchemeKey   = "probe.scheme"
	ProbeURLKey      = "probe.url"
	ProbeStatusKey   = "probe.status_code"
	ProbeAttemptsKey = "probe.attempts"

	// Capture attributes
	CaptureStrategyKey = "capture.strategy"
	CaptureBytesKey    = "capture.bytes"
	CaptureKindKey     = "capture.kind"

	// Verdict attributes
	VerdictMatchingKey   = "verdict.matching"
	VerdictConfidenceKey = "verdict.confidence"
	VerdictMethodKey     = "verdict.method"
	VerdictFramesKey     = "verdict.frames"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// ProbeAttributes creates protocol probe span attributes.
func ProbeAttributes(scheme, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(ProbeSchemeKey, scheme),
		attribute.String(ProbeURLKey, url),
		attribute.Int(ProbeStatusKey, statusCode),
	}
}

// CaptureAttributes creates capture span attributes.
func CaptureAttributes(strategy string, bytes int64, kind string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(CaptureStrategyKey, strategy),
		attribute.Int64(CaptureBytesKey, bytes),
		attribute.String(CaptureKindKey, kind),
	}
}

// VerdictAttributes creates classification span attributes.
func VerdictAttributes(matching bool, confidence float64, method string, frames int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(VerdictMatchingKey, matching),
		attribute.Float64(VerdictConfidenceKey, confidence),
		attribute.String(VerdictMethodKey, method),
		attribute.Int(VerdictFramesKey, frames),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
