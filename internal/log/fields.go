// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRunID     = "run_id"
	FieldClientID  = "client_id"
	FieldContainer = "container"

	// Pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldStage     = "stage"
	FieldStatus    = "status"
	FieldReason    = "reason"
	FieldStrategy  = "strategy"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Media / artifact fields
	FieldPath       = "path"
	FieldBytes      = "bytes"
	FieldMediaKind  = "media_kind"
	FieldConfidence = "confidence"
	FieldFrames     = "frames"

	// Network fields
	FieldURL  = "url"
	FieldPort = "port"
)
