// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package report

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/helixml/hyprmoon/internal/fsutil"
	"github.com/helixml/hyprmoon/internal/verification"
)

// maxJSONLogBytes keeps machine-readable reports bounded; the bundle
// carries the full log tail.
const maxJSONLogBytes = 16 << 10

// JSON encodes r for machines.
func JSON(r *verification.Report) ([]byte, error) {
	out := *r
	if len(out.Logs) > maxJSONLogBytes {
		cut := len(out.Logs) - maxJSONLogBytes
		for cut < len(out.Logs) && !utf8.RuneStart(out.Logs[cut]) {
			cut++
		}
		out.Logs = "...(truncated)\n" + out.Logs[cut:]
	}
	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return append(data, '\n'), nil
}

// WriteJSON atomically replaces path with the JSON report.
func WriteJSON(path string, r *verification.Report) error {
	data, err := JSON(r)
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}
