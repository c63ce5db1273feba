// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup spawns external tools in their own process group so a
// timed-out capture or container CLI call can be reaped together with every
// child it forked.
package procgroup

import "strings"

// isGone reports whether err means the target process no longer exists.
func isGone(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "process already finished") || strings.Contains(msg, "no such process")
}
