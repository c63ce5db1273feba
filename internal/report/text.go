// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package report renders verification reports for operators and archives.
package report

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/helixml/hyprmoon/internal/verification"
)

// Text renders r as the human-readable report.
func Text(r *verification.Report) string {
	var buf bytes.Buffer
	_ = WriteText(&buf, r)
	return buf.String()
}

// WriteText writes the human-readable report to w.
func WriteText(w io.Writer, r *verification.Report) error {
	p := &printer{w: w}

	p.linef("hyprmoon verification run %s", r.RunID)
	p.linef("result:      %s", result(r))
	p.linef("started:     %s", r.StartedAt.Format(time.RFC3339))
	p.linef("duration:    %s", r.Duration().Round(time.Millisecond))
	if env := r.Environment; env != nil {
		p.linef("environment: %s on %s (%s)", env.Name, env.Host, env.Ports)
	}

	p.linef("")
	p.linef("stages:")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, s := range r.Stages {
		dur := "-"
		if s.Status == verification.StatusPassed || s.Status == verification.StatusFailed {
			dur = s.Duration.Round(time.Millisecond).String()
		}
		status := string(s.Status)
		if s.Soft && s.Status == verification.StatusFailed {
			status += " (soft)"
		}
		_, _ = fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", s.Stage, status, dur, s.Reason)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	p.linef("")
	if md := r.Metadata; md != nil {
		p.linef("server:      %s (app %s, via %s:%d)", md.Hostname, orDash(md.AppVersion), md.Scheme, md.Port)
	}
	if ps := r.Pairing; ps != nil {
		if ps.Initiated() {
			p.linef("pairing:     initiated via %s (session key: %t)", ps.Scheme, ps.SessionKeyObtained)
		} else {
			p.linef("pairing:     not initiated: %s", ps.Reason)
		}
	}
	if r.Environment != nil {
		marker := "not seen"
		if r.ClientMarker {
			marker = "seen"
		}
		p.linef("client:      start marker %s", marker)
	}
	if a := r.Artifact; a != nil {
		p.linef("artifact:    %s %s, %s, blake3 %s", a.Strategy, a.Kind, humanize.IBytes(uint64(a.Size)), shortDigest(a.Digest))
		if a.Path != "" {
			p.linef("             %s", a.Path)
		}
	}
	if len(r.CaptureFailures) > 0 {
		p.linef("capture failures:")
		for _, f := range r.CaptureFailures {
			p.linef("  %s: %s", f.Strategy, f.Reason)
		}
	}
	if v := r.Verdict; v != nil {
		line := fmt.Sprintf("verdict:     matching=%t confidence=%.3f threshold=%.2f method=%s frames=%d",
			v.Matching, v.Confidence, v.Threshold, v.Method, v.FramesExamined)
		if v.Degraded {
			line += " DEGRADED"
			if !r.AllowDegraded {
				line += " (not accepted)"
			}
		}
		p.linef("%s", line)
	}
	if r.TeardownError != "" {
		p.linef("teardown:    %s", r.TeardownError)
	}

	if logs := strings.TrimRight(r.Logs, "\n"); logs != "" {
		p.linef("")
		p.linef("--- runtime log tail ---")
		p.linef("%s", logs)
		p.linef("--- end of log tail ---")
	}
	return p.err
}

type printer struct {
	w   io.Writer
	err error
}

func (p *printer) linef(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format+"\n", args...)
}

func result(r *verification.Report) string {
	if r.Passed {
		return "PASS"
	}
	s := "FAIL"
	if r.FailedStage != "" {
		s += " at " + r.FailedStage
	}
	if r.Interrupted {
		s += " (interrupted)"
	}
	return s
}

func shortDigest(d string) string {
	if len(d) > 16 {
		return d[:16]
	}
	return orDash(d)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
