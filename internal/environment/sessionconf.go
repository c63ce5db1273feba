// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package environment

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const compositorConfigTemplate = `# hyprmoon-verify session {{ .RunID }}
monitor=HEADLESS-1,{{ .Width }}x{{ .Height }}@{{ .RefreshRate }},0x0,1

misc {
    force_default_wallpaper = 0
    disable_hyprland_logo = true
    disable_splash_rendering = true
}

animations {
    enabled = false
}

general {
    gaps_in = 0
    gaps_out = 0
    border_size = 0
}

decoration {
    rounding = 0
}

windowrule = float, ^({{ .ClientClass }})$
windowrule = size {{ .Width }} {{ .Height }}, ^({{ .ClientClass }})$
windowrule = move 0 0, ^({{ .ClientClass }})$

exec-once = sleep {{ .GraceSeconds }} && echo "{{ .StartMarker }}..." && {{ .ClientCommand }}
`

var compositorConfig = template.Must(template.New("hyprland.conf").Parse(compositorConfigTemplate))

// SessionConfig is the input for the generated compositor configuration.
type SessionConfig struct {
	RunID         string
	Width         int
	Height        int
	RefreshRate   int
	ClientCommand string
	ClientDelay   time.Duration
	TargetColor   string
}

// ClientClass is the window class the rules match: the client's binary name.
func (s SessionConfig) ClientClass() string {
	fields := strings.Fields(s.ClientCommand)
	if len(fields) == 0 {
		return "client"
	}
	return filepath.Base(fields[0])
}

// GraceSeconds rounds the client delay up to whole seconds.
func (s SessionConfig) GraceSeconds() int {
	secs := int((s.ClientDelay + time.Second - 1) / time.Second)
	return max(secs, 0)
}

// StartMarker is the line the session prints right before launching the client.
func (s SessionConfig) StartMarker() string {
	return fmt.Sprintf("Starting %s client", colorName(s.TargetColor))
}

// Render produces the compositor configuration text.
func (s SessionConfig) Render() ([]byte, error) {
	var buf bytes.Buffer
	if err := compositorConfig.Execute(&buf, s); err != nil {
		return nil, fmt.Errorf("render compositor config: %w", err)
	}
	return buf.Bytes(), nil
}

// ClientMarkers are log lines that show the known-visual-state client came up.
func ClientMarkers(targetColor string) []string {
	c := colorName(targetColor)
	title := cases.Title(language.English).String(c)
	return []string{
		"Starting " + c + " client",
		title + " screen displayed",
		title + " screen active",
		c + "_client running",
	}
}

func colorName(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	if c == "" {
		return "green"
	}
	return c
}
