// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package classify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// Target is a color predicate in HSV space. Hue is in degrees [0,360);
// saturation and value floors are in [0,1].
type Target struct {
	Name   string
	HueMin float64
	HueMax float64
	SatMin float64
	ValMin float64
}

// The floors reject near-black and near-white pixels (40/255).
const hsvFloor = 40.0 / 255.0

var presets = map[string]Target{
	"green": {Name: "green", HueMin: 70, HueMax: 170, SatMin: hsvFloor, ValMin: hsvFloor},
	// red wraps around 0°
	"red":  {Name: "red", HueMin: 340, HueMax: 20, SatMin: hsvFloor, ValMin: hsvFloor},
	"blue": {Name: "blue", HueMin: 200, HueMax: 260, SatMin: hsvFloor, ValMin: hsvFloor},
}

// Preset returns the named target color.
func Preset(name string) (Target, error) {
	t, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Target{}, fmt.Errorf("unknown target color %q (have %s)", name, strings.Join(PresetNames(), ", "))
	}
	return t, nil
}

// PresetNames lists the built-in targets.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Matches reports whether c falls inside the target band.
func (t Target) Matches(c colorful.Color) bool {
	h, s, v := c.Hsv()
	if s < t.SatMin || v < t.ValMin {
		return false
	}
	if t.HueMin <= t.HueMax {
		return h >= t.HueMin && h <= t.HueMax
	}
	return h >= t.HueMin || h <= t.HueMax
}
