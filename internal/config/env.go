// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/helixml/hyprmoon/internal/log"
	"github.com/rs/zerolog"
)

// ParseString returns the value of key, or defaultValue when unset or empty.
func ParseString(key, defaultValue string) string {
	return lookup(log.WithComponent("config"), key, defaultValue, func(s string) (string, error) {
		return s, nil
	})
}

// ParseInt returns key parsed as an integer. Malformed values fall back to
// defaultValue with a warning.
func ParseInt(key string, defaultValue int) int {
	return lookup(log.WithComponent("config"), key, defaultValue, strconv.Atoi)
}

// ParseDuration accepts Go duration syntax ("5s", "1m30s").
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	return lookup(log.WithComponent("config"), key, defaultValue, time.ParseDuration)
}

// ParseBool accepts true/false, 1/0 and yes/no in any case.
func ParseBool(key string, defaultValue bool) bool {
	return lookup(log.WithComponent("config"), key, defaultValue, parseBool)
}

// ParseFloat returns key parsed as a float64.
func ParseFloat(key string, defaultValue float64) float64 {
	return lookup(log.WithComponent("config"), key, defaultValue, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", s)
}

// lookup resolves one override and logs where the effective value came from.
// Keys naming secrets are logged without their value.
func lookup[T any](logger zerolog.Logger, key string, defaultValue T, parse func(string) (T, error)) T {
	raw, set := os.LookupEnv(key)
	if !set || raw == "" {
		logger.Debug().
			Str("key", key).
			Interface("default", defaultValue).
			Str("source", "default").
			Msg("env override not set")
		return defaultValue
	}

	v, err := parse(raw)
	if err != nil {
		logger.Warn().
			Err(err).
			Str("key", key).
			Str("value", raw).
			Interface("default", defaultValue).
			Msg("ignoring malformed env override")
		return defaultValue
	}

	ev := logger.Debug().Str("key", key).Str("source", "environment")
	if sensitive(key) {
		ev = ev.Bool("sensitive", true)
	} else {
		ev = ev.Interface("value", v)
	}
	ev.Msg("env override applied")
	return v
}

func sensitive(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "token") || strings.Contains(k, "password") || strings.Contains(k, "secret")
}
