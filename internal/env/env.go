// Package env reads typed settings from the environment. Unset or empty
// variables yield the fallback; malformed ones are reported.
package env

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

func lookup(name string) (string, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	return raw, raw != ""
}

// Int parses a decimal int.
func Int(name string, fallback int) (int, error) {
	raw, ok := lookup(name)
	if !ok {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}

// Uint64 accepts decimal, or hex with a 0x prefix.
func Uint64(name string, fallback uint64) (uint64, error) {
	raw, ok := lookup(name)
	if !ok {
		return fallback, nil
	}
	v, err := strconv.ParseUint(raw, 0, 64)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}

// Bool accepts the forms strconv.ParseBool does.
func Bool(name string, fallback bool) (bool, error) {
	raw, ok := lookup(name)
	if !ok {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}

// Duration parses a time.ParseDuration string such as "250ms".
func Duration(name string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(name)
	if !ok {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}

// Level parses a slog level name such as "debug" or "WARN+2".
func Level(name string, fallback slog.Level) (slog.Level, error) {
	raw, ok := lookup(name)
	if !ok {
		return fallback, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(raw)); err != nil {
		return fallback, fmt.Errorf("%s: %w", name, err)
	}
	return l, nil
}
