// Package envconfig reads the environment variables tether understands.
package envconfig

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Var returns an environment variable stripped of surrounding whitespace and
// quotes.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// BoolWithDefault parses k with strconv.ParseBool. Unset returns the default;
// a value that does not parse counts as true.
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

// Bool is BoolWithDefault with a false default.
func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

// String returns a reader for k.
func String(k string) func() string {
	return func() string {
		return Var(k)
	}
}

var (
	// FlashAttention is the USE_FLASH_ATTENTION opt-out. Accelerated attention
	// stays eligible unless the variable holds a false value.
	FlashAttention = func() bool { return BoolWithDefault("USE_FLASH_ATTENTION")(true) }
	// Debug enables debug logging.
	Debug = Bool("TETHER_DEBUG")
	// ConfigPath overrides the location of config.yaml.
	ConfigPath = String("TETHER_CONFIG")
)

// LogLevel returns the level requested by TETHER_LOG_LEVEL, or debug when
// TETHER_DEBUG is set.
func LogLevel() slog.Level {
	if Debug() {
		return slog.LevelDebug
	}
	switch strings.ToLower(Var("TETHER_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap describes every variable and its current value.
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"USE_FLASH_ATTENTION": {"USE_FLASH_ATTENTION", FlashAttention(), "Allow accelerated attention for f16 models in cuda+flashattn builds"},
		"TETHER_DEBUG":        {"TETHER_DEBUG", Debug(), "Enable debug logging"},
		"TETHER_LOG_LEVEL":    {"TETHER_LOG_LEVEL", LogLevel(), "Log level (debug, info, warn, error)"},
		"TETHER_CONFIG":       {"TETHER_CONFIG", ConfigPath(), "Path to config.yaml"},
	}
}
