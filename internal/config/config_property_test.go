package config

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"
)

// validLogLevels are the accepted log level values.
var validLogLevels = []string{"debug", "info", "warn", "error"}

func TestProperty_ValidPortsRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		port := rapid.IntRange(1, 65535).Draw(t, "port")
		level := rapid.SampledFrom(validLogLevels).Draw(t, "level")

		cfg, err := Load([]string{
			"-p", fmt.Sprintf("%d", port),
			"--log-level=" + level,
		})
		if err != nil {
			t.Fatalf("Load() returned error for valid inputs: %v", err)
		}
		if cfg.Port != port {
			t.Fatalf("Port = %d, want %d", cfg.Port, port)
		}
		if cfg.LogLevel != level {
			t.Fatalf("LogLevel = %q, want %q", cfg.LogLevel, level)
		}
	})
}

func TestProperty_OutOfRangePortsRejected(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		port := rapid.OneOf(
			rapid.IntRange(-1000, 0),
			rapid.IntRange(65536, 1<<20),
		).Draw(t, "port")

		if _, err := Load([]string{fmt.Sprintf("--port=%d", port)}); err == nil {
			t.Fatalf("Load() should return error for port %d", port)
		}
	})
}

func TestProperty_InvalidLogLevelsRejected(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		level := rapid.StringMatching(`[a-z]{1,20}`).Filter(func(s string) bool {
			for _, v := range validLogLevels {
				if s == v {
					return false
				}
			}
			return true
		}).Draw(t, "level")

		if _, err := Load([]string{"-p", "4000", "--log-level=" + level}); err == nil {
			t.Fatalf("Load() should return error for log level %q", level)
		}
	})
}
