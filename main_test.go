package main

import (
	"context"
	"log/slog"
	"testing"

	"clubotel-scraper/config"
)

func TestNewLoggerLevel(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		verbose  bool
		quiet    bool
		expected slog.Level
	}{
		{"default", "", false, false, slog.LevelInfo},
		{"config debug", "debug", false, false, slog.LevelDebug},
		{"config warning", "WARNING", false, false, slog.LevelWarn},
		{"verbose wins", "error", true, false, slog.LevelDebug},
		{"quiet", "info", false, true, slog.LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := newLogger(config.LogConfig{Level: tt.level}, tt.verbose, tt.quiet, "")
			ctx := context.Background()
			if !logger.Enabled(ctx, tt.expected) {
				t.Errorf("level %s not enabled", tt.expected)
			}
			if tt.expected > slog.LevelDebug && logger.Enabled(ctx, tt.expected-4) {
				t.Errorf("level below %s enabled", tt.expected)
			}
		})
	}
}

func TestNewLoggerFormat(t *testing.T) {
	if _, ok := newLogger(config.LogConfig{Format: "json"}, false, false, "").Handler().(*slog.JSONHandler); !ok {
		t.Error("config format json not applied")
	}
	if _, ok := newLogger(config.LogConfig{Format: "json"}, false, false, "text").Handler().(*slog.TextHandler); !ok {
		t.Error("--log-format should override config")
	}
}
