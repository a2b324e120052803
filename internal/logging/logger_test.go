// Starlink IP EDL - Starlink IP range collection and distribution service
// Copyright 2026 koas-mih
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/koas-mih/Starlink-IP-EDL

package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestInitAndLevels(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", Format: "json", Output: &buf, Timestamp: true})

	Debug().Msg("should be filtered")
	Info().Str("component", "test").Msg("visible")

	out := buf.String()
	if strings.Contains(out, "should be filtered") {
		t.Error("debug message emitted at info level")
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("info message missing from output: %q", out)
	}
	if !strings.Contains(out, `"component":"test"`) {
		t.Errorf("structured field missing from output: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"disabled", zerolog.Disabled},
		{"WARN", zerolog.WarnLevel},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestWithChildLogger(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Output: &buf})

	child := With().Str("component", "fetch").Logger()
	child.Info().Msg("child message")

	if !strings.Contains(buf.String(), `"component":"fetch"`) {
		t.Errorf("child logger field missing: %q", buf.String())
	}
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Output: &buf})

	slogger := slog.New(NewSlogHandler())
	slogger.Info("supervisor event", slog.String("service", "scheduler"), slog.Int64("restarts", 2))

	out := buf.String()
	if !strings.Contains(out, "supervisor event") {
		t.Fatalf("slog message missing: %q", out)
	}
	if !strings.Contains(out, `"service":"scheduler"`) {
		t.Errorf("string attr missing: %q", out)
	}
	if !strings.Contains(out, `"restarts":2`) {
		t.Errorf("int attr missing: %q", out)
	}
}

func TestSlogAdapterGroups(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Output: &buf})

	slogger := slog.New(NewSlogHandler()).WithGroup("tree")
	slogger.Warn("backoff", slog.String("supervisor", "root"))

	if !strings.Contains(buf.String(), `"tree.supervisor":"root"`) {
		t.Errorf("grouped attr missing: %q", buf.String())
	}
}

func TestNewTestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTestLogger(&buf)
	logger.Info().Msg("captured")

	if !strings.Contains(buf.String(), "captured") {
		t.Errorf("test logger did not write to buffer: %q", buf.String())
	}
}
