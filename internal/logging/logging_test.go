package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNew_Format(t *testing.T) {
	tests := []struct {
		format   string
		terminal bool
		wantJSON bool
	}{
		{"json", true, true},
		{"text", false, false},
		{"auto", false, true},
		{"auto", true, false},
		{"", false, true},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		logger := New(&buf, "info", tt.format, tt.terminal)
		logger.Info("hello", "k", "v")

		isJSON := json.Valid(bytes.TrimSpace(buf.Bytes()))
		if isJSON != tt.wantJSON {
			t.Errorf("format=%q terminal=%v: json=%v, want %v (%s)", tt.format, tt.terminal, isJSON, tt.wantJSON, buf.String())
		}
	}
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn", "json", false)
	logger.Info("dropped")
	logger.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("info message should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "kept") {
		t.Errorf("warn message missing: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSanitizeToken(t *testing.T) {
	if got := SanitizeToken("short"); got != "****" {
		t.Errorf("SanitizeToken(short) = %q", got)
	}
	if got := SanitizeToken("figd_abcdefghijkl"); got != "figd...ijkl" {
		t.Errorf("SanitizeToken = %q, want figd...ijkl", got)
	}
}
