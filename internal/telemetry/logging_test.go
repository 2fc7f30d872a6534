package telemetry

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewLogger_RedactsCredentials(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger("debug", &buf)
	log.Info("login", "token", "eyJhbGciOi", "header", "Bearer abc", "user_id", 7)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if rec["token"] != "[REDACTED]" {
		t.Fatalf("token not redacted: %v", rec["token"])
	}
	if rec["header"] != "[REDACTED]" {
		t.Fatalf("bearer header not redacted: %v", rec["header"])
	}
	if rec["user_id"] != float64(7) {
		t.Fatalf("user_id = %v", rec["user_id"])
	}
	if _, ok := rec["timestamp"]; !ok {
		t.Fatalf("expected timestamp key, got %v", rec)
	}
}

func TestNewLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger("warn", &buf)
	log.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %s", buf.String())
	}
	log.Warn("kept")
	if buf.Len() == 0 {
		t.Fatalf("warn not logged")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
