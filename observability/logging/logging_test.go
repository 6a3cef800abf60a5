package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewEmitsRenamedKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Options{Service: "bountyd", Env: "test", Level: "debug"})
	logger.Debug("bounty transition", slog.String("action", "create"))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	for _, key := range []string{"timestamp", "severity", "message", "service", "env", "action"} {
		if _, ok := line[key]; !ok {
			t.Fatalf("missing key %q in %v", key, line)
		}
	}
	if line["severity"] != "DEBUG" {
		t.Fatalf("expected DEBUG severity, got %v", line["severity"])
	}
	if line["service"] != "bountyd" {
		t.Fatalf("unexpected service %v", line["service"])
	}
}

func TestLevelFiltersLowerSeverities(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Options{Service: "bountyd", Level: "warn"})
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered, got %s", buf.String())
	}
	logger.Warn("kept")
	if buf.Len() == 0 {
		t.Fatalf("expected warn line")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestMasking(t *testing.T) {
	if got := MaskField("signature", "0xdead"); got.Value.String() != RedactedValue {
		t.Fatalf("expected signature to be masked, got %v", got.Value)
	}
	if got := MaskField("bounty", "7"); got.Value.String() != "7" {
		t.Fatalf("expected allowlisted key to pass through, got %v", got.Value)
	}
	if got := MaskBearer("Bearer abc.def.ghi"); got != "Bearer "+RedactedValue {
		t.Fatalf("unexpected masked header %q", got)
	}
	if got := MaskBearer(""); got != "" {
		t.Fatalf("expected empty header to stay empty, got %q", got)
	}
}
