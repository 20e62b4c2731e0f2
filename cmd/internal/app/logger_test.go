package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewLogger_Formats(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	newLogger(&buf, "info", "json").Info("rt.session.open", "conn_id", "c1")
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("json output %q: %v", buf.String(), err)
	}
	if rec["msg"] != "rt.session.open" || rec["conn_id"] != "c1" {
		t.Fatalf("json record = %v", rec)
	}

	buf.Reset()
	newLogger(&buf, "info", "text").Info("rt.session.open", "conn_id", "c1")
	if !strings.Contains(buf.String(), "msg=rt.session.open") || !strings.Contains(buf.String(), "conn_id=c1") {
		t.Fatalf("text output = %q", buf.String())
	}

	buf.Reset()
	l := newLogger(&buf, "warn", "text")
	l.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %q", buf.String())
	}
}
