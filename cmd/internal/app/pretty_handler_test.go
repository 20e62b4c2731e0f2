package app

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestPrettyHandler_PlainLine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false))
	log.With("tenant_id", "r1").WithGroup("rt").Info("rt.session.open", "conn_id", "c1", "reason", "peer closed")

	line := buf.String()
	for _, want := range []string{"[INFO]", "rt.session.open", "tenant_id=r1", "rt.conn_id=c1", `rt.reason="peer closed"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("line %q missing %q", line, want)
		}
	}
	if strings.Contains(line, "\x1b[") {
		t.Fatalf("color codes without color: %q", line)
	}
	if !strings.HasSuffix(line, "\n") {
		t.Fatalf("line not terminated: %q", line)
	}
}

func TestPrettyHandler_ColorAndLevels(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, true))

	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info below warn was written: %q", buf.String())
	}

	log.Error("rt.route.panic", "err", errors.New("boom"))
	line := buf.String()
	if !strings.Contains(line, ansiRed+"[ERROR]"+ansiReset) {
		t.Fatalf("error tag not red: %q", line)
	}
	if !strings.Contains(line, "err="+ansiRed+"boom"+ansiReset) {
		t.Fatalf("err value not red: %q", line)
	}
}

func TestQuoteIfNeeded(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":          `""`,
		"plain":     "plain",
		"two words": `"two words"`,
		"a=b":       `"a=b"`,
	}
	for in, want := range cases {
		if got := quoteIfNeeded(in); got != want {
			t.Fatalf("quoteIfNeeded(%q)=%q want=%q", in, got, want)
		}
	}
}
