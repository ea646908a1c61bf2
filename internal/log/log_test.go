package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   LevelDebug,
		"DEBUG":   LevelDebug,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"info":    LevelInfo,
		"":        LevelInfo,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLazyLogger_Component(t *testing.T) {
	var buf bytes.Buffer
	l := FromSlog(New(&buf, LevelInfo), "engine")

	l.Debug("hidden")
	l.Info("slot running", "slot", "if1/v4")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug record written at info level")
	}
	if !strings.Contains(out, "component=engine") || !strings.Contains(out, "slot=if1/v4") {
		t.Errorf("unexpected output: %q", out)
	}
	if l.Enabled(LevelDebug) || !l.Enabled(LevelWarn) {
		t.Error("Enabled does not follow the handler level")
	}
}

func TestLazyLogger_FollowsDefault(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	l := Logger("transport")

	var buf bytes.Buffer
	SetDefault(New(&buf, LevelDebug))
	l.Debug("joined group")

	if !strings.Contains(buf.String(), "component=transport") {
		t.Errorf("record not written to the new default: %q", buf.String())
	}
}
