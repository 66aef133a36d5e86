package netlog_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/momentics/netengine/netlog"
)

func TestParseLevelRoundTrip(t *testing.T) {
	cases := map[string]netlog.Level{
		"DEBUG": netlog.LevelDebug,
		"INFO":  netlog.LevelInfo,
		"WARN":  netlog.LevelWarn,
		"ERROR": netlog.LevelError,
	}
	for s, want := range cases {
		got, err := netlog.ParseLevel(s)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", s, err)
		}
		if got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", s, got, want)
		}
		if got.String() != s {
			t.Fatalf("Level(%v).String() = %q, want %q", got, got.String(), s)
		}
	}
}

func TestParseLevelRejectsUnknown(t *testing.T) {
	if _, err := netlog.ParseLevel("TRACE"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestLoggerSuppressesBelowConfiguredLevel(t *testing.T) {
	var buf bytes.Buffer
	l := netlog.New(&buf, netlog.LevelWarn)

	l.Debug("debug message")
	l.Info("info message")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below WARN, got %q", buf.String())
	}

	l.Warn("warn message")
	if !strings.Contains(buf.String(), "warn message") {
		t.Fatalf("expected warn message in output, got %q", buf.String())
	}
}

func TestLoggerEmitsAtOrAboveConfiguredLevel(t *testing.T) {
	var buf bytes.Buffer
	l := netlog.New(&buf, netlog.LevelInfo)

	l.Infof("hello %s", "world")
	l.Errorf("boom %d", 42)

	out := buf.String()
	if !strings.Contains(out, "[INFO] hello world") {
		t.Fatalf("expected formatted info line, got %q", out)
	}
	if !strings.Contains(out, "[ERROR] boom 42") {
		t.Fatalf("expected formatted error line, got %q", out)
	}
}

func TestSetLevelAdjustsThresholdDynamically(t *testing.T) {
	var buf bytes.Buffer
	l := netlog.New(&buf, netlog.LevelError)

	l.Warn("should be suppressed")
	if buf.Len() != 0 {
		t.Fatalf("expected suppression at ERROR level, got %q", buf.String())
	}

	l.SetLevel(netlog.LevelWarn)
	l.Warn("should appear")
	if !strings.Contains(buf.String(), "should appear") {
		t.Fatalf("expected warn output after SetLevel, got %q", buf.String())
	}
}
