package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
		ok   bool
	}{
		{"debug", zapcore.DebugLevel, true},
		{"", zapcore.InfoLevel, true},
		{" WARNING ", zapcore.WarnLevel, true},
		{"error", zapcore.ErrorLevel, true},
		{"verbose", zapcore.InfoLevel, false},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestInitWritesRotatingFile(t *testing.T) {
	prevL, prevZ, prevRot := L, Z, rotator
	t.Cleanup(func() { L, Z, rotator = prevL, prevZ, prevRot })

	path := filepath.Join(t.TempDir(), "logs", "gcptts.log")
	if err := Init(Config{Level: "debug", Format: "json", File: path}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	Debugf("[test] 调试 %d", 42)
	Warn("[test] 警告")
	Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	for _, want := range []string{"[test] 调试 42", "[test] 警告", `"L":"WARN"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("log file missing %q:\n%s", want, data)
		}
	}
}

func TestInitRejectsUnknownFormat(t *testing.T) {
	prevL, prevZ := L, Z
	t.Cleanup(func() { L, Z = prevL, prevZ })

	if err := Init(Config{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
	if err := Init(Config{Level: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
