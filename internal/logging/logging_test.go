package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "", want: slog.LevelInfo},
		{in: "DEBUG", want: slog.LevelDebug},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "trace", want: slog.LevelInfo, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr || got != tt.want {
				t.Fatalf("ParseLevel(%q) = %v, %v", tt.in, got, err)
			}
		})
	}
}

func TestNew_RotatingFileJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gateway.log")
	l, closer, err := New(Config{Level: "debug", Format: "json", Output: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if closer == nil {
		t.Fatalf("file output must return a closer")
	}

	l.Debug("session completed", "generations", 2)
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(b))), &rec); err != nil {
		t.Fatalf("log line is not json: %q", b)
	}
	if rec["msg"] != "session completed" || rec["generations"] != float64(2) || rec["level"] != "DEBUG" {
		t.Fatalf("record = %v", rec)
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	if _, _, err := New(Config{Format: "xml"}); err == nil {
		t.Fatalf("expected format error")
	}
	if _, _, err := New(Config{Level: "loud"}); err == nil {
		t.Fatalf("expected level error")
	}
	l, closer, err := New(Config{Output: "stdout"})
	if err != nil || l == nil || closer != nil {
		t.Fatalf("stdout: %v %v %v", l, closer, err)
	}
}
