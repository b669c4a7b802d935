package logx

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero Logger should report IsZero")
	}
	l.Info("dropped", String("k", "v"))
	if l.With(Int("n", 1)).IsZero() {
		t.Fatal("derived logger carries fields and is not zero")
	}
}

func TestLoggerFieldsAndLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := FromZerolog(zerolog.New(&buf).Level(zerolog.InfoLevel)).With(String("comp", "test"))

	l.Debug("hidden")
	l.Info("shown", Int("n", 3))

	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m); err != nil {
		t.Fatalf("expected exactly one JSON line, got %q: %v", buf.String(), err)
	}
	if m["message"] != "shown" || m["comp"] != "test" || m["n"] != float64(3) {
		t.Fatalf("unexpected entry: %v", m)
	}
	if !l.Enabled(LevelWarn) || l.Enabled(LevelDebug) {
		t.Fatal("Enabled does not follow the logger level")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in, zerolog.InfoLevel); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestServiceFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	svc, log := New(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	log.Info("to file", String("k", "v"))
	if err := svc.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !bytes.Contains(b, []byte(`"to file"`)) {
		t.Fatalf("log file missing entry: %s", b)
	}
}
