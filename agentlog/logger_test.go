package agentlog

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]string{
		"debug": "DEBUG", "WARN": "WARN", "error": "ERROR", "bogus": "INFO", "": "INFO",
	}
	for in, want := range cases {
		got := ParseLevel(in).String()
		if got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{Logger: slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: ParseLevel("warn")}))}

	l.Info("should be dropped")
	if buf.Len() != 0 {
		t.Fatalf("info line emitted at warn level: %s", buf.String())
	}

	l.Error("boom", "code", 42)
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decoding log line: %v", err)
	}
	if decoded["msg"] != "boom" || decoded["code"] != float64(42) {
		t.Fatalf("decoded = %+v", decoded)
	}
}

func TestWithAttachesFields(t *testing.T) {
	var buf bytes.Buffer
	base := &Logger{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	scoped := base.With("network", "n1")

	scoped.Info("started")

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decoding log line: %v", err)
	}
	if decoded["network"] != "n1" {
		t.Fatalf("decoded = %+v, want network=n1", decoded)
	}
}
