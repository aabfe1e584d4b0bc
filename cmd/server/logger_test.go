package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"hec-relp-gateway/internal/config"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, config.Config{LogFormat: "json", LogLevel: "warn"})
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Info("dropped")
	logger.Warn("kept", "ackID", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %q", buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec["msg"] != "kept" || rec["ackID"] != float64(3) {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestNewLogger_Invalid(t *testing.T) {
	if _, err := newLogger(&bytes.Buffer{}, config.Config{LogFormat: "xml", LogLevel: "info"}); err == nil {
		t.Fatalf("expected error for unknown format")
	}
	if _, err := newLogger(&bytes.Buffer{}, config.Config{LogFormat: "text", LogLevel: "loud"}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
