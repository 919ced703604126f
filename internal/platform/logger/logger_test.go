package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNew_json_format(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info", "json")
	log.Info("started", "port", "8080")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if line["msg"] != "started" || line["port"] != "8080" {
		t.Errorf("unexpected record: %v", line)
	}
}

func TestNew_text_format(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info", "text")
	log.Info("started")

	if out := buf.String(); !strings.Contains(out, "msg=started") {
		t.Errorf("expected text output, got %q", out)
	}
}

func TestNew_level_filters(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "warn", "json")

	log.Info("quiet")
	if buf.Len() != 0 {
		t.Errorf("info should be filtered at warn level, got %q", buf.String())
	}
	log.Warn("loud")
	if !strings.Contains(buf.String(), "loud") {
		t.Error("warn record missing")
	}
}
