package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: "debug", Format: "json", Output: &buf})
	log.WithField("actor_id", "a1").Debug("resolved")
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected json line: %v (%q)", err, buf.String())
	}
	if line["actor_id"] != "a1" || line["msg"] != "resolved" {
		t.Fatalf("unexpected entry %v", line)
	}
}

func TestLevelFallback(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: "chatty", Output: &buf})
	if log.GetLevel() != logrus.InfoLevel {
		t.Fatalf("expected info level, got %s", log.GetLevel())
	}
	log.Debug("hidden")
	log.Info("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}
