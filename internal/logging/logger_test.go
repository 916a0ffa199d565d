package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "wabridged.log")

	logger, err := New(path, "work", "debug")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Debug("hello")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := strings.TrimSpace(strings.SplitN(string(data), "\n", 2)[0])
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log line is not JSON: %q", line)
	}
	if entry["msg"] != "hello" || entry["session"] != "work" {
		t.Errorf("unexpected entry %v", entry)
	}
	if _, ok := entry["pid"]; !ok {
		t.Error("missing pid field")
	}
	if _, ok := entry["ts"]; !ok {
		t.Error("missing ts field")
	}
}

func TestNewRespectsLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wabridged.log")

	logger, err := New(path, "main", "warn")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info("quiet")
	logger.Warn("loud")
	_ = logger.Sync()

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "quiet") {
		t.Error("info entry written at warn level")
	}
	if !strings.Contains(string(data), "loud") {
		t.Error("warn entry missing")
	}
}

func TestNewBadLevel(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "x.log"), "main", "chatty"); err == nil {
		t.Error("New() expected error for bad level")
	}
}
