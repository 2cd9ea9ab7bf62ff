package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "chatd.log")
	logger, err := New(path, "test", "debug")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Debug("hello")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	line := string(data)
	if !strings.Contains(line, `"msg":"hello"`) || !strings.Contains(line, `"profile":"test"`) {
		t.Errorf("log line = %q, want msg and profile fields", line)
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatd.log")
	if _, err := New(path, "test", "loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}
