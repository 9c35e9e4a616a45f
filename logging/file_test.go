package logging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestFileLoggerSessionMarkers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.log")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	if logger.Path() != path {
		t.Errorf("Path = %q, want %q", logger.Path(), path)
	}
	logger.Log("loading slot %d", 12)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	str := string(content)
	if !strings.Contains(str, "==== session started") {
		t.Error("missing session-start marker")
	}
	if !strings.Contains(str, "loading slot 12") {
		t.Errorf("missing log line, got: %s", str)
	}
	if !strings.Contains(str, "==== session ended") {
		t.Error("missing session-end marker")
	}
}

func TestFileLoggerCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "nested", "discbot.log")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	defer logger.Close()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("log file not created: %v", err)
	}
}

func TestFileLoggerAppendsAcrossSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.log")

	first, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	first.Log("ejecting")
	first.Close()

	second, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	second.Log("rescanning")
	second.Close()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	str := string(content)
	if !strings.Contains(str, "ejecting") || !strings.Contains(str, "rescanning") {
		t.Errorf("lost a session's lines: %s", str)
	}
	if got := strings.Count(str, "==== session started"); got != 2 {
		t.Errorf("session-start markers = %d, want 2", got)
	}
}

func TestFileLoggerDropsWritesAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.log")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// A second close and late writes must both be harmless.
	if err := logger.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	logger.Log("late line")

	content, _ := os.ReadFile(path)
	if strings.Contains(string(content), "late line") {
		t.Error("logged after close")
	}
}

func TestFileLoggerConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.log")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			logger.Log("moved slot %d", n)
		}(i)
	}
	wg.Wait()
	logger.Close()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	// 100 log lines plus the two session markers.
	if len(lines) != 102 {
		t.Errorf("lines = %d, want 102", len(lines))
	}
}
