package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const stampFormat = "2006-01-02 15:04:05.000"

// FileLogger is the daemon's session log: one timestamped line per
// operator-visible event, with session boundaries marked so runs
// appended to the same file can be told apart. Safe for concurrent use.
type FileLogger struct {
	mu   sync.Mutex
	out  *os.File
	path string
}

// NewFileLogger opens (or creates) the session log at path, creating
// parent directories as needed, and writes the session-start marker.
func NewFileLogger(path string) (*FileLogger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("log directory: %w", err)
		}
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	fmt.Fprintf(out, "==== session started %s ====\n", time.Now().Format(stampFormat))
	return &FileLogger{out: out, path: path}, nil
}

// Path returns where the session log is written.
func (l *FileLogger) Path() string { return l.path }

// Log appends one timestamped line. Calls after Close are dropped.
func (l *FileLogger) Log(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		return
	}
	fmt.Fprintf(l.out, "%s %s\n", time.Now().Format(stampFormat), fmt.Sprintf(format, args...))
}

// Close writes the session-end marker and closes the file. Closing
// twice is harmless.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		return nil
	}

	fmt.Fprintf(l.out, "==== session ended %s ====\n", time.Now().Format(stampFormat))
	err := l.out.Close()
	l.out = nil
	return err
}
