// Package runlog is the append-only audit trail of notification runs.
// Every line is "<2006-01-02 15:04:05> - <message>". The file is never
// truncated or rotated.
package runlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const timestampLayout = "2006-01-02 15:04:05"

// Log appends timestamped lines to a file.
type Log struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// Open returns a Log for path, creating parent directories as needed.
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create run log dir %s: %w", dir, err)
		}
	}
	return &Log{path: path, now: time.Now}, nil
}

// Path returns the file the log appends to.
func (l *Log) Path() string {
	return l.path
}

// Append writes one line. Newlines inside message are flattened so every
// event stays on a single line.
func (l *Log) Append(message string) error {
	message = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(message)

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open run log %s: %w", l.path, err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%s - %s\n", l.now().Format(timestampLayout), message); err != nil {
		return fmt.Errorf("failed to write run log %s: %w", l.path, err)
	}
	return nil
}

// Appendf formats and appends a line.
func (l *Log) Appendf(format string, args ...interface{}) error {
	return l.Append(fmt.Sprintf(format, args...))
}
