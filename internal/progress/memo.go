// Package progress maintains the project progress memo, a free-form
// markdown file with append-only semantics. Spells append dated guidance
// blocks; humans and workers read it for session context.
package progress

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/openagents/openagents/internal/clock"
	"github.com/openagents/openagents/internal/errors"
	"github.com/openagents/openagents/internal/logging"
)

const (
	dirPerm  = 0o750
	filePerm = 0o600
)

// Memo is an appender over the progress markdown file.
type Memo struct {
	path  string
	clock clock.Clock

	mu sync.Mutex
}

// NewMemo creates a Memo over the given file path.
func NewMemo(path string, clk clock.Clock) *Memo {
	return &Memo{path: path, clock: clk}
}

// Path returns the memo file path.
func (m *Memo) Path() string {
	return m.path
}

// Read returns the memo contents. A missing file reads as empty.
func (m *Memo) Read() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path) //#nosec G304 -- path is constructed internally
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", errors.Wrap(err, "failed to read progress memo")
	}
	return string(data), nil
}

// AppendBlock appends a dated markdown section with the given heading and
// body lines. Lines routinely carry worker and health output, so both
// heading and body pass through secret redaction.
func (m *Memo) AppendBlock(heading string, lines []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(m.path), dirPerm); err != nil {
		return errors.Wrap(err, "failed to create progress memo directory")
	}

	var b strings.Builder
	ts := m.clock.Now().UTC().Format(time.RFC3339)
	fmt.Fprintf(&b, "\n## %s %s\n\n", ts, logging.Redact(heading))
	for _, line := range lines {
		fmt.Fprintf(&b, "- %s\n", logging.Redact(line))
	}

	f, err := os.OpenFile(m.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm) //#nosec G304 -- path is constructed internally
	if err != nil {
		return errors.Wrap(err, "failed to open progress memo")
	}
	defer func() { _ = f.Close() }()

	if _, err := f.WriteString(b.String()); err != nil {
		return errors.Wrap(err, "failed to append progress memo")
	}
	return f.Sync()
}
