// Package lock serializes orchestrator sessions per project root.
//
// The lock is a JSON file ({pid, session_id, started_at}) held under an
// exclusive flock for the lifetime of a session. A holder is stale when its
// process no longer exists or the lock age exceeds the configured threshold;
// stale locks are removed and acquisition retried once.
package lock

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/openagents/openagents/internal/clock"
	"github.com/openagents/openagents/internal/errors"
)

const lockFilePerm = 0o600

// Info is the JSON document stored in the lock file.
type Info struct {
	PID       int       `json:"pid"`
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
}

// SessionLock is a held session lock. Release it exactly once.
type SessionLock struct {
	path string
	file *os.File
	info Info
}

// Info returns the holder info written at acquisition.
func (l *SessionLock) Info() Info {
	return l.info
}

// Release unlocks and removes the lock file.
func (l *SessionLock) Release() error {
	if l.file == nil {
		return nil
	}
	err := Unlock(l.file.Fd())
	closeErr := l.file.Close()
	l.file = nil
	if removeErr := os.Remove(l.path); removeErr != nil && !os.IsNotExist(removeErr) {
		return errors.Wrap(removeErr, "failed to remove session lock")
	}
	if err != nil {
		return errors.Wrap(err, "failed to unlock session lock")
	}
	return closeErr
}

// Acquirer acquires session locks with stale-holder recovery.
type Acquirer struct {
	clock      clock.Clock
	staleAfter time.Duration
	logger     zerolog.Logger
}

// NewAcquirer creates an Acquirer. staleAfter bounds holder age; beyond it a
// lock is considered stale even when the pid cannot be probed.
func NewAcquirer(clk clock.Clock, staleAfter time.Duration, logger zerolog.Logger) *Acquirer {
	return &Acquirer{clock: clk, staleAfter: staleAfter, logger: logger}
}

// Acquire takes the session lock at path for the given session.
// Returns ErrLockContested when a live holder exists, ErrLockStale when a
// stale lock could not be removed.
func (a *Acquirer) Acquire(path, sessionID string) (*SessionLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, errors.Wrap(err, "failed to create lock directory")
	}

	lk, err := a.tryAcquire(path, sessionID)
	if err == nil {
		return lk, nil
	}
	if !stderrors.Is(err, errors.ErrLockContested) {
		return nil, err
	}

	// Contested: inspect the holder and recover if stale.
	info, readErr := readInfo(path)
	if readErr != nil {
		// Unreadable lock files are treated as stale debris.
		a.logger.Warn().Err(readErr).Str("path", path).Msg("unreadable session lock, removing")
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("%w: %v", errors.ErrLockStale, rmErr)
		}
		return a.tryAcquire(path, sessionID)
	}

	if !a.isStale(info) {
		return nil, fmt.Errorf("%w: held by pid %d (session %s)",
			errors.ErrLockContested, info.PID, info.SessionID)
	}

	a.logger.Warn().
		Int("holder_pid", info.PID).
		Str("holder_session", info.SessionID).
		Time("started_at", info.StartedAt).
		Msg("removing stale session lock")

	if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
		return nil, fmt.Errorf("%w: %v", errors.ErrLockStale, rmErr)
	}

	return a.tryAcquire(path, sessionID)
}

// isStale reports whether the holder is gone or the lock outlived staleAfter.
func (a *Acquirer) isStale(info Info) bool {
	if !ProcessAlive(info.PID) {
		return true
	}
	return a.clock.Now().Sub(info.StartedAt) > a.staleAfter
}

// tryAcquire opens the lock file, takes the flock, and writes holder info.
func (a *Acquirer) tryAcquire(path, sessionID string) (*SessionLock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, lockFilePerm) //#nosec G304 -- path is constructed internally
	if err != nil {
		return nil, errors.Wrap(err, "failed to open session lock")
	}

	if err := Exclusive(f.Fd()); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s", errors.ErrLockContested, path)
	}

	info := Info{
		PID:       os.Getpid(),
		SessionID: sessionID,
		StartedAt: a.clock.Now().UTC(),
	}
	data, err := json.Marshal(info)
	if err != nil {
		_ = Unlock(f.Fd())
		_ = f.Close()
		return nil, errors.Wrap(err, "failed to marshal lock info")
	}
	if err := f.Truncate(0); err == nil {
		_, err = f.WriteAt(data, 0)
	}
	if err != nil {
		_ = Unlock(f.Fd())
		_ = f.Close()
		return nil, errors.Wrap(err, "failed to write lock info")
	}
	_ = f.Sync()

	return &SessionLock{path: path, file: f, info: info}, nil
}

// readInfo parses the holder info from an existing lock file.
func readInfo(path string) (Info, error) {
	var info Info
	data, err := os.ReadFile(path) //#nosec G304 -- path is constructed internally
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, err
	}
	return info, nil
}
