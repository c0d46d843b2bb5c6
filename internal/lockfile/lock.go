// Package lockfile serializes sync runs against the same project with an
// advisory file lock.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrLockBusy is returned when another process holds the lock.
var ErrLockBusy = errors.New("lock already held by another process")

// LockInfo is written into the lock file by the holder.
type LockInfo struct {
	PID       int       `json:"pid"`
	Command   string    `json:"command"`
	StartedAt time.Time `json:"started_at"`
}

// Lock is a held lock. Release it when done.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the exclusive lock at path without waiting. If another
// process holds it the error wraps ErrLockBusy and names the holder when
// the lock file says who it is.
func Acquire(path, command string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	// #nosec G304 - path is the project lock file
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := flockExclusive(f); err != nil {
		_ = f.Close()
		if errors.Is(err, ErrLockBusy) {
			if info, rerr := ReadInfo(path); rerr == nil && info.PID != 0 {
				return nil, fmt.Errorf("%w (pid %d, %s, since %s)", ErrLockBusy, info.PID, info.Command, info.StartedAt.Format(time.RFC3339))
			}
		}
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	info := LockInfo{PID: os.Getpid(), Command: command, StartedAt: time.Now().UTC()}
	data, _ := json.Marshal(info)
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt(data, 0)
		_ = f.Sync()
	}
	return &Lock{file: f, path: path}, nil
}

// Release unlocks and closes the lock file. The file itself stays so the
// next holder locks the same inode.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = l.file.Truncate(0)
	uerr := flockUnlock(l.file)
	cerr := l.file.Close()
	l.file = nil
	if uerr != nil {
		return fmt.Errorf("failed to unlock %s: %w", l.path, uerr)
	}
	return cerr
}

// ReadInfo reads the holder information from a lock file.
func ReadInfo(path string) (*LockInfo, error) {
	// #nosec G304 - path is the project lock file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("cannot parse lock file: %w", err)
	}
	return &info, nil
}
