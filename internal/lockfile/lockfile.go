// Package lockfile guards a SalesPipe state directory so that only one process
// writes the SQLite database stored there.
//
// The lock is an flock on a file inside the directory. The kernel drops it
// when the holding process exits, so a crash never leaves the directory locked.
package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// LockFileName is the lock file created in the state directory.
const LockFileName = "salespipe.lock"

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the exclusive lock on stateDir, creating the directory when
// needed. When another process holds it a *HeldError describing the holder is returned.
func Acquire(stateDir string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory %s: %w", stateDir, err)
	}
	path := filepath.Join(stateDir, LockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		holder := describeHolder(path)
		slog.Error("Lockfile.Acquire: state directory in use", "path", path, "holder", holder, "error", err)
		return nil, &HeldError{Path: path, Holder: holder, Cause: err}
	}
	if err := f.Truncate(0); err == nil {
		_, err = f.WriteAt([]byte("pid="+strconv.Itoa(os.Getpid())+"\n"), 0)
		if err != nil {
			slog.Warn("Lockfile.Acquire: could not record pid", "path", path, "error", err)
		}
	}
	slog.Debug("Lockfile.Acquire: lock held", "path", path, "pid", os.Getpid())
	return &Lock{file: f, path: path}, nil
}

// Release drops the lock and removes the lock file. Calling it twice is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove before unlocking so a waiting process never locks an unlinked inode.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Lockfile.Release: remove failed", "path", l.path, "error", err)
	}
	unlockErr := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if unlockErr != nil {
		return fmt.Errorf("unlock %s: %w", l.path, unlockErr)
	}
	return closeErr
}

// HeldError reports a state directory locked by another process.
type HeldError struct {
	Path   string
	Holder string
	Cause  error
}

func (e *HeldError) Error() string {
	msg := "another SalesPipe instance is using this state directory (lock " + e.Path + ")"
	if e.Holder != "" {
		msg += ": " + e.Holder
	}
	return msg
}

func (e *HeldError) Unwrap() error { return e.Cause }

// describeHolder summarizes the pid recorded in the lock file.
func describeHolder(path string) string {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return ""
	}
	pid := parsePID(string(data))
	if pid <= 0 {
		return strings.TrimSpace(string(data))
	}
	if processAlive(pid) {
		return fmt.Sprintf("pid %d (running)", pid)
	}
	return fmt.Sprintf("pid %d (not running)", pid)
}

func parsePID(content string) int {
	for _, line := range strings.Split(content, "\n") {
		v, ok := strings.CutPrefix(strings.TrimSpace(line), "pid=")
		if !ok {
			continue
		}
		if pid, err := strconv.Atoi(v); err == nil {
			return pid
		}
	}
	return 0
}

// processAlive sends signal 0, which checks existence without delivering anything.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
