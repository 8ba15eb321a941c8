package system

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// ErrAlreadyRunning means another process holds the instance lock.
var ErrAlreadyRunning = errors.New("another instance is already running")

// InstanceLock is an exclusive advisory lock on a file. The kernel drops
// it when the process dies, so a crashed instance never blocks a restart.
type InstanceLock struct {
	path string
	file *os.File
}

// AcquireInstanceLock takes the lock at path without blocking.
func AcquireInstanceLock(path string) (*InstanceLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w (lock %s)", ErrAlreadyRunning, path)
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}

	if err := f.Truncate(0); err == nil {
		f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}

	return &InstanceLock{path: path, file: f}, nil
}

func (l *InstanceLock) Path() string {
	return l.path
}

// Release unlocks and closes the lock file. The file itself is left in
// place; removing it would race with a concurrent acquirer.
func (l *InstanceLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	err := l.file.Close()
	l.file = nil
	return err
}
