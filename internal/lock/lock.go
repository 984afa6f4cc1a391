// Package lock provides advisory file locks marking a run as live.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// FileName is the lock file created in every run directory.
const FileName = ".lock"

// Lock is an exclusive flock held for the lifetime of a run.
type Lock struct {
	file *os.File
}

func open(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	file, err := os.OpenFile(filepath.Join(dir, FileName), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return file, nil
}

// Acquire locks dir, blocking until the lock is free.
func Acquire(dir string) (*Lock, error) {
	file, err := open(dir)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("lock %s: %w", dir, err)
	}
	return &Lock{file: file}, nil
}

// TryAcquire attempts to lock dir without blocking. The boolean is false
// when another process holds the lock.
func TryAcquire(dir string) (*Lock, bool, error) {
	file, err := open(dir)
	if err != nil {
		return nil, false, err
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = file.Close()
		return nil, false, nil
	}
	return &Lock{file: file}, true, nil
}

// Release releases the lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		_ = l.file.Close()
		return err
	}
	return l.file.Close()
}
