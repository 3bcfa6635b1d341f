//go:build !windows

// Package lock provides advisory cross-process file locking, used to
// guarantee a single gateway poller per team directory and to serialize
// read-modify-write access to the on-disk JSON state files.
package lock

import (
	"fmt"
	"os"
	"syscall"
)

// FlockAcquire opens a flock file and acquires an exclusive advisory lock,
// blocking until it is available. Returns a cleanup function that releases
// the lock and closes the file. This is a general-purpose cross-process
// lock suitable for any read-modify-write operation that needs
// serialization across separate gateway invocations (session/project
// store writes, event-log rotation).
func FlockAcquire(path string) (func(), error) {
	return flockAcquire(path)
}

// FlockTryAcquire behaves like FlockAcquire but fails immediately instead
// of blocking if the lock is already held. The gateway's instance lock
// (one poller per team directory) uses this at startup so a second
// invocation gets a clear, immediate error instead of hanging.
func FlockTryAcquire(path string) (func(), error) {
	return flockTryAcquire(path)
}

func flockAcquire(path string) (func(), error) {
	return doFlock(path, syscall.LOCK_EX)
}

func flockTryAcquire(path string) (func(), error) {
	return doFlock(path, syscall.LOCK_EX|syscall.LOCK_NB)
}

// doFlock opens path and applies the given flock operation.
// The flock prevents concurrent Acquire() calls from racing on the same lock path.
func doFlock(path string, how int) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644) //nolint:gosec // G304,G306: lock files are internal operational data
	if err != nil {
		return nil, fmt.Errorf("opening flock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		return nil, fmt.Errorf("acquiring flock: %w", err)
	}

	cleanup := func() {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN) //nolint:errcheck
		f.Close()
	}
	return cleanup, nil
}
