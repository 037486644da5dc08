package reposcache

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/theckman/go-flock"
)

// lockTimeout bounds how long ensure_current waits to acquire the
// cross-process file lock before failing with CategoryLockTimeout.
const lockTimeout = 30 * time.Second

const lockRetryInterval = 50 * time.Millisecond

// acquireFileLock takes the exclusive advisory lock at path, creating
// its parent directory if needed, and returns an unlock function. It
// blocks up to lockTimeout before giving up.
func acquireFileLock(ctx context.Context, path string) (unlock func(), err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	fl := flock.NewFlock(path)

	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(lockCtx, lockRetryInterval)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, context.DeadlineExceeded
	}
	return func() { _ = fl.Unlock() }, nil
}
