package swarm

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"pimsg/pkg/liveness"
	"pimsg/pkg/protocol"
)

// Lock acquisition retries lockRetries times at lockRetryInterval, so a
// caller blocks for at most ~5s before failing with *protocol.LockError.
const (
	lockRetries       = 50
	lockRetryInterval = 100 * time.Millisecond

	// lockStaleAge is the mtime age beyond which a lock whose holder PID is
	// dead may be forced open. Both conditions must hold: a fresh lock is
	// never touched, and a live holder is never evicted.
	lockStaleAge = 10 * time.Second
)

// fileLock is the advisory lock guarding claims.json and completions.json.
// Exclusive create is the atomic primitive; the file body is the holder PID.
type fileLock struct {
	path string

	// test seams
	aliveFunc func(int) bool
	nowFunc   func() time.Time
	sleepFunc func(time.Duration)
}

func newFileLock(path string) *fileLock {
	return &fileLock{
		path:      path,
		aliveFunc: liveness.Alive,
		nowFunc:   time.Now,
		sleepFunc: time.Sleep,
	}
}

// acquire takes the lock or fails after the retry budget. Stale locks are
// forcibly removed before the next attempt.
func (l *fileLock) acquire(pid int) error {
	var lastErr error
	for i := 0; i < lockRetries; i++ {
		if i > 0 {
			l.sleepFunc(lockRetryInterval)
		}
		file, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644) //nolint:gosec // shared lock file
		if err == nil {
			_, writeErr := fmt.Fprintf(file, "%d", pid)
			closeErr := file.Close()
			if writeErr != nil || closeErr != nil {
				_ = os.Remove(l.path)
				lastErr = fmt.Errorf("write lock body: %w", writeErr)
				continue
			}
			return nil
		}
		if !os.IsExist(err) {
			lastErr = err
			continue
		}
		lastErr = fmt.Errorf("lock held")
		if l.isStale() {
			// Force it open; the next loop iteration races to recreate.
			_ = os.Remove(l.path)
		}
	}
	return &protocol.LockError{Path: l.path, Err: lastErr}
}

// release drops the lock. Only the holder calls this.
func (l *fileLock) release() {
	_ = os.Remove(l.path)
}

// isStale reports a lock older than lockStaleAge whose recorded PID is dead.
// An unparseable body counts as a dead holder once old enough; a body that
// cannot be read leaves the lock in place.
func (l *fileLock) isStale() bool {
	info, err := os.Stat(l.path)
	if err != nil {
		return false
	}
	if l.nowFunc().Sub(info.ModTime()) <= lockStaleAge {
		return false
	}
	data, err := os.ReadFile(l.path) //nolint:gosec // lock path is constructed internally
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return true // garbage body on an old lock: force it
	}
	return !l.aliveFunc(pid)
}
