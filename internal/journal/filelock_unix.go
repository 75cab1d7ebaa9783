//go:build unix

package journal

import "golang.org/x/sys/unix"

// tryLock attempts a non-blocking exclusive flock. Returns nil on success,
// an error if another process already holds it.
func (l *fileLock) tryLock() error {
	return unix.Flock(int(l.file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
}

func (l *fileLock) unlock() {
	if l.file != nil {
		unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	}
}
