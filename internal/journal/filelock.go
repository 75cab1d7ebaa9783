package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	lockTimeout    = 500 * time.Millisecond
	lockInitial    = 5 * time.Millisecond
	lockMaxBackoff = 50 * time.Millisecond
)

// fileLock guards exclusive access to a persisted journal file across
// processes, so two processes never open the same client journal at once
// (a gap left to the transport layer elsewhere, but a file-backed journal
// must still close it): open-or-create, non-blocking platform lock with
// exponential-backoff retry, released on process exit.
type fileLock struct {
	path string
	file *os.File
}

func newFileLock(journalPath string) *fileLock {
	return &fileLock{path: journalPath + ".lock"}
}

// acquire blocks up to lockTimeout, retrying the non-blocking platform
// lock with exponential backoff.
func (l *fileLock) acquire() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("journal: open lock file: %w", err)
	}
	l.file = f

	deadline := time.Now().Add(lockTimeout)
	backoff := lockInitial
	for {
		if err := l.tryLock(); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			l.file.Close()
			l.file = nil
			return fmt.Errorf("journal: lock timeout on %s after %v (another process may hold it)", filepath.Base(l.path), lockTimeout)
		}
		time.Sleep(backoff)
		if backoff < lockMaxBackoff {
			backoff *= 2
			if backoff > lockMaxBackoff {
				backoff = lockMaxBackoff
			}
		}
	}
}

func (l *fileLock) release() {
	if l.file == nil {
		return
	}
	l.unlock()
	l.file.Close()
	l.file = nil
}
