//go:build !unix

package filelock

import (
	"os"
	"time"
)

// acquireOSLock on non-unix platforms has no portable flock equivalent
// without cgo; the in-process table above already serializes same-process
// access, so the OS-level step degrades to a no-op. Cross-process
// exclusion is not guaranteed on these platforms, consistent with the
// advisory nature of the lock.
func acquireOSLock(f *os.File, mode Mode, wait WaitStrategy, timeout time.Duration) error {
	return nil
}

func releaseOSLock(f *os.File) error {
	return nil
}
