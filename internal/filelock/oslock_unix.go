//go:build unix

package filelock

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// acquireOSLock takes the OS-native advisory lock on f's descriptor via
// flock(2). Instantly uses LOCK_NB; Standard and Timeout poll with LOCK_NB
// attempts since flock itself cannot be given a timeout.
func acquireOSLock(f *os.File, mode Mode, wait WaitStrategy, timeout time.Duration) error {
	how := unix.LOCK_SH
	if mode == Exclusive {
		how = unix.LOCK_EX
	}

	deadline := time.Now().Add(timeout)
	for {
		err := unix.Flock(int(f.Fd()), how|unix.LOCK_NB)
		if err == nil {
			return nil
		}
		if err != unix.EWOULDBLOCK && err != unix.EAGAIN {
			return fmt.Errorf("flock: %w", err)
		}

		switch wait {
		case Instantly:
			return ErrContended
		case Timeout:
			if time.Now().After(deadline) {
				return ErrLockTimeout
			}
		}
		time.Sleep(pollInterval)
	}
}

func releaseOSLock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
