//go:build unix

package fsutil

import (
	"errors"
	"syscall"
)

// isDirSyncUnsupported reports whether err indicates the platform's fsync
// doesn't support directory file descriptors, in which case the caller
// degrades to "no-op, rely on rename semantics" rather than failing.
func isDirSyncUnsupported(err error) bool {
	return errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTSUP) || errors.Is(err, syscall.ENOSYS)
}
