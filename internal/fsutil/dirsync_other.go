//go:build !unix

package fsutil

// isDirSyncUnsupported is always true on non-unix platforms: opening a
// directory for Sync is not a portable operation there, so directory fsync
// degrades to a no-op and crash consistency relies on the platform's own
// rename semantics, per the design notes on non-POSIX directory fsync.
func isDirSyncUnsupported(err error) bool {
	return true
}
