// Package fsutil provides the atomic file primitives the storage core is
// built on: atomic write, safe append, safe read, directory fsync, and
// timestamped backups. Every primitive takes an exclusive or shared
// advisory lock (via internal/filelock) around its critical section, the
// same way the teacher's hint-file writer takes a lock before a
// temp-file-plus-rename swap.
package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lildannita/octet/internal/filelock"
)

// dirFsync opens dir and fsyncs it so the rename/create above is durable
// against a crash, even though the data itself is already on disk.
// On platforms where directory fsync is unsupported this is a no-op that
// still reports success: crash consistency then degrades to the platform's
// own rename semantics, never surfaced to the caller as a hard error.
func dirFsync(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Sync(); err != nil {
		if isDirSyncUnsupported(err) {
			return nil
		}
		return err
	}
	return nil
}

// tempPath returns a sibling path for a temp file, same directory as
// target, with an 8-character random alphanumeric suffix.
func tempPath(target string) string {
	suffix := uuid.NewString()[:8]
	return target + ".tmp." + suffix
}

// backupPath returns a sibling path for a backup of target, named with a
// millisecond-precision timestamp, retrying on the rare collision.
func backupPath(target string) string {
	for {
		stamp := time.Now().UTC().Format("20060102_150405")
		ms := time.Now().UTC().Nanosecond() / int(time.Millisecond)
		candidate := fmt.Sprintf("%s.backup.%s_%03d", target, stamp, ms)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
		time.Sleep(time.Millisecond)
	}
}

// AtomicWrite writes data to path via a same-directory temp file and
// rename, falling back to a backup-then-retry when the filesystem can't
// rename directly over an existing destination.
func AtomicWrite(path string, data []byte, logger *zap.Logger) (err error) {
	lock, err := filelock.Acquire(path, filelock.Exclusive, filelock.Timeout, filelock.DefaultTimeout)
	if err != nil {
		return fmt.Errorf("fsutil: atomic write: acquire lock for %s: %w", path, err)
	}
	defer lock.Release()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("fsutil: atomic write: ensure dir %s: %w", dir, err)
	}

	tmp := tempPath(path)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("fsutil: atomic write: write temp file %s: %w", tmp, err)
	}

	// Re-open to fsync the file contents explicitly; os.WriteFile does not fsync.
	if f, openErr := os.OpenFile(tmp, os.O_WRONLY, 0o644); openErr == nil {
		_ = f.Sync()
		_ = f.Close()
	}

	renameErr := os.Rename(tmp, path)
	if renameErr != nil {
		logger.Debug("atomic write: direct rename failed, retrying via backup",
			zap.String("path", path), zap.Error(renameErr))

		if _, statErr := os.Stat(path); statErr == nil {
			// Inlined rather than calling CreateBackup: this goroutine
			// already holds the exclusive lock on path, and CreateBackup
			// acquiring it again (even shared) would be flagged as a
			// same-goroutine deadlock.
			bp := backupPath(path)
			if backupErr := copyFile(path, bp); backupErr != nil {
				_ = os.Remove(tmp)
				return fmt.Errorf("fsutil: atomic write: backup before retry failed: %w", backupErr)
			}
			if err := dirFsync(dir); err != nil {
				logger.Warn("atomic write: backup dir fsync failed", zap.String("path", path), zap.Error(err))
			}
			if rmErr := os.Remove(path); rmErr != nil {
				_ = os.Remove(tmp)
				return fmt.Errorf("fsutil: atomic write: remove existing destination: %w", rmErr)
			}
			if retryErr := os.Rename(tmp, path); retryErr != nil {
				// Restore from backup: the destination must never be left missing.
				if copyErr := copyFile(bp, path); copyErr != nil {
					logger.Error("atomic write: restore from backup failed",
						zap.String("path", path), zap.String("backup", bp), zap.Error(copyErr))
				}
				_ = os.Remove(tmp)
				return fmt.Errorf("fsutil: atomic write: rename retry failed: %w", retryErr)
			}
		} else {
			_ = os.Remove(tmp)
			return fmt.Errorf("fsutil: atomic write: rename failed: %w", renameErr)
		}
	}

	if err := dirFsync(dir); err != nil {
		return fmt.Errorf("fsutil: atomic write: fsync dir %s: %w", dir, err)
	}
	return nil
}

// SafeAppend appends data to path, falling back to AtomicWrite when the
// file does not exist yet.
func SafeAppend(path string, data []byte, logger *zap.Logger) error {
	lock, err := filelock.Acquire(path, filelock.Exclusive, filelock.Timeout, filelock.DefaultTimeout)
	if err != nil {
		return fmt.Errorf("fsutil: safe append: acquire lock for %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		lock.Release()
		return fmt.Errorf("fsutil: safe append: ensure dir %s: %w", dir, err)
	}

	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		// Release before delegating to avoid self-deadlock on the same path.
		lock.Release()
		logger.Warn("safe append: file missing, writing from scratch", zap.String("path", path))
		return AtomicWrite(path, data, logger)
	}
	defer lock.Release()

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("fsutil: safe append: open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("fsutil: safe append: write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("fsutil: safe append: fsync %s: %w", path, err)
	}
	if err := dirFsync(dir); err != nil {
		return fmt.Errorf("fsutil: safe append: fsync dir %s: %w", dir, err)
	}
	return nil
}

// SafeRead reads the whole file at path under a shared lock.
func SafeRead(path string) ([]byte, error) {
	lock, err := filelock.Acquire(path, filelock.Shared, filelock.Timeout, filelock.DefaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("fsutil: safe read: acquire lock for %s: %w", path, err)
	}
	defer lock.Release()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fsutil: safe read: %s: %w", path, err)
	}
	return data, nil
}

// CreateBackup copies path to a sibling "<path>.backup.<timestamp>" file
// under a shared lock and returns the backup's path.
func CreateBackup(path string, logger *zap.Logger) (string, error) {
	lock, err := filelock.Acquire(path, filelock.Shared, filelock.Timeout, filelock.DefaultTimeout)
	if err != nil {
		return "", fmt.Errorf("fsutil: create backup: acquire lock for %s: %w", path, err)
	}
	defer lock.Release()

	bp := backupPath(path)
	if err := copyFile(path, bp); err != nil {
		return "", fmt.Errorf("fsutil: create backup: copy %s -> %s: %w", path, bp, err)
	}
	if err := dirFsync(filepath.Dir(path)); err != nil {
		logger.Warn("create backup: dir fsync failed", zap.String("path", path), zap.Error(err))
	}
	return bp, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
