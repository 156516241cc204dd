package journal

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/lildannita/octet/internal/filelock"
	"github.com/lildannita/octet/internal/fsutil"
)

// Header is the single comment line every journal file begins with.
const Header = "# OCTET Journal Format v1.0"

// Journal is an append-only log of JournalEntry records backed by a single
// file on disk. The zero value is not usable; construct with Open.
type Journal struct {
	path   string
	logger *zap.Logger

	mu                 sync.Mutex // guards lastCheckpointID only
	lastCheckpointID   string
	haveLastCheckpoint bool
}

// Open opens the journal at path, creating it (with just the header) if it
// does not exist.
//
// A per-line parse failure is NOT treated as file corruption here: the
// replay contract already tolerates and logs malformed lines individually,
// so a journal with a stray bad line among otherwise good entries opens
// and recovers those entries rather than being wholesale backed up and
// wiped. IsValid is still exposed for callers that want the stricter
// all-lines-must-parse check as a diagnostic. Open only fails fatally when
// the file exists but cannot be read at all.
func Open(path string, logger *zap.Logger) (*Journal, error) {
	logger = logging(logger)

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("journal: stat %s: %w", path, err)
		}
		if err := fsutil.AtomicWrite(path, []byte(Header+"\n"), logger); err != nil {
			return nil, fmt.Errorf("journal: create %s: %w", path, err)
		}
		return &Journal{path: path, logger: logger}, nil
	}

	j := &Journal{path: path, logger: logger}
	if _, err := j.readLines(); err != nil {
		return nil, fmt.Errorf("journal: %s could not be read, refusing to start: %w", path, err)
	}
	return j, nil
}

// Recreate backs up the journal to a timestamped sidecar and replaces it
// with a fresh header-only file. Callers reach for this explicitly (e.g.
// after IsValid reports false and the caller has decided the journal is
// unusable) rather than having Open do it implicitly on every blemish; if
// the backup cannot be created, Recreate fails and leaves the original
// file untouched, since data must not be silently destroyed.
func (j *Journal) Recreate() error {
	if _, err := fsutil.CreateBackup(j.path, j.logger); err != nil {
		return fmt.Errorf("journal: %s is corrupt and could not be backed up, refusing to recreate: %w", j.path, err)
	}
	if err := fsutil.AtomicWrite(j.path, []byte(Header+"\n"), j.logger); err != nil {
		return fmt.Errorf("journal: recreate %s: %w", j.path, err)
	}
	j.mu.Lock()
	j.lastCheckpointID, j.haveLastCheckpoint = "", false
	j.mu.Unlock()
	return nil
}

func logging(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// Path returns the journal's backing file path.
func (j *Journal) Path() string { return j.path }

// Append serializes entry and appends it to the journal, fsyncing the file
// and its containing directory before returning. Callers must not mutate
// any in-memory state reflecting entry until Append returns nil.
func (j *Journal) Append(entry Entry) error {
	// Holding the truncation lock path shared makes appends wait while
	// TruncateToCheckpoint holds it exclusively for its rewrite.
	lock, err := filelock.Acquire(j.path+".truncate", filelock.Shared, filelock.Timeout, filelock.DefaultTimeout)
	if err != nil {
		return fmt.Errorf("journal: append: truncate lock: %w", err)
	}
	defer lock.Release()

	line := entry.Serialize() + "\n"
	if err := fsutil.SafeAppend(j.path, []byte(line), j.logger); err != nil {
		return fmt.Errorf("journal: append: %w", err)
	}
	if entry.Type == Checkpoint {
		j.mu.Lock()
		j.lastCheckpointID = entry.ID
		j.haveLastCheckpoint = true
		j.mu.Unlock()
	}
	return nil
}

// readLines returns every non-empty, non-comment line in the journal file,
// in order, using a shared advisory lock for the duration of the read.
func (j *Journal) readLines() ([]string, error) {
	data, err := fsutil.SafeRead(j.path)
	if err != nil {
		return nil, fmt.Errorf("journal: read %s: %w", j.path, err)
	}

	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("journal: scan %s: %w", j.path, err)
	}
	return lines, nil
}

// IsValid reports whether every non-comment, non-empty line in the journal
// parses as an Entry.
func (j *Journal) IsValid() (bool, error) {
	lines, err := j.readLines()
	if err != nil {
		return false, err
	}
	for _, line := range lines {
		if _, err := Deserialize(line); err != nil {
			return false, nil
		}
	}
	return true, nil
}

// LastCheckpointID returns the id of the most recently observed CHECKPOINT
// entry, from cache if a write has already populated it, else by scanning
// the file once.
func (j *Journal) LastCheckpointID() (id string, ok bool, err error) {
	j.mu.Lock()
	if j.haveLastCheckpoint {
		id, ok = j.lastCheckpointID, true
		j.mu.Unlock()
		return id, ok, nil
	}
	j.mu.Unlock()

	lines, err := j.readLines()
	if err != nil {
		return "", false, err
	}
	for _, line := range lines {
		entry, derr := Deserialize(line)
		if derr != nil {
			continue
		}
		if entry.Type == Checkpoint {
			id, ok = entry.ID, true
		}
	}
	if ok {
		j.mu.Lock()
		j.lastCheckpointID, j.haveLastCheckpoint = id, true
		j.mu.Unlock()
	}
	return id, ok, nil
}

// ReplayResult is the outcome of replaying the journal onto a map.
type ReplayResult struct {
	Data map[string][]byte
	// CheckpointFound is false when startAfter was non-empty but no
	// matching CHECKPOINT entry was ever seen (the "truncated past the
	// snapshot" case); callers should then keep whatever map they had
	// before calling Replay rather than use Data.
	CheckpointFound bool
}

// Replay scans the journal from the beginning, applying entries on top of
// initial (which may be nil, meaning start from an empty map; a non-nil map
// is mutated in place and also returned as ReplayResult.Data). If
// startAfter is non-empty, entries are ignored until a CHECKPOINT with that
// id is seen; only entries strictly after it are applied. Lines that fail
// to parse are logged and skipped; they do not stop the replay.
func (j *Journal) Replay(startAfter string, initial map[string][]byte) (ReplayResult, error) {
	lines, err := j.readLines()
	if err != nil {
		return ReplayResult{}, err
	}

	data := initial
	if data == nil {
		data = make(map[string][]byte)
	}
	seeking := startAfter != ""
	found := !seeking

	for lineNum, line := range lines {
		entry, derr := Deserialize(line)
		if derr != nil {
			j.logger.Warn("skipping malformed journal line",
				zap.String("reason", "parse-error"), zap.Int("line", lineNum+1), zap.Error(derr))
			continue
		}

		if seeking {
			if entry.Type == Checkpoint && entry.ID == startAfter {
				seeking = false
				found = true
			}
			continue
		}

		switch entry.Type {
		case Insert:
			data[entry.ID] = entry.Data
		case Update:
			if _, ok := data[entry.ID]; !ok {
				j.logger.Warn("UPDATE of absent id during replay", zap.String("reason", "missing-id"), zap.String("id", entry.ID))
				continue
			}
			data[entry.ID] = entry.Data
		case Remove:
			if _, ok := data[entry.ID]; !ok {
				j.logger.Warn("REMOVE of absent id during replay", zap.String("reason", "missing-id"), zap.String("id", entry.ID))
				continue
			}
			delete(data, entry.ID)
		case Checkpoint:
			// boundary marker only
		}
	}

	if !found {
		j.logger.Warn("replay requested checkpoint never found; journal was truncated past the snapshot",
			zap.String("checkpoint", startAfter))
		return ReplayResult{CheckpointFound: false}, nil
	}
	return ReplayResult{Data: data, CheckpointFound: true}, nil
}

// TruncateToCheckpoint rewrites the journal so its earliest entry is the
// CHECKPOINT with the given id, discarding everything before it. It fails
// without modifying the file if that checkpoint is not found. Truncation
// uses a lock path distinct from Append's so appends queue behind it
// explicitly rather than contending on the same path.
func (j *Journal) TruncateToCheckpoint(checkpointID string) error {
	lock, err := filelock.Acquire(j.path+".truncate", filelock.Exclusive, filelock.Timeout, filelock.DefaultTimeout)
	if err != nil {
		return fmt.Errorf("journal: truncate lock: %w", err)
	}
	defer lock.Release()

	lines, err := j.readLines()
	if err != nil {
		return err
	}

	idx := -1
	for i, line := range lines {
		entry, derr := Deserialize(line)
		if derr != nil {
			continue
		}
		if entry.Type == Checkpoint && entry.ID == checkpointID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("journal: truncate: checkpoint %q not found", checkpointID)
	}

	var b strings.Builder
	b.WriteString(Header)
	b.WriteByte('\n')
	for _, line := range lines[idx:] {
		b.WriteString(line)
		b.WriteByte('\n')
	}

	if err := fsutil.AtomicWrite(j.path, []byte(b.String()), j.logger); err != nil {
		return fmt.Errorf("journal: truncate: rewrite: %w", err)
	}

	j.mu.Lock()
	j.lastCheckpointID, j.haveLastCheckpoint = checkpointID, true
	j.mu.Unlock()
	return nil
}

// CountSinceCheckpoint returns the number of non-CHECKPOINT entries that
// follow the last checkpoint (or from the start, if none exists). It takes
// its own lock path so callers can query without contending on append.
func (j *Journal) CountSinceCheckpoint() (int, error) {
	lock, err := filelock.Acquire(j.path+".count", filelock.Shared, filelock.Timeout, filelock.DefaultTimeout)
	if err != nil {
		return 0, fmt.Errorf("journal: count lock: %w", err)
	}
	defer lock.Release()

	last, ok, err := j.LastCheckpointID()
	if err != nil {
		return 0, err
	}

	lines, err := j.readLines()
	if err != nil {
		return 0, err
	}

	count := 0
	seeking := ok
	for _, line := range lines {
		entry, derr := Deserialize(line)
		if derr != nil {
			continue
		}
		if seeking {
			if entry.Type == Checkpoint && entry.ID == last {
				seeking = false
			}
			continue
		}
		if entry.Type != Checkpoint {
			count++
		}
	}
	return count, nil
}
