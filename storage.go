// Package octet is a persistent, crash-safe key-value store for arbitrary
// byte values keyed by generated 128-bit-strength textual identifiers. It
// combines a write-ahead journal, a point-in-time snapshot, an in-memory
// map, and a background snapshotter into a single durable storage engine.
package octet

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lildannita/octet/internal/filelock"
	"github.com/lildannita/octet/internal/fsutil"
	"github.com/lildannita/octet/internal/idgen"
	"github.com/lildannita/octet/internal/journal"
	"github.com/lildannita/octet/internal/snapshot"
)

const (
	journalFileName  = "octet-operations.journal"
	snapshotFileName = "octet-data.snapshot"
)

// Storage is the durable key-value engine. Construct with Open; a Storage
// must be closed with Close to release the background snapshotter and
// flush a final snapshot.
type Storage struct {
	dataDir      string
	snapshotPath string
	journal      *journal.Journal
	logger       *zap.Logger
	clock        Clock
	autoTruncate bool

	mapMu sync.RWMutex
	data  map[string][]byte

	// countersMu guards opsSinceSnapshot, opsThreshold, timeThresholdMins
	// and lastSnapshotTime, all consulted by both mutators and the
	// snapshotter.
	countersMu        sync.Mutex
	opsSinceSnapshot  int
	opsThreshold      int
	timeThresholdMins int
	lastSnapshotTime  time.Time

	// snapshotMu is the "dedicated mutex" from the design notes: it
	// serializes create_snapshot so at most one attempt proceeds at a
	// time whether the caller is a user goroutine or the snapshotter.
	snapshotMu sync.Mutex

	// wakeMu, wakeCh, snapshotRequested and shutdown are the
	// snapshotter's own wake state, independent of countersMu so the
	// snapshotter can release it before calling CreateSnapshot. wakeCh is
	// the channel stand-in for the design's single wake condition
	// variable: a buffered size-1 channel collapses repeated wakeups the
	// same way a broadcast condition variable would.
	wakeMu            sync.Mutex
	wakeCh            chan struct{}
	snapshotRequested bool
	shutdown          bool

	snapshotterDone chan struct{}
}

// Open opens or creates the store rooted at dataDir: ensures the directory
// exists, opens (or recovers) the journal, loads the snapshot if present,
// replays the journal tail, and starts the background snapshotter.
func Open(dataDir string, opts ...Option) (*Storage, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, newError("Open", KindInitFailed, fmt.Errorf("create data dir %s: %w", dataDir, err))
	}

	journalPath := filepath.Join(dataDir, journalFileName)
	j, err := journal.Open(journalPath, cfg.logger)
	if err != nil {
		return nil, newError("Open", KindInitFailed, err)
	}

	s := &Storage{
		dataDir:           dataDir,
		snapshotPath:      filepath.Join(dataDir, snapshotFileName),
		journal:           j,
		logger:            cfg.logger,
		clock:             cfg.clock,
		autoTruncate:      cfg.autoTruncate,
		opsThreshold:      cfg.opsThreshold,
		timeThresholdMins: cfg.timeThresholdMins,
		lastSnapshotTime:  cfg.clock(),
		snapshotterDone:   make(chan struct{}),
		wakeCh:            make(chan struct{}, 1),
	}

	if err := s.recover(); err != nil {
		return nil, newError("Open", KindInitFailed, err)
	}

	go s.snapshotterLoop()

	return s, nil
}

// recover loads the snapshot (if any) and replays the journal tail per the
// recovery algorithm in the system overview.
func (s *Storage) recover() error {
	data, snapshotLoaded := s.loadSnapshot()

	if !snapshotLoaded {
		result, err := s.journal.Replay("", nil)
		if err != nil {
			return fmt.Errorf("replay journal from start: %w", err)
		}
		s.data = result.Data
		return nil
	}

	s.data = data
	cpID, ok, err := s.journal.LastCheckpointID()
	if err != nil {
		return fmt.Errorf("query last checkpoint: %w", err)
	}
	if !ok {
		// Snapshot exists but the journal names no checkpoint at all;
		// nothing follows it to replay.
		return nil
	}

	result, err := s.journal.Replay(cpID, s.data)
	if err != nil {
		return fmt.Errorf("replay journal after checkpoint %s: %w", cpID, err)
	}
	if result.CheckpointFound {
		s.data = result.Data
	}
	// If the checkpoint was not found (stranded snapshot), s.data stays
	// exactly as loaded from the snapshot file; Journal.Replay already
	// logged the warning.
	return nil
}

// loadSnapshot returns the decoded snapshot map and whether it was
// successfully loaded. A missing file or a decode failure both result in
// (nil, false); a decode failure is logged, not returned as an error, per
// the "corruption degrades to journal-only recovery" contract.
func (s *Storage) loadSnapshot() (map[string][]byte, bool) {
	raw, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read snapshot file, ignoring", zap.Error(err))
		}
		return nil, false
	}

	decoded, err := snapshot.Decode(raw)
	if err != nil {
		s.logger.Warn("snapshot decode failed, falling back to journal-only recovery", zap.Error(err))
		return nil, false
	}
	return decoded, true
}

// Insert stores data under a freshly generated id and returns it.
func (s *Storage) Insert(data []byte) (string, error) {
	id := idgen.Generate()

	s.mapMu.Lock()
	defer s.mapMu.Unlock()

	if err := s.journal.Append(journal.NewEntry(journal.Insert, id, data)); err != nil {
		return "", ioError("Insert", err)
	}

	if s.data == nil {
		s.data = make(map[string][]byte)
	}
	s.data[id] = cloneBytes(data)
	s.afterMutation()
	return id, nil
}

// Get returns the value for id and whether it was present. Absence is not
// an error.
func (s *Storage) Get(id string) ([]byte, bool) {
	s.mapMu.RLock()
	defer s.mapMu.RUnlock()

	v, ok := s.data[id]
	if !ok {
		return nil, false
	}
	return cloneBytes(v), true
}

// Update replaces the value stored at id. It reports false, with no error,
// if id is absent.
func (s *Storage) Update(id string, data []byte) (bool, error) {
	s.mapMu.Lock()
	defer s.mapMu.Unlock()

	if _, ok := s.data[id]; !ok {
		return false, nil
	}

	if err := s.journal.Append(journal.NewEntry(journal.Update, id, data)); err != nil {
		return false, ioError("Update", err)
	}

	s.data[id] = cloneBytes(data)
	s.afterMutation()
	return true, nil
}

// Remove deletes id. It reports false, with no error, if id is absent.
func (s *Storage) Remove(id string) (bool, error) {
	s.mapMu.Lock()
	defer s.mapMu.Unlock()

	if _, ok := s.data[id]; !ok {
		return false, nil
	}

	if err := s.journal.Append(journal.NewEntry(journal.Remove, id, nil)); err != nil {
		return false, ioError("Remove", err)
	}

	delete(s.data, id)
	s.afterMutation()
	return true, nil
}

// EntriesCount returns the current number of records in the map.
func (s *Storage) EntriesCount() int {
	s.mapMu.RLock()
	defer s.mapMu.RUnlock()
	return len(s.data)
}

// SetSnapshotOpsThreshold sets the mutation count that triggers a snapshot
// request. n must be positive; non-positive values are ignored.
func (s *Storage) SetSnapshotOpsThreshold(n int) {
	if n <= 0 {
		return
	}
	s.countersMu.Lock()
	s.opsThreshold = n
	s.countersMu.Unlock()
}

// SetSnapshotTimeThreshold sets the number of minutes of accumulated
// mutations that trigger a time-driven snapshot. minutes must be
// non-negative; negative values are ignored.
func (s *Storage) SetSnapshotTimeThreshold(minutes int) {
	if minutes < 0 {
		return
	}
	s.countersMu.Lock()
	s.timeThresholdMins = minutes
	s.countersMu.Unlock()
	s.wake()
}

// afterMutation runs at the end of every successful INSERT/UPDATE/REMOVE
// critical section, still under mapMu's exclusive lock as the design
// requires: it bumps the operation counter and wakes the snapshotter if
// the threshold is met.
func (s *Storage) afterMutation() {
	s.countersMu.Lock()
	s.opsSinceSnapshot++
	shouldSignal := s.opsSinceSnapshot >= s.opsThreshold
	s.countersMu.Unlock()

	if shouldSignal {
		s.RequestSnapshotAsync()
	}
}

// RequestSnapshotAsync asks the background snapshotter to run at its next
// opportunity. It never fails and is idempotent between runs of the
// snapshotter.
func (s *Storage) RequestSnapshotAsync() {
	s.wakeMu.Lock()
	s.snapshotRequested = true
	s.wakeMu.Unlock()
	s.wake()
}

// wake nudges the snapshotter loop without blocking; a pending, unconsumed
// wakeup already covers this one.
func (s *Storage) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// CreateSnapshot clones the map under a shared lock, writes it atomically,
// and appends a matching CHECKPOINT entry. It may be called concurrently
// from user goroutines and the snapshotter; snapshotMu serializes actual
// attempts.
func (s *Storage) CreateSnapshot() (bool, error) {
	s.snapshotMu.Lock()
	defer s.snapshotMu.Unlock()

	s.mapMu.RLock()
	clone := make(map[string][]byte, len(s.data))
	for id, v := range s.data {
		clone[id] = cloneBytes(v)
	}
	s.mapMu.RUnlock()

	encoded := snapshot.Encode(clone)

	if err := fsutil.AtomicWrite(s.snapshotPath, encoded, s.logger); err != nil {
		s.logger.Error("snapshot write failed", zap.Error(err))
		return false, ioError("CreateSnapshot", err)
	}

	checkpointID := idgen.Generate()
	if err := s.journal.Append(journal.NewEntry(journal.Checkpoint, checkpointID, nil)); err != nil {
		s.logger.Error("checkpoint append failed after snapshot write", zap.Error(err))
		return false, ioError("CreateSnapshot", err)
	}

	s.countersMu.Lock()
	s.opsSinceSnapshot = 0
	s.lastSnapshotTime = s.clock()
	s.countersMu.Unlock()

	if s.autoTruncate {
		if err := s.journal.TruncateToCheckpoint(checkpointID); err != nil {
			s.logger.Warn("auto-truncate after snapshot failed", zap.Error(err))
		}
	}

	return true, nil
}

// Close stops the snapshotter, waits for it to exit, and makes one final
// best-effort synchronous snapshot attempt. A failure of that final
// snapshot is logged, not returned, since shutdown must still complete.
func (s *Storage) Close() error {
	s.wakeMu.Lock()
	s.shutdown = true
	s.wakeMu.Unlock()
	s.wake()

	<-s.snapshotterDone

	if _, err := s.CreateSnapshot(); err != nil {
		s.logger.Warn("final snapshot on close failed", zap.Error(err))
	}
	return nil
}

// ioError classifies a failure from the journal or fsutil layer: a lock
// that timed out or a same-goroutine lock re-acquisition surfaces as its
// own Kind rather than the generic KindIoFailed, so callers can branch on
// errors.Is(err, octet.ErrLockTimeout) / errors.Is(err, octet.ErrDeadlock)
// through the public API.
func ioError(op string, err error) *Error {
	switch {
	case errors.Is(err, filelock.ErrLockTimeout):
		return newError(op, KindLockTimeout, err)
	case errors.Is(err, filelock.ErrDeadlock):
		return newError(op, KindDeadlock, err)
	default:
		return newError(op, KindIoFailed, err)
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
