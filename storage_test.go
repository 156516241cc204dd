package octet

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lildannita/octet/internal/journal"
)

func TestBasicDurability(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)

	id, err := s.Insert([]byte("hello"))
	require.NoError(t, err)

	require.NoError(t, s.Close())

	s2, err := Open(dir)
	require.NoError(t, err)
	defer s2.Close()

	v, ok := s2.Get(id)
	require.True(t, ok)
	require.Equal(t, "hello", string(v))
}

func TestJournalOnlyRecovery(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)

	u1, err := s.Insert([]byte("a"))
	require.NoError(t, err)
	u2, err := s.Insert([]byte("b"))
	require.NoError(t, err)
	u3, err := s.Insert([]byte("c"))
	require.NoError(t, err)

	// Simulate a crash: no Close, no snapshot file should exist yet.
	_, err = os.Stat(filepath.Join(dir, snapshotFileName))
	require.True(t, os.IsNotExist(err))

	s2, err := Open(dir)
	require.NoError(t, err)
	defer s2.Close()

	v1, ok := s2.Get(u1)
	require.True(t, ok)
	require.Equal(t, "a", string(v1))

	v2, ok := s2.Get(u2)
	require.True(t, ok)
	require.Equal(t, "b", string(v2))

	v3, ok := s2.Get(u3)
	require.True(t, ok)
	require.Equal(t, "c", string(v3))
}

func TestPostCheckpointReplay(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)

	ux, err := s.Insert([]byte("x"))
	require.NoError(t, err)

	ok, err := s.CreateSnapshot()
	require.NoError(t, err)
	require.True(t, ok)

	uy, err := s.Insert([]byte("y"))
	require.NoError(t, err)

	// Crash simulated by not calling Close.

	s2, err := Open(dir)
	require.NoError(t, err)
	defer s2.Close()

	vx, found := s2.Get(ux)
	require.True(t, found)
	require.Equal(t, "x", string(vx))

	vy, found := s2.Get(uy)
	require.True(t, found)
	require.Equal(t, "y", string(vy))
}

func TestStrandedSnapshot(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)

	ux, err := s.Insert([]byte("x"))
	require.NoError(t, err)

	ok, err := s.CreateSnapshot()
	require.NoError(t, err)
	require.True(t, ok)

	// Crash simulated by not calling Close (which would itself take a
	// second, confounding snapshot+checkpoint on shutdown).

	// Manually strand the snapshot by removing only the final CHECKPOINT
	// line from the journal.
	journalPath := filepath.Join(dir, journalFileName)
	raw, err := os.ReadFile(journalPath)
	require.NoError(t, err)

	lines := splitLines(string(raw))
	require.Greater(t, len(lines), 0)
	require.Equal(t, journal.Checkpoint, mustType(t, lines[len(lines)-1]))
	lines = lines[:len(lines)-1]
	require.NoError(t, os.WriteFile(journalPath, []byte(joinLines(lines)), 0o644))

	s2, err := Open(dir)
	require.NoError(t, err)
	defer s2.Close()

	vx, found := s2.Get(ux)
	require.True(t, found)
	require.Equal(t, "x", string(vx))
}

func TestCorruptJournalLine(t *testing.T) {
	dir := t.TempDir()
	journalPath := filepath.Join(dir, journalFileName)

	content := journal.Header + "\n" +
		`INSERT|00000000-0000-4000-8000-000000000001|2025-01-31T14:05:09.123Z|one` + "\n" +
		"GARBAGE LINE\n" +
		`INSERT|00000000-0000-4000-8000-000000000002|2025-01-31T14:05:09.123Z|two` + "\n"
	require.NoError(t, os.WriteFile(journalPath, []byte(content), 0o644))

	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	require.Equal(t, 2, s.EntriesCount())

	v1, ok := s.Get("00000000-0000-4000-8000-000000000001")
	require.True(t, ok)
	require.Equal(t, "one", string(v1))

	v2, ok := s.Get("00000000-0000-4000-8000-000000000002")
	require.True(t, ok)
	require.Equal(t, "two", string(v2))
}

func TestConcurrentWriters(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	const goroutines = 20
	const perGoroutine = 30

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				payload := []byte(payloadFor(g, i))
				id, err := s.Insert(payload)
				require.NoError(t, err)

				v, ok := s.Get(id)
				require.True(t, ok)
				require.Equal(t, payload, v)
			}
		}(g)
	}
	wg.Wait()

	require.Equal(t, goroutines*perGoroutine, s.EntriesCount())
}

func TestUpdateRemoveOnAbsentID(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	ok, err := s.Update("does-not-exist", []byte("x"))
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = s.Remove("does-not-exist")
	require.NoError(t, err)
	require.False(t, ok)

	require.Equal(t, 0, s.EntriesCount())
}

func TestInsertEmptyValue(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	id, err := s.Insert([]byte{})
	require.NoError(t, err)

	v, ok := s.Get(id)
	require.True(t, ok)
	require.Equal(t, 0, len(v))
}

func TestSnapshotIdempotence(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Insert([]byte("a"))
	require.NoError(t, err)

	ok1, err := s.CreateSnapshot()
	require.NoError(t, err)
	require.True(t, ok1)

	countBefore := s.EntriesCount()

	ok2, err := s.CreateSnapshot()
	require.NoError(t, err)
	require.True(t, ok2)

	require.Equal(t, countBefore, s.EntriesCount())
}

func TestTimeAndOpsThresholdTriggersBackgroundSnapshot(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, WithOpsThreshold(2), WithTimeThreshold(0))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Insert([]byte("a"))
	require.NoError(t, err)
	_, err = s.Insert([]byte("b"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, statErr := os.Stat(filepath.Join(dir, snapshotFileName))
		return statErr == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func joinLines(lines []string) string {
	out := ""
	for _, l := range lines {
		out += l + "\n"
	}
	return out
}

func mustType(t *testing.T, line string) journal.Type {
	t.Helper()
	e, err := journal.Deserialize(line)
	require.NoError(t, err)
	return e.Type
}

func payloadFor(g, i int) string {
	return string(rune('a'+g%26)) + "-" + string(rune('0'+i%10))
}
