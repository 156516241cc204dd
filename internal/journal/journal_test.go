package journal

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.journal")
	j, err := Open(path, zap.NewNop())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return j
}

func TestOpenCreatesHeaderOnlyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh.journal")
	if _, err := Open(path, zap.NewNop()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != Header+"\n" {
		t.Fatalf("new journal content = %q, want header only", data)
	}
}

func TestAppendAndReplay(t *testing.T) {
	j := openTestJournal(t)

	if err := j.Append(NewEntry(Insert, "id-a", []byte("a"))); err != nil {
		t.Fatalf("append a: %v", err)
	}
	if err := j.Append(NewEntry(Insert, "id-b", []byte("b"))); err != nil {
		t.Fatalf("append b: %v", err)
	}
	if err := j.Append(NewEntry(Remove, "id-a", nil)); err != nil {
		t.Fatalf("append remove: %v", err)
	}

	result, err := j.Replay("", nil)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(result.Data) != 1 {
		t.Fatalf("replay produced %d entries, want 1", len(result.Data))
	}
	if string(result.Data["id-b"]) != "b" {
		t.Fatalf("replay data[id-b] = %q, want %q", result.Data["id-b"], "b")
	}
	if _, present := result.Data["id-a"]; present {
		t.Fatal("replay kept removed id-a")
	}
}

func TestReplaySkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.journal")
	content := Header + "\n" +
		`INSERT|00000000-0000-4000-8000-000000000001|2025-01-31T14:05:09.123Z|one` + "\n" +
		"GARBAGE LINE\n" +
		`INSERT|00000000-0000-4000-8000-000000000002|2025-01-31T14:05:09.123Z|two` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	j, err := Open(path, zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	result, err := j.Replay("", nil)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(result.Data) != 2 {
		t.Fatalf("replay produced %d entries, want 2", len(result.Data))
	}
	if string(result.Data["00000000-0000-4000-8000-000000000001"]) != "one" {
		t.Fatal("unexpected value for first id")
	}
	if string(result.Data["00000000-0000-4000-8000-000000000002"]) != "two" {
		t.Fatal("unexpected value for second id")
	}
}

func TestTruncateToCheckpoint(t *testing.T) {
	j := openTestJournal(t)

	if err := j.Append(NewEntry(Insert, "id-a", []byte("a"))); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := j.Append(NewEntry(Checkpoint, "cp-1", nil)); err != nil {
		t.Fatalf("append checkpoint: %v", err)
	}
	if err := j.Append(NewEntry(Insert, "id-b", []byte("b"))); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := j.TruncateToCheckpoint("cp-1"); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	result, err := j.Replay("cp-1", nil)
	if err != nil {
		t.Fatalf("replay after truncate: %v", err)
	}
	if !result.CheckpointFound {
		t.Fatal("checkpoint not found after truncation preserved it")
	}
	if string(result.Data["id-b"]) != "b" {
		t.Fatal("entry after checkpoint missing after truncation")
	}
}

func TestTruncateToUnknownCheckpointFails(t *testing.T) {
	j := openTestJournal(t)
	if err := j.Append(NewEntry(Insert, "id-a", []byte("a"))); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := j.TruncateToCheckpoint("does-not-exist"); err == nil {
		t.Fatal("truncate to unknown checkpoint succeeded, want error")
	}
}

func TestLastCheckpointIDCachedAndScanned(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.journal")
	content := Header + "\n" +
		`CHECKPOINT|cp-old|2025-01-31T14:05:09.123Z|` + "\n" +
		`INSERT|00000000-0000-4000-8000-000000000003|2025-01-31T14:05:09.123Z|x` + "\n" +
		`CHECKPOINT|cp-new|2025-01-31T14:05:10.123Z|` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	j, err := Open(path, zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	id, ok, err := j.LastCheckpointID()
	if err != nil {
		t.Fatalf("LastCheckpointID: %v", err)
	}
	if !ok || id != "cp-new" {
		t.Fatalf("LastCheckpointID = (%q, %v), want (cp-new, true)", id, ok)
	}

	// The scan populated the cache, so a second call does not see a file
	// rewritten behind the journal's back.
	if err := os.WriteFile(path, []byte(Header+"\n"), 0o644); err != nil {
		t.Fatalf("rewrite file: %v", err)
	}
	id, ok, err = j.LastCheckpointID()
	if err != nil {
		t.Fatalf("LastCheckpointID (cached): %v", err)
	}
	if !ok || id != "cp-new" {
		t.Fatalf("cached LastCheckpointID = (%q, %v), want (cp-new, true)", id, ok)
	}
}

func TestIsValidDetectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.journal")
	content := Header + "\nNOT A VALID ENTRY LINE WITHOUT PIPES\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	j := &Journal{path: path, logger: zap.NewNop()}
	valid, err := j.IsValid()
	if err != nil {
		t.Fatalf("IsValid: %v", err)
	}
	if valid {
		t.Fatal("IsValid = true for corrupt file, want false")
	}
}

func TestOpenToleratesCorruptLineWithoutBackingUp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corrupt.journal")
	content := Header + "\nNOT A VALID ENTRY LINE WITHOUT PIPES\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	if _, err := Open(path, zap.NewNop()); err != nil {
		t.Fatalf("Open on journal with one bad line failed: %v", err)
	}

	// Open must not have rewritten the file: a single malformed line is
	// tolerated by replay, not grounds for backing up and wiping.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(raw) != content {
		t.Fatalf("Open modified journal content: got %q, want unchanged %q", raw, content)
	}
}

func TestRecreateBacksUpAndResetsCorruptJournal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corrupt.journal")
	content := Header + "\nNOT A VALID ENTRY LINE WITHOUT PIPES\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	j, err := Open(path, zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	valid, err := j.IsValid()
	if err != nil {
		t.Fatalf("IsValid: %v", err)
	}
	if valid {
		t.Fatal("IsValid = true for corrupt file, want false")
	}

	if err := j.Recreate(); err != nil {
		t.Fatalf("Recreate: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	sawBackup := false
	for _, e := range entries {
		if e.Name() != filepath.Base(path) {
			sawBackup = true
		}
	}
	if !sawBackup {
		t.Fatal("no backup file created by Recreate")
	}

	fresh, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile fresh journal: %v", err)
	}
	if string(fresh) != Header+"\n" {
		t.Fatalf("recreated journal content = %q, want header only", fresh)
	}
}
