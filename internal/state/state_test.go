package state

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestTracker_Empty(t *testing.T) {
	tr := Load(filepath.Join(t.TempDir(), "state.json"))
	if tr.Count() != 0 {
		t.Fatalf("expected 0 entries, got %d", tr.Count())
	}
	if e := tr.Get("nonexistent.py"); e != nil {
		t.Fatal("expected nil for untracked artifact")
	}
}

func TestTracker_MarkRepaired(t *testing.T) {
	tr := Load(filepath.Join(t.TempDir(), "state.json"))
	tr.MarkRepaired("src/a.py", "abc1234", 3)

	e := tr.Get("src/a.py")
	if e == nil {
		t.Fatal("expected entry for src/a.py")
	}
	if e.Status != StatusRepaired {
		t.Fatalf("expected repaired, got %s", e.Status)
	}
	if e.Hash != "abc1234" {
		t.Fatalf("expected abc1234, got %s", e.Hash)
	}
	if e.Iterations != 3 {
		t.Fatalf("expected 3 iterations, got %d", e.Iterations)
	}
}

func TestTracker_MarkFailed(t *testing.T) {
	tr := Load(filepath.Join(t.TempDir(), "state.json"))
	tr.MarkFailed("src/b.py", "planner unavailable")

	e := tr.Get("src/b.py")
	if e == nil {
		t.Fatal("expected entry for src/b.py")
	}
	if e.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", e.Status)
	}
	if e.Error != "planner unavailable" {
		t.Fatalf("unexpected error: %s", e.Error)
	}
}

func TestTracker_MarkStarted(t *testing.T) {
	tr := Load(filepath.Join(t.TempDir(), "state.json"))
	tr.MarkStarted("src/c.py", "run-abc")

	e := tr.Get("src/c.py")
	if e == nil {
		t.Fatal("expected entry for src/c.py")
	}
	if e.Status != StatusInProgress {
		t.Fatalf("expected in_progress, got %s", e.Status)
	}
	if e.RunID != "run-abc" {
		t.Fatalf("expected run-abc, got %s", e.RunID)
	}
}

func TestTracker_ShouldSkip(t *testing.T) {
	tr := Load(filepath.Join(t.TempDir(), "state.json"))
	tr.MarkRepaired("src/a.py", "hash1", 1)
	tr.MarkIncomplete("src/b.py", 5)

	if !tr.ShouldSkip("src/a.py", "hash1") {
		t.Error("repaired artifact at same hash must be skipped")
	}
	if tr.ShouldSkip("src/a.py", "hash2") {
		t.Error("changed artifact must re-run")
	}
	if tr.ShouldSkip("src/b.py", "anything") {
		t.Error("incomplete artifact must re-run")
	}
	if tr.ShouldSkip("src/c.py", "hash1") {
		t.Error("untracked artifact must run")
	}
}

func TestTracker_RecoverInterrupted(t *testing.T) {
	tr := Load(filepath.Join(t.TempDir(), "state.json"))
	tr.MarkStarted("src/a.py", "")
	tr.MarkStarted("src/b.py", "")
	tr.MarkRepaired("src/c.py", "abc", 1)

	count := tr.RecoverInterrupted()
	if count != 2 {
		t.Fatalf("expected 2 recovered, got %d", count)
	}

	e1 := tr.Get("src/a.py")
	if e1.Status != StatusInterrupted {
		t.Fatalf("expected interrupted, got %s", e1.Status)
	}

	// repaired should not be affected
	e3 := tr.Get("src/c.py")
	if e3.Status != StatusRepaired {
		t.Fatalf("expected repaired, got %s", e3.Status)
	}
}

func TestTracker_PersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	tr := Load(path)
	tr.MarkRepaired("src/a.py", "def567", 2)
	tr.MarkFailed("src/b.py", "timeout")

	// reload from disk
	tr2 := Load(path)
	if tr2.Count() != 2 {
		t.Fatalf("expected 2 entries after reload, got %d", tr2.Count())
	}

	e1 := tr2.Get("src/a.py")
	if e1.Status != StatusRepaired || e1.Hash != "def567" || e1.Iterations != 2 {
		t.Fatalf("unexpected entry: %+v", e1)
	}

	e2 := tr2.Get("src/b.py")
	if e2.Status != StatusFailed || e2.Error != "timeout" {
		t.Fatalf("unexpected entry: %+v", e2)
	}
}

func TestTracker_MissingFile(t *testing.T) {
	tr := Load(filepath.Join(t.TempDir(), "nonexistent", "state.json"))
	if tr.Count() != 0 {
		t.Fatal("missing file should return empty tracker")
	}
}

func TestTracker_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	_ = os.WriteFile(path, []byte("not json"), 0o644)

	tr := Load(path)
	if tr.Count() != 0 {
		t.Fatal("corrupt file should return empty tracker")
	}
}

func TestTracker_Reset(t *testing.T) {
	tr := Load(filepath.Join(t.TempDir(), "state.json"))
	tr.MarkRepaired("src/a.py", "abc", 1)
	tr.MarkRepaired("src/b.py", "def", 1)

	tr.Reset("src/a.py")
	if tr.Get("src/a.py") != nil {
		t.Fatal("src/a.py should be removed after reset")
	}
	if tr.Get("src/b.py") == nil {
		t.Fatal("src/b.py should still exist")
	}
}

func TestTracker_Clear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	tr := Load(path)
	tr.MarkRepaired("src/a.py", "abc", 1)
	tr.Clear()

	if tr.Count() != 0 {
		t.Fatal("expected 0 entries after clear")
	}

	// file should be removed
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("state file should be deleted after clear")
	}
}

func TestTracker_AtomicWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	tr := Load(path)
	tr.MarkRepaired("src/a.py", "abc", 1)

	// verify no .tmp file left behind
	tmp := path + ".tmp"
	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		t.Fatal("tmp file should not persist after successful write")
	}

	// verify main file exists and is valid
	tr2 := Load(path)
	if tr2.Count() != 1 {
		t.Fatalf("expected 1 entry, got %d", tr2.Count())
	}
}

func TestTracker_ConcurrentAccess(t *testing.T) {
	tr := Load(filepath.Join(t.TempDir(), "state.json"))
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := "src/" + string(rune('a'+n%26)) + ".py"
			tr.MarkStarted(id, "run")
			tr.Get(id)
			tr.MarkRepaired(id, "abc", 1)
		}(i)
	}
	wg.Wait()

	if tr.Count() == 0 {
		t.Fatal("expected entries after concurrent writes")
	}
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.py")
	if err := os.WriteFile(path, []byte("print('hi')\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	h1, err := HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	h2, _ := HashFile(path)
	if h1 != h2 {
		t.Error("hash must be stable for unchanged content")
	}

	_ = os.WriteFile(path, []byte("print('bye')\n"), 0o644)
	h3, _ := HashFile(path)
	if h3 == h1 {
		t.Error("hash must change with content")
	}

	if _, err := HashFile(filepath.Join(t.TempDir(), "missing.py")); err == nil {
		t.Error("missing file must error")
	}
}

func TestTracker_SnapshotIsolation(t *testing.T) {
	tr := Load(filepath.Join(t.TempDir(), "state.json"))
	tr.MarkRepaired("src/a.py", "abc", 1)

	// get a copy
	e := tr.Get("src/a.py")
	e.Status = "modified"

	// original should not be affected
	e2 := tr.Get("src/a.py")
	if e2.Status != StatusRepaired {
		t.Fatal("modifying copy should not affect tracker")
	}
}
