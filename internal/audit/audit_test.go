package audit

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestRecordAndRecent(t *testing.T) {
	log, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = log.Close() }()

	log.Record("planner", "gpt-4o", "analysis", "analyze foo.py", `{"file":"foo.py"}`, "SUCCESS")
	log.Record("fixer", "gpt-4o", "fix", "apply plan", "rewrote foo.py", "FAILURE")

	entries, err := log.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	// newest first
	if entries[0].Agent != "fixer" || entries[0].Status != "FAILURE" {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].Agent != "planner" || entries[1].Action != "analysis" {
		t.Errorf("unexpected second entry: %+v", entries[1])
	}
	if entries[0].Time.IsZero() {
		t.Error("timestamp not recorded")
	}
}

func TestRecordScrubsSecrets(t *testing.T) {
	log, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = log.Close() }()

	key := "gsk_" + "0123456789abcdefghijklmnop"
	log.Record("tester", "", "analysis", "key="+key, "export GROQ_API_KEY="+key, "SUCCESS")

	entries, err := log.Recent(1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	for _, field := range []string{entries[0].Input, entries[0].Output} {
		if strings.Contains(field, key) {
			t.Errorf("raw key survived redaction: %q", field)
		}
		if !strings.Contains(field, "[REDACTED]") {
			t.Errorf("missing redaction placeholder: %q", field)
		}
	}
}

func TestOpenCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "audit.db")
	log, err := Open(path)
	if err != nil {
		t.Fatalf("Open with missing parent: %v", err)
	}
	_ = log.Close()
}
