package reporter

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/fixforge/internal/artifact"
	"github.com/ppiankov/fixforge/internal/batch"
	"github.com/ppiankov/fixforge/internal/loop"
)

func TestTextReporter_PrintHeader(t *testing.T) {
	var buf bytes.Buffer
	r := NewTextReporter(&buf, false)
	r.PrintHeader(10, 5, 4)

	out := buf.String()
	if !strings.Contains(out, "10 artifacts") {
		t.Errorf("expected '10 artifacts' in output, got: %s", out)
	}
	if !strings.Contains(out, "max 5 iterations") {
		t.Errorf("expected iteration bound in output, got: %s", out)
	}
	if !strings.Contains(out, "4 workers") {
		t.Errorf("expected '4 workers' in output, got: %s", out)
	}
}

func TestTextReporter_PrintDryRun(t *testing.T) {
	arts := []artifact.Artifact{
		{Path: "src/first.py"},
		{Path: "src/second.py"},
	}

	var buf bytes.Buffer
	r := NewTextReporter(&buf, false)
	r.PrintDryRun(arts, 5)

	out := buf.String()
	if !strings.Contains(out, "src/first.py") {
		t.Error("expected src/first.py in dry run output")
	}
	if !strings.Contains(out, "src/second.py") {
		t.Error("expected src/second.py in dry run output")
	}
	if !strings.Contains(out, "max 5 iterations") {
		t.Error("expected iteration bound in dry run output")
	}
}

func TestTextReporter_PrintStatus(t *testing.T) {
	statuses := []batch.ArtifactStatus{
		{
			Artifact:  artifact.Artifact{Path: "src/running.py"},
			Status:    batch.StatusRunning,
			StartedAt: time.Now().Add(-30 * time.Second),
		},
		{
			Artifact: artifact.Artifact{Path: "src/done.py"},
			Status:   batch.StatusDone,
			Result:   &loop.Result{Outcome: loop.OutcomeSuccess, Success: true, Iterations: 2, Duration: 45 * time.Second},
		},
		{
			Artifact: artifact.Artifact{Path: "src/stuck.py"},
			Status:   batch.StatusDone,
			Result:   &loop.Result{Outcome: loop.OutcomeMaxIterations, Iterations: 5, Duration: 3 * time.Minute},
		},
		{
			Artifact: artifact.Artifact{Path: "src/broken.py"},
			Status:   batch.StatusDone,
			Result:   &loop.Result{Outcome: loop.OutcomeFatal, Error: "boom", Duration: 10 * time.Second},
		},
	}

	var buf bytes.Buffer
	r := NewTextReporter(&buf, false)
	r.PrintStatus(statuses)

	out := buf.String()
	if !strings.Contains(out, "RUNNING") {
		t.Error("expected RUNNING section")
	}
	if !strings.Contains(out, "REPAIRED") {
		t.Error("expected REPAIRED section")
	}
	if !strings.Contains(out, "INCOMPLETE") {
		t.Error("expected INCOMPLETE section")
	}
	if !strings.Contains(out, "FATAL") {
		t.Error("expected FATAL section")
	}
	if !strings.Contains(out, "boom") {
		t.Error("expected fatal error message")
	}
}

func TestTextReporter_PrintSummary(t *testing.T) {
	report := &batch.Report{
		Total:         10,
		Succeeded:     7,
		Incomplete:    2,
		Fatal:         1,
		TotalDuration: 5 * time.Minute,
	}

	var buf bytes.Buffer
	r := NewTextReporter(&buf, false)
	r.PrintSummary(report)

	out := buf.String()
	if !strings.Contains(out, "Repaired: 7") {
		t.Error("expected repaired count")
	}
	if !strings.Contains(out, "Incomplete: 2") {
		t.Error("expected incomplete count")
	}
	if !strings.Contains(out, "Fatal: 1") {
		t.Error("expected fatal count")
	}
}

func TestTextReporter_NoColor(t *testing.T) {
	var buf bytes.Buffer
	r := NewTextReporter(&buf, false)
	r.PrintHeader(5, 3, 2)

	out := buf.String()
	if strings.Contains(out, "\033[") {
		t.Error("expected no ANSI codes when color is false")
	}
}

func TestWriteJSONReport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")

	report := &batch.Report{
		RunID:         "abc123",
		Timestamp:     time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC),
		TargetDir:     "./src",
		MaxIterations: 5,
		Workers:       4,
		Total:         2,
		Succeeded:     1,
		Fatal:         1,
		Results: []*loop.Result{
			{Artifact: artifact.Artifact{Path: "src/a.py"}, OutcomeStr: "success", Success: true, Iterations: 1},
			{Artifact: artifact.Artifact{Path: "src/b.py"}, OutcomeStr: "fatal", Error: "oops"},
		},
	}

	if err := WriteJSONReport(report, path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}

	var loaded batch.Report
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("parse report: %v", err)
	}

	if loaded.Total != 2 {
		t.Errorf("expected 2 total artifacts, got %d", loaded.Total)
	}
	if loaded.Succeeded != 1 {
		t.Errorf("expected 1 succeeded, got %d", loaded.Succeeded)
	}
	if len(loaded.Results) != 2 {
		t.Errorf("expected 2 results, got %d", len(loaded.Results))
	}
}
