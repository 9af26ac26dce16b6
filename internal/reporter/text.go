package reporter

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ppiankov/fixforge/internal/artifact"
	"github.com/ppiankov/fixforge/internal/batch"
	"github.com/ppiankov/fixforge/internal/loop"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorDim    = "\033[2m"
)

// TextReporter writes human-readable output to a writer.
type TextReporter struct {
	w     io.Writer
	color bool
}

// NewTextReporter creates a text reporter.
// If w is nil, defaults to os.Stdout.
// color enables ANSI codes.
func NewTextReporter(w io.Writer, color bool) *TextReporter {
	if w == nil {
		w = os.Stdout
	}
	return &TextReporter{w: w, color: color}
}

// PrintHeader writes the initial banner.
func (r *TextReporter) PrintHeader(totalArtifacts, maxIterations, workers int) {
	fmt.Fprintf(r.w, "fixforge — %d artifacts, max %d iterations, %d workers\n\n",
		totalArtifacts, maxIterations, workers)
}

// PrintStatus writes a snapshot of all artifact states.
func (r *TextReporter) PrintStatus(statuses []batch.ArtifactStatus) {
	var running, repaired, incomplete, fatal, pending []batch.ArtifactStatus

	for _, st := range statuses {
		switch st.Status {
		case batch.StatusRunning:
			running = append(running, st)
		case batch.StatusDone:
			switch st.Result.Outcome {
			case loop.OutcomeSuccess:
				repaired = append(repaired, st)
			case loop.OutcomeMaxIterations:
				incomplete = append(incomplete, st)
			default:
				fatal = append(fatal, st)
			}
		default:
			pending = append(pending, st)
		}
	}

	total := len(statuses)

	r.printSection("RUNNING", colorCyan, running, total, func(st batch.ArtifactStatus) string {
		elapsed := time.Since(st.StartedAt).Truncate(time.Second)
		return fmt.Sprintf("    %-40s %s", st.Artifact.Path, elapsed)
	})

	r.printSection("REPAIRED", colorGreen, repaired, total, func(st batch.ArtifactStatus) string {
		return fmt.Sprintf("    %-40s %s  ✓ (%d iterations)",
			st.Artifact.Path, st.Result.Duration.Truncate(time.Second), st.Result.Iterations)
	})

	r.printSection("INCOMPLETE", colorYellow, incomplete, total, func(st batch.ArtifactStatus) string {
		return fmt.Sprintf("    %-40s %s  ⏸ budget exhausted after %d iterations",
			st.Artifact.Path, st.Result.Duration.Truncate(time.Second), st.Result.Iterations)
	})

	r.printSection("FATAL", colorRed, fatal, total, func(st batch.ArtifactStatus) string {
		return fmt.Sprintf("    %-40s %s  ✗ %s",
			st.Artifact.Path, st.Result.Duration.Truncate(time.Second), st.Result.Error)
	})

	if len(pending) > 0 {
		fmt.Fprintf(r.w, "  %sPENDING  [%d/%d]%s\n", r.c(colorDim), len(pending), total, r.c(colorReset))
		for _, st := range pending {
			fmt.Fprintf(r.w, "    %s%s%s\n", r.c(colorDim), st.Artifact.Path, r.c(colorReset))
		}
		fmt.Fprintln(r.w)
	}
}

// PrintSummary writes the final summary line.
func (r *TextReporter) PrintSummary(report *batch.Report) {
	fmt.Fprintf(r.w, "\n%s--- Summary ---%s\n", r.c(colorCyan), r.c(colorReset))
	fmt.Fprintf(r.w, "Total: %d  ", report.Total)
	fmt.Fprintf(r.w, "%sRepaired: %d%s  ", r.c(colorGreen), report.Succeeded, r.c(colorReset))
	fmt.Fprintf(r.w, "%sIncomplete: %d%s  ", r.c(colorYellow), report.Incomplete, r.c(colorReset))
	fmt.Fprintf(r.w, "%sFatal: %d%s  ", r.c(colorRed), report.Fatal, r.c(colorReset))
	fmt.Fprintf(r.w, "Duration: %s\n", report.TotalDuration.Truncate(time.Second))
}

// SkippedInfo describes an artifact skipped due to persistent state.
type SkippedInfo struct {
	Path   string
	Reason string
}

// PrintSkippedByState writes artifacts skipped due to persistent state.
func (r *TextReporter) PrintSkippedByState(skipped []SkippedInfo) {
	fmt.Fprintf(r.w, "%sSkipped by state:%s\n", r.c(colorDim), r.c(colorReset))
	for _, s := range skipped {
		fmt.Fprintf(r.w, "  %s%-40s%s  %s\n", r.c(colorDim), s.Path, r.c(colorReset), s.Reason)
	}
	fmt.Fprintln(r.w)
}

// PrintDryRun writes the execution plan without running anything.
func (r *TextReporter) PrintDryRun(artifacts []artifact.Artifact, maxIterations int) {
	fmt.Fprintf(r.w, "Execution plan (dry-run), max %d iterations per artifact:\n\n", maxIterations)
	for i, art := range artifacts {
		fmt.Fprintf(r.w, "  %d. %s\n", i+1, art.Path)
	}
	fmt.Fprintln(r.w)
}

func (r *TextReporter) printSection(label, color string, items []batch.ArtifactStatus, total int, formatter func(batch.ArtifactStatus) string) {
	fmt.Fprintf(r.w, "  %s%s  [%d/%d]%s\n", r.c(color), label, len(items), total, r.c(colorReset))
	for _, st := range items {
		fmt.Fprintln(r.w, formatter(st))
	}
	fmt.Fprintln(r.w)
}

func (r *TextReporter) c(code string) string {
	if !r.color {
		return ""
	}
	return code
}
