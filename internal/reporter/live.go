package reporter

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/fixforge/internal/batch"
	"github.com/ppiankov/fixforge/internal/loop"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const maxArtifactLines = 20

// LiveReporter provides a live-updating terminal display during a batch run.
type LiveReporter struct {
	w           io.Writer
	color       bool
	getStatuses func() []batch.ArtifactStatus
	stop        chan struct{}
	done        chan struct{}
	lastLines   int
	frame       int
	mu          sync.Mutex
}

// NewLiveReporter creates a live reporter that polls the driver via getStatuses.
func NewLiveReporter(w io.Writer, color bool, getStatuses func() []batch.ArtifactStatus) *LiveReporter {
	return &LiveReporter{
		w:           w,
		color:       color,
		getStatuses: getStatuses,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start begins the periodic refresh loop.
func (lr *LiveReporter) Start() {
	go lr.loop()
}

// Stop halts the refresh loop and clears the live display.
func (lr *LiveReporter) Stop() {
	close(lr.stop)
	<-lr.done
	lr.clearLastFrame()
}

func (lr *LiveReporter) loop() {
	defer close(lr.done)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-lr.stop:
			return
		case <-ticker.C:
			lr.render()
		}
	}
}

func (lr *LiveReporter) clearLastFrame() {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	if lr.lastLines > 0 {
		fmt.Fprintf(lr.w, "\033[%dA", lr.lastLines)
		for i := 0; i < lr.lastLines; i++ {
			fmt.Fprintf(lr.w, "\033[K\n")
		}
		fmt.Fprintf(lr.w, "\033[%dA", lr.lastLines)
	}
}

func (lr *LiveReporter) render() {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	statuses := lr.getStatuses()
	lines := lr.buildLines(statuses)

	// move cursor up to overwrite previous frame
	if lr.lastLines > 0 {
		fmt.Fprintf(lr.w, "\033[%dA", lr.lastLines)
	}

	for _, line := range lines {
		fmt.Fprintf(lr.w, "\033[K%s\n", line)
	}

	lr.lastLines = len(lines)
	lr.frame++
}

// Render produces the display lines for a given status snapshot.
// Exported for testing.
func (lr *LiveReporter) Render(statuses []batch.ArtifactStatus) []string {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	return lr.buildLines(statuses)
}

func (lr *LiveReporter) buildLines(statuses []batch.ArtifactStatus) []string {
	var fatal, running, repaired, incomplete, pending []batch.ArtifactStatus

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

	// sort repaired by start time (most recent first)
	sort.Slice(repaired, func(i, j int) bool {
		return repaired[i].StartedAt.After(repaired[j].StartedAt)
	})

	total := len(statuses)
	spinner := spinnerFrames[lr.frame%len(spinnerFrames)]

	var lines []string
	lines = append(lines, fmt.Sprintf("fixforge — %d artifacts", total))
	lines = append(lines, "")

	artifactLines := 0

	// fatal first
	for _, st := range fatal {
		if artifactLines >= maxArtifactLines {
			break
		}
		lines = append(lines, lr.formatFatal(st))
		artifactLines++
	}

	// running
	for _, st := range running {
		if artifactLines >= maxArtifactLines {
			break
		}
		lines = append(lines, lr.formatRunning(st, spinner))
		artifactLines++
	}

	// repaired (capped)
	shownRepaired := 0
	for _, st := range repaired {
		if artifactLines >= maxArtifactLines {
			break
		}
		lines = append(lines, lr.formatRepaired(st))
		artifactLines++
		shownRepaired++
	}
	if remaining := len(repaired) - shownRepaired; remaining > 0 {
		lines = append(lines, fmt.Sprintf("  %s... %d more repaired%s", lr.c(colorDim), remaining, lr.c(colorReset)))
		artifactLines++
	}

	// incomplete (capped)
	shownIncomplete := 0
	for _, st := range incomplete {
		if artifactLines >= maxArtifactLines {
			break
		}
		lines = append(lines, lr.formatIncomplete(st))
		artifactLines++
		shownIncomplete++
	}
	if remaining := len(incomplete) - shownIncomplete; remaining > 0 {
		lines = append(lines, fmt.Sprintf("  %s... %d more incomplete%s", lr.c(colorDim), remaining, lr.c(colorReset)))
		artifactLines++
	}

	// pending (capped)
	shownPending := 0
	for _, st := range pending {
		if artifactLines >= maxArtifactLines {
			break
		}
		lines = append(lines, lr.formatPending(st))
		artifactLines++
		shownPending++
	}
	if remaining := len(pending) - shownPending; remaining > 0 {
		lines = append(lines, fmt.Sprintf("  %s─ pending    %d more artifacts%s", lr.c(colorDim), remaining, lr.c(colorReset)))
	}

	// progress line
	lines = append(lines, "")
	lines = append(lines, lr.progressLine(len(repaired), len(running), len(incomplete), len(fatal), len(pending)))

	return lines
}

func (lr *LiveReporter) formatFatal(st batch.ArtifactStatus) string {
	errMsg := st.Result.Error
	if len(errMsg) > 120 {
		errMsg = errMsg[:120] + "..."
	}
	return fmt.Sprintf("  %s✗ %-10s %-40s %s%s",
		lr.c(colorRed), "FATAL", st.Artifact.Path, errMsg, lr.c(colorReset))
}

func (lr *LiveReporter) formatRunning(st batch.ArtifactStatus, spinner string) string {
	elapsed := time.Since(st.StartedAt).Truncate(time.Second)
	return fmt.Sprintf("  %s%s %-10s %-40s %s%s",
		lr.c(colorCyan), spinner, "running", st.Artifact.Path, elapsed, lr.c(colorReset))
}

func (lr *LiveReporter) formatRepaired(st batch.ArtifactStatus) string {
	dur := st.Result.Duration.Truncate(time.Second)
	return fmt.Sprintf("  %s✓ %-10s %-40s %s [%d iterations]%s",
		lr.c(colorGreen), "repaired", st.Artifact.Path, dur, st.Result.Iterations, lr.c(colorReset))
}

func (lr *LiveReporter) formatIncomplete(st batch.ArtifactStatus) string {
	return fmt.Sprintf("  %s⏸ %-10s %-40s budget exhausted after %d iterations%s",
		lr.c(colorYellow), "incomplete", st.Artifact.Path, st.Result.Iterations, lr.c(colorReset))
}

func (lr *LiveReporter) formatPending(st batch.ArtifactStatus) string {
	return fmt.Sprintf("  %s─ %-10s %s%s",
		lr.c(colorDim), "pending", st.Artifact.Path, lr.c(colorReset))
}

func (lr *LiveReporter) progressLine(repaired, running, incomplete, fatal, pending int) string {
	parts := []string{}
	if repaired > 0 {
		parts = append(parts, fmt.Sprintf("%s%d repaired%s", lr.c(colorGreen), repaired, lr.c(colorReset)))
	}
	if running > 0 {
		parts = append(parts, fmt.Sprintf("%s%d running%s", lr.c(colorCyan), running, lr.c(colorReset)))
	}
	if incomplete > 0 {
		parts = append(parts, fmt.Sprintf("%s%d incomplete%s", lr.c(colorYellow), incomplete, lr.c(colorReset)))
	}
	if fatal > 0 {
		parts = append(parts, fmt.Sprintf("%s%d fatal%s", lr.c(colorRed), fatal, lr.c(colorReset)))
	}
	if pending > 0 {
		parts = append(parts, fmt.Sprintf("%s%d pending%s", lr.c(colorDim), pending, lr.c(colorReset)))
	}
	return fmt.Sprintf("  progress: %s", strings.Join(parts, ", "))
}

func (lr *LiveReporter) c(code string) string {
	if !lr.color {
		return ""
	}
	return code
}
