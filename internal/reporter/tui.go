package reporter

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ppiankov/fixforge/internal/batch"
	"github.com/ppiankov/fixforge/internal/loop"
)

var spinnerChars = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// TUI styles
var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	fatalStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))  // red
	runStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14")) // cyan
	doneStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")) // green
	partStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")) // yellow
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))  // gray
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	pauseStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
)

type tickMsg time.Time

// TUIModel is the Bubbletea model for the fixforge live display.
type TUIModel struct {
	getStatuses func() []batch.ArtifactStatus
	cancelRun   func() // called on 'q' to cancel the run context

	statuses     []batch.ArtifactStatus
	scrollOffset int
	paused       bool
	frame        int
	width        int
	height       int
	done         bool // quit requested; stops the tick loop
}

// NewTUIModel creates a new TUI model.
func NewTUIModel(getStatuses func() []batch.ArtifactStatus, cancelRun func()) TUIModel {
	return TUIModel{
		getStatuses: getStatuses,
		cancelRun:   cancelRun,
	}
}

// Init implements tea.Model.
func (m TUIModel) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m TUIModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.cancelRun != nil {
				m.cancelRun()
			}
			m.done = true
			return m, tea.Quit

		case "p", " ":
			m.paused = !m.paused

		case "j", "down":
			m.scrollDown(1)

		case "k", "up":
			m.scrollUp(1)

		case "g", "home":
			m.scrollOffset = 0

		case "G", "end":
			m.scrollOffset = m.maxScroll()

		case "pgdown":
			m.scrollDown(m.visibleArtifacts())

		case "pgup":
			m.scrollUp(m.visibleArtifacts())
		}

	case tickMsg:
		if m.done {
			return m, nil
		}
		if !m.paused {
			m.statuses = m.getStatuses()
		}
		m.frame++
		return m, tickCmd()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	}

	return m, nil
}

func (m *TUIModel) scrollDown(n int) {
	m.scrollOffset += n
	if max := m.maxScroll(); m.scrollOffset > max {
		m.scrollOffset = max
	}
}

func (m *TUIModel) scrollUp(n int) {
	m.scrollOffset -= n
	if m.scrollOffset < 0 {
		m.scrollOffset = 0
	}
}

func (m TUIModel) visibleArtifacts() int {
	// header(2) + progress(1) + blank(1) + help(1) = 5 reserved lines
	avail := m.height - 5
	if avail < 3 {
		return 3
	}
	return avail
}

func (m TUIModel) maxScroll() int {
	total := len(m.statuses)
	vis := m.visibleArtifacts()
	if total <= vis {
		return 0
	}
	return total - vis
}

// View implements tea.Model.
func (m TUIModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	total := len(m.statuses)
	var repaired, running, incomplete, fatal, pending int
	for _, st := range m.statuses {
		switch st.Status {
		case batch.StatusRunning:
			running++
		case batch.StatusDone:
			switch st.Result.Outcome {
			case loop.OutcomeSuccess:
				repaired++
			case loop.OutcomeMaxIterations:
				incomplete++
			default:
				fatal++
			}
		default:
			pending++
		}
	}

	header := fmt.Sprintf("fixforge — %d artifacts", total)
	if m.paused {
		header += "  " + pauseStyle.Render("⏸ PAUSED")
	}
	b.WriteString(headerStyle.Render(header))
	b.WriteString("\n")

	b.WriteString(m.progressLine(repaired, running, incomplete, fatal, pending))
	b.WriteString("\n")

	artifactLines := m.buildArtifactLines()

	// apply scroll window
	vis := m.visibleArtifacts()
	start := m.scrollOffset
	end := start + vis
	if end > len(artifactLines) {
		end = len(artifactLines)
	}
	if start > len(artifactLines) {
		start = len(artifactLines)
	}

	// scroll hints
	if start > 0 {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  ↑ %d more above", start)))
		b.WriteString("\n")
	}

	for i := start; i < end; i++ {
		b.WriteString(artifactLines[i])
		b.WriteString("\n")
	}

	if end < len(artifactLines) {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  ↓ %d more below", len(artifactLines)-end)))
		b.WriteString("\n")
	}

	// pad to fill screen
	used := 2 + (end - start) + 1 // header + progress + artifacts + help
	if start > 0 {
		used++
	}
	if end < len(artifactLines) {
		used++
	}
	for i := used; i < m.height-1; i++ {
		b.WriteString("\n")
	}

	// help line
	b.WriteString(helpStyle.Render("  ↑↓/jk: scroll  g/G: top/bottom  p: pause  q: quit"))

	return b.String()
}

func (m TUIModel) buildArtifactLines() []string {
	var fatal, running, repaired, incomplete, pending []batch.ArtifactStatus

	for _, st := range m.statuses {
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

	spinner := spinnerChars[m.frame%len(spinnerChars)]
	var lines []string

	for _, st := range fatal {
		lines = append(lines, m.fmtFatal(st))
	}
	for _, st := range running {
		lines = append(lines, m.fmtRunning(st, spinner))
	}
	for _, st := range repaired {
		lines = append(lines, m.fmtRepaired(st))
	}
	for _, st := range incomplete {
		lines = append(lines, m.fmtIncomplete(st))
	}
	for _, st := range pending {
		lines = append(lines, m.fmtPending(st))
	}

	return lines
}

func (m TUIModel) fmtFatal(st batch.ArtifactStatus) string {
	errMsg := st.Result.Error
	if len(errMsg) > 40 {
		errMsg = errMsg[:40] + "..."
	}
	return fatalStyle.Render(fmt.Sprintf("  ✗ %-10s %-40s %s", "FATAL", st.Artifact.Path, errMsg))
}

func (m TUIModel) fmtRunning(st batch.ArtifactStatus, spinner string) string {
	elapsed := time.Since(st.StartedAt).Truncate(time.Second)
	return runStyle.Render(fmt.Sprintf("  %s %-10s %-40s %s", spinner, "running", st.Artifact.Path, elapsed))
}

func (m TUIModel) fmtRepaired(st batch.ArtifactStatus) string {
	dur := st.Result.Duration.Truncate(time.Second)
	return doneStyle.Render(fmt.Sprintf("  ✓ %-10s %-40s %s [%d iterations]",
		"repaired", st.Artifact.Path, dur, st.Result.Iterations))
}

func (m TUIModel) fmtIncomplete(st batch.ArtifactStatus) string {
	return partStyle.Render(fmt.Sprintf("  ⏸ %-10s %-40s budget exhausted after %d iterations",
		"incomplete", st.Artifact.Path, st.Result.Iterations))
}

func (m TUIModel) fmtPending(st batch.ArtifactStatus) string {
	return dimStyle.Render(fmt.Sprintf("  ─ %-10s %s", "pending", st.Artifact.Path))
}

func (m TUIModel) progressLine(repaired, running, incomplete, fatal, pending int) string {
	var parts []string
	if repaired > 0 {
		parts = append(parts, doneStyle.Render(fmt.Sprintf("%d repaired", repaired)))
	}
	if running > 0 {
		parts = append(parts, runStyle.Render(fmt.Sprintf("%d running", running)))
	}
	if incomplete > 0 {
		parts = append(parts, partStyle.Render(fmt.Sprintf("%d incomplete", incomplete)))
	}
	if fatal > 0 {
		parts = append(parts, fatalStyle.Render(fmt.Sprintf("%d fatal", fatal)))
	}
	if pending > 0 {
		parts = append(parts, dimStyle.Render(fmt.Sprintf("%d pending", pending)))
	}
	return fmt.Sprintf("  %s", strings.Join(parts, "  "))
}
