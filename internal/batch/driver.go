package batch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ppiankov/fixforge/internal/artifact"
	"github.com/ppiankov/fixforge/internal/loop"
)

// Status is the batch-level execution state of one artifact.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusDone
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusRunning:
		return "RUNNING"
	case StatusDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// ArtifactStatus pairs an artifact with its live state and, once
// terminal, its result.
type ArtifactStatus struct {
	Artifact  artifact.Artifact
	Status    Status
	Result    *loop.Result
	StartedAt time.Time
}

// Report is the aggregate outcome of one batch run.
type Report struct {
	RunID         string         `json:"run_id"`
	Timestamp     time.Time      `json:"timestamp"`
	TargetDir     string         `json:"target_dir"`
	MaxIterations int            `json:"max_iterations"`
	Workers       int            `json:"workers"`
	Results       []*loop.Result `json:"results"`
	Total         int            `json:"total"`
	Succeeded     int            `json:"succeeded"`
	Incomplete    int            `json:"incomplete"`
	Fatal         int            `json:"fatal"`
	TotalDuration time.Duration  `json:"total_duration"`
}

// AllSucceeded reports whether every artifact reached Success.
func (r *Report) AllSucceeded() bool { return r.Succeeded == r.Total }

// RunFn runs one artifact's repair loop to its terminal state.
// The driver calls it with one artifact at a time per worker; there is
// no shared state between invocations.
type RunFn func(ctx context.Context, art artifact.Artifact) *loop.Result

// Driver iterates the repair loop over a set of artifacts. Artifacts
// are independent: a fatal outcome for one never aborts the rest.
type Driver struct {
	Artifacts     []artifact.Artifact
	Run           RunFn
	Workers       int // <=1 processes sequentially, in discovery order
	TargetDir     string
	MaxIterations int
	OnUpdate      func(art artifact.Artifact, res *loop.Result)

	mu       sync.Mutex
	statuses []ArtifactStatus
}

// Execute runs every artifact to completion and returns the aggregate
// report. Report ordering follows discovery order regardless of the
// worker count.
func (d *Driver) Execute(ctx context.Context) *Report {
	start := time.Now()
	workers := d.Workers
	if workers <= 1 {
		workers = 1
	}

	d.mu.Lock()
	d.statuses = make([]ArtifactStatus, len(d.Artifacts))
	for i, art := range d.Artifacts {
		d.statuses[i] = ArtifactStatus{Artifact: art, Status: StatusPending}
	}
	d.mu.Unlock()

	work := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				d.execute(ctx, i)
			}
		}()
	}
	for i := range d.Artifacts {
		work <- i
	}
	close(work)
	wg.Wait()

	return d.buildReport(start)
}

func (d *Driver) execute(ctx context.Context, i int) {
	art := d.Artifacts[i]

	d.mu.Lock()
	d.statuses[i].Status = StatusRunning
	d.statuses[i].StartedAt = time.Now()
	d.mu.Unlock()

	slog.Info("processing artifact", "artifact", art.Path)
	res := d.Run(ctx, art)

	d.mu.Lock()
	d.statuses[i].Status = StatusDone
	d.statuses[i].Result = res
	d.mu.Unlock()

	if d.OnUpdate != nil {
		d.OnUpdate(art, res)
	}
}

// Statuses returns a snapshot of all artifact states, in discovery order.
func (d *Driver) Statuses() []ArtifactStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]ArtifactStatus, len(d.statuses))
	copy(cp, d.statuses)
	return cp
}

func (d *Driver) buildReport(start time.Time) *Report {
	d.mu.Lock()
	defer d.mu.Unlock()

	report := &Report{
		Timestamp:     start,
		TargetDir:     d.TargetDir,
		MaxIterations: d.MaxIterations,
		Workers:       d.Workers,
		Total:         len(d.statuses),
		TotalDuration: time.Since(start),
	}

	h := sha256.New()
	fmt.Fprintf(h, "%d|%s", start.UnixNano(), d.TargetDir)
	report.RunID = hex.EncodeToString(h.Sum(nil)[:6])

	for _, st := range d.statuses {
		report.Results = append(report.Results, st.Result)
		if st.Result == nil {
			continue
		}
		switch st.Result.Outcome {
		case loop.OutcomeSuccess:
			report.Succeeded++
		case loop.OutcomeMaxIterations:
			report.Incomplete++
		case loop.OutcomeFatal:
			report.Fatal++
		}
	}
	return report
}
