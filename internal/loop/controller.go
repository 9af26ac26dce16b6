package loop

import (
	"context"
	"log/slog"
	"time"

	"github.com/ppiankov/fixforge/internal/artifact"
	"github.com/ppiankov/fixforge/internal/stage"
)

// Result is the terminal record of one artifact's repair run.
type Result struct {
	Artifact   artifact.Artifact `json:"artifact"`
	Outcome    Outcome           `json:"-"`
	OutcomeStr string            `json:"outcome"`
	Success    bool              `json:"success"`
	Iterations int               `json:"iterations"`
	Transcript string            `json:"transcript,omitempty"`
	Error      string            `json:"error,omitempty"`
	Duration   time.Duration     `json:"duration"`
}

// Controller sequences the repair stages for a single artifact:
// Planning → HarnessGeneration → Mutating → Verifying, retrying on
// failed verification up to MaxIterations. One Controller drives one
// artifact at a time; the artifact's content is exclusively owned by
// the controller for the duration of a Run.
type Controller struct {
	Planner       stage.Planner
	Harness       stage.HarnessGenerator
	Mutator       stage.Mutator
	Verifier      stage.Verifier
	MaxIterations int
}

// Run drives the loop to a terminal state. It always returns a Result;
// fatal stage errors terminate the artifact's run, never panic or
// propagate. Cancellation is honored at iteration boundaries — a
// mutation that has begun is never abandoned mid-write.
func (c *Controller) Run(ctx context.Context, art artifact.Artifact) *Result {
	start := time.Now()
	max := c.MaxIterations
	if max <= 0 {
		max = 1
	}
	st := newAttempt(art, max)

	for {
		// externally requested stop, checked once per iteration boundary
		if err := ctx.Err(); err != nil {
			return c.terminal(st.withFatal(err), OutcomeFatal, start)
		}

		slog.Info("planning", "artifact", art.Path, "iteration", st.Iteration, "max", max)
		plan, err := c.Planner.Plan(ctx, art, st.Transcript)
		if err != nil {
			// fatal: remaining stages of this iteration are skipped
			return c.terminal(st.withFatal(err), OutcomeFatal, start)
		}
		st = st.withPlan(plan)

		harness, err := c.Harness.GenerateHarness(ctx, art, plan)
		if err != nil {
			// the one stage whose failure is never fatal: proceed without tests
			slog.Warn("harness generation failed, continuing without tests",
				"artifact", art.Path, "error", err)
			harness = ""
		}
		st = st.withHarness(harness)

		slog.Info("mutating", "artifact", art.Path, "iteration", st.Iteration)
		if err := c.Mutator.Mutate(ctx, art, plan); err != nil {
			return c.terminal(st.withFatal(err), OutcomeFatal, start)
		}

		slog.Info("verifying", "artifact", art.Path, "harness", harness)
		verdict, err := c.Verifier.Verify(ctx, art, harness)
		if err != nil {
			return c.terminal(st.withFatal(err), OutcomeFatal, start)
		}
		st = st.withVerdict(verdict.Passed, verdict.Transcript)

		if Decide(st.Success, st.Iteration, max, st.ErrClass) == DecideStop {
			if st.Success {
				return c.terminal(st, OutcomeSuccess, start)
			}
			slog.Info("max iterations reached", "artifact", art.Path, "max", max)
			return c.terminal(st, OutcomeMaxIterations, start)
		}

		slog.Info("verification failed, retrying", "artifact", art.Path, "iteration", st.Iteration)
		st = st.nextIteration()
	}
}

func (c *Controller) terminal(st AttemptState, outcome Outcome, start time.Time) *Result {
	r := &Result{
		Artifact:   st.Artifact,
		Outcome:    outcome,
		OutcomeStr: outcome.String(),
		Success:    outcome == OutcomeSuccess,
		Iterations: st.Iteration,
		Transcript: st.Transcript,
		Duration:   time.Since(start),
	}
	if st.Err != nil {
		r.Error = st.Err.Error()
	}
	return r
}
