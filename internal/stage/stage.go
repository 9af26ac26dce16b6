package stage

import (
	"context"

	"github.com/ppiankov/fixforge/internal/artifact"
	"github.com/ppiankov/fixforge/internal/verify"
)

// Plan describes the intended changes to one artifact. It is opaque to
// the loop except for the File field, which ties it to its target.
type Plan struct {
	File   string   `json:"file"`
	Issues []string `json:"issues"`
	Notes  string   `json:"notes,omitempty"`
}

// Planner analyzes an artifact and produces a repair plan.
// lastTranscript carries the previous iteration's verification output
// so a re-plan can react to what actually failed; empty on iteration 1.
type Planner interface {
	Plan(ctx context.Context, art artifact.Artifact, lastTranscript string) (*Plan, error)
}

// HarnessGenerator produces a test harness for an artifact. Best-effort:
// callers must treat any error as "no harness", never as fatal.
type HarnessGenerator interface {
	GenerateHarness(ctx context.Context, art artifact.Artifact, plan *Plan) (string, error)
}

// Mutator applies a plan to the artifact it targets.
type Mutator interface {
	Mutate(ctx context.Context, art artifact.Artifact, plan *Plan) error
}

// Verifier produces a pass/fail verdict for an artifact. harness may be
// empty. A failed verification is a Verdict, not an error; a non-nil
// error means the verification infrastructure itself is broken.
type Verifier interface {
	Verify(ctx context.Context, art artifact.Artifact, harness string) (*verify.Verdict, error)
}

// Recorder receives an audit record for each stage invocation.
// Implementations must tolerate being called concurrently.
type Recorder interface {
	Record(agent, model, action, input, output, status string)
}

// PlannerError wraps any failure to analyze an artifact. Fatal.
type PlannerError struct{ Err error }

func (e *PlannerError) Error() string { return "planner: " + e.Err.Error() }
func (e *PlannerError) Unwrap() error { return e.Err }

// HarnessError wraps a harness generation failure. Always absorbed.
type HarnessError struct{ Err error }

func (e *HarnessError) Error() string { return "harness generation: " + e.Err.Error() }
func (e *HarnessError) Unwrap() error { return e.Err }

// MutationError wraps a failure to locate or rewrite the plan's target. Fatal.
type MutationError struct{ Err error }

func (e *MutationError) Error() string { return "mutation: " + e.Err.Error() }
func (e *MutationError) Unwrap() error { return e.Err }
