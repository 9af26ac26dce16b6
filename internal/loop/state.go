package loop

import (
	"github.com/ppiankov/fixforge/internal/artifact"
	"github.com/ppiankov/fixforge/internal/stage"
)

// ErrorClass classifies the error carried in an AttemptState. Only
// retryable errors permit another iteration.
type ErrorClass int

const (
	ClassNone ErrorClass = iota
	ClassRetryable
	ClassFatal
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassRetryable:
		return "retryable"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is the terminal state of one artifact's repair run.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeMaxIterations
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeMaxIterations:
		return "incomplete"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Decision is the verdict of the retry decision function.
type Decision int

const (
	DecideStop Decision = iota
	DecideRetry
)

// Decide is the pure transition decision: given the verification
// outcome, the iteration position and the error class, stop or retry.
// Success always stops; a fatal error stops regardless of remaining
// budget; only a retryable failure with budget left retries.
func Decide(success bool, iteration, max int, class ErrorClass) Decision {
	if success {
		return DecideStop
	}
	if class == ClassFatal {
		return DecideStop
	}
	if iteration >= max {
		return DecideStop
	}
	return DecideRetry
}

// AttemptState is the per-artifact loop state. Stages consume a value
// and produce a new one via the with* helpers, so no two stages ever
// alias the same record.
type AttemptState struct {
	Artifact      artifact.Artifact
	Iteration     int // 1-based
	MaxIterations int
	Plan          *stage.Plan
	Harness       string
	ErrClass      ErrorClass
	Err           error
	Success       bool
	Transcript    string
}

func newAttempt(art artifact.Artifact, max int) AttemptState {
	return AttemptState{Artifact: art, Iteration: 1, MaxIterations: max}
}

func (s AttemptState) withPlan(p *stage.Plan) AttemptState {
	s.Plan = p
	return s
}

func (s AttemptState) withHarness(h string) AttemptState {
	s.Harness = h
	return s
}

func (s AttemptState) withVerdict(passed bool, transcript string) AttemptState {
	s.Success = passed
	s.Transcript = transcript
	if passed {
		s.ErrClass = ClassNone
		s.Err = nil
	} else {
		s.ErrClass = ClassRetryable
	}
	return s
}

func (s AttemptState) withFatal(err error) AttemptState {
	s.ErrClass = ClassFatal
	s.Err = err
	s.Success = false
	return s
}

// nextIteration clears the retryable error and advances the counter.
func (s AttemptState) nextIteration() AttemptState {
	s.Iteration++
	s.ErrClass = ClassNone
	s.Err = nil
	return s
}
