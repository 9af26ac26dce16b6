package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ppiankov/fixforge/internal/artifact"
)

// Verdict is the outcome of one verification: pass/fail plus the
// captured diagnostic transcript. Immutable once produced.
type Verdict struct {
	Passed     bool   `json:"passed"`
	Transcript string `json:"transcript"`
}

// InfraError indicates the verification environment itself is broken
// (a runner binary exists but cannot be spawned). Distinct from a
// failing verdict: tests that fail are a Verdict, not an error.
type InfraError struct{ Err error }

func (e *InfraError) Error() string { return "verification infra: " + e.Err.Error() }
func (e *InfraError) Unwrap() error { return e.Err }

// zeroTestMarkers are the literal substrings the supported runners emit
// when discovery collects nothing. A discovery run matching one of
// these is equivalent to "no harness found".
var zeroTestMarkers = []string{
	"no tests ran",
	"collected 0 items",
	"Ran 0 tests",
	"NO TESTS RAN",
}

// Runner produces verdicts for artifacts, preferring an explicit
// harness and degrading through conventional locations, directory
// discovery, and finally a syntax-only parse.
type Runner struct {
	Pytest  string        // primary test runner binary
	Python  string        // interpreter, used for fallback discovery and parsing
	Timeout time.Duration // bound on each spawned process
}

// NewRunner returns a Runner with the default toolchain.
func NewRunner() *Runner {
	return &Runner{
		Pytest:  "pytest",
		Python:  "python3",
		Timeout: 60 * time.Second,
	}
}

// Verify resolves a verdict for the artifact. Layered, first hit wins:
// explicit harness, conventional harness locations, directory-wide
// discovery (pytest, then unittest if pytest is absent), syntax-only
// parse. A missing runner binary is treated as "no harness" at that
// layer. Only spawn failures surface as errors.
func (r *Runner) Verify(ctx context.Context, art artifact.Artifact, harness string) (*Verdict, error) {
	if harness != "" {
		if _, err := os.Stat(harness); err == nil {
			v, ok, err := r.runPytest(ctx, harness)
			if err != nil {
				return nil, err
			}
			if ok {
				return v, nil
			}
		} else {
			slog.Debug("supplied harness missing, falling back to search", "harness", harness)
		}
	}

	if found := findHarness(art.Path); found != "" {
		v, ok, err := r.runPytest(ctx, found)
		if err != nil {
			return nil, err
		}
		if ok {
			return v, nil
		}
	}

	dir := filepath.Dir(art.Path)
	v, ok, err := r.runPytest(ctx, dir)
	if err != nil {
		return nil, err
	}
	if !ok {
		// primary runner unavailable — module-level discovery via unittest
		v, ok, err = r.runUnittest(ctx, dir)
		if err != nil {
			return nil, err
		}
	}
	if ok {
		if !hasZeroTestMarker(v.Transcript) {
			return v, nil
		}
		slog.Debug("discovery collected zero tests, falling back to syntax check", "artifact", art.Path)
	}

	return r.syntaxOnly(ctx, art.Path)
}

// CandidateHarnesses returns the conventional harness locations for an
// artifact, in precedence order: sibling test_ prefix, sibling _test
// suffix, then both patterns under tests/ beside the artifact and
// under tests/ one level up.
func CandidateHarnesses(path string) []string {
	dir := filepath.Dir(path)
	name := filepath.Base(path)
	stem := strings.TrimSuffix(name, ".py")

	prefixed := "test_" + name
	suffixed := stem + "_test.py"

	return []string{
		filepath.Join(dir, prefixed),
		filepath.Join(dir, suffixed),
		filepath.Join(dir, "tests", prefixed),
		filepath.Join(dir, "tests", suffixed),
		filepath.Join(dir, "..", "tests", prefixed),
		filepath.Join(dir, "..", "tests", suffixed),
	}
}

func findHarness(path string) string {
	for _, cand := range CandidateHarnesses(path) {
		if info, err := os.Stat(cand); err == nil && !info.IsDir() {
			return cand
		}
	}
	return ""
}

func hasZeroTestMarker(transcript string) bool {
	for _, m := range zeroTestMarkers {
		if strings.Contains(transcript, m) {
			return true
		}
	}
	return false
}

// runPytest executes the primary runner against target (a harness file
// or a directory). ok=false means the binary is not on the host.
func (r *Runner) runPytest(ctx context.Context, target string) (*Verdict, bool, error) {
	bin, err := exec.LookPath(r.Pytest)
	if err != nil {
		slog.Debug("primary test runner unavailable", "binary", r.Pytest)
		return nil, false, nil
	}
	v, err := r.execute(ctx, filepath.Dir(target), bin, target, "-v")
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// runUnittest executes fallback module-level discovery in dir.
func (r *Runner) runUnittest(ctx context.Context, dir string) (*Verdict, bool, error) {
	bin, err := exec.LookPath(r.Python)
	if err != nil {
		slog.Debug("fallback test runner unavailable", "binary", r.Python)
		return nil, false, nil
	}
	v, err := r.execute(ctx, dir, bin, "-m", "unittest", "discover", "-v", "-s", dir)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// syntaxOnly compiles the artifact without executing it. The bottom
// layer: a missing interpreter has nothing left to fall through to, so
// it passes with a note rather than failing the run.
func (r *Runner) syntaxOnly(ctx context.Context, path string) (*Verdict, error) {
	bin, err := exec.LookPath(r.Python)
	if err != nil {
		return &Verdict{
			Passed:     true,
			Transcript: "no tests found; syntax check skipped (python unavailable)",
		}, nil
	}

	v, err := r.execute(ctx, filepath.Dir(path), bin, "-m", "py_compile", path)
	if err != nil {
		return nil, err
	}
	if v.Passed {
		return &Verdict{Passed: true, Transcript: "no tests found, syntax valid"}, nil
	}
	return &Verdict{
		Passed:     false,
		Transcript: "no tests found, syntax error:\n" + v.Transcript,
	}, nil
}

// execute spawns a bounded process and converts its outcome into a
// verdict. Timeouts become failing verdicts with a marker, never errors.
func (r *Runner) execute(ctx context.Context, dir, bin string, args ...string) (*Verdict, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(tctx, bin, args...)
	cmd.Dir = dir
	// don't hang on grandchildren holding the output pipe after a kill
	cmd.WaitDelay = time.Second
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	slog.Debug("running verification process", "bin", bin, "args", args)
	runErr := cmd.Run()

	if tctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return &Verdict{
			Passed:     false,
			Transcript: out.String() + fmt.Sprintf("\n[verification timed out after %s]", timeout),
		}, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, &InfraError{Err: runErr}
		}
		return &Verdict{Passed: false, Transcript: out.String()}, nil
	}
	return &Verdict{Passed: true, Transcript: out.String()}, nil
}
