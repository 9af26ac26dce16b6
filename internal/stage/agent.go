package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ppiankov/fixforge/internal/artifact"
)

// AgentConfig describes how to spawn one agent CLI process.
type AgentConfig struct {
	Command     string            // agent binary
	Args        []string          // fixed arguments before the prompt
	Model       string            // passed via --model when set
	Env         map[string]string // env overrides; "env:VAR" reads from the OS
	Timeout     time.Duration     // per-invocation bound
	Conventions string            // appended to every prompt when set
}

// AgentClient spawns a configured agent CLI with a prompt and captures
// its combined output. Shared by the planner, harness generator and
// mutator implementations.
type AgentClient struct {
	name string
	cfg  AgentConfig
	env  []string
	rec  Recorder
}

// NewAgentClient resolves the profile's env indirections and returns a
// ready client. rec may be nil.
func NewAgentClient(name string, cfg AgentConfig, rec Recorder) (*AgentClient, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("agent %q: command is required", name)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}

	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		if strings.HasPrefix(v, "env:") {
			key := strings.TrimPrefix(v, "env:")
			v = os.Getenv(key)
			if v == "" {
				return nil, fmt.Errorf("agent %q: env var %q is not set", name, key)
			}
		}
		env = append(env, k+"="+v)
	}

	return &AgentClient{name: name, cfg: cfg, env: env, rec: rec}, nil
}

func (c *AgentClient) run(ctx context.Context, dir, prompt string) (string, error) {
	if c.cfg.Conventions != "" {
		prompt += "\n\nProject conventions:\n" + c.cfg.Conventions
	}
	args := append([]string{}, c.cfg.Args...)
	if c.cfg.Model != "" {
		args = append(args, "--model", c.cfg.Model)
	}
	args = append(args, prompt)

	tctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(tctx, c.cfg.Command, args...)
	cmd.Dir = dir
	cmd.WaitDelay = time.Second
	if len(c.env) > 0 {
		cmd.Env = append(os.Environ(), c.env...)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	slog.Debug("spawning agent", "agent", c.name, "command", c.cfg.Command, "dir", dir)
	err := cmd.Run()

	if tctx.Err() == context.DeadlineExceeded {
		return out.String(), fmt.Errorf("agent %q timed out after %s", c.name, c.cfg.Timeout)
	}
	if err != nil {
		return out.String(), fmt.Errorf("agent %q: %w: %s", c.name, err, tail(out.String(), 300))
	}
	return out.String(), nil
}

func (c *AgentClient) record(action, input, output, status string) {
	if c.rec == nil {
		return
	}
	c.rec.Record(c.name, c.cfg.Model, action, input, output, status)
}

// StripFences removes a surrounding markdown code fence from an agent
// reply, since models wrap code blocks despite instructions not to.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	for _, open := range []string{"```python", "```json", "```"} {
		if strings.HasPrefix(s, open) {
			s = strings.TrimPrefix(s, open)
			if i := strings.LastIndex(s, "```"); i >= 0 {
				s = s[:i]
			}
			return strings.TrimSpace(s)
		}
	}
	return s
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// AgentPlanner produces repair plans by asking an agent CLI to analyze
// the artifact and reply with a JSON plan.
type AgentPlanner struct {
	Client *AgentClient
}

func (p *AgentPlanner) Plan(ctx context.Context, art artifact.Artifact, lastTranscript string) (*Plan, error) {
	source, err := os.ReadFile(art.Path)
	if err != nil {
		return nil, &PlannerError{Err: fmt.Errorf("read artifact: %w", err)}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a senior Python reviewer. Analyze the file %s below and produce a refactoring plan.\n", art.Name())
	b.WriteString("Respond with ONLY a JSON object of the shape ")
	b.WriteString(`{"file": "<path>", "issues": ["..."], "notes": "..."} — no markdown, no prose.` + "\n")
	if lastTranscript != "" {
		b.WriteString("\nThe previous fix attempt failed verification. Test output:\n")
		b.WriteString(tail(lastTranscript, 2000))
		b.WriteString("\n\nAdjust the plan to address these failures.\n")
	}
	fmt.Fprintf(&b, "\nSource (%s):\n%s", art.Name(), source)

	out, err := p.Client.run(ctx, filepath.Dir(art.Path), b.String())
	if err != nil {
		p.Client.record("analysis", "analyze "+art.Path, err.Error(), "FAILURE")
		return nil, &PlannerError{Err: err}
	}

	plan, err := parsePlan(out)
	if err != nil {
		p.Client.record("analysis", "analyze "+art.Path, out, "FAILURE")
		return nil, &PlannerError{Err: err}
	}
	if plan.File == "" {
		plan.File = art.Path
	}
	p.Client.record("analysis", "analyze "+art.Path, out, "SUCCESS")
	return plan, nil
}

func parsePlan(out string) (*Plan, error) {
	s := StripFences(out)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON plan in agent reply: %s", tail(s, 200))
	}
	var plan Plan
	if err := json.Unmarshal([]byte(s[start:end+1]), &plan); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	return &plan, nil
}

// AgentHarnessGenerator asks an agent CLI for a pytest file and writes
// it beside the source as test_<name>.py.
type AgentHarnessGenerator struct {
	Client *AgentClient
}

func (g *AgentHarnessGenerator) GenerateHarness(ctx context.Context, art artifact.Artifact, plan *Plan) (string, error) {
	source, err := os.ReadFile(art.Path)
	if err != nil {
		return "", &HarnessError{Err: fmt.Errorf("read artifact: %w", err)}
	}

	module := strings.TrimSuffix(art.Name(), ".py")
	var b strings.Builder
	b.WriteString("You are a Python test engineer following TDD. Generate a pytest file for the source below.\n")
	fmt.Fprintf(&b, "Import the module with: from %s import *\n", module)
	b.WriteString("Cover normal, edge and error cases. If the source has obvious bugs, write tests that expose them.\n")
	b.WriteString("Return ONLY valid Python code, no markdown.\n")
	if plan != nil && len(plan.Issues) > 0 {
		b.WriteString("\nKnown issues to test for:\n")
		for _, issue := range plan.Issues {
			b.WriteString("- " + issue + "\n")
		}
	}
	fmt.Fprintf(&b, "\nSource (%s):\n%s", art.Name(), source)

	out, err := g.Client.run(ctx, filepath.Dir(art.Path), b.String())
	if err != nil {
		g.Client.record("analysis", "generate tests for "+art.Path, err.Error(), "FAILURE")
		return "", &HarnessError{Err: err}
	}

	code := StripFences(out)
	if code == "" {
		g.Client.record("analysis", "generate tests for "+art.Path, out, "FAILURE")
		return "", &HarnessError{Err: fmt.Errorf("agent returned empty test file")}
	}

	harness := filepath.Join(filepath.Dir(art.Path), "test_"+art.Name())
	if err := os.WriteFile(harness, []byte(code+"\n"), 0o644); err != nil {
		g.Client.record("analysis", "generate tests for "+art.Path, err.Error(), "FAILURE")
		return "", &HarnessError{Err: fmt.Errorf("write harness: %w", err)}
	}
	g.Client.record("analysis", "generate tests for "+art.Path, harness, "SUCCESS")
	return harness, nil
}

// AgentMutator rewrites the plan's target file with the agent's
// corrected version of the source.
type AgentMutator struct {
	Client *AgentClient
}

func (m *AgentMutator) Mutate(ctx context.Context, art artifact.Artifact, plan *Plan) error {
	if plan == nil {
		return &MutationError{Err: fmt.Errorf("no plan to apply")}
	}
	// a plan is only ever applied to the artifact it targets
	if plan.File != art.Path {
		return &MutationError{Err: fmt.Errorf("plan targets %q, not %q", plan.File, art.Path)}
	}
	source, err := os.ReadFile(plan.File)
	if err != nil {
		return &MutationError{Err: fmt.Errorf("read target: %w", err)}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert Python engineer. Rewrite %s applying the plan below.\n", art.Name())
	b.WriteString("Return ONLY the complete corrected file contents, no markdown, no explanations.\n\nPlan:\n")
	for _, issue := range plan.Issues {
		b.WriteString("- " + issue + "\n")
	}
	if plan.Notes != "" {
		b.WriteString("Notes: " + plan.Notes + "\n")
	}
	fmt.Fprintf(&b, "\nSource (%s):\n%s", art.Name(), source)

	out, err := m.Client.run(ctx, filepath.Dir(plan.File), b.String())
	if err != nil {
		m.Client.record("fix", "apply plan to "+plan.File, err.Error(), "FAILURE")
		return &MutationError{Err: err}
	}

	fixed := StripFences(out)
	if fixed == "" {
		m.Client.record("fix", "apply plan to "+plan.File, out, "FAILURE")
		return &MutationError{Err: fmt.Errorf("agent returned empty file")}
	}
	if err := os.WriteFile(plan.File, []byte(fixed+"\n"), 0o644); err != nil {
		m.Client.record("fix", "apply plan to "+plan.File, err.Error(), "FAILURE")
		return &MutationError{Err: fmt.Errorf("write target: %w", err)}
	}
	m.Client.record("fix", "apply plan to "+plan.File, fixed, "SUCCESS")
	return nil
}
