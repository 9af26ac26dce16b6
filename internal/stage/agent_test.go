package stage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/fixforge/internal/artifact"
)

func writeAgentStub(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func testClient(t *testing.T, stubBody string) *AgentClient {
	t.Helper()
	c, err := NewAgentClient("test", AgentConfig{
		Command: writeAgentStub(t, stubBody),
		Timeout: 5 * time.Second,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func writeSource(t *testing.T, name, content string) artifact.Artifact {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return artifact.Artifact{Path: path}
}

func TestNewAgentClientEnvIndirection(t *testing.T) {
	t.Setenv("FIXFORGE_TEST_KEY", "resolved-value")
	c, err := NewAgentClient("p", AgentConfig{
		Command: "agent",
		Env:     map[string]string{"API_KEY": "env:FIXFORGE_TEST_KEY"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.env) != 1 || c.env[0] != "API_KEY=resolved-value" {
		t.Errorf("env not resolved: %v", c.env)
	}
}

func TestNewAgentClientMissingEnvVar(t *testing.T) {
	_, err := NewAgentClient("p", AgentConfig{
		Command: "agent",
		Env:     map[string]string{"API_KEY": "env:FIXFORGE_TEST_UNSET_VAR"},
	}, nil)
	if err == nil {
		t.Error("expected error for unset env var")
	}
}

func TestAgentClientAppendsConventions(t *testing.T) {
	art := writeSource(t, "messy.py", "x = 1\n")
	stub := writeAgentStub(t, `printf '%s' "$1" > prompt.txt; echo '{"file": "", "issues": []}'`)
	c, err := NewAgentClient("p", AgentConfig{
		Command:     stub,
		Conventions: "Use type hints everywhere.",
		Timeout:     5 * time.Second,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	p := &AgentPlanner{Client: c}
	if _, err := p.Plan(context.Background(), art, ""); err != nil {
		t.Fatal(err)
	}

	prompt, err := os.ReadFile(filepath.Join(filepath.Dir(art.Path), "prompt.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(prompt), "Use type hints everywhere.") {
		t.Error("conventions not appended to the prompt")
	}
}

func TestNewAgentClientRequiresCommand(t *testing.T) {
	if _, err := NewAgentClient("p", AgentConfig{}, nil); err == nil {
		t.Error("expected error for empty command")
	}
}

func TestStripFences(t *testing.T) {
	cases := []struct{ in, want string }{
		{"```python\nx = 1\n```", "x = 1"},
		{"```json\n{\"a\": 1}\n```", "{\"a\": 1}"},
		{"```\ncode\n```", "code"},
		{"plain text", "plain text"},
		{"  \nx = 1\n ", "x = 1"},
	}
	for _, c := range cases {
		if got := StripFences(c.in); got != c.want {
			t.Errorf("StripFences(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestParsePlan(t *testing.T) {
	plan, err := parsePlan("Here you go:\n```json\n{\"file\": \"a.py\", \"issues\": [\"bug\"]}\n```")
	if err != nil {
		t.Fatal(err)
	}
	if plan.File != "a.py" || len(plan.Issues) != 1 {
		t.Errorf("unexpected plan: %+v", plan)
	}

	if _, err := parsePlan("I could not analyze this file."); err == nil {
		t.Error("expected error for reply without JSON")
	}
}

func TestAgentPlannerFillsTargetFile(t *testing.T) {
	art := writeSource(t, "messy.py", "x = 1\n")
	p := &AgentPlanner{Client: testClient(t, `echo '{"file": "", "issues": ["unused variable"]}'`)}

	plan, err := p.Plan(context.Background(), art, "")
	if err != nil {
		t.Fatal(err)
	}
	if plan.File != art.Path {
		t.Errorf("plan.File = %q, want %q", plan.File, art.Path)
	}
}

func TestAgentPlannerFailureIsPlannerError(t *testing.T) {
	art := writeSource(t, "messy.py", "x = 1\n")
	p := &AgentPlanner{Client: testClient(t, `echo "boom" >&2; exit 1`)}

	_, err := p.Plan(context.Background(), art, "")
	var pe *PlannerError
	if !errors.As(err, &pe) {
		t.Errorf("expected *PlannerError, got %T: %v", err, err)
	}
}

func TestAgentHarnessGeneratorWritesSibling(t *testing.T) {
	art := writeSource(t, "messy.py", "def f():\n    return 1\n")
	g := &AgentHarnessGenerator{Client: testClient(t, "printf '```python\\ndef test_f():\\n    assert f() == 1\\n```\\n'")}

	harness, err := g.GenerateHarness(context.Background(), art, &Plan{File: art.Path})
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(filepath.Dir(art.Path), "test_messy.py")
	if harness != want {
		t.Errorf("harness path = %q, want %q", harness, want)
	}
	data, err := os.ReadFile(harness)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "```") {
		t.Error("markdown fences leaked into harness file")
	}
}

func TestAgentHarnessGeneratorEmptyReply(t *testing.T) {
	art := writeSource(t, "messy.py", "x = 1\n")
	g := &AgentHarnessGenerator{Client: testClient(t, `exit 0`)}

	_, err := g.GenerateHarness(context.Background(), art, nil)
	var he *HarnessError
	if !errors.As(err, &he) {
		t.Errorf("expected *HarnessError, got %T: %v", err, err)
	}
}

func TestAgentMutatorRejectsForeignPlan(t *testing.T) {
	art := writeSource(t, "messy.py", "x = 1\n")
	m := &AgentMutator{Client: testClient(t, `echo "x = 2"`)}

	err := m.Mutate(context.Background(), art, &Plan{File: "/elsewhere/other.py"})
	var me *MutationError
	if !errors.As(err, &me) {
		t.Errorf("expected *MutationError for foreign plan, got %T: %v", err, err)
	}
}

func TestAgentMutatorRewritesTarget(t *testing.T) {
	art := writeSource(t, "messy.py", "x = 1\n")
	m := &AgentMutator{Client: testClient(t, `echo "x = 2"`)}

	if err := m.Mutate(context.Background(), art, &Plan{File: art.Path, Issues: []string{"wrong value"}}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(art.Path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(data)) != "x = 2" {
		t.Errorf("target not rewritten: %q", data)
	}
}

func TestAgentMutatorMissingTarget(t *testing.T) {
	art := artifact.Artifact{Path: filepath.Join(t.TempDir(), "gone.py")}
	m := &AgentMutator{Client: testClient(t, `echo "x = 2"`)}

	err := m.Mutate(context.Background(), art, &Plan{File: art.Path})
	var me *MutationError
	if !errors.As(err, &me) {
		t.Errorf("expected *MutationError for missing target, got %T: %v", err, err)
	}
}
