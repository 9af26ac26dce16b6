package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings holds persistent CLI defaults loaded from a config file.
type Settings struct {
	TargetDir     string        `yaml:"target_dir"`
	MaxIterations int           `yaml:"max_iterations"`
	Workers       int           `yaml:"workers"`
	TestTimeout   time.Duration `yaml:"test_timeout"`
	PytestBin     string        `yaml:"pytest_bin"`
	PythonBin     string        `yaml:"python_bin"`
	AuditDB       string        `yaml:"audit_db"`
	PostRun       string        `yaml:"post_run"` // shell command to run after report is written; $FIXFORGE_RUN_DIR is set

	// Agent CLI profiles keyed by role: planner, tester, fixer
	Agents map[string]*AgentProfile `yaml:"agents"`

	// Chat Completions relay for agents that need a local endpoint
	Proxy *ProxyConfig `yaml:"proxy,omitempty"`

	// Conventions appended verbatim to every agent prompt
	PromptConventions string `yaml:"prompt_conventions,omitempty"`
}

// AgentProfile configures one agent CLI invocation.
type AgentProfile struct {
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args,omitempty"`
	Model   string            `yaml:"model,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"` // values may be literal or "env:VAR_NAME"
	Timeout time.Duration     `yaml:"timeout,omitempty"`
}

// ProxyConfig controls the built-in Chat Completions relay.
type ProxyConfig struct {
	Enabled bool                    `yaml:"enabled"`
	Listen  string                  `yaml:"listen,omitempty"` // default ":4000"
	Targets map[string]*ProxyTarget `yaml:"targets"`
}

// ProxyTarget describes an upstream Chat Completions endpoint.
type ProxyTarget struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key,omitempty"` // literal or "env:VAR_NAME"
}

// Roles every run needs an agent profile for.
var RequiredRoles = []string{"planner", "tester", "fixer"}

// LoadSettings reads a YAML config file into Settings.
// If the file does not exist, it returns zero-value Settings and nil error.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Settings{}, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return &s, nil
}

// Validate checks that every required agent role has a runnable profile.
func (s *Settings) Validate() error {
	for _, role := range RequiredRoles {
		p, ok := s.Agents[role]
		if !ok || p == nil {
			return fmt.Errorf("config missing agent profile %q", role)
		}
		if p.Command == "" {
			return fmt.Errorf("agent profile %q has empty command", role)
		}
	}
	return nil
}
