package cli

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/fixforge/internal/config"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that the environment can run repairs",
		Long:  "Doctor verifies the Python toolchain, the configured agent CLIs and the working state directory, and reports what a run would be missing.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadSettings(configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runDoctor(cfg)
		},
	}
}

type check struct {
	name string
	ok   bool
	info string
}

func runDoctor(cfg *config.Settings) error {
	var checks []check

	python := cfg.PythonBin
	if python == "" {
		python = "python3"
	}
	checks = append(checks, checkBinaryVersion("python", python, "--version"))

	pytest := cfg.PytestBin
	if pytest == "" {
		pytest = "pytest"
	}
	checks = append(checks, checkBinaryVersion("pytest", pytest, "--version"))

	// agent CLIs
	if len(cfg.Agents) == 0 {
		checks = append(checks, check{name: "agents", ok: false, info: "no agent profiles in " + configFile})
	}
	for _, role := range config.RequiredRoles {
		p := cfg.Agents[role]
		if p == nil || p.Command == "" {
			checks = append(checks, check{name: "agent " + role, ok: false, info: "profile missing"})
			continue
		}
		if path, err := exec.LookPath(p.Command); err != nil {
			checks = append(checks, check{name: "agent " + role, ok: false, info: p.Command + " not found in PATH"})
		} else {
			checks = append(checks, check{name: "agent " + role, ok: true, info: path})
		}
	}

	// env indirections must resolve before a run can start
	for role, p := range cfg.Agents {
		if p == nil {
			continue
		}
		for k, v := range p.Env {
			if strings.HasPrefix(v, "env:") {
				key := strings.TrimPrefix(v, "env:")
				if os.Getenv(key) == "" {
					checks = append(checks, check{name: "agent " + role + " env", ok: false, info: k + " references unset $" + key})
				}
			}
		}
	}

	// state dir must be writable
	if err := os.MkdirAll(".fixforge", 0o755); err != nil {
		checks = append(checks, check{name: "state dir", ok: false, info: err.Error()})
	} else {
		probe := ".fixforge/.doctor-probe"
		if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
			checks = append(checks, check{name: "state dir", ok: false, info: err.Error()})
		} else {
			_ = os.Remove(probe)
			checks = append(checks, check{name: "state dir", ok: true, info: ".fixforge writable"})
		}
	}

	failed := 0
	for _, c := range checks {
		mark := "✓"
		if !c.ok {
			mark = "✗"
			failed++
		}
		if c.info != "" {
			fmt.Printf("  %s %-16s %s\n", mark, c.name, c.info)
		} else {
			fmt.Printf("  %s %s\n", mark, c.name)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d checks failed", failed)
	}
	fmt.Println("\nall checks passed")
	return nil
}

func checkBinaryVersion(name, bin string, versionArg string) check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return check{name: name, ok: false, info: bin + " not found in PATH"}
	}
	out, err := exec.Command(path, versionArg).CombinedOutput()
	if err != nil {
		return check{name: name, ok: false, info: fmt.Sprintf("%s %s failed: %v", bin, versionArg, err)}
	}
	return check{name: name, ok: true, info: strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])}
}
