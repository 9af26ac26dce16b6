package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/ppiankov/neurorouter"

	"github.com/ppiankov/fixforge/internal/artifact"
	"github.com/ppiankov/fixforge/internal/audit"
	"github.com/ppiankov/fixforge/internal/batch"
	"github.com/ppiankov/fixforge/internal/config"
	"github.com/ppiankov/fixforge/internal/loop"
	"github.com/ppiankov/fixforge/internal/redact"
	"github.com/ppiankov/fixforge/internal/reporter"
	"github.com/ppiankov/fixforge/internal/stage"
	"github.com/ppiankov/fixforge/internal/state"
	"github.com/ppiankov/fixforge/internal/verify"
)

func newRunCmd() *cobra.Command {
	var (
		targetDir   string
		maxIter     int
		workers     int
		testTimeout time.Duration
		dryRun      bool
		force       bool
		tuiMode     string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Repair every source file under the target directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadSettings(configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cmd.Flags().Changed("target") && cfg.TargetDir != "" {
				targetDir = cfg.TargetDir
			}
			if !cmd.Flags().Changed("max-iter") && cfg.MaxIterations > 0 {
				maxIter = cfg.MaxIterations
			}
			if !cmd.Flags().Changed("workers") && cfg.Workers > 0 {
				workers = cfg.Workers
			}
			if !cmd.Flags().Changed("test-timeout") && cfg.TestTimeout > 0 {
				testTimeout = cfg.TestTimeout
			}
			return runRepair(runOptions{
				targetDir:   targetDir,
				maxIter:     maxIter,
				workers:     workers,
				testTimeout: testTimeout,
				dryRun:      dryRun,
				force:       force,
				tuiMode:     tuiMode,
			}, cfg)
		},
	}

	cmd.Flags().StringVar(&targetDir, "target", ".", "directory containing source files to repair")
	cmd.Flags().IntVar(&maxIter, "max-iter", 3, "max repair iterations per file")
	cmd.Flags().IntVar(&workers, "workers", 1, "max files repaired in parallel")
	cmd.Flags().DurationVar(&testTimeout, "test-timeout", 60*time.Second, "per-verification timeout")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show execution plan without running")
	cmd.Flags().BoolVar(&force, "force", false, "re-run files already repaired at their current content")
	cmd.Flags().StringVar(&tuiMode, "tui", "auto", "display mode: full (interactive TUI), minimal (live status), off (no live display), auto (detect TTY)")

	return cmd
}

// runOptions holds resolved flags for runRepair.
type runOptions struct {
	targetDir   string
	maxIter     int
	workers     int
	testTimeout time.Duration
	dryRun      bool
	force       bool
	tuiMode     string
}

// IncompleteError indicates some artifacts were not repaired.
// Callers should map this to exit code 2.
type IncompleteError struct {
	Incomplete int
	Fatal      int
}

func (e *IncompleteError) Error() string {
	if e.Fatal > 0 {
		return fmt.Sprintf("%d artifacts incomplete, %d fatal", e.Incomplete, e.Fatal)
	}
	return fmt.Sprintf("%d artifacts incomplete", e.Incomplete)
}

func runRepair(opts runOptions, cfg *config.Settings) error {
	targetDir, err := filepath.Abs(opts.targetDir)
	if err != nil {
		return fmt.Errorf("resolve target dir: %w", err)
	}

	arts, err := artifact.Discover(targetDir)
	if err != nil {
		return fmt.Errorf("discover artifacts: %w", err)
	}
	if len(arts) == 0 {
		// an empty batch succeeds vacuously
		slog.Warn("no source files found", "target", targetDir)
		fmt.Fprintf(os.Stdout, "no source files found under %s — nothing to repair\n", targetDir)
		return nil
	}

	isTTY := isTerminal()
	textRep := reporter.NewTextReporter(os.Stdout, isTTY)

	if opts.dryRun {
		textRep.PrintHeader(len(arts), opts.maxIter, opts.workers)
		textRep.PrintDryRun(arts, opts.maxIter)
		return nil
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	// persistent state: skip artifacts already repaired at their current content
	tracker := state.Load(state.DefaultPath())
	if recovered := tracker.RecoverInterrupted(); recovered > 0 {
		slog.Warn("recovered interrupted artifacts from previous run", "count", recovered)
	}

	var runArts []artifact.Artifact
	var skipped []reporter.SkippedInfo
	for _, art := range arts {
		hash, err := state.HashFile(art.Path)
		if err != nil {
			runArts = append(runArts, art)
			continue
		}
		if !opts.force && tracker.ShouldSkip(art.Path, hash) {
			skipped = append(skipped, reporter.SkippedInfo{Path: art.Path, Reason: "already repaired (use --force to re-run)"})
			continue
		}
		runArts = append(runArts, art)
	}
	if len(skipped) > 0 {
		textRep.PrintSkippedByState(skipped)
	}
	if len(runArts) == 0 {
		fmt.Fprintln(os.Stdout, "nothing to do — all artifacts already repaired")
		return nil
	}

	// prepare run directory
	runDir := filepath.Join(".fixforge", time.Now().Format("20060102-150405"))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}

	slog.Info("starting run", "artifacts", len(runArts), "max_iter", opts.maxIter, "workers", opts.workers, "run_dir", runDir)
	textRep.PrintHeader(len(runArts), opts.maxIter, opts.workers)

	// setup signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\ninterrupted — waiting for running artifacts to finish...")
		cancel()
	}()

	// start Chat Completions relay if configured
	if cfg.Proxy != nil && cfg.Proxy.Enabled {
		proxyCfg, err := resolveProxyConfig(cfg.Proxy)
		if err != nil {
			return fmt.Errorf("proxy config: %w", err)
		}
		srv := neurorouter.NewProxy(proxyCfg)
		if _, err := srv.Start(); err != nil {
			// non-fatal: another fixforge process may already own the port
			slog.Warn("proxy start failed (may already be running)", "error", err)
		} else {
			defer func() {
				if err := srv.Stop(); err != nil {
					slog.Warn("proxy stop error", "error", err)
				}
			}()
		}
	}

	// audit trail
	auditPath := cfg.AuditDB
	if auditPath == "" {
		auditPath = audit.DefaultPath()
	}
	var rec stage.Recorder
	auditLog, err := audit.Open(auditPath)
	if err != nil {
		slog.Warn("audit log unavailable", "path", auditPath, "error", err)
	} else {
		rec = auditLog
		defer func() { _ = auditLog.Close() }()
	}

	ctrl, err := buildController(cfg, rec, opts.maxIter, opts.testTimeout)
	if err != nil {
		return err
	}

	runID := filepath.Base(runDir)
	driver := &batch.Driver{
		Artifacts:     runArts,
		Workers:       opts.workers,
		TargetDir:     targetDir,
		MaxIterations: opts.maxIter,
		Run: func(ctx context.Context, art artifact.Artifact) *loop.Result {
			tracker.MarkStarted(art.Path, runID)
			res := ctrl.Run(ctx, art)
			writeTranscript(runDir, art, res)
			switch res.Outcome {
			case loop.OutcomeSuccess:
				if hash, err := state.HashFile(art.Path); err == nil {
					tracker.MarkRepaired(art.Path, hash, res.Iterations)
				}
			case loop.OutcomeMaxIterations:
				tracker.MarkIncomplete(art.Path, res.Iterations)
			default:
				tracker.MarkFailed(art.Path, res.Error)
			}
			return res
		},
		OnUpdate: func(art artifact.Artifact, res *loop.Result) {
			slog.Debug("artifact done", "artifact", art.Path, "outcome", res.OutcomeStr)
		},
	}

	// resolve display mode: full TUI, minimal live reporter, or off
	displayMode := opts.tuiMode
	if displayMode == "" || displayMode == "auto" {
		if isTTY {
			displayMode = "full"
		} else {
			displayMode = "off"
		}
	}

	var live *reporter.LiveReporter
	var tuiProgram *tea.Program
	switch displayMode {
	case "full":
		tuiModel := reporter.NewTUIModel(driver.Statuses, cancel)
		tuiProgram = tea.NewProgram(tuiModel, tea.WithAltScreen())
		go func() {
			if _, err := tuiProgram.Run(); err != nil {
				slog.Warn("TUI error", "error", err)
			}
		}()
	case "minimal":
		live = reporter.NewLiveReporter(os.Stdout, isTTY, driver.Statuses)
		live.Start()
	default:
		// "off" or unrecognized — no live display
	}

	report := driver.Execute(ctx)

	if tuiProgram != nil {
		tuiProgram.Quit()
		time.Sleep(100 * time.Millisecond)
	}
	if live != nil {
		live.Stop()
	}

	textRep.PrintStatus(driver.Statuses())
	textRep.PrintSummary(report)

	reportPath := filepath.Join(runDir, "report.json")
	if err := reporter.WriteJSONReport(report, reportPath); err != nil {
		slog.Warn("failed to write report", "error", err)
	} else {
		fmt.Fprintf(os.Stdout, "\nReport: %s\n", reportPath)
	}

	// run post_run hook if configured
	if cfg.PostRun != "" {
		absRunDir, _ := filepath.Abs(runDir)
		hookCmd := exec.CommandContext(ctx, "sh", "-c", cfg.PostRun)
		hookCmd.Env = append(os.Environ(), "FIXFORGE_RUN_DIR="+absRunDir)
		hookCmd.Stdout = os.Stdout
		hookCmd.Stderr = os.Stderr
		fmt.Fprintf(os.Stdout, "\npost_run: %s\n", cfg.PostRun)
		if err := hookCmd.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "post_run hook FAILED: %v\n", err)
		}
	}

	if !report.AllSucceeded() {
		return &IncompleteError{Incomplete: report.Incomplete, Fatal: report.Fatal}
	}
	return nil
}

// buildController wires the agent stages and verification runner from config.
func buildController(cfg *config.Settings, rec stage.Recorder, maxIter int, testTimeout time.Duration) (*loop.Controller, error) {
	clients := make(map[string]*stage.AgentClient, len(config.RequiredRoles))
	for _, role := range config.RequiredRoles {
		p := cfg.Agents[role]
		client, err := stage.NewAgentClient(role, stage.AgentConfig{
			Command:     p.Command,
			Args:        p.Args,
			Model:       p.Model,
			Env:         p.Env,
			Timeout:     p.Timeout,
			Conventions: cfg.PromptConventions,
		}, rec)
		if err != nil {
			return nil, err
		}
		clients[role] = client
	}

	runner := verify.NewRunner()
	if cfg.PytestBin != "" {
		runner.Pytest = cfg.PytestBin
	}
	if cfg.PythonBin != "" {
		runner.Python = cfg.PythonBin
	}
	if testTimeout > 0 {
		runner.Timeout = testTimeout
	}

	return &loop.Controller{
		Planner:       &stage.AgentPlanner{Client: clients["planner"]},
		Harness:       &stage.AgentHarnessGenerator{Client: clients["tester"]},
		Mutator:       &stage.AgentMutator{Client: clients["fixer"]},
		Verifier:      runner,
		MaxIterations: maxIter,
	}, nil
}

// writeTranscript saves the artifact's final verification transcript to
// the run directory, scrubbed of credentials.
func writeTranscript(runDir string, art artifact.Artifact, res *loop.Result) {
	if res.Transcript == "" {
		return
	}
	scrubbed, _ := redact.Transcript(res.Transcript)
	name := strings.TrimSuffix(art.Name(), ".py") + ".transcript.txt"
	_ = os.WriteFile(filepath.Join(runDir, name), []byte(scrubbed), 0o644)
}

// resolveProxyConfig converts config.ProxyConfig to neurorouter.ProxyConfig,
// resolving "env:VAR_NAME" references in API keys.
func resolveProxyConfig(pc *config.ProxyConfig) (neurorouter.ProxyConfig, error) {
	cfg := neurorouter.ProxyConfig{
		Listen:  pc.Listen,
		Targets: make(map[string]neurorouter.Target, len(pc.Targets)),
	}
	if cfg.Listen == "" {
		cfg.Listen = ":4000"
	}
	for name, t := range pc.Targets {
		apiKey := t.APIKey
		if strings.HasPrefix(apiKey, "env:") {
			envKey := strings.TrimPrefix(apiKey, "env:")
			apiKey = os.Getenv(envKey)
			if apiKey == "" {
				return neurorouter.ProxyConfig{}, fmt.Errorf("target %q: env var %q is not set", name, envKey)
			}
		}
		cfg.Targets[name] = neurorouter.Target{
			BaseURL: t.BaseURL,
			APIKey:  apiKey,
		}
	}
	return cfg, nil
}
