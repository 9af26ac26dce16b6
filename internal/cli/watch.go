package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/fixforge/internal/artifact"
	"github.com/ppiankov/fixforge/internal/audit"
	"github.com/ppiankov/fixforge/internal/config"
	"github.com/ppiankov/fixforge/internal/loop"
	"github.com/ppiankov/fixforge/internal/stage"
	"github.com/ppiankov/fixforge/internal/state"
	"github.com/ppiankov/fixforge/internal/watch"
)

func newWatchCmd() *cobra.Command {
	var (
		targetDir   string
		maxIter     int
		testTimeout time.Duration
		pollMode    bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Continuously repair source files as they change",
		Long:  "Watch monitors the target directory and runs the repair loop for any source file that is created or modified.",
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
			if !cmd.Flags().Changed("test-timeout") && cfg.TestTimeout > 0 {
				testTimeout = cfg.TestTimeout
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runWatch(targetDir, maxIter, testTimeout, pollMode, cfg)
		},
	}

	cmd.Flags().StringVar(&targetDir, "target", ".", "directory to monitor")
	cmd.Flags().IntVar(&maxIter, "max-iter", 3, "max repair iterations per file")
	cmd.Flags().DurationVar(&testTimeout, "test-timeout", 60*time.Second, "per-verification timeout")
	cmd.Flags().BoolVar(&pollMode, "poll", false, "use mod-time polling instead of fsnotify")

	return cmd
}

func runWatch(targetDir string, maxIter int, testTimeout time.Duration, pollMode bool, cfg *config.Settings) error {
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

	ctrl, err := buildController(cfg, rec, maxIter, testTimeout)
	if err != nil {
		return err
	}

	tracker := state.Load(state.DefaultPath())

	w, err := watch.New(watch.Config{
		TargetDir: targetDir,
		StateDir:  ".fixforge",
		PollMode:  pollMode,
		ExecFn: func(ctx context.Context, art artifact.Artifact) error {
			// the mutator's own writes fire events too; the repaired hash
			// matches persistent state, so those never re-trigger a run
			if hash, err := state.HashFile(art.Path); err == nil && tracker.ShouldSkip(art.Path, hash) {
				slog.Debug("unchanged since repair, skipping", "artifact", art.Path)
				return nil
			}
			tracker.MarkStarted(art.Path, "watch")
			res := ctrl.Run(ctx, art)
			switch res.Outcome {
			case loop.OutcomeSuccess:
				if hash, err := state.HashFile(art.Path); err == nil {
					tracker.MarkRepaired(art.Path, hash, res.Iterations)
				}
				slog.Info("artifact repaired", "artifact", art.Path, "iterations", res.Iterations)
			case loop.OutcomeMaxIterations:
				tracker.MarkIncomplete(art.Path, res.Iterations)
				slog.Warn("iteration budget exhausted", "artifact", art.Path)
			default:
				tracker.MarkFailed(art.Path, res.Error)
				return fmt.Errorf("fatal: %s", res.Error)
			}
			return nil
		},
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		cancel()
	}()

	return w.Run(ctx)
}
