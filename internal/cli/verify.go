package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/fixforge/internal/artifact"
	"github.com/ppiankov/fixforge/internal/config"
	"github.com/ppiankov/fixforge/internal/verify"
)

func newVerifyCmd() *cobra.Command {
	var (
		harness     string
		testTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "verify <file>",
		Short: "Run one-shot verification for a single source file",
		Long:  "Verify runs the layered test discovery (explicit harness, sibling tests, directory discovery, syntax check) against one file and prints the verdict without mutating anything.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadSettings(configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			runner := verify.NewRunner()
			if cfg.PytestBin != "" {
				runner.Pytest = cfg.PytestBin
			}
			if cfg.PythonBin != "" {
				runner.Python = cfg.PythonBin
			}
			if cmd.Flags().Changed("test-timeout") {
				runner.Timeout = testTimeout
			} else if cfg.TestTimeout > 0 {
				runner.Timeout = cfg.TestTimeout
			}

			art := artifact.Artifact{Path: args[0]}
			if _, err := os.Stat(art.Path); err != nil {
				return fmt.Errorf("artifact: %w", err)
			}

			verdict, err := runner.Verify(context.Background(), art, harness)
			if err != nil {
				return err
			}

			if verdict.Passed {
				fmt.Fprintf(os.Stdout, "✓ %s\n", art.Path)
				if verbose {
					fmt.Fprintln(os.Stdout, verdict.Transcript)
				}
				return nil
			}
			fmt.Fprintf(os.Stdout, "✗ %s\n\n%s\n", art.Path, verdict.Transcript)
			return fmt.Errorf("verification failed")
		},
	}

	cmd.Flags().StringVar(&harness, "harness", "", "explicit test file to run (skips discovery)")
	cmd.Flags().DurationVar(&testTimeout, "test-timeout", 60*time.Second, "per-verification timeout")

	return cmd
}
