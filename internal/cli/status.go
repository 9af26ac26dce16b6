package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/fixforge/internal/audit"
	"github.com/ppiankov/fixforge/internal/batch"
	"github.com/ppiankov/fixforge/internal/config"
)

func newStatusCmd() *cobra.Command {
	var (
		runDir string
		auditN int
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Inspect results of a completed run",
		RunE: func(cmd *cobra.Command, args []string) error {
			if auditN > 0 {
				cfg, err := config.LoadSettings(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				auditPath := cfg.AuditDB
				if auditPath == "" {
					auditPath = audit.DefaultPath()
				}
				return showAudit(os.Stdout, auditPath, auditN)
			}
			if runDir == "" {
				latest, err := findLatestRunDir(".")
				if err != nil {
					return fmt.Errorf("no --run-dir specified and %w", err)
				}
				runDir = latest
			}
			return showStatus(runDir)
		},
	}

	cmd.Flags().StringVar(&runDir, "run-dir", "", "path to .fixforge/<timestamp> directory (auto-detects latest if omitted)")
	cmd.Flags().IntVar(&auditN, "audit", 0, "show the N most recent audit log entries instead of a run report")

	return cmd
}

// showAudit prints the latest n stage invocations from the audit log.
func showAudit(w io.Writer, path string, n int) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("audit log: %w", err)
	}
	log, err := audit.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = log.Close() }()

	entries, err := log.Recent(n)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No audit entries.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "TIME\tAGENT\tMODEL\tACTION\tSTATUS\n")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.Time.Format("2006-01-02 15:04:05"), e.Agent, e.Model, e.Action, e.Status)
	}
	return tw.Flush()
}

// findLatestRunDir scans baseDir/.fixforge/ for the most recent run
// directory that contains a report.json.
func findLatestRunDir(baseDir string) (string, error) {
	ffDir := fmt.Sprintf("%s/.fixforge", baseDir)
	entries, err := os.ReadDir(ffDir)
	if err != nil {
		return "", fmt.Errorf("cannot read .fixforge directory: %w", err)
	}

	// entries are sorted alphabetically; timestamps sort chronologically
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if !e.IsDir() {
			continue
		}
		candidate := fmt.Sprintf("%s/%s", ffDir, e.Name())
		if _, err := os.Stat(fmt.Sprintf("%s/report.json", candidate)); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no completed runs found in %s", ffDir)
}

func showStatus(runDir string) error {
	reportPath := fmt.Sprintf("%s/report.json", runDir)
	data, err := os.ReadFile(reportPath)
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}

	var report batch.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return fmt.Errorf("parse report: %w", err)
	}

	fmt.Printf("Run: %s\n", report.Timestamp.Format("2006-01-02 15:04:05"))
	if report.RunID != "" {
		fmt.Printf("Run ID: %s\n", report.RunID)
	}
	fmt.Printf("Target: %s\n", report.TargetDir)
	fmt.Printf("Max iterations: %d\n", report.MaxIterations)
	fmt.Printf("Workers: %d\n", report.Workers)
	fmt.Printf("Duration: %s\n\n", report.TotalDuration)

	fmt.Printf("Total: %d  Repaired: %d  Incomplete: %d  Fatal: %d\n\n",
		report.Total, report.Succeeded, report.Incomplete, report.Fatal)

	for _, r := range report.Results {
		if r == nil {
			continue
		}
		line := fmt.Sprintf("  %-40s  %s", r.Artifact.Path, r.OutcomeStr)
		if r.Iterations > 0 {
			line += fmt.Sprintf("  (%d iterations)", r.Iterations)
		}
		if r.Error != "" {
			line += fmt.Sprintf("  (%s)", r.Error)
		}
		if r.Duration > 0 {
			line += fmt.Sprintf("  %s", r.Duration)
		}
		fmt.Println(line)
	}

	return nil
}
