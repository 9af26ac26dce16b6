package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/fixforge/internal/state"
)

func newStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Manage persistent artifact state",
		Long: `Manage the persistent artifact state that prevents duplicate repairs.

Files that were repaired successfully are automatically skipped on subsequent
runs as long as their content is unchanged. Use 'fixforge state list' to see
tracked files, 'fixforge state reset <path>' to allow a file to re-run, or
'fixforge state clear' to reset all state.`,
	}

	cmd.AddCommand(newStateListCmd())
	cmd.AddCommand(newStateResetCmd())
	cmd.AddCommand(newStateClearCmd())

	return cmd
}

func newStateListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show all tracked artifact states",
		RunE: func(cmd *cobra.Command, args []string) error {
			tracker := state.Load(state.DefaultPath())
			entries := tracker.Entries()
			if len(entries) == 0 {
				fmt.Println("No tracked artifacts.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "ARTIFACT\tSTATUS\tITERATIONS\tHASH\tFINISHED\n")
			for path, e := range entries {
				hash := e.Hash
				if len(hash) > 7 {
					hash = hash[:7]
				}
				finished := ""
				if !e.FinishedAt.IsZero() {
					finished = e.FinishedAt.Format("2006-01-02 15:04")
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", path, e.Status, e.Iterations, hash, finished)
			}
			return w.Flush()
		},
	}
}

func newStateResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <path>",
		Short: "Reset an artifact to allow re-repair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tracker := state.Load(state.DefaultPath())
			entry := tracker.Get(args[0])
			if entry == nil {
				return fmt.Errorf("artifact %q not found in state", args[0])
			}
			tracker.Reset(args[0])
			fmt.Printf("Reset %q (was %s)\n", args[0], entry.Status)
			return nil
		},
	}
}

func newStateClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove all artifact state (allows full re-repair)",
		RunE: func(cmd *cobra.Command, args []string) error {
			tracker := state.Load(state.DefaultPath())
			tracker.Clear()
			fmt.Println("State cleared.")
			return nil
		},
	}
}
