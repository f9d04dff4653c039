package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// newSyncCmd builds the sync command: enumerate a remote root, reconcile
// against the local inventory, and persist the diff as a run.
func newSyncCmd() *cobra.Command {
	var flagRoot string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Enumerate a remote root and reconcile it into the local inventory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.store.Close()

			summary, err := a.runner.Run(cmd.Context(), flagRoot)
			if err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "run\t%s\n", summary.RunID)
			fmt.Fprintf(w, "status\t%s\n", summary.Status)
			fmt.Fprintf(w, "added\t%d\n", summary.Added)
			fmt.Fprintf(w, "updated\t%d\n", summary.Updated)
			fmt.Fprintf(w, "local-only\t%d\n", summary.LocalOnly)
			fmt.Fprintf(w, "errors\t%d\n", summary.Errors)
			fmt.Fprintf(w, "files seen\t%d (%d bytes)\n", summary.FilesSeen, summary.BytesSeen)

			if summary.Message != "" {
				fmt.Fprintf(w, "note\t%s\n", summary.Message)
			}

			if summary.Superseded {
				fmt.Fprintf(w, "note\tsuperseded by a newer run\n")
			}

			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&flagRoot, "root", "", "remote root folder id to sync")
	_ = cmd.MarkFlagRequired("root")

	return cmd
}

// newRunsCmd builds the runs command listing the sync history for a root.
func newRunsCmd() *cobra.Command {
	var flagRoot string

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List sync run history for a root folder",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.store.Close()

			runs, err := a.store.ListRuns(cmd.Context(), flagRoot)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tSTATUS\tADDED\tUPDATED\tERRORS\tMESSAGE")

			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
					r.ID, r.Status, r.Added, r.Updated, r.Errors, r.Message)
			}

			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&flagRoot, "root", "", "remote root folder id")
	_ = cmd.MarkFlagRequired("root")

	return cmd
}
