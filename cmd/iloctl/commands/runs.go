package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/piwi3910/iloctl/pkg/stores"
)

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded reconciliation runs",
	}
	cmd.AddCommand(newRunsListCommand())
	cmd.AddCommand(newRunsShowCommand())
	cmd.AddCommand(newRunsPruneCommand())
	return cmd
}

func newRunsListCommand() *cobra.Command {
	var (
		domainFilter string
		statusFilter string
		limit        int
		offset       int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: withRuntime(func(ctx context.Context, rt *runtime, cmd *cobra.Command, args []string) error {
			filter := stores.RunFilter{
				Target: targetName,
				Domain: domainFilter,
				Status: stores.RunStatus(statusFilter),
			}
			runs, err := rt.store.ListRuns(ctx, filter, limit, offset)
			if err != nil {
				return err
			}
			if jsonOutput {
				printJSON(runs)
				return nil
			}
			if len(runs) == 0 {
				fmt.Println("no runs recorded")
				return nil
			}
			fmt.Printf("%-36s  %-20s  %-13s  %-9s  %-7s  %s\n",
				"ID", "TARGET", "DOMAIN", "STATUS", "CHANGED", "STARTED")
			for _, run := range runs {
				fmt.Printf("%-36s  %-20s  %-13s  %-9s  %-7t  %s\n",
					run.ID, run.Target, run.Domain, run.Status, run.Changed,
					run.StartedAt.Local().Format(time.RFC3339))
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&domainFilter, "domain", "", "filter by domain")
	cmd.Flags().StringVar(&statusFilter, "status", "", "filter by status (pending, running, completed, failed)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of runs to skip")
	return cmd
}

func newRunsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with its plan and transcript",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(ctx context.Context, rt *runtime, cmd *cobra.Command, args []string) error {
			run, err := rt.store.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			transcript, err := rt.store.GetTranscript(ctx, run.ID)
			if err != nil {
				return err
			}
			if jsonOutput {
				printJSON(map[string]any{
					"run":        run,
					"transcript": transcript,
				})
				return nil
			}

			fmt.Printf("run      %s\n", run.ID)
			fmt.Printf("target   %s\n", run.Target)
			fmt.Printf("domain   %s\n", run.Domain)
			fmt.Printf("status   %s\n", run.Status)
			fmt.Printf("dry run  %t\n", run.DryRun)
			fmt.Printf("changed  %t\n", run.Changed)
			if run.Unverified {
				fmt.Printf("verified no, convergence was still pending\n")
			}
			if run.ErrorClass != nil {
				fmt.Printf("error    [%s]", *run.ErrorClass)
				if run.Error != nil {
					fmt.Printf(" %s", *run.Error)
				}
				fmt.Println()
			}
			fmt.Printf("started  %s\n", run.StartedAt.Local().Format(time.RFC3339))
			if run.CompletedAt != nil {
				fmt.Printf("finished %s\n", run.CompletedAt.Local().Format(time.RFC3339))
			}

			if plan, err := run.PlanLines(); err == nil && len(plan) > 0 {
				fmt.Println("\nplan:")
				for _, line := range plan {
					fmt.Printf("  %s\n", line)
				}
			}
			if len(transcript) > 0 {
				fmt.Println("\ntranscript:")
				for _, entry := range transcript {
					fmt.Printf("  [%d] %s (exit %d, %dms)\n",
						entry.Seq, entry.Command, entry.ExitStatus, entry.DurationMS)
				}
			}
			return nil
		}),
	}
}

func newRunsPruneCommand() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete finished runs older than a cutoff",
		Args:  cobra.NoArgs,
		RunE: withRuntime(func(ctx context.Context, rt *runtime, cmd *cobra.Command, args []string) error {
			cutoff := time.Now().UTC().Add(-olderThan)
			pruned, err := rt.store.PruneRuns(ctx, cutoff)
			if err != nil {
				return err
			}
			if jsonOutput {
				printJSON(map[string]any{"pruned": pruned})
				return nil
			}
			fmt.Printf("pruned %d runs\n", pruned)
			return nil
		}),
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age cutoff, finished runs older than this are deleted")
	return cmd
}
