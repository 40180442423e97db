package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/piwi3910/iloctl/pkg/config"
	"github.com/piwi3910/iloctl/pkg/domain"
	"github.com/piwi3910/iloctl/pkg/fleet"
)

func newApplyCommand() *cobra.Command {
	var (
		file     string
		watch    bool
		parallel int
		retries  int
	)
	cmd := &cobra.Command{
		Use:   "apply -f <state-file>",
		Short: "Converge targets toward a desired-state document",
		Long: `Converge targets toward a desired-state document.

The document is a CUE or YAML file (or a directory of them) declaring
per-target configuration across all domains. Targets reconcile
concurrently up to --parallel; within a target, domains converge in a
fixed order with power first. Transient failures retry with backoff,
and a failure on one target never stops the others.

With --watch the document is re-applied whenever it changes on disk,
until interrupted.`,
		Args: cobra.NoArgs,
		RunE: withRuntime(func(ctx context.Context, rt *runtime, cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("a state file is required, pass -f")
			}
			opts := fleet.Options{
				MaxParallel: parallel,
				MaxRetries:  retries,
				Logger:      rt.log,
			}
			if !watch {
				return applyDocument(ctx, rt, file, opts)
			}
			if err := applyDocument(ctx, rt, file, opts); err != nil {
				rt.log.Error().Err(err).Msg("apply failed, still watching")
			}
			return config.Watch(ctx, rt.log, []string{file}, func() {
				if err := applyDocument(ctx, rt, file, opts); err != nil {
					rt.log.Error().Err(err).Msg("apply failed, still watching")
				}
			})
		}),
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "state file or directory")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-apply whenever the document changes")
	cmd.Flags().IntVar(&parallel, "parallel", 4, "targets reconciled concurrently")
	cmd.Flags().IntVar(&retries, "retries", 2, "extra attempts for transient failures")
	return cmd
}

// applyDocument parses the document and reconciles every target it
// names over the fleet pool. The --target flag narrows the run to one
// of them.
func applyDocument(ctx context.Context, rt *runtime, path string, opts fleet.Options) error {
	doc, err := parseStatePath(path)
	if err != nil {
		return err
	}

	jobs, err := buildJobs(rt, doc, path)
	if err != nil {
		return err
	}

	runner := fleet.NewRunner(func(ctx context.Context, target string, req domain.Request) error {
		t, err := rt.namedTarget(target)
		if err != nil {
			return err
		}
		return rt.reconcileOne(ctx, t, req)
	}, opts)

	summary := runner.Run(ctx, jobs)
	printApplySummary(summary)
	return summary.Err()
}

// buildJobs validates every declared target against the inventory and
// expands its requests before anything connects. A bad document fails
// whole, not halfway through the fleet.
func buildJobs(rt *runtime, doc *config.Document, path string) ([]fleet.Job, error) {
	var jobs []fleet.Job
	for i := range doc.Targets {
		ts := &doc.Targets[i]
		if targetName != "" && ts.Target != targetName {
			continue
		}
		if _, err := rt.namedTarget(ts.Target); err != nil {
			return nil, err
		}
		reqs, err := ts.Requests()
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", ts.Target, err)
		}
		if len(reqs) == 0 {
			continue
		}
		jobs = append(jobs, fleet.Job{Target: ts.Target, Requests: reqs})
	}
	if len(jobs) == 0 {
		if targetName != "" {
			return nil, fmt.Errorf("target %q is not in %s", targetName, path)
		}
		return nil, errors.New("document declares no work")
	}
	return jobs, nil
}

func printApplySummary(summary *fleet.Summary) {
	if jsonOutput {
		printJSON(summary)
		return
	}
	fmt.Printf("applied %d/%d targets", summary.Succeeded, summary.Total)
	if summary.Failed > 0 {
		fmt.Printf(", %d failed", summary.Failed)
	}
	fmt.Println()
}

func parseStatePath(path string) (*config.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	parser := config.NewParser()
	if info.IsDir() {
		return parser.ParseStateDir(path)
	}
	return parser.ParseStateFile(path)
}
