package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	inventoryPath string
	targetName    string
	verbose       bool
	jsonOutput    bool
	dryRun        bool
	policyDirs    []string
	dbPath        string
	environment   string
	metricsAddr   string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "iloctl",
		Short: "iloctl - HPE iLO configuration engine",
		Long: `iloctl reconciles HPE iLO management controllers toward declared
configuration over their SSH command-line protocol.

Each command fetches the device's current state, diffs it against the
request, executes only the commands needed to converge, and verifies
the result. Runs, transcripts, and state snapshots are recorded for
audit and drift detection.

Domains:
  power          chassis power and power regulator
  boot           boot mode, boot order, one-time boot
  user           local iLO accounts and privileges
  vmedia         virtual media mounts
  raid           logical drives on smart array controllers
  hostname       the iLO network name`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&inventoryPath, "inventory", "i", "inventory.yaml", "inventory file path")
	rootCmd.PersistentFlags().StringVarP(&targetName, "target", "t", "", "inventory target name")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "compute and print the plan without executing it")
	rootCmd.PersistentFlags().StringSliceVar(&policyDirs, "policy-dir", nil, "additional policy directories (rego)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDBPath(), "run history database path")
	rootCmd.PersistentFlags().StringVar(&environment, "environment", "production", "policy environment name")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address, mainly for apply --watch")

	rootCmd.AddCommand(newPowerCommand())
	rootCmd.AddCommand(newBootCommand())
	rootCmd.AddCommand(newUserCommand())
	rootCmd.AddCommand(newVMediaCommand())
	rootCmd.AddCommand(newRaidCommand())
	rootCmd.AddCommand(newHostnameCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newRunsCommand())
	rootCmd.AddCommand(newDriftCommand())
	rootCmd.AddCommand(newValidateCommand())

	return rootCmd
}
