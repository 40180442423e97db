package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/piwi3910/iloctl/pkg/domain"
)

func newHostnameCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hostname",
		Short: "Manage the iLO network name",
	}
	cmd.AddCommand(newHostnameShowCommand())
	cmd.AddCommand(newHostnameSetCommand())
	return cmd
}

func newHostnameShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the iLO hostname",
		Args:  cobra.NoArgs,
		RunE: withRuntime(func(ctx context.Context, rt *runtime, cmd *cobra.Command, args []string) error {
			t, err := rt.target()
			if err != nil {
				return err
			}
			state, err := rt.fetchState(ctx, t, &domain.HostnameRequest{})
			if err != nil {
				return err
			}
			printState(t.Name, state)
			return nil
		}),
	}
}

func newHostnameSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set <name>",
		Short: "Converge the iLO hostname",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(ctx context.Context, rt *runtime, cmd *cobra.Command, args []string) error {
			req := &domain.HostnameRequest{Hostname: args[0]}
			if err := req.Validate(); err != nil {
				return err
			}
			t, err := rt.target()
			if err != nil {
				return err
			}
			return rt.reconcileOne(ctx, t, req)
		}),
	}
}
