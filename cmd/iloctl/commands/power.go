package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/piwi3910/iloctl/pkg/domain"
)

func newPowerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "power",
		Short: "Manage chassis power",
	}
	cmd.AddCommand(newPowerShowCommand())
	cmd.AddCommand(newPowerSetCommand())
	return cmd
}

func newPowerShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current power state",
		Args:  cobra.NoArgs,
		RunE: withRuntime(func(ctx context.Context, rt *runtime, cmd *cobra.Command, args []string) error {
			t, err := rt.target()
			if err != nil {
				return err
			}
			state, err := rt.fetchState(ctx, t, &domain.PowerRequest{})
			if err != nil {
				return err
			}
			printState(t.Name, state)
			return nil
		}),
	}
}

func newPowerSetCommand() *cobra.Command {
	var (
		force     bool
		regulator string
		autoPower string
	)
	cmd := &cobra.Command{
		Use:   "set [on|off|reset|cold_boot]",
		Short: "Converge chassis power to the requested state",
		Long: `Converge chassis power to the requested state.

The state argument may be omitted when only --regulator or --auto-power
is being changed. A plain "off" asks the OS to shut down; --force cuts
power immediately. "reset" warm-boots the host and "cold_boot" drops
power before restarting it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: withRuntime(func(ctx context.Context, rt *runtime, cmd *cobra.Command, args []string) error {
			req := &domain.PowerRequest{
				Force:     force,
				Regulator: regulator,
				AutoPower: autoPower,
			}
			if len(args) == 1 {
				req.State = args[0]
			}
			if req.State == "" && regulator == "" && autoPower == "" {
				return fmt.Errorf("nothing requested, pass a state or --regulator or --auto-power")
			}
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
	cmd.Flags().BoolVar(&force, "force", false, "cut power instead of requesting an OS shutdown")
	cmd.Flags().StringVar(&regulator, "regulator", "", "power regulator mode (dynamic, max, min, os)")
	cmd.Flags().StringVar(&autoPower, "auto-power", "", "power-on behavior after AC restore (on, 15, 30, 45, 60, random, restore, off)")
	return cmd
}
