package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/piwi3910/iloctl/pkg/domain"
)

func newRaidCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "raid",
		Short: "Manage logical drives on smart array controllers",
	}
	cmd.AddCommand(newRaidShowCommand())
	cmd.AddCommand(newRaidCreateCommand())
	cmd.AddCommand(newRaidDeleteCommand())
	return cmd
}

func newRaidShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show controllers, logical drives, and drive bays",
		Args:  cobra.NoArgs,
		RunE: withRuntime(func(ctx context.Context, rt *runtime, cmd *cobra.Command, args []string) error {
			t, err := rt.target()
			if err != nil {
				return err
			}
			state, err := rt.fetchState(ctx, t, &domain.RaidRequest{})
			if err != nil {
				return err
			}
			printState(t.Name, state)
			return nil
		}),
	}
}

func newRaidCreateCommand() *cobra.Command {
	var (
		controller string
		level      string
		drives     []string
		spares     []string
		sizeGB     int
	)
	cmd := &cobra.Command{
		Use:   "create <volume-name>",
		Short: "Create a logical drive",
		Long: `Create a logical drive.

If a logical drive with the given volume name already exists on the
controller, the command verifies it matches and changes nothing.
Drives and spares are named by their bay locations as the controller
reports them.`,
		Args: cobra.ExactArgs(1),
		RunE: withRuntime(func(ctx context.Context, rt *runtime, cmd *cobra.Command, args []string) error {
			req := &domain.RaidRequest{
				Controller: controller,
				VolumeName: args[0],
				Level:      level,
				Drives:     drives,
				Spares:     spares,
				SizeGB:     sizeGB,
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
	cmd.Flags().StringVar(&controller, "controller", "", "controller label, as raid show reports it")
	cmd.Flags().StringVar(&level, "level", "", "raid level (0, 1, 5, 6, 1+0, 50, 60)")
	cmd.Flags().StringSliceVar(&drives, "drives", nil, "physical drive locations for the volume")
	cmd.Flags().StringSliceVar(&spares, "spares", nil, "spare drive locations")
	cmd.Flags().IntVar(&sizeGB, "size-gb", 0, "volume size in GB, zero uses all capacity")
	return cmd
}

func newRaidDeleteCommand() *cobra.Command {
	var controller string
	cmd := &cobra.Command{
		Use:   "delete <volume-name>",
		Short: "Delete a logical drive",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(ctx context.Context, rt *runtime, cmd *cobra.Command, args []string) error {
			req := &domain.RaidRequest{
				Controller: controller,
				VolumeName: args[0],
				Absent:     true,
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
	cmd.Flags().StringVar(&controller, "controller", "", "controller label, as raid show reports it")
	return cmd
}
