package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/piwi3910/iloctl/pkg/domain"
)

func newBootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "boot",
		Short: "Manage boot mode, boot order, and one-time boot",
	}
	cmd.AddCommand(newBootShowCommand())
	cmd.AddCommand(newBootSetCommand())
	return cmd
}

func newBootShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the boot configuration",
		Args:  cobra.NoArgs,
		RunE: withRuntime(func(ctx context.Context, rt *runtime, cmd *cobra.Command, args []string) error {
			t, err := rt.target()
			if err != nil {
				return err
			}
			state, err := rt.fetchState(ctx, t, &domain.BootRequest{})
			if err != nil {
				return err
			}
			printState(t.Name, state)
			return nil
		}),
	}
}

func newBootSetCommand() *cobra.Command {
	var (
		mode    string
		sources []string
		oneTime string
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Converge the boot configuration",
		Long: `Converge the boot configuration.

--mode switches between UEFI and legacy BIOS; the change takes effect
on the next host reset. --source reorders boot sources to the given
device descriptions, matched case-insensitively against what the
device reports. --one-time arms a single-use boot override.`,
		Args: cobra.NoArgs,
		RunE: withRuntime(func(ctx context.Context, rt *runtime, cmd *cobra.Command, args []string) error {
			if mode == "" && len(sources) == 0 && oneTime == "" {
				return fmt.Errorf("nothing requested, pass --mode, --source, or --one-time")
			}
			req := &domain.BootRequest{
				Mode:        canonicalBootMode(mode),
				Sources:     sources,
				OneTimeBoot: oneTime,
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
	cmd.Flags().StringVar(&mode, "mode", "", "boot mode (uefi, legacy)")
	cmd.Flags().StringSliceVar(&sources, "source", nil, "boot sources in the desired order")
	cmd.Flags().StringVar(&oneTime, "one-time", "", "one-time boot source (none, usb, ip, smartstartLX, netdev1)")
	return cmd
}

// canonicalBootMode accepts the lowercase flag spelling alongside the
// device's own.
func canonicalBootMode(mode string) string {
	switch mode {
	case "uefi":
		return domain.BootModeUEFI
	case "legacy":
		return domain.BootModeLegacy
	default:
		return mode
	}
}
