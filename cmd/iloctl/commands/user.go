package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/piwi3910/iloctl/pkg/domain"
)

func newUserCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage local iLO accounts",
	}
	cmd.AddCommand(newUserShowCommand())
	cmd.AddCommand(newUserSetCommand())
	cmd.AddCommand(newUserRemoveCommand())
	return cmd
}

func newUserShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show an account and the full account list",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(ctx context.Context, rt *runtime, cmd *cobra.Command, args []string) error {
			t, err := rt.target()
			if err != nil {
				return err
			}
			state, err := rt.fetchState(ctx, t, &domain.UserRequest{Name: args[0]})
			if err != nil {
				return err
			}
			printState(t.Name, state)
			return nil
		}),
	}
}

func newUserSetCommand() *cobra.Command {
	var (
		passwordEnv    string
		updatePassword bool
		privileges     []string
	)
	cmd := &cobra.Command{
		Use:   "set <name>",
		Short: "Create or converge an account",
		Long: `Create or converge an account.

The password is read from the environment variable named by
--password-env; it never appears on the command line or in any
recorded transcript. It is required when the account does not exist
yet, and applied to an existing account only with --update-password.`,
		Args: cobra.ExactArgs(1),
		RunE: withRuntime(func(ctx context.Context, rt *runtime, cmd *cobra.Command, args []string) error {
			req := &domain.UserRequest{
				Name:           args[0],
				UpdatePassword: updatePassword,
				Privileges:     privileges,
			}
			if passwordEnv != "" {
				pw := os.Getenv(passwordEnv)
				if pw == "" {
					return fmt.Errorf("environment variable %s is not set", passwordEnv)
				}
				req.Password = pw
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
	cmd.Flags().StringVar(&passwordEnv, "password-env", "", "environment variable holding the account password")
	cmd.Flags().BoolVar(&updatePassword, "update-password", false, "set the password on an existing account")
	cmd.Flags().StringSliceVar(&privileges, "privilege", nil, "account privileges (admin, config, remote_console, virtual_media, virtual_power_and_reset)")
	return cmd
}

func newUserRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Delete an account",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(ctx context.Context, rt *runtime, cmd *cobra.Command, args []string) error {
			req := &domain.UserRequest{Name: args[0], Absent: true}
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
