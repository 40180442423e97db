package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/piwi3910/iloctl/pkg/config"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files without touching a device",
	}
	cmd.AddCommand(newValidateInventoryCommand())
	cmd.AddCommand(newValidateStateCommand())
	return cmd
}

func newValidateInventoryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inventory [path]",
		Short: "Validate an inventory file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := inventoryPath
			if len(args) == 1 {
				path = args[0]
			}
			inv, err := config.LoadInventory(path)
			if err != nil {
				return err
			}
			if jsonOutput {
				printJSON(map[string]any{"valid": true, "targets": len(inv.Targets)})
				return nil
			}
			fmt.Printf("%s: valid, %d targets\n", path, len(inv.Targets))
			return nil
		},
	}
}

func newValidateStateCommand() *cobra.Command {
	var checkInventory bool
	cmd := &cobra.Command{
		Use:   "state <path>...",
		Short: "Validate desired-state documents",
		Long: `Validate desired-state documents.

Each path is parsed and checked against the state schema. With
--check-inventory every declared target must also exist in the
inventory, so a document can be vetted before apply ever connects
anywhere.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var inv *config.Inventory
			if checkInventory {
				loaded, err := config.LoadInventory(inventoryPath)
				if err != nil {
					return err
				}
				inv = loaded
			}

			for _, path := range args {
				doc, err := parseStatePath(path)
				if err != nil {
					return err
				}
				if inv != nil {
					for i := range doc.Targets {
						name := doc.Targets[i].Target
						if _, ok := inv.Lookup(name); !ok {
							return fmt.Errorf("%s: target %q is not in %s", path, name, inventoryPath)
						}
					}
				}
				if jsonOutput {
					printJSON(map[string]any{"file": path, "valid": true, "targets": len(doc.Targets)})
					continue
				}
				fmt.Printf("%s: valid, %d targets\n", path, len(doc.Targets))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&checkInventory, "check-inventory", false, "require every declared target to exist in the inventory")
	return cmd
}
