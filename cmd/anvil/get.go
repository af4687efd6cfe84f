package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbweber/anvil/internal/vm"
)

var getCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Get details about a machine",
	Long: `Get the VirtualMachine resource recorded on a machine created by anvil.

The resource is read back from the domain metadata, with status reflecting
the registered domain.

Output formats:
  -o table  Human-readable table (default)
  -o yaml   Full YAML resource definition
  -o json   Full JSON resource definition`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		formatter, err := newFormatter()
		if err != nil {
			return err
		}

		c, err := connect(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer c.close()

		resource, err := vm.Get(cmd.Context(), c.client.Libvirt(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get machine: %w", err)
		}

		result, err := formatter.FormatVM(resource)
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}

		fmt.Print(result)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List machines",
	Long: `List all domains defined on the host.

Shows name, state, whether anvil manages the domain, autostart, CPUs and
memory.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		formatter, err := newFormatter()
		if err != nil {
			return err
		}

		c, err := connect(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer c.close()

		machines, err := vm.List(cmd.Context(), c.client.Libvirt(), logger)
		if err != nil {
			return fmt.Errorf("failed to list machines: %w", err)
		}

		result, err := formatter.FormatMachines(machines)
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}

		fmt.Print(result)
		return nil
	},
}

func init() {
	addOutputFlags(getCmd)
	addOutputFlags(listCmd)
}
