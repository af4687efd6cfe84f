package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/jbweber/anvil/internal/loader"
	"github.com/jbweber/anvil/internal/vm"
)

var createTimeout time.Duration

var createCmd = &cobra.Command{
	Use:   "create <machine.yaml>",
	Short: "Create a machine from a VirtualMachine resource",
	Long: `Create, register and configure a machine from a VirtualMachine YAML file.

Nothing is changed when a machine with the same name is already registered;
the command reports the conflict and exits non-zero. A failure part way
through configuration leaves the machine registered with the steps that
completed, and the failed step is reported.

Example:
  anvil create node1.yaml
  anvil create node1.yaml -o yaml --timeout 5m`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		formatter, err := newFormatter()
		if err != nil {
			return err
		}

		resource, err := loader.LoadFromFile(afero.NewOsFs(), args[0])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if createTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, createTimeout)
			defer cancel()
		}

		c, err := connect(ctx, false)
		if err != nil {
			return err
		}
		defer c.close()

		out, provisionErr := c.provisioner.Provision(ctx, resource)
		c.writeMetrics()

		if out != nil {
			result, err := formatter.FormatVM(out)
			if err != nil {
				return fmt.Errorf("failed to format output: %w", err)
			}
			fmt.Print(result)
		}

		if errors.Is(provisionErr, vm.ErrPreconditionViolation) {
			fmt.Fprintf(os.Stderr, "Machine %s is already registered, nothing was changed\n", resource.Name)
		}
		if provisionErr != nil {
			return fmt.Errorf("failed to create machine: %w", provisionErr)
		}
		return nil
	},
}

func init() {
	addOutputFlags(createCmd)
	createCmd.Flags().DurationVar(&createTimeout, "timeout", 0, "Give up after this long (0 waits indefinitely)")
}
