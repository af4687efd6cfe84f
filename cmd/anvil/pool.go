package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Pool commands
var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Inspect storage pools",
	Long: `Inspect the libvirt storage pools that hold machine media.

Anvil maps every directory holding disks or ISO images to a "dir" pool
named after the directory, creating the pool on first use.`,
}

func init() {
	poolCmd.AddCommand(poolListCmd)
	poolCmd.AddCommand(poolInfoCmd)
	poolCmd.AddCommand(poolVolumesCmd)
	poolCmd.AddCommand(poolRefreshCmd)

	addOutputFlags(poolListCmd)
	addOutputFlags(poolVolumesCmd)
}

var poolListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all storage pools",
	Args:  cobra.NoArgs,
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

		pools, err := c.storage.ListPools(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list pools: %w", err)
		}

		result, err := formatter.FormatPools(pools)
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}

		fmt.Print(result)
		return nil
	},
}

var poolInfoCmd = &cobra.Command{
	Use:   "info <name>",
	Short: "Show detailed information about a pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		poolName := args[0]

		c, err := connect(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer c.close()

		poolInfo, err := c.storage.GetPoolInfo(cmd.Context(), poolName)
		if err != nil {
			return fmt.Errorf("failed to get pool info: %w", err)
		}

		volumes, err := c.storage.ListVolumes(cmd.Context(), poolName)
		if err != nil {
			return fmt.Errorf("failed to list volumes: %w", err)
		}

		fmt.Printf("Pool: %s\n", poolInfo.Name)
		fmt.Printf("Type: %s\n", poolInfo.Type)
		fmt.Printf("State: %s\n", poolInfo.State)
		if poolInfo.Path != "" {
			fmt.Printf("Path: %s\n", poolInfo.Path)
		}
		fmt.Printf("UUID: %s\n", poolInfo.UUID)
		fmt.Printf("Capacity: %.2f GB (%d bytes)\n", poolInfo.CapacityGB(), poolInfo.Capacity)
		fmt.Printf("Available: %.2f GB (%d bytes)\n", poolInfo.AvailableGB(), poolInfo.Available)

		usagePercent := 0.0
		if poolInfo.Capacity > 0 {
			usagePercent = (float64(poolInfo.Allocation) / float64(poolInfo.Capacity)) * 100
		}
		fmt.Printf("Usage: %.1f%%\n", usagePercent)
		fmt.Printf("Volumes: %d\n", len(volumes))

		return nil
	},
}

var poolVolumesCmd = &cobra.Command{
	Use:   "volumes <name>",
	Short: "List the volumes of a pool",
	Args:  cobra.ExactArgs(1),
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

		volumes, err := c.storage.ListVolumes(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to list volumes: %w", err)
		}

		result, err := formatter.FormatVolumes(volumes)
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}

		fmt.Print(result)
		return nil
	},
}

var poolRefreshCmd = &cobra.Command{
	Use:   "refresh <name>",
	Short: "Refresh a storage pool",
	Long: `Refresh a storage pool to detect files added or removed outside libvirt.

Example:
  anvil pool refresh anvil-node1-1a2b3c4d`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connect(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer c.close()

		if err := c.storage.RefreshPool(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to refresh pool: %w", err)
		}

		fmt.Printf("✓ Pool %s refreshed successfully\n", args[0])
		return nil
	},
}
