package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/shopfloor/internal/capacity"
)

func newCellsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cells",
		Short: "Show WIP load per production cell",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			loads, err := capacity.Snapshot(gormDB)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-20s %6s %6s %9s %8s\n", "CELL", "WIP", "LIMIT", "THRESHOLD", "ENFORCE")
			for _, load := range loads {
				marker := ""
				ratio := float64(load.WIP) / float64(load.Cell.WipLimit)
				switch {
				case load.WIP >= load.Cell.WipLimit:
					marker = "  FULL"
				case ratio >= load.Cell.WipWarningThreshold:
					marker = "  WARN"
				}
				fmt.Fprintf(out, "%-20s %6d %6d %9.2f %8v%s\n",
					load.Cell.ID, load.WIP, load.Cell.WipLimit,
					load.Cell.WipWarningThreshold, load.Cell.EnforceLimit, marker)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Shopfloor config file")
	return cmd
}
