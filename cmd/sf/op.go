package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/shopfloor/internal/capacity"
	"github.com/zulandar/shopfloor/internal/lifecycle"
	"github.com/zulandar/shopfloor/internal/workorder"
)

func newOpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "op",
		Short: "Operation commands",
	}

	cmd.AddCommand(newOpAddCmd())
	cmd.AddCommand(newOpStartCmd())
	cmd.AddCommand(newOpPauseCmd())
	cmd.AddCommand(newOpResumeCmd())
	cmd.AddCommand(newOpCompleteCmd())
	return cmd
}

func newOpAddCmd() *cobra.Command {
	var (
		configPath string
		partID     string
		cellID     string
		nextCell   string
		sequence   int
		estimated  int64
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add an operation to a part",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			op, err := workorder.AddOperation(gormDB, workorder.OperationOpts{
				PartID:           partID,
				Name:             args[0],
				Sequence:         sequence,
				CellID:           cellID,
				RoutingNextCell:  nextCell,
				EstimatedSeconds: estimated,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added operation %s (seq %d, cell %s)\n", op.ID, op.Sequence, op.CellID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Shopfloor config file")
	cmd.Flags().StringVarP(&partID, "part", "p", "", "part ID (required)")
	cmd.Flags().StringVar(&cellID, "cell", "", "production cell (required)")
	cmd.Flags().StringVar(&nextCell, "next-cell", "", "next cell in the routing (empty for terminal stage)")
	cmd.Flags().IntVar(&sequence, "seq", 1, "sequence number within the part")
	cmd.Flags().Int64Var(&estimated, "est", 0, "estimated duration in seconds")
	cmd.MarkFlagRequired("part")
	cmd.MarkFlagRequired("cell")
	return cmd
}

func newOpStartCmd() *cobra.Command {
	var (
		configPath string
		operator   string
	)

	cmd := &cobra.Command{
		Use:   "start <op-id>",
		Short: "Start work on an operation",
		Long:  "Opens a labor timer for the operator and marks the operation in progress. Any other open timer for the same operator is closed first.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			engine := newEngine(gormDB)
			op, err := engine.StartOperation(args[0], operator)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Operation %s in progress (cell %s, operator %s)\n", op.ID, op.CellID, operator)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Shopfloor config file")
	cmd.Flags().StringVarP(&operator, "operator", "o", "", "operator ID (required)")
	cmd.MarkFlagRequired("operator")
	return cmd
}

func newOpPauseCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "pause <op-id>",
		Short: "Pause an in-progress operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			engine := newEngine(gormDB)
			if err := engine.PauseOperation(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Operation %s paused\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Shopfloor config file")
	return cmd
}

func newOpResumeCmd() *cobra.Command {
	var (
		configPath string
		operator   string
	)

	cmd := &cobra.Command{
		Use:   "resume <op-id>",
		Short: "Resume a paused operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			engine := newEngine(gormDB)
			if err := engine.ResumeOperation(args[0], operator); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Operation %s resumed\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Shopfloor config file")
	cmd.Flags().StringVarP(&operator, "operator", "o", "", "operator ID (required)")
	cmd.MarkFlagRequired("operator")
	return cmd
}

func newOpCompleteCmd() *cobra.Command {
	var (
		configPath  string
		good        int
		scrap       int
		scrapReason string
	)

	cmd := &cobra.Command{
		Use:   "complete <op-id>",
		Short: "Complete an operation",
		Long:  "Closes the labor timer, records quantities, and cascades completion upward. Refused when the next cell in the routing is at its enforced WIP limit.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			engine := newEngine(gormDB)
			result, err := engine.CompleteOperation(args[0], lifecycle.Quantities{
				Good:        good,
				Scrap:       scrap,
				ScrapReason: scrapReason,
			})
			var blocked *lifecycle.CapacityBlockedError
			if errors.As(err, &blocked) {
				return fmt.Errorf("cell %s is full (%d/%d); complete or move work there first", blocked.CellID, blocked.WIP, blocked.Limit)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if result.AlreadyCompleted {
				fmt.Fprintf(out, "Operation %s was already completed\n", args[0])
				return nil
			}
			fmt.Fprintf(out, "Operation %s completed (%ds labor)\n", args[0], result.ActualSeconds)
			if result.Capacity != nil && result.Capacity.Decision == capacity.Warning {
				fmt.Fprintf(out, "Warning: next cell %s at %d/%d WIP\n",
					result.Capacity.CellID, result.Capacity.WIP, result.Capacity.Limit)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Shopfloor config file")
	cmd.Flags().IntVar(&good, "good", 0, "good quantity produced")
	cmd.Flags().IntVar(&scrap, "scrap", 0, "scrap quantity")
	cmd.Flags().StringVar(&scrapReason, "scrap-reason", "", "reason for scrap")
	return cmd
}
