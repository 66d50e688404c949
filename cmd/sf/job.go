package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/shopfloor/internal/models"
	"github.com/zulandar/shopfloor/internal/workorder"
)

func newJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Job management commands",
	}

	cmd.AddCommand(newJobCreateCmd())
	cmd.AddCommand(newJobShowCmd())
	cmd.AddCommand(newJobHoldCmd())
	cmd.AddCommand(newJobResumeCmd())
	return cmd
}

func newJobCreateCmd() *cobra.Command {
	var (
		configPath string
		number     string
		customer   string
	)

	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a new job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			job, err := workorder.CreateJob(gormDB, workorder.JobOpts{
				Number:   number,
				Title:    args[0],
				Customer: customer,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created job %s (%s)\n", job.ID, job.Number)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Shopfloor config file")
	cmd.Flags().StringVarP(&number, "number", "n", "", "work order number (required)")
	cmd.Flags().StringVar(&customer, "customer", "", "customer name")
	cmd.MarkFlagRequired("number")
	return cmd
}

func newJobShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job's parts and operations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			job, err := workorder.GetJob(gormDB, args[0])
			if err != nil {
				return err
			}
			printJob(cmd, job)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Shopfloor config file")
	return cmd
}

func printJob(cmd *cobra.Command, job *models.Job) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s  %s  [%s]  %s\n", job.ID, job.Number, job.Status, job.Title)
	for _, part := range job.Parts {
		cell := "-"
		if part.CurrentCellID != nil {
			cell = *part.CurrentCellID
		}
		fmt.Fprintf(out, "  %s  [%s]  %s  (cell: %s)\n", part.ID, part.Status, part.Name, cell)
		for _, op := range part.Operations {
			next := "terminal"
			if op.RoutingNextCellID != nil {
				next = "next: " + *op.RoutingNextCellID
			}
			fmt.Fprintf(out, "    %2d. %s  [%s]  %s  cell=%s  %s  est=%ds act=%ds\n",
				op.Sequence, op.ID, op.Status, op.Name, op.CellID, next,
				op.EstimatedSeconds, op.ActualSeconds)
		}
	}
}

func newJobHoldCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "hold <job-id>",
		Short: "Place a job on hold",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			engine := newEngine(gormDB)
			if err := engine.HoldJob(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s on hold\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Shopfloor config file")
	return cmd
}

func newJobResumeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "resume <job-id>",
		Short: "Take a job off hold",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			engine := newEngine(gormDB)
			if err := engine.ResumeJob(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s resumed\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Shopfloor config file")
	return cmd
}

func newPartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "part",
		Short: "Part management commands",
	}

	cmd.AddCommand(newPartAddCmd())
	return cmd
}

func newPartAddCmd() *cobra.Command {
	var (
		configPath string
		jobID      string
		parentID   string
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a part to a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			part, err := workorder.AddPart(gormDB, workorder.PartOpts{
				JobID:    jobID,
				Name:     args[0],
				ParentID: parentID,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added part %s to job %s\n", part.ID, part.JobID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Shopfloor config file")
	cmd.Flags().StringVarP(&jobID, "job", "j", "", "job ID (required)")
	cmd.Flags().StringVar(&parentID, "parent", "", "parent part ID for assemblies")
	cmd.MarkFlagRequired("job")
	return cmd
}
