// Package dlq holds the dead-letter queue inspection and reanimation
// commands.
package dlq

import (
	"fmt"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/queuectl/queuectl/cmd/cliutil"
	"github.com/queuectl/queuectl/cmd/cliutil/format"
	"github.com/queuectl/queuectl/pkg/job"
	"github.com/queuectl/queuectl/pkg/queue"
)

var Cmd = &cobra.Command{
	Use:   "dlq",
	Short: "Manage the Dead Letter Queue",
}

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "List all jobs in the Dead Letter Queue",
	Example: `  queuectl dlq list`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := cliutil.OpenStore()
		if err != nil {
			return err
		}
		defer s.Close()

		jobs, err := s.ListByState(cmd.Context(), job.StateDead)
		if err != nil {
			return err
		}

		outputFormat, err := format.ParseOutputFormat(cmd.Flag("format").Value.String())
		if err != nil {
			return err
		}
		if outputFormat == format.JSONFormat {
			return format.JSON(cmd.OutOrStdout(), jobs)
		}

		cmd.Println("\nDead Letter Queue")
		rows := lo.Map(jobs, func(j *job.Job, _ int) format.Row {
			errPreview := ""
			if j.ErrorMessage != nil {
				errPreview = format.Truncate(*j.ErrorMessage, 40)
			}
			return format.Row{
				format.Truncate(j.ID, 20),
				format.Truncate(j.Command, 30),
				fmt.Sprintf("%d/%d", j.Attempts, j.MaxRetries),
				j.UpdatedAt.Format("2006-01-02 15:04:05"),
				errPreview,
			}
		})
		if err := format.Table(cmd.OutOrStdout(), []format.Column{
			{Title: "Job ID", Width: 20},
			{Title: "Command", Width: 30},
			{Title: "Attempts", Width: 8},
			{Title: "Failed At", Width: 19},
			{Title: "Error", Width: 40},
		}, rows); err != nil {
			return err
		}
		cmd.Printf("\nTotal: %d job(s) in DLQ\n", len(jobs))
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:     "retry <job-id>",
	Short:   "Requeue a job from the Dead Letter Queue",
	Example: `  queuectl dlq retry job1`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := cliutil.OpenStore()
		if err != nil {
			return err
		}
		defer s.Close()

		if err := queue.NewManager(s).RequeueFromDLQ(cmd.Context(), args[0]); err != nil {
			return err
		}
		cmd.Printf("Job %q moved from DLQ to pending queue\n", args[0])
		return nil
	},
}

func init() {
	listCmd.Flags().String("format", "table", "output format: table or json")
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(retryCmd)
}
