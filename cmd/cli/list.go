package cli

import (
	"fmt"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/queuectl/queuectl/cmd/cliutil"
	"github.com/queuectl/queuectl/cmd/cliutil/format"
	"github.com/queuectl/queuectl/pkg/job"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, optionally filtered by state",
	Example: `  queuectl list
  queuectl list --state pending`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := cliutil.OpenStore()
		if err != nil {
			return err
		}
		defer s.Close()
		ctx := cmd.Context()

		stateFlag, err := cmd.Flags().GetString("state")
		if err != nil {
			return err
		}
		outputFormat, err := format.ParseOutputFormat(cmd.Flag("format").Value.String())
		if err != nil {
			return err
		}

		var jobs []*job.Job
		if stateFlag != "" {
			state, err := job.ParseState(stateFlag)
			if err != nil {
				return err
			}
			jobs, err = s.ListByState(ctx, state)
			if err != nil {
				return err
			}
		} else {
			jobs, err = s.ListAll(ctx)
			if err != nil {
				return err
			}
		}

		if outputFormat == format.JSONFormat {
			return format.JSON(cmd.OutOrStdout(), jobs)
		}

		if stateFlag != "" {
			cmd.Printf("\nJobs with state: %s\n", stateFlag)
		} else {
			cmd.Println("\nAll Jobs")
		}

		rows := lo.Map(jobs, func(j *job.Job, _ int) format.Row {
			errPreview := ""
			if j.ErrorMessage != nil {
				errPreview = format.Truncate(*j.ErrorMessage, 40)
			}
			return format.Row{
				format.Truncate(j.ID, 20),
				format.Truncate(j.Command, 30),
				string(j.State),
				fmt.Sprintf("%d/%d", j.Attempts, j.MaxRetries),
				j.CreatedAt.Format("2006-01-02 15:04:05"),
				errPreview,
			}
		})
		if err := format.Table(cmd.OutOrStdout(), []format.Column{
			{Title: "Job ID", Width: 20},
			{Title: "Command", Width: 30},
			{Title: "State", Width: 10},
			{Title: "Attempts", Width: 8},
			{Title: "Created At", Width: 19},
			{Title: "Error", Width: 40},
		}, rows); err != nil {
			return err
		}
		cmd.Printf("\nTotal: %d job(s)\n", len(jobs))
		return nil
	},
}

func init() {
	listCmd.Flags().String("state", "", "filter by job state (pending|processing|completed|failed|dead)")
	listCmd.Flags().String("format", "table", "output format: table or json")
}
