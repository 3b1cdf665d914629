package cli

import (
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/queuectl/queuectl/cmd/cliutil"
	"github.com/queuectl/queuectl/cmd/cliutil/format"
	"github.com/queuectl/queuectl/pkg/job"
	"github.com/queuectl/queuectl/pkg/store"
)

// heartbeatWindow matches the dashboard's definition of an active worker.
const heartbeatWindow = 10 * time.Second

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a summary of job states, workers and metrics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := cliutil.OpenStore()
		if err != nil {
			return err
		}
		defer s.Close()
		ctx := cmd.Context()

		counts, err := s.Counts(ctx)
		if err != nil {
			return err
		}
		total := lo.Sum(lo.Values(counts))
		activeWorkers, err := s.CountActiveWorkers(ctx, heartbeatWindow)
		if err != nil {
			return err
		}
		metrics, err := s.GetMetrics(ctx)
		if err != nil {
			return err
		}
		jobs, err := s.ListAll(ctx)
		if err != nil {
			return err
		}
		if len(jobs) > 10 {
			jobs = jobs[:10]
		}

		outputFormat, err := format.ParseOutputFormat(cmd.Flag("format").Value.String())
		if err != nil {
			return err
		}
		if outputFormat == format.JSONFormat {
			return format.JSON(cmd.OutOrStdout(), struct {
				Counts        map[job.State]int `json:"counts"`
				Total         int               `json:"total"`
				ActiveWorkers int               `json:"active_workers"`
				Metrics       store.Metrics     `json:"metrics"`
				Recent        []*job.Job        `json:"recent"`
			}{counts, total, activeWorkers, metrics, jobs})
		}

		out := cmd.OutOrStdout()
		cmd.Println("\nJob Statistics:")
		if err := format.KeyValues(out, [][2]string{
			{"Total Jobs", fmt.Sprint(total)},
			{"Pending", fmt.Sprint(counts[job.StatePending])},
			{"Processing", fmt.Sprint(counts[job.StateProcessing])},
			{"Completed", fmt.Sprint(counts[job.StateCompleted])},
			{"Failed (Retrying)", fmt.Sprint(counts[job.StateFailed])},
			{"Dead (DLQ)", fmt.Sprint(counts[job.StateDead])},
		}); err != nil {
			return err
		}

		cmd.Println("\nWorkers:")
		if err := format.KeyValues(out, [][2]string{
			{"Active Workers", fmt.Sprint(activeWorkers)},
		}); err != nil {
			return err
		}

		avg := "n/a"
		if metrics.AvgDurationMS != nil {
			avg = fmt.Sprintf("%d ms", *metrics.AvgDurationMS)
		}
		cmd.Println("\nMetrics:")
		if err := format.KeyValues(out, [][2]string{
			{"Average Duration (last 20)", avg},
			{"Completed Last Minute", fmt.Sprint(metrics.CompletedLastMin)},
		}); err != nil {
			return err
		}

		if total == 0 {
			return nil
		}

		cmd.Println("\nRecent Jobs:")
		rows := lo.Map(jobs, func(j *job.Job, _ int) format.Row {
			return format.Row{
				format.Truncate(j.ID, 20),
				string(j.State),
				fmt.Sprintf("%d/%d", j.Attempts, j.MaxRetries),
				j.CreatedAt.Format(time.DateTime),
			}
		})
		return format.Table(out, []format.Column{
			{Title: "Job ID", Width: 20},
			{Title: "State", Width: 10},
			{Title: "Attempts", Width: 8},
			{Title: "Created At", Width: 19},
		}, rows)
	},
}

func init() {
	statusCmd.Flags().String("format", "table", "output format: table or json")
}
