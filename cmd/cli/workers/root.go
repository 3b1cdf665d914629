// Package workers holds the worker registry inspection command.
package workers

import (
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/queuectl/queuectl/cmd/cliutil"
	"github.com/queuectl/queuectl/cmd/cliutil/format"
	"github.com/queuectl/queuectl/pkg/job"
)

// heartbeatWindow is the staleness bound for showing a worker as active.
const heartbeatWindow = 10 * time.Second

var Cmd = &cobra.Command{
	Use:   "workers",
	Short: "Inspect the worker registry",
}

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "List registered workers and their heartbeat status",
	Example: `  queuectl workers list`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := cliutil.OpenStore()
		if err != nil {
			return err
		}
		defer s.Close()

		registrations, err := s.ListWorkers(cmd.Context())
		if err != nil {
			return err
		}

		outputFormat, err := format.ParseOutputFormat(cmd.Flag("format").Value.String())
		if err != nil {
			return err
		}
		if outputFormat == format.JSONFormat {
			return format.JSON(cmd.OutOrStdout(), registrations)
		}

		now := time.Now().UTC()
		rows := lo.Map(registrations, func(w job.WorkerRegistration, _ int) format.Row {
			stopped := ""
			status := "stale"
			if w.StoppedAt != nil {
				stopped = w.StoppedAt.Format(time.DateTime)
				status = "stopped"
			} else if w.Active(heartbeatWindow, now) {
				status = "active"
			}
			return format.Row{
				format.Truncate(w.ID, 20),
				fmt.Sprint(w.PID),
				w.Name,
				w.StartedAt.Format(time.DateTime),
				w.LastHeartbeat.Format(time.DateTime),
				stopped,
				status,
			}
		})
		return format.Table(cmd.OutOrStdout(), []format.Column{
			{Title: "ID", Width: 20},
			{Title: "PID", Width: 7},
			{Title: "Name", Width: 10},
			{Title: "Started", Width: 19},
			{Title: "Last Heartbeat", Width: 19},
			{Title: "Stopped", Width: 19},
			{Title: "Status", Width: 8},
		}, rows)
	},
}

func init() {
	listCmd.Flags().String("format", "table", "output format: table or json")
	Cmd.AddCommand(listCmd)
}
