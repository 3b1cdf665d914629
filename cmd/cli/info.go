package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/queuectl/queuectl/cmd/cliutil"
)

var infoCmd = &cobra.Command{
	Use:     "info <job-id>",
	Short:   "Show the full record of a job",
	Example: `  queuectl info job1`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := cliutil.OpenStore()
		if err != nil {
			return err
		}
		defer s.Close()

		j, err := s.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		cmd.Println("\nJob Details:")
		cmd.Printf("ID:              %s\n", j.ID)
		cmd.Printf("Command:         %s\n", j.Command)
		cmd.Printf("State:           %s\n", j.State)
		cmd.Printf("Priority:        %d\n", j.Priority)
		cmd.Printf("Attempts:        %d/%d\n", j.Attempts, j.MaxRetries)
		cmd.Printf("Created At:      %s\n", j.CreatedAt.Format(time.DateTime))
		cmd.Printf("Updated At:      %s\n", j.UpdatedAt.Format(time.DateTime))
		if j.RunAt != nil {
			cmd.Printf("Run At:          %s\n", j.RunAt.Format(time.DateTime))
		}
		if j.TimeoutSeconds != nil {
			cmd.Printf("Timeout:         %ds\n", *j.TimeoutSeconds)
		}
		if j.CompletedAt != nil {
			cmd.Printf("Completed At:    %s\n", j.CompletedAt.Format(time.DateTime))
		}
		if j.NextRetryAt != nil {
			cmd.Printf("Next Retry At:   %s\n", j.NextRetryAt.Format(time.DateTime))
		}
		if j.ErrorMessage != nil {
			cmd.Println("\nError Message:")
			cmd.Println(*j.ErrorMessage)
		}
		if j.LastStdout != nil || j.LastStderr != nil || j.DurationMS != nil {
			cmd.Println("\nExecution Details:")
			if j.DurationMS != nil {
				cmd.Printf("Duration:       %d ms\n", *j.DurationMS)
			}
			if j.LastStdout != nil && *j.LastStdout != "" {
				cmd.Println("\nStdout:")
				cmd.Println(*j.LastStdout)
			}
			if j.LastStderr != nil && *j.LastStderr != "" {
				cmd.Println("\nStderr:")
				cmd.Println(*j.LastStderr)
			}
		}
		return nil
	},
}
