package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/queuectl/queuectl/cmd/cliutil"
)

var deleteCmd = &cobra.Command{
	Use:     "delete <job-id>",
	Short:   "Delete a job from the queue",
	Example: `  queuectl delete job1`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := cliutil.OpenStore()
		if err != nil {
			return err
		}
		defer s.Close()

		deleted, err := s.Delete(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("job %q not found", args[0])
		}
		cmd.Printf("Job %q deleted\n", args[0])
		return nil
	},
}
