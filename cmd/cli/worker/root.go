// Package worker holds the worker pool commands.
package worker

import (
	"github.com/spf13/cobra"

	"github.com/queuectl/queuectl/cmd/cliutil"
	workerpool "github.com/queuectl/queuectl/pkg/worker"
)

var Cmd = &cobra.Command{
	Use:   "worker",
	Short: "Manage worker processes",
}

var startCmd = &cobra.Command{
	Use:     "start",
	Short:   "Start workers and block until interrupted",
	Example: `  queuectl worker start --count 3`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		count, err := cmd.Flags().GetInt("count")
		if err != nil {
			return err
		}

		cmd.Printf("Starting %d worker(s)...\n", count)
		cmd.Println("Press Ctrl+C to stop gracefully")

		pool := workerpool.NewPool(cliutil.DBPath())
		if err := pool.Start(count); err != nil {
			return err
		}
		pool.Wait()
		if err := pool.Stop(); err != nil {
			return err
		}
		cmd.Println("Workers stopped")
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "How to stop running workers",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Println("To stop workers, press Ctrl+C in the terminal where they are running.")
		cmd.Println("Workers will finish their current jobs before stopping.")
	},
}

func init() {
	startCmd.Flags().Int("count", 1, "number of workers to start")
	Cmd.AddCommand(startCmd)
	Cmd.AddCommand(stopCmd)
}
