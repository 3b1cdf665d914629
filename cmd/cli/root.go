package cli

import (
	"context"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	configcmd "github.com/queuectl/queuectl/cmd/cli/config"
	dashboardcmd "github.com/queuectl/queuectl/cmd/cli/dashboard"
	"github.com/queuectl/queuectl/cmd/cli/dlq"
	workercmd "github.com/queuectl/queuectl/cmd/cli/worker"
	workerscmd "github.com/queuectl/queuectl/cmd/cli/workers"
	"github.com/queuectl/queuectl/pkg/build"
)

var log = logging.Logger("cmd")

var (
	logLevel string
	rootCmd  = &cobra.Command{
		Use:   "queuectl",
		Short: "A CLI-based background job queue",
		Long: `queuectl manages durable background jobs: shell commands executed by a
pool of workers with automatic retries, exponential backoff, and a
dead-letter queue for jobs that exhaust their retry budget.`,
		Version:       build.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// ExecuteContext runs the CLI. Any error exits with status 1.
func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatal(err)
	}
}

func init() {
	cobra.OnInitialize(initLogging, initConfig)

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "logging level")
	rootCmd.PersistentFlags().String("db", "queuectl.db", "path to the queue database file")
	cobra.CheckErr(viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db")))

	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(dlq.Cmd)
	rootCmd.AddCommand(workercmd.Cmd)
	rootCmd.AddCommand(workerscmd.Cmd)
	rootCmd.AddCommand(configcmd.Cmd)
	rootCmd.AddCommand(dashboardcmd.Cmd)
}

func initConfig() {
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.SetEnvPrefix("QUEUECTL")
}

func initLogging() {
	if logLevel != "" {
		ll, err := logging.LevelFromString(logLevel)
		cobra.CheckErr(err)
		logging.SetAllLoggers(ll)
	} else {
		// keep the CLI quiet by default; workers log their activity
		logging.SetAllLoggers(logging.LevelError)
		logging.SetLogLevel("worker", "info")
		logging.SetLogLevel("queue", "info")
	}
}
