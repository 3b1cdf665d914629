// Package dashboard holds the monitoring server command.
package dashboard

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/queuectl/queuectl/cmd/cliutil"
	dash "github.com/queuectl/queuectl/pkg/dashboard"
	"github.com/queuectl/queuectl/pkg/telemetry"
)

var Cmd = &cobra.Command{
	Use:     "dashboard",
	Short:   "Serve the read-only monitoring dashboard and metrics endpoint",
	Example: `  queuectl dashboard --port 5000`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		port, err := cmd.Flags().GetInt("port")
		if err != nil {
			return err
		}

		s, err := cliutil.OpenStore()
		if err != nil {
			return err
		}
		defer s.Close()

		var options []dash.Option
		if dsn := viper.GetString("dashboard.sentry_dsn"); dsn != "" {
			env := viper.GetString("dashboard.sentry_environment")
			if err := telemetry.SetupErrorReporting(dsn, env); err != nil {
				return err
			}
			options = append(options, dash.WithErrorReporting())
		}

		return dash.ListenAndServe(fmt.Sprintf(":%d", port), s, options...)
	},
}

func init() {
	Cmd.Flags().Int("port", 5000, "port to serve the dashboard on")

	Cmd.Flags().String("sentry-dsn", "", "Sentry DSN; error reporting is disabled when empty")
	cobra.CheckErr(viper.BindPFlag("dashboard.sentry_dsn", Cmd.Flags().Lookup("sentry-dsn")))
	cobra.CheckErr(viper.BindEnv("dashboard.sentry_dsn", "SENTRY_DSN"))

	Cmd.Flags().String("sentry-environment", "production", "environment tag attached to reported errors")
	cobra.CheckErr(viper.BindPFlag("dashboard.sentry_environment", Cmd.Flags().Lookup("sentry-environment")))
	cobra.CheckErr(viper.BindEnv("dashboard.sentry_environment", "SENTRY_ENVIRONMENT"))
}
