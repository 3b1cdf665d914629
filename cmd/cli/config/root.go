// Package config holds the durable runtime configuration commands.
package config

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/queuectl/queuectl/cmd/cliutil"
	"github.com/queuectl/queuectl/cmd/cliutil/format"
)

var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration settings",
}

var showCmd = &cobra.Command{
	Use:     "show",
	Short:   "Show the current configuration",
	Example: `  queuectl config show`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := cliutil.OpenStore()
		if err != nil {
			return err
		}
		defer s.Close()

		cfg, err := s.GetConfig(cmd.Context())
		if err != nil {
			return err
		}
		cmd.Println("\nCurrent Configuration:")
		return format.KeyValues(cmd.OutOrStdout(), [][2]string{
			{"max-retries", fmt.Sprint(cfg.MaxRetries)},
			{"backoff-base", fmt.Sprint(cfg.BackoffBase)},
			{"worker-poll-interval", fmt.Sprintf("%gs", cfg.WorkerPollInterval)},
			{"default-timeout-seconds", fmt.Sprintf("%ds", cfg.DefaultTimeoutSeconds)},
		})
	},
}

var setCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value.

Available keys:
  max-retries           maximum number of retry attempts (integer)
  backoff-base          base for exponential backoff calculation (integer)
  worker-poll-interval  worker polling interval in seconds (float)`,
	Example: `  queuectl config set max-retries 5`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		s, err := cliutil.OpenStore()
		if err != nil {
			return err
		}
		defer s.Close()

		cfg, err := s.GetConfig(cmd.Context())
		if err != nil {
			return err
		}

		switch key {
		case "max-retries":
			v, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", key, err)
			}
			cfg.MaxRetries = v
		case "backoff-base":
			v, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", key, err)
			}
			cfg.BackoffBase = v
		case "worker-poll-interval":
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", key, err)
			}
			cfg.WorkerPollInterval = v
		default:
			return fmt.Errorf("unknown config key %q (available: max-retries, backoff-base, worker-poll-interval)", key)
		}

		if err := s.SaveConfig(cmd.Context(), cfg); err != nil {
			return err
		}
		cmd.Printf("Configuration updated: %s = %s\n", key, value)
		return nil
	},
}

func init() {
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(setCmd)
}
