package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"

	"github.com/queuectl/queuectl/cmd/cliutil"
	"github.com/queuectl/queuectl/pkg/job"
	"github.com/queuectl/queuectl/pkg/queue"
)

// enqueueRequest is the JSON accepted on the command line.
type enqueueRequest struct {
	ID             string `json:"id" validate:"required"`
	Command        string `json:"command" validate:"required"`
	MaxRetries     *int   `json:"max_retries" validate:"omitempty,gt=0"`
	Priority       int    `json:"priority"`
	RunAt          string `json:"run_at"`
	TimeoutSeconds *int   `json:"timeout_seconds" validate:"omitempty,gt=0"`
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <json>",
	Short: "Enqueue a new job",
	Long: `Enqueue a new job described as a JSON object.

Required fields: "id" and "command". Optional: "max_retries", "priority",
"run_at" (RFC 3339 timestamp), "timeout_seconds".`,
	Example: `  queuectl enqueue '{"id":"job1","command":"echo Hello"}'
  queuectl enqueue '{"id":"job2","command":"make deploy","priority":5,"max_retries":5}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var req enqueueRequest
		if err := json.Unmarshal([]byte(args[0]), &req); err != nil {
			return fmt.Errorf("invalid JSON: %w", err)
		}
		if err := validator.New().Struct(req); err != nil {
			return fmt.Errorf("invalid job: %w", err)
		}

		j := job.New(req.ID, req.Command)
		j.Priority = req.Priority
		if req.MaxRetries != nil {
			j.MaxRetries = *req.MaxRetries
		}
		if req.TimeoutSeconds != nil {
			j.TimeoutSeconds = req.TimeoutSeconds
		}
		if req.RunAt != "" {
			runAt, err := parseTimestamp(req.RunAt)
			if err != nil {
				return fmt.Errorf("invalid run_at: %w", err)
			}
			j.RunAt = &runAt
		}

		s, err := cliutil.OpenStore()
		if err != nil {
			return err
		}
		defer s.Close()

		if err := queue.NewManager(s).Enqueue(cmd.Context(), j); err != nil {
			return err
		}

		cmd.Printf("Job %q enqueued successfully\n", j.ID)
		cmd.Printf("  Command: %s\n", j.Command)
		cmd.Printf("  Max retries: %d\n", j.MaxRetries)
		if j.RunAt != nil {
			cmd.Printf("  Run at: %s\n", j.RunAt.Format(time.RFC3339))
		}
		if j.Priority != 0 {
			cmd.Printf("  Priority: %d\n", j.Priority)
		}
		if j.TimeoutSeconds != nil {
			cmd.Printf("  Timeout: %ds\n", *j.TimeoutSeconds)
		}
		return nil
	},
}

// parseTimestamp accepts RFC 3339 and zone-less ISO-8601 (taken as UTC).
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
