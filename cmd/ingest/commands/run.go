package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/timmy/confingest/internal/service"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <job-id>",
		Short: "Run one attempt of a job synchronously",
		Long: `Run one attempt of an ingestion job in this process and print its result.

COMPLETE jobs are reported without doing any work. A failed attempt is
recorded on the job exactly as the server would record it, including the
retry schedule.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return runJob(cmd.Context(), cmd.OutOrStdout(), a.Orchestrator, args[0])
		},
	}
	return cmd
}

type runOutput struct {
	JobID         string `json:"job_id"`
	Outcome       string `json:"outcome"`
	State         string `json:"state,omitempty"`
	ErrorClass    string `json:"error_class,omitempty"`
	Error         string `json:"error,omitempty"`
	NextAttemptAt string `json:"next_attempt_at,omitempty"`
	DurationMs    int64  `json:"duration_ms"`
	Stanzas       int    `json:"stanzas"`
	Records       int    `json:"records"`
	Defects       int    `json:"projection_defects"`
}

func runJob(ctx context.Context, w io.Writer, orch *service.Orchestrator, jobID string) error {
	res := orch.Run(ctx, jobID)

	out := runOutput{
		JobID:      res.JobID,
		Outcome:    string(res.Outcome),
		State:      string(res.State),
		DurationMs: res.Duration.Milliseconds(),
		Stanzas:    res.Metrics.StanzasWritten,
		Defects:    res.Metrics.ProjectionDefects,
	}
	for _, n := range res.Metrics.RecordsWritten {
		out.Records += n
	}
	if res.Err != nil {
		out.ErrorClass = string(res.Err.Class)
		out.Error = res.Err.Error()
	}
	if res.NextAttemptAt != nil {
		out.NextAttemptAt = res.NextAttemptAt.Format("2006-01-02T15:04:05Z07:00")
	}

	if err := printResult(w, out, func(w io.Writer) {
		fmt.Fprintf(w, "job %s: %s", out.JobID, out.Outcome)
		if out.State != "" {
			fmt.Fprintf(w, " (state %s)", out.State)
		}
		fmt.Fprintln(w)
		if out.Error != "" {
			fmt.Fprintf(w, "  error [%s]: %s\n", out.ErrorClass, out.Error)
		}
		if out.NextAttemptAt != "" {
			fmt.Fprintf(w, "  next attempt at %s\n", out.NextAttemptAt)
		}
		fmt.Fprintf(w, "  stanzas=%d records=%d defects=%d duration=%dms\n", out.Stanzas, out.Records, out.Defects, out.DurationMs)
	}); err != nil {
		return err
	}

	if res.Outcome == service.OutcomeFailed {
		return fmt.Errorf("job %s failed", jobID)
	}
	return nil
}
