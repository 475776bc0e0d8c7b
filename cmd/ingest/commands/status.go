package commands

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
	"github.com/timmy/confingest/internal/api/handler"
)

func newStatusCommand() *cobra.Command {
	var showDetail bool

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the state of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			job, err := a.Jobs.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			view := handler.NewJobResponse(job)
			return printResult(cmd.OutOrStdout(), view, func(w io.Writer) {
				fmt.Fprintf(w, "job       %s\n", view.ID)
				fmt.Fprintf(w, "archive   %s (%s)\n", view.ArchiveKey, view.ArchiveFormat)
				fmt.Fprintf(w, "state     %s\n", view.State)
				fmt.Fprintf(w, "retries   %d\n", view.AttemptCount)
				if view.ErrorClass != "" {
					fmt.Fprintf(w, "error     [%s] %s\n", view.ErrorClass, view.ErrorDescription)
				}
				if view.NextAttemptAt != nil {
					fmt.Fprintf(w, "next      %s\n", view.NextAttemptAt.Format("2006-01-02T15:04:05Z07:00"))
				}
				m := view.Metrics
				fmt.Fprintf(w, "files     %d extracted, %d parsed, %d bytes\n", m.FilesExtracted, m.FilesParsed, m.BytesExtracted)
				fmt.Fprintf(w, "stanzas   %d (%d written), %d lines skipped\n", m.Stanzas, m.StanzasWritten, m.LinesSkipped)
				families := make([]string, 0, len(m.RecordsWritten))
				for f := range m.RecordsWritten {
					families = append(families, f)
				}
				sort.Strings(families)
				for _, f := range families {
					fmt.Fprintf(w, "  %-12s %d\n", f, m.RecordsWritten[f])
				}
				if m.ArchiveDigest != "" {
					fmt.Fprintf(w, "digest    %s\n", m.ArchiveDigest)
				}
				if showDetail && job.ErrorDetail != "" {
					fmt.Fprintf(w, "\n%s\n", job.ErrorDetail)
				}
			})
		},
	}

	cmd.Flags().BoolVar(&showDetail, "detail", false, "print the full diagnostic error chain")
	return cmd
}
