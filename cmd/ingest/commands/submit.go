package commands

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/timmy/confingest/internal/archive"
	"github.com/timmy/confingest/internal/domain"
	"github.com/timmy/confingest/internal/logger"
	"github.com/timmy/confingest/internal/repository"
)

func newSubmitCommand() *cobra.Command {
	var (
		prefix string
		format string
		runNow bool
	)

	cmd := &cobra.Command{
		Use:   "submit <archive>",
		Short: "Upload an archive and create a STORED job",
		Long: `Upload a .tar, .tar.gz/.tgz or .zip configuration bundle to the blob
store and record an ingestion job for it.

The job is created PENDING, moved to STORED once the upload succeeds and
picked up by the server on its next trigger or restart.`,
		Example: `  # Upload and queue a bundle
  ingest submit ./etc.tar.gz

  # Upload and ingest immediately in this process
  ingest submit ./etc.zip --run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			file := args[0]

			var (
				f   archive.Format
				err error
			)
			if format != "" {
				f, err = archive.ParseFormat(format)
			} else {
				f, err = archive.FormatFromName(filepath.Base(file))
			}
			if err != nil {
				return err
			}

			src, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("open archive: %w", err)
			}
			defer src.Close()
			info, err := src.Stat()
			if err != nil {
				return fmt.Errorf("stat archive: %w", err)
			}

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			job := &domain.Job{
				ID:            uuid.New().String(),
				ArchiveFormat: string(f),
				State:         domain.JobStatePending,
			}
			job.ArchiveKey = path.Join(prefix, job.ID, filepath.Base(file))
			if err := a.Jobs.Create(ctx, job); err != nil {
				return fmt.Errorf("create job: %w", err)
			}

			log := logger.GetDefault().WithFields(logger.Fields{
				logger.FieldJobID:      job.ID,
				logger.FieldArchiveKey: job.ArchiveKey,
			})
			log.WithField("size", info.Size()).Info("Uploading archive")
			if err := a.Storage.Upload(ctx, job.ArchiveKey, src, info.Size(), contentType(f)); err != nil {
				return fmt.Errorf("upload archive: %w", err)
			}
			if err := a.Jobs.UpdateState(ctx, job.ID, repository.StateUpdate{
				State: domain.JobStateStored,
				From:  []domain.JobState{domain.JobStatePending},
			}); err != nil {
				return fmt.Errorf("mark job stored: %w", err)
			}
			log.Info("Job stored")

			if runNow {
				return runJob(ctx, cmd.OutOrStdout(), a.Orchestrator, job.ID)
			}

			job.State = domain.JobStateStored
			return printResult(cmd.OutOrStdout(), job, func(w io.Writer) {
				fmt.Fprintf(w, "job %s stored (%s)\n", job.ID, job.ArchiveKey)
			})
		},
	}

	cmd.Flags().StringVar(&prefix, "prefix", "archives", "blob store key prefix")
	cmd.Flags().StringVar(&format, "format", "", "archive format (tar, tar.gz, zip); inferred from the file name when empty")
	cmd.Flags().BoolVar(&runNow, "run", false, "run the job in this process after upload")

	return cmd
}

func contentType(f archive.Format) string {
	switch f {
	case archive.FormatZip:
		return "application/zip"
	case archive.FormatTarGz:
		return "application/gzip"
	}
	return "application/x-tar"
}
