package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yodel/yodel-go/internal/download"
	apperrors "github.com/yodel/yodel-go/internal/errors"
	"github.com/yodel/yodel-go/internal/store"
)

func newAddCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <url|id>...",
		Short: "Queue tracks by video link or id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.app()
			if err != nil {
				return err
			}
			defer closeApp(app)

			res, err := app.Library.Enqueue(cmd.Context(), args...)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, id := range res.Added {
				fmt.Fprintf(out, "added %s\n", id)
			}
			for _, id := range res.Skipped {
				fmt.Fprintf(out, "skipped %s (already in library)\n", id)
			}
			return nil
		},
	}
}

func newListCmd(opts *rootOptions) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracks in the library",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.app()
			if err != nil {
				return err
			}
			defer closeApp(app)

			var tracks []*store.Track
			if status != "" {
				s := store.ParseStatus(status)
				if s.Key() != status {
					return apperrors.NewValidationError(fmt.Sprintf("unknown status %q", status))
				}
				tracks, err = app.Library.ListByStatus(cmd.Context(), s)
			} else {
				tracks, err = app.Library.List(cmd.Context())
			}
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tTITLE\tARTIST\tDURATION")
			for _, t := range tracks {
				duration := ""
				if t.Duration != nil {
					duration = download.FormatETA(*t.Duration)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Status, t.Title, t.Artist, duration)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only list tracks in this status (pending, downloading, downloaded, failed, deleted)")
	return cmd
}

func newRetryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Queue a failed or deleted track again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.app()
			if err != nil {
				return err
			}
			defer closeApp(app)

			if err := app.Library.Retry(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %s\n", args[0])
			return nil
		},
	}
}

func newDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a track and its files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.app()
			if err != nil {
				return err
			}
			defer closeApp(app)

			if err := app.Library.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show library counts and external tool availability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.app()
			if err != nil {
				return err
			}
			defer closeApp(app)

			counts, err := app.Library.Counts(cmd.Context())
			if err != nil {
				return err
			}
			deps := app.Extractor.CheckDependencies()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, s := range []store.TrackStatus{store.StatusPending, store.StatusDownloading, store.StatusDownloaded, store.StatusFailed, store.StatusFileDeleted} {
				fmt.Fprintf(w, "%s\t%d\n", s, counts[s])
			}
			fmt.Fprintf(w, "extractor\t%s\n", toolState(deps.ExtractorFound, deps.ExtractorPath))
			fmt.Fprintf(w, "ffmpeg\t%s\n", toolState(deps.FFmpegFound, deps.FFmpegPath))
			fmt.Fprintf(w, "downloads\t%s\n", app.Config.Download.OutputDir)
			return w.Flush()
		},
	}
}

func toolState(found bool, path string) string {
	if !found {
		return "not found"
	}
	return path
}
