package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/yodel/yodel-go/internal/backup"
)

func newBackupCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backup <file>",
		Short: "Write every track to a JSON backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.app()
			if err != nil {
				return err
			}
			defer closeApp(app)

			path := args[0]
			tmp, err := os.CreateTemp(filepath.Dir(path), ".yodel-backup-*")
			if err != nil {
				return fmt.Errorf("failed to create backup file: %w", err)
			}
			defer os.Remove(tmp.Name())

			n, err := app.Backup.Create(cmd.Context(), tmp)
			if cerr := tmp.Close(); err == nil && cerr != nil {
				err = fmt.Errorf("failed to write backup file: %w", cerr)
			}
			if err != nil {
				return err
			}
			if err := os.Rename(tmp.Name(), path); err != nil {
				return fmt.Errorf("failed to save backup: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "backed up %d tracks to %s\n", n, path)
			return nil
		},
	}
}

func newRestoreCmd(opts *rootOptions) *cobra.Command {
	var (
		replace      bool
		forcePending bool
	)

	cmd := &cobra.Command{
		Use:   "restore <file>",
		Short: "Restore tracks from a JSON backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open backup: %w", err)
			}
			defer f.Close()

			doc, err := backup.Read(f)
			if err != nil {
				return err
			}

			app, err := opts.app()
			if err != nil {
				return err
			}
			defer closeApp(app)

			var transform backup.Transform
			if forcePending {
				transform = backup.ForcePending
			}
			n, err := app.Backup.Restore(cmd.Context(), doc, replace, transform)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %d of %d tracks\n", n, len(doc.Tracks))
			return nil
		},
	}

	cmd.Flags().BoolVar(&replace, "replace", false, "overwrite tracks that already exist")
	cmd.Flags().BoolVar(&forcePending, "force-pending", false, "queue every restored track for download")
	return cmd
}
