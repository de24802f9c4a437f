// Package cli implements the yodel command line.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yodel/yodel-go/internal/config"
	"github.com/yodel/yodel-go/internal/extractor"
	"github.com/yodel/yodel-go/internal/monitoring"
)

// Version is set at build time
var Version = "dev"

// rootOptions carries global flags and the loaded configuration
type rootOptions struct {
	configPath    string
	cfg           *config.Config
	extractorOpts []extractor.Option
}

// app builds the components for a command. The caller closes it.
func (o *rootOptions) app() (*App, error) {
	logger, err := monitoring.NewLogger(o.cfg.LogSettings())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app, err := NewApp(o.cfg, logger, o.extractorOpts...)
	if err != nil {
		logger.Sync()
		return nil, err
	}
	return app, nil
}

// NewRootCmd creates the root command with every subcommand attached
func NewRootCmd() *cobra.Command {
	return newRootCmd(&rootOptions{})
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:           "yodel",
		Short:         "yodel keeps a local library of audio downloaded from video links.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A .env file may carry YODEL_* overrides; existing env vars win
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to load .env: %w", err)
			}
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			return nil
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to settings.json (default <data dir>/settings.json)")

	root.AddCommand(
		newServeCmd(opts),
		newDownloadCmd(opts),
		newAddCmd(opts),
		newListCmd(opts),
		newRetryCmd(opts),
		newDeleteCmd(opts),
		newBackupCmd(opts),
		newRestoreCmd(opts),
		newReconcileCmd(opts),
		newStatusCmd(opts),
	)
	return root
}

// Execute runs the command line and exits non-zero on failure
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func closeApp(app *App) {
	if err := app.Close(); err != nil {
		app.Logger.Warn("Failed to close database", zap.Error(err))
	}
}
