package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yodel/yodel-go/internal/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Download pending tracks continuously until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.app()
			if err != nil {
				return err
			}
			defer closeApp(app)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, app)
		},
	}
}

// serve runs the orchestrator, reconciliation and the optional API until ctx is done
func serve(ctx context.Context, app *App) error {
	app.Notifier.Start(ctx)

	if err := app.Manager.Start(ctx); err != nil {
		return err
	}
	defer app.Manager.Stop()

	if err := app.Reconciler.Start(ctx); err != nil {
		return err
	}
	defer app.Reconciler.Stop()

	var serveErrs <-chan error
	if app.Config.Server.Enabled {
		srv := server.New(server.Deps{
			Library:         app.Library,
			Health:          app.Health,
			Notifier:        app.Notifier,
			ActiveDownloads: app.Manager.ActiveDownloads,
		}, app.Logger)
		if err := srv.Start(app.Config.Server.Listen); err != nil {
			return err
		}
		defer func() {
			if err := srv.Shutdown(context.Background()); err != nil {
				app.Logger.Warn("HTTP server shutdown failed", zap.Error(err))
			}
		}()
		serveErrs = srv.Errors()
	}

	app.Logger.Info("yodel is running", zap.String("version", Version), zap.String("downloads", app.Config.Download.OutputDir))

	select {
	case <-ctx.Done():
		app.Logger.Info("Shutting down")
		return nil
	case err, ok := <-serveErrs:
		if ok && err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	}
}

func newDownloadCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "download",
		Short: "Download every pending track once, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.app()
			if err != nil {
				return err
			}
			defer closeApp(app)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			summary, err := app.Manager.RunOnce(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "downloaded: %d, failed: %d\n", summary.Downloaded, summary.Failed)
			return err
		},
	}
}

func newReconcileCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Mark downloaded tracks whose file is gone as deleted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.app()
			if err != nil {
				return err
			}
			defer closeApp(app)

			res, err := app.Reconciler.Pass(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checked: %d, marked deleted: %d\n", res.Checked, res.Demoted)
			return nil
		},
	}
}
