package cli

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/yodel/yodel-go/internal/backup"
	"github.com/yodel/yodel-go/internal/config"
	"github.com/yodel/yodel-go/internal/download"
	"github.com/yodel/yodel-go/internal/extractor"
	"github.com/yodel/yodel-go/internal/library"
	"github.com/yodel/yodel-go/internal/metadata"
	"github.com/yodel/yodel-go/internal/monitoring"
	"github.com/yodel/yodel-go/internal/reconcile"
	"github.com/yodel/yodel-go/internal/storage"
	"github.com/yodel/yodel-go/internal/store"
)

// App holds every wired component for one command invocation
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	DB         *sql.DB
	Tracks     *store.TrackStore
	Placer     *storage.Placer
	Extractor  *extractor.Client
	Notifier   *download.ProgressNotifier
	Manager    *download.Manager
	Library    *library.Service
	Backup     *backup.Service
	Reconciler *reconcile.Service
	Health     *monitoring.HealthChecker
}

// NewApp opens the store and wires the services described by cfg
func NewApp(cfg *config.Config, logger *zap.Logger, extractorOpts ...extractor.Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := storage.EnsureDir(cfg.Storage.DataDir); err != nil {
		return nil, err
	}

	db, err := store.InitDB(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	tracks := store.NewTrackStore(db)

	placer, err := storage.NewFromDirs(cfg.Storage.DataDir, cfg.Storage.KeySecret, storage.Config{
		AudioDir: cfg.Download.OutputDir,
		CoverDir: cfg.Storage.CoverDir,
	}, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	extCfg, err := cfg.ExtractorSettings()
	if err != nil {
		db.Close()
		return nil, err
	}
	client := extractor.NewClient(extCfg, logger, extractorOpts...)

	var reporter *download.ErrorReporter
	if cfg.Download.ErrorReports {
		reporter = download.NewErrorReporter(cfg.Storage.DataDir, cfg.ErrorReportInterval(), logger)
	}

	notifier := download.NewProgressNotifier(logger)
	manager := download.NewManager(
		download.Options{
			Workers:       cfg.Download.Workers,
			TempDir:       cfg.Storage.TempDir,
			EnableTagging: cfg.Download.EnableTagging,
		},
		tracks,
		client,
		metadata.NewTagWriter(logger, cfg.Download.ArtworkSize),
		placer,
		notifier,
		reporter,
		logger,
	)

	health := monitoring.NewHealthChecker(Version, db)
	health.AddProbe("extractor", func(context.Context) monitoring.Check {
		deps := client.CheckDependencies()
		return monitoring.DependencyCheck("extractor", deps.ExtractorFound, deps.ExtractorPath)
	})
	health.AddProbe("ffmpeg", func(context.Context) monitoring.Check {
		deps := client.CheckDependencies()
		return monitoring.DependencyCheck("ffmpeg", deps.FFmpegFound, deps.FFmpegPath)
	})
	health.AddProbe("downloads_dir", func(context.Context) monitoring.Check {
		return monitoring.ErrorCheck(storage.CheckWritable(cfg.Download.OutputDir), "writable")
	})

	return &App{
		Config:    cfg,
		Logger:    logger,
		DB:        db,
		Tracks:    tracks,
		Placer:    placer,
		Extractor: client,
		Notifier:  notifier,
		Manager:   manager,
		Library:   library.NewService(tracks, placer, logger),
		Backup:    backup.NewService(tracks, logger),
		Reconciler: reconcile.NewService(tracks, placer, reconcile.Options{
			Interval: cfg.ReconcileInterval(),
			WatchDir: cfg.Download.OutputDir,
			Watch:    cfg.Reconcile.Watch,
		}, logger),
		Health: health,
	}, nil
}

// Close releases the database
func (a *App) Close() error {
	a.Logger.Sync()
	return a.DB.Close()
}
