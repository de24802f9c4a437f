package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/yodel/yodel-go/internal/errors"
	"github.com/yodel/yodel-go/internal/extractor"
	"github.com/yodel/yodel-go/internal/metadata"
	"github.com/yodel/yodel-go/internal/monitoring"
	"github.com/yodel/yodel-go/internal/storage"
	"github.com/yodel/yodel-go/internal/store"
)

// finalizeTimeout bounds the status write after a pipeline run
const finalizeTimeout = 10 * time.Second

// Extractor fetches audio, metadata and thumbnail for a video
type Extractor interface {
	Init(ctx context.Context) error
	Format() extractor.Format
	VideoURL(id string) string
	Download(ctx context.Context, files *extractor.TempFiles, url string, progress extractor.ProgressFunc) (*extractor.Result, error)
}

// Tagger writes tags into a finished audio file
type Tagger interface {
	Supports(ext string) bool
	WriteTags(path string, tags metadata.Tags, coverPath string) error
}

// Options configures the manager
type Options struct {
	Workers       int
	TempDir       string
	EnableTagging bool
}

// Summary counts the outcomes of a RunOnce call
type Summary struct {
	Downloaded int
	Failed     int
}

// Manager turns pending tracks into downloaded files
type Manager struct {
	opts      Options
	tracks    *store.TrackStore
	extractor Extractor
	tagger    Tagger
	placer    *storage.Placer
	notifier  Notifier
	reporter  *ErrorReporter
	logger    *zap.Logger

	pool *WorkerPool

	mu      sync.Mutex
	started bool
	sub     *store.Subscription
	cancel  context.CancelFunc
	done    chan struct{}

	downloaded atomic.Int64
	failed     atomic.Int64
}

// NewManager creates a new download manager. notifier and reporter may be nil.
func NewManager(
	opts Options,
	tracks *store.TrackStore,
	ext Extractor,
	tagger Tagger,
	placer *storage.Placer,
	notifier Notifier,
	reporter *ErrorReporter,
	logger *zap.Logger,
) *Manager {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		opts:      opts,
		tracks:    tracks,
		extractor: ext,
		tagger:    tagger,
		placer:    placer,
		notifier:  notifier,
		reporter:  reporter,
		logger:    logger.Named("download"),
	}
	m.pool = NewWorkerPool(opts.Workers, m.handleJob, m.logger)
	return m
}

// Start resets interrupted downloads, prepares the extractor and keeps
// processing pending tracks until ctx is done or Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("download manager already started")
	}

	if err := m.prepare(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	if err := m.pool.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	m.sub = m.tracks.SubscribePending()
	m.cancel = cancel
	m.done = make(chan struct{})
	m.started = true

	go m.schedule(ctx, m.sub, m.done)

	m.logger.Info("Download manager started", zap.Int("workers", m.opts.Workers))
	return nil
}

// Stop stops scheduling, cancels running pipelines and waits for them to
// record their final status.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	cancel, sub, done := m.cancel, m.sub, m.done
	m.mu.Unlock()

	cancel()
	sub.Close()
	<-done
	m.pool.Stop()

	m.logger.Info("Download manager stopped")
}

// RunOnce processes pending tracks until none remain, then returns
func (m *Manager) RunOnce(ctx context.Context) (Summary, error) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return Summary{}, fmt.Errorf("download manager already started")
	}
	m.started = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.started = false
		m.mu.Unlock()
	}()

	downloaded, failed := m.downloaded.Load(), m.failed.Load()
	summary := func() Summary {
		return Summary{
			Downloaded: int(m.downloaded.Load() - downloaded),
			Failed:     int(m.failed.Load() - failed),
		}
	}

	if err := m.prepare(ctx); err != nil {
		return Summary{}, err
	}

	if err := m.pool.Start(ctx); err != nil {
		return Summary{}, fmt.Errorf("failed to start worker pool: %w", err)
	}
	defer m.pool.Stop()

	// A track is attempted at most once per run, so a track that keeps
	// failing to claim cannot spin the loop.
	attempted := make(map[string]bool)
	for {
		submitted, err := m.drain(ctx, attempted)
		if err != nil {
			return summary(), err
		}
		if submitted == 0 && m.pool.Tracked() == 0 {
			return summary(), nil
		}
		if err := m.pool.WaitIdle(ctx); err != nil {
			return summary(), err
		}
	}
}

// prepare runs the startup steps shared by Start and RunOnce
func (m *Manager) prepare(ctx context.Context) error {
	reset, err := m.tracks.ResetDownloadingToPending(ctx)
	if err != nil {
		return fmt.Errorf("failed to reset interrupted downloads: %w", err)
	}
	if reset > 0 {
		m.logger.Info("Reset interrupted downloads", zap.Int64("count", reset))
	}

	if err := m.extractor.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize extractor: %w", err)
	}

	if err := storage.EnsureDir(m.opts.TempDir); err != nil {
		return err
	}
	if err := storage.EnsureDir(m.placer.AudioDir()); err != nil {
		return err
	}
	if err := storage.CheckWritable(m.placer.AudioDir()); err != nil {
		return fmt.Errorf("downloads directory is not writable: %w", err)
	}
	return nil
}

// schedule drains the pending set on every store change and after every
// job leaves the pool. A track set back to pending while its previous run
// still held the id is submitted once the pool lets go of it.
func (m *Manager) schedule(ctx context.Context, sub *store.Subscription, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sub.C:
			if !ok {
				return
			}
		case <-m.pool.Released():
		}

		if _, err := m.drain(ctx, nil); err != nil && ctx.Err() == nil {
			m.logger.Error("Failed to schedule pending tracks", zap.Error(err))
		}
	}
}

// drain submits every pending track not already held by the pool. Ids in
// attempted are skipped and newly submitted ids are added to it.
func (m *Manager) drain(ctx context.Context, attempted map[string]bool) (int, error) {
	pending, err := m.tracks.PendingAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending tracks: %w", err)
	}
	monitoring.UpdatePendingTracks(len(pending))

	submitted := 0
	for _, t := range pending {
		if attempted != nil && attempted[t.ID] {
			continue
		}
		ok, err := m.pool.Submit(t.ID)
		if err != nil {
			return submitted, err
		}
		if ok {
			submitted++
			if attempted != nil {
				attempted[t.ID] = true
			}
		}
	}
	return submitted, nil
}

func (m *Manager) handleJob(ctx context.Context, job *Job) error {
	return m.ProcessOne(ctx, job.TrackID)
}

// ActiveDownloads returns the number of tracks being processed
func (m *Manager) ActiveDownloads() int {
	return m.pool.GetActiveJobCount()
}

// ProcessOne claims a pending track and runs the full pipeline for it. A
// track that is no longer pending is left alone.
func (m *Manager) ProcessOne(ctx context.Context, id string) (err error) {
	claimed, err := m.tracks.ClaimPending(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to claim track %s: %w", id, err)
	}
	if !claimed {
		return nil
	}

	track, err := m.tracks.Get(ctx, id)
	if err != nil {
		m.finalize(id, nil, err, time.Now())
		return err
	}

	start := time.Now()
	monitoring.RecordDownloadStart()
	m.notifier.NotifyStarted(id)
	m.logger.Info("Processing track", zap.String("track_id", id))

	files := extractor.NewTempFiles(m.opts.TempDir, id, m.extractor.Format())

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panicked: %v", r)
			m.logger.Error("Pipeline panicked", zap.String("track_id", id), zap.Any("panic", r), zap.Stack("stack"))
		}
		if cerr := files.Delete(); cerr != nil {
			m.logger.Warn("Failed to remove temp files", zap.String("track_id", id), zap.Error(cerr))
		}
		m.finalize(id, track, err, start)
	}()

	return m.run(ctx, track, files)
}

// run executes the pipeline stages, updating track in place
func (m *Manager) run(ctx context.Context, track *store.Track, files *extractor.TempFiles) error {
	id := track.ID
	format := m.extractor.Format()

	m.notifier.NotifyStage(id, StageStarting)
	url := m.extractor.VideoURL(id)

	m.notifier.NotifyStage(id, StageDownloading)
	res, err := m.extractor.Download(ctx, files, url, func(percent float64, eta int64, _ string) {
		m.notifier.NotifyProgress(id, percent, eta)
	})
	if err != nil {
		return err
	}

	m.notifier.NotifyStage(id, StageMetadata)
	raw, err := metadata.ParseMetadataFile(res.Metadata)
	if err != nil {
		return err
	}
	raw.Resolve().ApplyTo(track)

	if m.opts.EnableTagging && m.tagger != nil && m.tagger.Supports(format.Extension) {
		m.notifier.NotifyStage(id, StageTagging)
		if err := m.tagger.WriteTags(res.Audio, metadata.TagsFor(track), res.Thumbnail); err != nil {
			monitoring.RecordNonFatal(string(StageTagging))
			m.logger.Warn("Failed to write tags", append(monitoring.TrackFields(id, string(StageTagging)), zap.Error(err))...)
		}
	}

	m.notifier.NotifyStage(id, StageFinishing)
	audioKey, err := m.placer.PlaceAudio(res.Audio, track.Title, format.Extension)
	if err != nil {
		return err
	}
	if track.AudioFileKey != "" && track.AudioFileKey != audioKey {
		if err := m.placer.Delete(track.AudioFileKey); err != nil {
			m.logger.Warn("Failed to remove previous audio file", zap.String("track_id", id), zap.Error(err))
		}
	}
	track.AudioFileKey = audioKey

	if res.Thumbnail != "" {
		m.notifier.NotifyStage(id, StageCover)
		coverKey, err := m.placer.PlaceCover(res.Thumbnail, id)
		if err != nil {
			monitoring.RecordNonFatal(string(StageCover))
			m.logger.Warn("Failed to store cover", append(monitoring.TrackFields(id, string(StageCover)), zap.Error(err))...)
		} else {
			if track.CoverFileKey != "" && track.CoverFileKey != coverKey {
				if err := m.placer.Delete(track.CoverFileKey); err != nil {
					m.logger.Warn("Failed to remove previous cover", zap.String("track_id", id), zap.Error(err))
				}
			}
			track.CoverFileKey = coverKey
		}
	}

	track.Status = store.StatusDownloaded
	return nil
}

// finalize persists the outcome of a pipeline run. It runs on a fresh
// context so a shutdown cannot leave the track stuck in downloading.
func (m *Manager) finalize(id string, track *store.Track, runErr error, start time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	var outcome store.TrackStatus
	recorded := false
	if runErr == nil && track != nil && track.Status == store.StatusDownloaded {
		err := m.tracks.Update(ctx, track)
		switch {
		case err == nil:
			recorded = true
		case apperrors.IsNotFound(err):
			// Deleted while downloading; the placed files have no owner
			recorded = true
			m.logger.Warn("Track removed during download", zap.String("track_id", id))
			m.removeOrphans(track)
		default:
			m.logger.Error("Failed to record downloaded track", zap.String("track_id", id), zap.Error(err))
			m.removeOrphans(track)
			runErr = fmt.Errorf("failed to record downloaded track: %w", err)
		}
	}

	switch {
	case recorded:
		outcome = store.StatusDownloaded
	case isCancellation(runErr):
		outcome = store.StatusPending
		if _, err := m.tracks.SetStatus(ctx, id, store.StatusDownloading, store.StatusPending); err != nil {
			m.logger.Error("Failed to return track to pending", zap.String("track_id", id), zap.Error(err))
		}
	default:
		outcome = store.StatusFailed
		if _, err := m.tracks.SetStatus(ctx, id, store.StatusDownloading, store.StatusFailed); err != nil {
			m.logger.Error("Failed to record failed track", zap.String("track_id", id), zap.Error(err))
		}
	}

	if track == nil {
		return
	}
	monitoring.RecordDownloadComplete(outcome.Key(), time.Since(start))

	switch outcome {
	case store.StatusDownloaded:
		m.downloaded.Add(1)
		m.notifier.NotifyCompleted(id)
		m.logger.Info("Track downloaded",
			zap.String("track_id", id),
			zap.String("title", track.Title),
			zap.Duration("duration", time.Since(start)))
	case store.StatusPending:
		m.notifier.NotifyFailed(id, runErr)
		m.logger.Info("Track download cancelled", zap.String("track_id", id))
	default:
		m.failed.Add(1)
		m.notifier.NotifyFailed(id, runErr)
		m.logger.Error("Track failed",
			zap.String("track_id", id),
			zap.String("error_type", string(apperrors.GetErrorType(runErr))),
			zap.Error(runErr))
		m.report(id, runErr)
	}
}

func (m *Manager) report(id string, err error) {
	if m.reporter == nil || !apperrors.IsExtractionError(err) {
		return
	}
	if _, rerr := m.reporter.Report(id, err); rerr != nil {
		monitoring.RecordNonFatal("error_report")
		m.logger.Warn("Failed to write error report", zap.String("track_id", id), zap.Error(rerr))
	}
}

// removeOrphans deletes files placed for a track whose record vanished mid-run
func (m *Manager) removeOrphans(track *store.Track) {
	for _, key := range []string{track.AudioFileKey, track.CoverFileKey} {
		if err := m.placer.Delete(key); err != nil {
			m.logger.Warn("Failed to remove orphaned file", zap.String("track_id", track.ID), zap.Error(err))
		}
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
