// Package reconcile demotes downloaded tracks whose audio file has vanished.
//
// A pass runs on a fixed interval and, when watching is enabled, shortly
// after files are removed or renamed in the downloads directory.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/yodel/yodel-go/internal/monitoring"
	"github.com/yodel/yodel-go/internal/store"
)

// DefaultDebounce is the quiet period after a file event before a pass runs
const DefaultDebounce = 2 * time.Second

// FileChecker reports whether a file key still points at an existing file
type FileChecker interface {
	Exists(key string) bool
}

// Options configures the service
type Options struct {
	Interval time.Duration
	// WatchDir is watched for removals when Watch is set
	WatchDir string
	Watch    bool
	Debounce time.Duration
}

// Result describes one pass
type Result struct {
	Checked int
	Demoted int
	// Skipped is set when another pass was already running
	Skipped bool
}

// Service runs reconciliation passes
type Service struct {
	tracks *store.TrackStore
	files  FileChecker
	opts   Options
	logger *zap.Logger

	mu         sync.Mutex
	inProgress bool
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewService creates a reconciliation service
func NewService(tracks *store.TrackStore, files FileChecker, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	return &Service{
		tracks: tracks,
		files:  files,
		opts:   opts,
		logger: logger.Named("reconcile"),
	}
}

// Pass moves every downloaded track whose audio file is missing to
// FileDeleted. Passes never overlap; a concurrent call returns Skipped.
func (s *Service) Pass(ctx context.Context) (Result, error) {
	s.mu.Lock()
	if s.inProgress {
		s.mu.Unlock()
		s.logger.Debug("Reconciliation already running, skipping")
		return Result{Skipped: true}, nil
	}
	s.inProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inProgress = false
		s.mu.Unlock()
	}()

	downloaded, err := s.tracks.DownloadedAll(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list downloaded tracks: %w", err)
	}

	res := Result{Checked: len(downloaded)}
	for _, t := range downloaded {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if t.AudioFileKey != "" && s.files.Exists(t.AudioFileKey) {
			continue
		}

		// The swap fails when the track changed since it was listed
		ok, err := s.tracks.SetStatus(ctx, t.ID, store.StatusDownloaded, store.StatusFileDeleted)
		if err != nil {
			return res, fmt.Errorf("failed to demote track %s: %w", t.ID, err)
		}
		if ok {
			res.Demoted++
			s.logger.Info("Audio file missing, marked deleted", zap.String("track_id", t.ID), zap.String("title", t.Title))
		}
	}

	monitoring.RecordReconcile(res.Demoted)
	s.logger.Debug("Reconciliation finished", zap.Int("checked", res.Checked), zap.Int("demoted", res.Demoted))
	return res, nil
}

// Start runs a pass immediately and then keeps reconciling in the
// background until ctx is done or Stop is called.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return fmt.Errorf("reconciliation already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	var watcher *fsnotify.Watcher
	if s.opts.Watch && s.opts.WatchDir != "" {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			s.logger.Warn("File watcher unavailable, using the interval only", zap.Error(err))
		} else if err := w.Add(s.opts.WatchDir); err != nil {
			w.Close()
			s.logger.Warn("Failed to watch downloads directory", zap.String("dir", s.opts.WatchDir), zap.Error(err))
		} else {
			watcher = w
		}
	}

	go s.run(ctx, watcher)

	s.logger.Info("Reconciliation started",
		zap.Duration("interval", s.opts.Interval),
		zap.Bool("watching", watcher != nil))
	return nil
}

// Stop stops the background loop and waits for it to exit
func (s *Service) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("Reconciliation stopped")
}

func (s *Service) run(ctx context.Context, watcher *fsnotify.Watcher) {
	defer close(s.done)

	var (
		events   <-chan fsnotify.Event
		errs     <-chan error
		tick     <-chan time.Time
		debounce *time.Timer
		fire     <-chan time.Time
	)
	if watcher != nil {
		defer watcher.Close()
		events, errs = watcher.Events, watcher.Errors
	}
	if s.opts.Interval > 0 {
		ticker := time.NewTicker(s.opts.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	s.runPass(ctx)

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case <-tick:
			s.runPass(ctx)

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(s.opts.Debounce)
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(s.opts.Debounce)
			}
			fire = debounce.C

		case <-fire:
			fire = nil
			s.runPass(ctx)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.logger.Warn("File watcher error", zap.Error(err))
		}
	}
}

func (s *Service) runPass(ctx context.Context) {
	if _, err := s.Pass(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("Reconciliation failed", zap.Error(err))
	}
}
