package download

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Job is one track to process
type Job struct {
	TrackID string
	ctx     context.Context
	cancel  context.CancelFunc
}

// JobHandler is a function that processes a job
type JobHandler func(ctx context.Context, job *Job) error

// WorkerPool runs jobs on a fixed number of goroutines. A track id is held
// at most once, whether queued or active.
type WorkerPool struct {
	maxWorkers int
	jobs       chan *Job
	handler    JobHandler
	logger     *zap.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	started  bool
	tracked  map[string]*Job // queued or active, by track id
	active   map[string]*Job
	idle     chan struct{}
	released chan struct{}
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(maxWorkers int, handler JobHandler, logger *zap.Logger) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerPool{
		maxWorkers: maxWorkers,
		jobs:       make(chan *Job, 1024),
		handler:    handler,
		logger:     logger.Named("pool"),
		tracked:    make(map[string]*Job),
		active:     make(map[string]*Job),
		idle:       make(chan struct{}, 1),
		released:   make(chan struct{}, 1),
	}
}

// Start spawns worker goroutines and begins processing jobs
func (wp *WorkerPool) Start(ctx context.Context) error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.started {
		return fmt.Errorf("worker pool already started")
	}

	if wp.handler == nil {
		return fmt.Errorf("job handler not set")
	}

	wp.ctx, wp.cancel = context.WithCancel(ctx)

	for i := 0; i < wp.maxWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}

	wp.started = true
	return nil
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	wp.logger.Debug("Worker started", zap.Int("worker", id))

	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debug("Worker stopping", zap.Int("worker", id), zap.Error(wp.ctx.Err()))
			return

		case job := <-wp.jobs:
			wp.processJob(job)
		}
	}
}

func (wp *WorkerPool) processJob(job *Job) {
	wp.mu.Lock()
	wp.active[job.TrackID] = job
	wp.mu.Unlock()

	defer wp.release(job)

	if err := job.ctx.Err(); err != nil {
		return
	}

	if err := wp.handler(job.ctx, job); err != nil {
		wp.logger.Debug("Job finished with error", zap.String("track_id", job.TrackID), zap.Error(err))
	}
}

func (wp *WorkerPool) release(job *Job) {
	job.cancel()

	wp.mu.Lock()
	delete(wp.active, job.TrackID)
	if wp.tracked[job.TrackID] == job {
		delete(wp.tracked, job.TrackID)
	}
	empty := len(wp.tracked) == 0
	wp.mu.Unlock()

	select {
	case wp.released <- struct{}{}:
	default:
	}
	if empty {
		select {
		case wp.idle <- struct{}{}:
		default:
		}
	}
}

// Submit queues a track. It reports false when the track is already queued
// or being processed.
func (wp *WorkerPool) Submit(trackID string) (bool, error) {
	wp.mu.Lock()
	if !wp.started {
		wp.mu.Unlock()
		return false, fmt.Errorf("worker pool not started")
	}
	if _, ok := wp.tracked[trackID]; ok {
		wp.mu.Unlock()
		return false, nil
	}
	job := &Job{TrackID: trackID}
	job.ctx, job.cancel = context.WithCancel(wp.ctx)
	wp.tracked[trackID] = job
	wp.mu.Unlock()

	select {
	case wp.jobs <- job:
		return true, nil
	case <-wp.ctx.Done():
		wp.release(job)
		return false, fmt.Errorf("worker pool is shutting down")
	}
}

// Stop cancels every job and waits for the workers to exit
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.started {
		wp.mu.Unlock()
		return
	}
	wp.started = false
	wp.mu.Unlock()

	wp.cancel()
	wp.wg.Wait()

	// Jobs left in the channel were never started
	for {
		select {
		case job := <-wp.jobs:
			wp.release(job)
		default:
			return
		}
	}
}

// WaitIdle blocks until nothing is queued or active
func (wp *WorkerPool) WaitIdle(ctx context.Context) error {
	for {
		if wp.Tracked() == 0 {
			return nil
		}
		select {
		case <-wp.idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Released signals after a track id is dropped from the pool. Signals
// coalesce, so a receiver must re-check every held id.
func (wp *WorkerPool) Released() <-chan struct{} {
	return wp.released
}

// CancelJob cancels a specific job by track id
func (wp *WorkerPool) CancelJob(trackID string) error {
	wp.mu.RLock()
	job, ok := wp.tracked[trackID]
	wp.mu.RUnlock()

	if !ok {
		return fmt.Errorf("job not found: %s", trackID)
	}
	job.cancel()
	return nil
}

// GetActiveJobCount returns the number of currently active jobs
func (wp *WorkerPool) GetActiveJobCount() int {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return len(wp.active)
}

// Tracked returns the number of queued plus active jobs
func (wp *WorkerPool) Tracked() int {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return len(wp.tracked)
}

// IsJobActive checks if a track is currently being processed
func (wp *WorkerPool) IsJobActive(trackID string) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	_, ok := wp.active[trackID]
	return ok
}

// GetMaxWorkers returns the maximum number of workers
func (wp *WorkerPool) GetMaxWorkers() int {
	return wp.maxWorkers
}
