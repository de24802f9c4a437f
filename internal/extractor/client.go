package extractor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/yodel/yodel-go/internal/errors"
	"github.com/yodel/yodel-go/internal/monitoring"
)

// DefaultAttempts is the total number of extractor runs per download
const DefaultAttempts = 10

// Config holds extractor settings
type Config struct {
	Binary         string
	FFmpegBinary   string
	CacheDir       string
	Format         Format
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	TLSRelaxed     bool
	VideoIDOnly    bool
	Verbose        bool
	SelfUpdate     bool
	Overwrite      bool
}

// DependencyReport describes the external binaries found on this host
type DependencyReport struct {
	ExtractorFound bool
	ExtractorPath  string
	FFmpegFound    bool
	FFmpegPath     string
}

// Result describes the files a successful download produced
type Result struct {
	Audio     string
	Metadata  string
	Thumbnail string
	Attempts  int
}

// Option configures a Client
type Option func(*Client)

// WithRunner replaces the process runner
func WithRunner(r Runner) Option {
	return func(c *Client) { c.runner = r }
}

// WithLookPath replaces the binary lookup
func WithLookPath(fn func(string) (string, error)) Option {
	return func(c *Client) { c.lookPath = fn }
}

// Client drives the external extractor process
type Client struct {
	cfg      Config
	runner   Runner
	lookPath func(string) (string, error)
	logger   *zap.Logger

	initialized atomic.Bool
	initMu      sync.Mutex
	binaryPath  string
}

// NewClient creates an extractor client
func NewClient(cfg Config, logger *zap.Logger, opts ...Option) *Client {
	if cfg.Binary == "" {
		cfg.Binary = "yt-dlp"
	}
	if cfg.FFmpegBinary == "" {
		cfg.FFmpegBinary = "ffmpeg"
	}
	if cfg.Format.Name == "" {
		cfg.Format = DefaultFormat
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = DefaultAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		cfg:      cfg,
		runner:   NewExecRunner(),
		lookPath: exec.LookPath,
		logger:   logger.Named("extractor"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Format returns the configured output format
func (c *Client) Format() Format {
	return c.cfg.Format
}

// Initialized reports whether Init has completed successfully
func (c *Client) Initialized() bool {
	return c.initialized.Load()
}

// Init locates the binaries and prepares the cache directory. It is safe to
// call concurrently and repeatedly; a failure leaves the client uninitialized
// so a later call tries again.
func (c *Client) Init(ctx context.Context) error {
	if c.initialized.Load() {
		return nil
	}

	c.initMu.Lock()
	defer c.initMu.Unlock()

	if c.initialized.Load() {
		return nil
	}

	if c.cfg.CacheDir != "" {
		if err := os.MkdirAll(c.cfg.CacheDir, 0755); err != nil {
			return apperrors.NewDirectoryError(c.cfg.CacheDir, err)
		}
	}

	deps := c.CheckDependencies()
	if !deps.ExtractorFound {
		return fmt.Errorf("failed to locate extractor %q on PATH", c.cfg.Binary)
	}
	if !deps.FFmpegFound {
		return fmt.Errorf("failed to locate %q on PATH", c.cfg.FFmpegBinary)
	}

	if c.cfg.SelfUpdate {
		res, err := c.runner.Run(ctx, deps.ExtractorPath, []string{"-U"}, nil)
		if err != nil || res.ExitCode != 0 {
			c.logger.Warn("Extractor self-update failed",
				zap.Int("exit_code", res.ExitCode),
				zap.Error(err),
				zap.String("output", res.Output))
		}
	}

	c.binaryPath = deps.ExtractorPath
	c.initialized.Store(true)
	c.logger.Info("Extractor initialized",
		zap.String("extractor", deps.ExtractorPath),
		zap.String("ffmpeg", deps.FFmpegPath))
	return nil
}

// CheckDependencies looks up the extractor and ffmpeg binaries
func (c *Client) CheckDependencies() DependencyReport {
	var r DependencyReport
	if p, err := c.lookPath(c.cfg.Binary); err == nil {
		r.ExtractorFound, r.ExtractorPath = true, p
	}
	if p, err := c.lookPath(c.cfg.FFmpegBinary); err == nil {
		r.FFmpegFound, r.FFmpegPath = true, p
	}
	return r
}

// VideoURL returns what the extractor should fetch for a video id
func (c *Client) VideoURL(id string) string {
	return VideoURL(id, c.cfg.TLSRelaxed, c.cfg.VideoIDOnly)
}

// Request builds the invocation writing into files
func (c *Client) Request(files *TempFiles, url string) Request {
	return Request{
		URL:        url,
		Format:     c.cfg.Format,
		Output:     files.OutputPath(),
		CacheDir:   c.cfg.CacheDir,
		TLSRelaxed: c.cfg.TLSRelaxed,
		Overwrite:  c.cfg.Overwrite,
		Verbose:    c.cfg.Verbose,
	}
}

// Download runs the extractor until it produces both the audio and the
// metadata document, or the attempt budget is exhausted. On exhaustion the
// returned extraction error carries the transcript of every attempt.
func (c *Client) Download(ctx context.Context, files *TempFiles, url string, progress ProgressFunc) (*Result, error) {
	if !c.initialized.Load() {
		return nil, fmt.Errorf("extractor not initialized")
	}

	req := c.Request(files, url)
	args := req.Args()

	var transcript strings.Builder
	var result *Result

	cfg := apperrors.AttemptsConfig(c.cfg.Attempts, c.cfg.InitialBackoff, c.cfg.MaxBackoff)
	cfg.RetryableErrors = func(err error) bool {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	cfg.OnRetry = func(attempt int, err error, backoff time.Duration) {
		c.logger.Warn("Extractor attempt failed, retrying",
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Int("attempts", c.cfg.Attempts),
			zap.Duration("backoff", backoff),
			zap.Error(err))
	}

	err := apperrors.RetryWithBackoff(ctx, cfg, func(attempt int) error {
		if err := files.Delete(); err != nil {
			c.logger.Warn("Failed to clear temp files before attempt", zap.Error(err))
		}

		fmt.Fprintf(&transcript, "attempt %d of %d for %s\n", attempt+1, c.cfg.Attempts, url)

		res, runErr := c.runner.Run(ctx, c.binaryPath, args, lineHandler(progress))
		if res.Output != "" {
			transcript.WriteString(res.Output)
			transcript.WriteString("\n")
		}

		if runErr != nil {
			if ctx.Err() != nil {
				monitoring.RecordExtractionAttempt(monitoring.AttemptCancelled)
				return ctx.Err()
			}
			monitoring.RecordExtractionAttempt(monitoring.AttemptFailure)
			fmt.Fprintf(&transcript, "error: %v\n", runErr)
			return runErr
		}
		if res.ExitCode != 0 {
			monitoring.RecordExtractionAttempt(monitoring.AttemptFailure)
			fmt.Fprintf(&transcript, "exit code %d\n", res.ExitCode)
			return fmt.Errorf("extractor exited with code %d", res.ExitCode)
		}

		audio, ok := files.Audio()
		if !ok {
			monitoring.RecordExtractionAttempt(monitoring.AttemptFailure)
			transcript.WriteString("audio file missing\n")
			return fmt.Errorf("extractor produced no audio file")
		}
		meta, ok := files.Metadata()
		if !ok {
			monitoring.RecordExtractionAttempt(monitoring.AttemptFailure)
			transcript.WriteString("metadata file missing\n")
			return fmt.Errorf("extractor produced no metadata file")
		}

		monitoring.RecordExtractionAttempt(monitoring.AttemptSuccess)
		thumb, _ := files.Thumbnail()
		result = &Result{Audio: audio, Metadata: meta, Thumbnail: thumb, Attempts: attempt + 1}
		return nil
	})
	if err == nil {
		return result, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("download of %s cancelled: %w", url, ctxErr)
	}
	return nil, apperrors.NewExtractionError(
		fmt.Sprintf("extraction of %s failed after %d attempts", url, c.cfg.Attempts),
		transcript.String(),
		err,
	)
}

func lineHandler(progress ProgressFunc) func(string) {
	if progress == nil {
		return nil
	}
	return func(line string) {
		if pct, eta, ok := ParseProgress(line); ok {
			progress(pct, eta, line)
		}
	}
}
