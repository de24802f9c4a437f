package download

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apperrors "github.com/yodel/yodel-go/internal/errors"
	"github.com/yodel/yodel-go/internal/security"
)

// ErrorReportDir is the directory under the data dir holding error reports
const ErrorReportDir = "downloader_errors"

// ErrorReporter writes the extractor transcript of a failed track to a file.
// Reports are rate limited so a run of failures leaves a handful of files.
type ErrorReporter struct {
	dir     string
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewErrorReporter creates a reporter writing into dataDir. A zero interval
// disables rate limiting.
func NewErrorReporter(dataDir string, interval time.Duration, logger *zap.Logger) *ErrorReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &ErrorReporter{
		dir:     filepath.Join(dataDir, ErrorReportDir),
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.Named("error_report"),
	}
}

// Report writes a report for trackID and returns its path. It returns an
// empty path when the report was suppressed by the rate limit.
func (r *ErrorReporter) Report(trackID string, cause error) (string, error) {
	if !r.limiter.Allow() {
		r.logger.Debug("Error report suppressed", zap.String("track_id", trackID))
		return "", nil
	}

	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return "", apperrors.NewDirectoryError(r.dir, err)
	}

	f, err := os.CreateTemp(r.dir, "dl_err_"+security.SanitizeFilename(trackID)+"_*.txt")
	if err != nil {
		return "", fmt.Errorf("failed to create error report: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "track: %s\n", trackID)
	fmt.Fprintf(&b, "time: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "error: %v\n", cause)
	if transcript := apperrors.TranscriptOf(cause); transcript != "" {
		b.WriteString("\n")
		b.WriteString(transcript)
	}

	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write error report: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to close error report: %w", err)
	}

	r.logger.Info("Wrote error report", zap.String("track_id", trackID), zap.String("path", f.Name()))
	return f.Name(), nil
}
