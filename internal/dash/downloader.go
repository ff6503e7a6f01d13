package dash

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"c2pastreamd/internal/logger"
	"c2pastreamd/internal/metrics"
)

// DownloaderOptions tunes retries and origin pacing.
type DownloaderOptions struct {
	UserAgent  string
	MaxRetries int
	RetryDelay time.Duration
	// Timeout bounds a single attempt.
	Timeout time.Duration
	// RequestsPerSecond paces requests to the origin. Zero disables pacing.
	RequestsPerSecond float64
}

// SegmentDownloader is responsible for downloading individual segments with retry logic.
type SegmentDownloader struct {
	httpClient *http.Client
	logger     logger.Logger
	opts       DownloaderOptions
	limiter    *rate.Limiter
}

// NewSegmentDownloader creates a new downloader.
func NewSegmentDownloader(client *http.Client, log logger.Logger, opts DownloaderOptions) *SegmentDownloader {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 100 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return &SegmentDownloader{
		httpClient: client,
		logger:     log,
		opts:       opts,
		limiter:    limiter,
	}
}

// permanentError marks a failure that retrying cannot fix.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Download fetches one segment with a per-attempt timeout and retries.
// Client errors other than 429 are not retried.
func (sd *SegmentDownloader) Download(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= sd.opts.MaxRetries; attempt++ {
		if attempt > 1 {
			metrics.IncDownloadRetry()
			select {
			case <-time.After(sd.opts.RetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if err := sd.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		sd.logger.Debugf("Downloading %s (Attempt %d/%d)", url, attempt, sd.opts.MaxRetries)
		data, err := sd.attempt(ctx, url)
		if err == nil {
			return data, nil
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return nil, perm.err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = fmt.Errorf("download attempt %d failed for %s: %w", attempt, url, err)
		sd.logger.Warnf("%v", lastErr)
	}
	return nil, fmt.Errorf("failed to download %s after %d attempts: %w", url, sd.opts.MaxRetries, lastErr)
}

func (sd *SegmentDownloader) attempt(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, sd.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, permanentError{fmt.Errorf("failed to create request for %s: %w", url, err)}
	}
	if sd.opts.UserAgent != "" {
		req.Header.Set("User-Agent", sd.opts.UserAgent)
	}

	resp, err := sd.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("received non-200 status: %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, permanentError{fmt.Errorf("download %s: %w", url, err)}
		}
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed while reading body: %w", err)
	}
	return data, nil
}
