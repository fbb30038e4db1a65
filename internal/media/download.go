// Package media downloads stream and cover files and muxes them with ffmpeg.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"bilimusic/internal/core"
)

const (
	defaultDownloadTimeout = 60 * time.Second
	// copyBufferSize is the chunk size used while streaming to disk.
	copyBufferSize = 8192
)

// StatusError is a non-2xx response from a download URL.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s returned status %d", e.URL, e.StatusCode)
}

// Downloader streams remote files to disk without buffering them in memory.
type Downloader struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.Logger
}

func NewDownloader(timeout time.Duration, logger *zap.Logger) *Downloader {
	if timeout <= 0 {
		timeout = defaultDownloadTimeout
	}
	return &Downloader{
		httpClient: &http.Client{},
		timeout:    timeout,
		logger:     logger,
	}
}

// Download writes the body of rawURL to dst and returns the number of bytes
// written. dst is removed again if the transfer fails.
func (d *Downloader) Download(ctx context.Context, rawURL, dst string, header http.Header) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", core.ErrDownloadFailed, err)
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	start := time.Now()
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", core.ErrDownloadFailed, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return 0, fmt.Errorf("%w: %w", core.ErrDownloadFailed, &StatusError{URL: rawURL, StatusCode: resp.StatusCode})
	}

	file, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("%w: create %s: %w", core.ErrDownloadFailed, dst, err)
	}

	written, copyErr := io.CopyBuffer(file, resp.Body, make([]byte, copyBufferSize))
	closeErr := file.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		if removeErr := os.Remove(dst); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			d.logger.Warn("Failed to remove partial download", zap.String("path", dst), zap.Error(removeErr))
		}
		return 0, fmt.Errorf("%w: %w", core.ErrDownloadFailed, err)
	}

	d.logger.Debug("Download finished",
		zap.String("path", dst),
		zap.Int64("bytes", written),
		zap.Duration("duration", time.Since(start)))

	return written, nil
}
