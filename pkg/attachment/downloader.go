// pkg/attachment/downloader.go
package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Downloader fetches attachment bytes with a size ceiling and bounded retry
type Downloader struct {
	httpClient *http.Client
	maxBytes   int64
	timeout    time.Duration
	retries    int
	retryDelay time.Duration
	logger     *zap.Logger
}

// DownloaderOptions configures a Downloader
type DownloaderOptions struct {
	HTTPClient *http.Client
	MaxBytes   int64
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
}

// NewDownloader creates a downloader
func NewDownloader(opts DownloaderOptions, logger *zap.Logger) *Downloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	return &Downloader{
		httpClient: httpClient,
		maxBytes:   opts.MaxBytes,
		timeout:    timeout,
		retries:    opts.Retries,
		retryDelay: retryDelay,
		logger:     logger.Named("downloader"),
	}
}

// Download returns the body of url and the content type the server reported
func (d *Downloader) Download(ctx context.Context, url string) ([]byte, string, error) {
	var (
		data        []byte
		contentType string
	)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.retryDelay
	policy.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		attempt++
		var retryable bool
		var err error
		data, contentType, retryable, err = d.fetch(ctx, url)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if !retryable {
			return backoff.Permanent(err)
		}
		d.logger.Debug("Download failed, will retry",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return err
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(d.retries)), ctx))
	if err != nil {
		return nil, "", err
	}
	return data, contentType, nil
}

func (d *Downloader) fetch(ctx context.Context, url string) ([]byte, string, bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", false, fmt.Errorf("%w: invalid url: %v", ErrDownloadFailed, err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, "", true, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, "", retryable, fmt.Errorf("%w: HTTP %d", ErrDownloadFailed, resp.StatusCode)
	}

	if d.maxBytes > 0 && resp.ContentLength > d.maxBytes {
		return nil, "", false, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrTooLarge, resp.ContentLength, d.maxBytes)
	}

	body := io.Reader(resp.Body)
	if d.maxBytes > 0 {
		body = io.LimitReader(resp.Body, d.maxBytes+1)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, "", true, fmt.Errorf("%w: failed to read body: %v", ErrDownloadFailed, err)
	}
	if d.maxBytes > 0 && int64(len(data)) > d.maxBytes {
		return nil, "", false, fmt.Errorf("%w: body exceeds limit of %d bytes", ErrTooLarge, d.maxBytes)
	}

	return data, resp.Header.Get("Content-Type"), false, nil
}

// isAttachmentError reports whether err belongs to the attachment taxonomy
func isAttachmentError(err error) bool {
	return errors.Is(err, ErrTooLarge) || errors.Is(err, ErrDownloadFailed) || errors.Is(err, ErrUploadFailed)
}
