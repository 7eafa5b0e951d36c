package attachment

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestDownloader(t *testing.T, timeout time.Duration, maxBytes int64) *Downloader {
	t.Helper()

	httpClient := &http.Client{}
	httpmock.ActivateNonDefault(httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)

	return NewDownloader(DownloaderOptions{
		HTTPClient: httpClient,
		MaxBytes:   maxBytes,
		Timeout:    timeout,
		Retries:    2,
		RetryDelay: time.Millisecond,
	}, zaptest.NewLogger(t))
}

func TestDownloader_RetriesTimedOutAttempts(t *testing.T) {
	downloader := newTestDownloader(t, 50*time.Millisecond, 1024)

	var calls atomic.Int32
	httpmock.RegisterResponder(http.MethodGet, "https://files.test/slow.png",
		func(req *http.Request) (*http.Response, error) {
			if calls.Add(1) == 1 {
				<-req.Context().Done()
				return nil, req.Context().Err()
			}
			resp := httpmock.NewBytesResponse(http.StatusOK, pngHeader)
			resp.Header.Set("Content-Type", "image/png")
			return resp, nil
		})

	data, contentType, err := downloader.Download(context.Background(), "https://files.test/slow.png")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, pngHeader, data)
	assert.Equal(t, "image/png", contentType)
}

func TestDownloader_TooLargeIsNotRetried(t *testing.T) {
	downloader := newTestDownloader(t, time.Second, 4)

	httpmock.RegisterResponder(http.MethodGet, "https://files.test/big.png",
		httpmock.NewBytesResponder(http.StatusOK, bytes.Repeat([]byte{1}, 16)))

	_, _, err := downloader.Download(context.Background(), "https://files.test/big.png")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTooLarge))
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}
