package dash

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"c2pastreamd/internal/logger"
)

func newTestDownloader(opts DownloaderOptions) *SegmentDownloader {
	opts.RetryDelay = time.Millisecond
	return NewSegmentDownloader(http.DefaultClient, logger.Nop(), opts)
}

func TestDownloader_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		fmt.Fprint(w, "segment data")
	}))
	defer server.Close()

	data, err := newTestDownloader(DownloaderOptions{UserAgent: "test-agent"}).Download(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "segment data", string(data))
}

func TestDownloader_RetryThenSuccess(t *testing.T) {
	var requestCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requestCount, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, "final segment data")
	}))
	defer server.Close()

	data, err := newTestDownloader(DownloaderOptions{MaxRetries: 3}).Download(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "final segment data", string(data))
	assert.Equal(t, int32(3), atomic.LoadInt32(&requestCount))
}

func TestDownloader_AllRetriesFail(t *testing.T) {
	var requestCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requestCount, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newTestDownloader(DownloaderOptions{MaxRetries: 2}).Download(context.Background(), server.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, int32(2), atomic.LoadInt32(&requestCount))
}

func TestDownloader_ClientErrorIsNotRetried(t *testing.T) {
	var requestCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requestCount, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := newTestDownloader(DownloaderOptions{MaxRetries: 3}).Download(context.Background(), server.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, int32(1), atomic.LoadInt32(&requestCount))
}

func TestDownloader_AttemptTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	_, err := newTestDownloader(DownloaderOptions{MaxRetries: 1, Timeout: 20 * time.Millisecond}).
		Download(context.Background(), server.URL)
	assert.Error(t, err)
}

func TestDownloader_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestDownloader(DownloaderOptions{}).Download(ctx, server.URL)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDownloader_Pacing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "x")
	}))
	defer server.Close()

	d := newTestDownloader(DownloaderOptions{RequestsPerSecond: 20})
	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := d.Download(context.Background(), server.URL)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}
