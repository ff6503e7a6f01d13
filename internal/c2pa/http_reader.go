package c2pa

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"c2pastreamd/internal/logger"
	"c2pastreamd/internal/metrics"
)

// HTTPReader calls an out-of-process verifier service over HTTP.
//
// Fragments are posted to {BaseURL}/verify/fragment as a multipart form with
// "init" and "media" parts; monolithic files go to {BaseURL}/verify/file with
// a single "file" part. 204 and 404 mean the asset has no manifest.
type HTTPReader struct {
	BaseURL        string
	MaxRetries     int
	RetryDelay     time.Duration
	RequestTimeout time.Duration

	httpClient *http.Client
	logger     logger.Logger
}

// NewHTTPReader creates a verifier client with the default retry policy.
func NewHTTPReader(client *http.Client, log logger.Logger, baseURL string) *HTTPReader {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPReader{
		BaseURL:        strings.TrimRight(baseURL, "/"),
		MaxRetries:     3,
		RetryDelay:     100 * time.Millisecond,
		RequestTimeout: 10 * time.Second,
		httpClient:     client,
		logger:         log,
	}
}

// ReadFragment implements Reader.
func (r *HTTPReader) ReadFragment(ctx context.Context, init, media []byte) (*Manifest, error) {
	return r.post(ctx, "/verify/fragment", []formPart{
		{name: "init", filename: "init.mp4", data: init},
		{name: "media", filename: "segment.m4s", data: media},
	})
}

// ReadFile implements Reader.
func (r *HTTPReader) ReadFile(ctx context.Context, data []byte) (*Manifest, error) {
	return r.post(ctx, "/verify/file", []formPart{
		{name: "file", filename: "asset.mp4", data: data},
	})
}

type formPart struct {
	name     string
	filename string
	data     []byte
}

func encodeForm(parts []formPart) (string, []byte, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, p := range parts {
		fw, err := w.CreateFormFile(p.name, p.filename)
		if err != nil {
			return "", nil, fmt.Errorf("create form part %s: %w", p.name, err)
		}
		if _, err := fw.Write(p.data); err != nil {
			return "", nil, fmt.Errorf("write form part %s: %w", p.name, err)
		}
	}
	if err := w.Close(); err != nil {
		return "", nil, fmt.Errorf("close multipart writer: %w", err)
	}
	return w.FormDataContentType(), body.Bytes(), nil
}

func (r *HTTPReader) post(ctx context.Context, path string, parts []formPart) (*Manifest, error) {
	contentType, payload, err := encodeForm(parts)
	if err != nil {
		return nil, err
	}

	maxRetries := r.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	url := r.BaseURL + path
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		m, retry, err := r.attempt(ctx, url, contentType, payload)
		if err == nil || !retry {
			return m, err
		}

		lastErr = fmt.Errorf("verify attempt %d/%d against %s failed: %w", attempt, maxRetries, url, err)
		r.logger.Warnf("%v", lastErr)
		metrics.IncVerifierRetry()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.RetryDelay):
		}
	}

	return nil, fmt.Errorf("verifier unavailable after %d attempts: %w", maxRetries, lastErr)
}

// attempt performs one request. The bool result reports whether the failure
// is worth retrying.
func (r *HTTPReader) attempt(ctx context.Context, url, contentType string, payload []byte) (*Manifest, bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, r.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, false, fmt.Errorf("create verifier request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", contentTypeCBOR+", "+contentTypeJSON+";q=0.9")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound:
		return nil, false, ErrNoManifest
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("verifier returned status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, false, fmt.Errorf("verifier rejected request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read verifier response: %w", err)
	}

	m, err := Decode(resp.Header.Get("Content-Type"), body)
	if err != nil {
		return nil, false, err
	}
	return m, false, nil
}
