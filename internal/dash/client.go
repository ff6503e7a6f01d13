package dash

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"c2pastreamd/internal/logger"
)

// Client is the DASH client responsible for fetching manifests from the origin server.
type Client struct {
	httpClient *http.Client
	logger     logger.Logger
	userAgent  string
}

// NewClient creates a new DASH client. Redirects are followed once, by
// hand, so the final manifest location can be used as the segment base.
func NewClient(log logger.Logger, userAgent string) *Client {
	transport := &http.Transport{
		ResponseHeaderTimeout: 5 * time.Second,
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:    log,
		userAgent: userAgent,
	}
}

func (c *Client) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for MPD: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return c.httpClient.Do(req)
}

// FetchAndParseMPD fetches the MPD from a given URL and parses it. It
// returns the parsed MPD and the final URL after a redirect.
func (c *Client) FetchAndParseMPD(ctx context.Context, initialURL string) (*MPD, string, error) {
	c.logger.Debugf("Fetching MPD from URL: %s", initialURL)

	resp, err := c.get(ctx, initialURL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch MPD from %s: %w", initialURL, err)
	}
	defer resp.Body.Close()

	finalURL := initialURL
	switch resp.StatusCode {
	case http.StatusFound, http.StatusMovedPermanently, http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		location, err := resp.Location()
		if err != nil {
			return nil, "", fmt.Errorf("redirect location error: %w", err)
		}
		finalURL = location.String()
		c.logger.Debugf("Redirected to: %s", finalURL)

		resp, err = c.get(ctx, finalURL)
		if err != nil {
			return nil, "", fmt.Errorf("failed to fetch redirected MPD from %s: %w", finalURL, err)
		}
		defer resp.Body.Close()
	}

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to fetch MPD: received status code %d from %s", resp.StatusCode, finalURL)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read MPD response body: %w", err)
	}

	mpd, err := ParseMPD(data)
	if err != nil {
		c.logger.Errorf("Failed to parse MPD from %s: %v", finalURL, err)
		return nil, "", err
	}

	c.logger.Debugf("Successfully fetched and parsed MPD for profile %s from %s", mpd.Profiles, finalURL)
	return mpd, finalURL, nil
}

