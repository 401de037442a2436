package magnetinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// Info is the metadata the lookup API reports for one magnet link.
type Info struct {
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	FileCount int    `json:"count"`
	Type      string `json:"file_type"`
}

// Client queries a whatslink-style magnet metadata API. The API is a shared
// public endpoint, so calls are paced client-side.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient builds a client against e.g.
// "https://whatslink.info/api/v1/link", paced to one lookup per second.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(time.Second), 2),
	}
}

// Lookup fetches size and name metadata for a magnet URI.
func (c *Client) Lookup(ctx context.Context, magnet string) (*Info, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("magnet info endpoint not configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := c.baseURL + "?url=" + url.QueryEscape(magnet)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("magnet info lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("magnet info lookup: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("magnet info decode: %w", err)
	}
	return &info, nil
}
