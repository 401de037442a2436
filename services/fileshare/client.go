package fileshare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/spf13/afero"
	"golang.org/x/time/rate"
)

// Client uploads files to a FileCodeBox-style sharing service and returns a
// retrieval URL usable as a torrent enclosure. Uploads are paced and retried
// twice with backoff; beyond that the file is simply not shared.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	fs         afero.Fs
}

// NewClient builds a client for the share service root URL, e.g.
// "https://share.example.com". Pass nil for fs to read from the OS.
func NewClient(baseURL string, fs afero.Fs) *Client {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(2*time.Second), 1),
		fs:         fs,
	}
}

// Configured reports whether an upload endpoint is set.
func (c *Client) Configured() bool { return c.baseURL != "" }

type shareResponse struct {
	Code   int    `json:"code"`
	Detail struct {
		Code string `json:"code"`
		Name string `json:"name"`
	} `json:"detail"`
}

// Upload pushes a local file to the share service and returns the stored
// name and the retrieval URL.
func (c *Client) Upload(ctx context.Context, path string) (name, shareURL string, err error) {
	if !c.Configured() {
		return "", "", fmt.Errorf("file share endpoint not configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", "", err
	}

	err = retry.Do(
		func() error {
			name, shareURL, err = c.uploadOnce(ctx, path)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(2),
		retry.Delay(2*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return "", "", fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}
	return name, shareURL, nil
}

func (c *Client) uploadOnce(ctx context.Context, path string) (string, string, error) {
	data, err := afero.ReadFile(c.fs, path)
	if err != nil {
		return "", "", retry.Unrecoverable(err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", "", err
	}
	mw.WriteField("expire_value", "1")
	mw.WriteField("expire_style", "day")
	if err := mw.Close(); err != nil {
		return "", "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/share/file/", &buf)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("share service returned %d", resp.StatusCode)
	}

	var sr shareResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", "", fmt.Errorf("decode share response: %w", err)
	}
	if sr.Code != http.StatusOK || sr.Detail.Code == "" {
		return "", "", fmt.Errorf("share service rejected upload (code %d)", sr.Code)
	}

	return sr.Detail.Name, fmt.Sprintf("%s/#/?code=%s", c.baseURL, sr.Detail.Code), nil
}
