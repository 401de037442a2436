package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FlareClient routes every request through an external challenge-solving
// proxy speaking the FlareSolverr command protocol. A named session is
// created lazily on first use and reused for all subsequent requests so the
// proxy's cleared-challenge cookies accumulate server-side. On a failed
// request the session is destroyed, recreated, and the request replayed
// exactly once; a second failure is returned to the caller.
type FlareClient struct {
	endpoint   string
	httpClient *http.Client
	maxTimeout time.Duration

	mu      sync.Mutex
	session string
	closed  bool
}

// NewFlareClient points the client at a solver endpoint, e.g.
// "http://127.0.0.1:8191/v1".
func NewFlareClient(endpoint string, maxTimeout time.Duration) *FlareClient {
	if maxTimeout <= 0 {
		maxTimeout = 60 * time.Second
	}
	return &FlareClient{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: maxTimeout + 15*time.Second},
		maxTimeout: maxTimeout,
	}
}

type flareCommand struct {
	Cmd        string `json:"cmd"`
	Session    string `json:"session,omitempty"`
	URL        string `json:"url,omitempty"`
	PostData   string `json:"postData,omitempty"`
	MaxTimeout int    `json:"maxTimeout,omitempty"`
}

type flareSolution struct {
	URL       string            `json:"url"`
	Status    int               `json:"status"`
	Headers   map[string]string `json:"headers"`
	Response  string            `json:"response"`
	UserAgent string            `json:"userAgent"`
	Cookies   []struct {
		Name   string `json:"name"`
		Value  string `json:"value"`
		Domain string `json:"domain"`
		Path   string `json:"path"`
	} `json:"cookies"`
}

type flareResult struct {
	Status   string        `json:"status"`
	Message  string        `json:"message"`
	Solution flareSolution `json:"solution"`
}

// Do sends the request through the proxy session.
func (c *FlareClient) Do(ctx context.Context, req Request) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("challenge proxy client is closed")
	}

	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}

	resp, err := c.roundTrip(ctx, req)
	if err == nil {
		return resp, nil
	}

	// One session rebuild, one replay.
	log.Printf("[transport] proxy request failed, rebuilding session: %v", err)
	c.destroySession(ctx)
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}
	resp, err = c.roundTrip(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("proxy request after session rebuild: %w", err)
	}
	return resp, nil
}

func (c *FlareClient) roundTrip(ctx context.Context, req Request) (*Response, error) {
	cmd := flareCommand{
		Session:    c.session,
		URL:        req.URL,
		MaxTimeout: int(c.maxTimeout / time.Millisecond),
	}
	if req.Method == http.MethodPost {
		cmd.Cmd = "request.post"
		cmd.PostData = string(req.Body)
	} else {
		cmd.Cmd = "request.get"
	}

	result, err := c.command(ctx, cmd)
	if err != nil {
		return nil, err
	}

	sol := result.Solution
	header := make(http.Header, len(sol.Headers))
	for k, v := range sol.Headers {
		header.Set(k, v)
	}
	cookies := make([]*http.Cookie, 0, len(sol.Cookies))
	for _, ck := range sol.Cookies {
		cookies = append(cookies, &http.Cookie{Name: ck.Name, Value: ck.Value, Domain: ck.Domain, Path: ck.Path})
	}
	return &Response{
		StatusCode: sol.Status,
		Body:       []byte(sol.Response),
		Header:     header,
		Cookies:    cookies,
		UserAgent:  sol.UserAgent,
	}, nil
}

func (c *FlareClient) ensureSession(ctx context.Context) error {
	if c.session != "" {
		return nil
	}
	name := "magnetar-" + uuid.NewString()
	if _, err := c.command(ctx, flareCommand{Cmd: "sessions.create", Session: name}); err != nil {
		return fmt.Errorf("create proxy session: %w", err)
	}
	c.session = name
	return nil
}

func (c *FlareClient) destroySession(ctx context.Context) {
	if c.session == "" {
		return
	}
	if _, err := c.command(ctx, flareCommand{Cmd: "sessions.destroy", Session: c.session}); err != nil {
		log.Printf("[transport] destroy proxy session %s: %v", c.session, err)
	}
	c.session = ""
}

func (c *FlareClient) command(ctx context.Context, cmd flareCommand) (*flareResult, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cmd.Cmd, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", cmd.Cmd, err)
	}

	var result flareResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", cmd.Cmd, err)
	}
	if result.Status != "ok" {
		return nil, fmt.Errorf("%s: proxy reported %q: %s", cmd.Cmd, result.Status, result.Message)
	}
	return &result, nil
}

// Close destroys the proxy session. Safe to call more than once.
func (c *FlareClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c.destroySession(ctx)
	return nil
}
