package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// DirectOptions tunes a DirectClient.
type DirectOptions struct {
	// DelayMin/DelayMax bound the jittered pause applied before each
	// request. Zero values disable the pause.
	DelayMin time.Duration
	DelayMax time.Duration
	// Attempts bounds transient retries per request. Defaults to 3.
	Attempts uint
	// Timeout is the per-request timeout. Defaults to 30s.
	Timeout time.Duration
	// UserAgent overrides the built-in default.
	UserAgent string
	// Header entries are sent with every request unless the caller
	// overrides the same key.
	Header http.Header
}

// DirectClient issues HTTP calls straight at the target site. It keeps a
// cookie jar across calls so a session bootstrapped on the home page carries
// into search and detail requests.
type DirectClient struct {
	httpClient *http.Client
	opts       DirectOptions
}

// NewDirectClient builds a client with its own cookie jar.
func NewDirectClient(opts DirectOptions) *DirectClient {
	if opts.Attempts == 0 {
		opts.Attempts = 3
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	jar, _ := cookiejar.New(nil)
	return &DirectClient{
		httpClient: &http.Client{Jar: jar, Timeout: opts.Timeout},
		opts:       opts,
	}
}

// Do performs the request with a jittered pre-send delay and bounded
// transient retry. Non-2xx statuses at or above 500 count as transient;
// 4xx responses are returned as-is for the caller to judge.
func (c *DirectClient) Do(ctx context.Context, req Request) (*Response, error) {
	c.pause(ctx)

	var resp *Response
	err := retry.Do(
		func() error {
			var err error
			resp, err = c.doOnce(ctx, req)
			if err != nil {
				return err
			}
			if resp.StatusCode >= 500 {
				return fmt.Errorf("server returned %d", resp.StatusCode)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.opts.Attempts),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("[transport] retry %d for %s: %v", n+1, req.URL, err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", req.URL, err)
	}
	return resp, nil
}

func (c *DirectClient) doOnce(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("User-Agent", c.opts.UserAgent)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	for k, vs := range c.opts.Header {
		httpReq.Header[k] = vs
	}
	for k, vs := range req.Header {
		httpReq.Header[k] = vs
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	decoded, err := decodeCharset(raw, httpResp.Header.Get("Content-Type"))
	if err != nil {
		// Undecodable bytes are still worth handing back; parsers may cope.
		log.Printf("[transport] charset decode failed for %s: %v", req.URL, err)
		decoded = raw
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Body:       decoded,
		Header:     httpResp.Header,
		Cookies:    c.cookiesFor(req.URL),
		UserAgent:  c.opts.UserAgent,
	}, nil
}

// decodeCharset converts GBK-family payloads to UTF-8. Several of the target
// sites still serve gb2312/gbk pages.
func decodeCharset(raw []byte, contentType string) ([]byte, error) {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "gb2312"), strings.Contains(ct, "gbk"):
		return io.ReadAll(transform.NewReader(bytes.NewReader(raw), simplifiedchinese.GBK.NewDecoder()))
	case strings.Contains(ct, "gb18030"):
		return io.ReadAll(transform.NewReader(bytes.NewReader(raw), simplifiedchinese.GB18030.NewDecoder()))
	default:
		return raw, nil
	}
}

func (c *DirectClient) cookiesFor(rawURL string) []*http.Cookie {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	return c.httpClient.Jar.Cookies(u)
}

// SetCookies seeds the jar, e.g. with cookies harvested by a browser session.
func (c *DirectClient) SetCookies(rawURL string, cookies []*http.Cookie) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return
	}
	c.httpClient.Jar.SetCookies(u, cookies)
}

// pause sleeps the jittered pre-request delay. One client is shared by all
// of a site's batch workers, so the jitter uses the locked global source.
func (c *DirectClient) pause(ctx context.Context) {
	if c.opts.DelayMax <= 0 || c.opts.DelayMax < c.opts.DelayMin {
		return
	}
	span := c.opts.DelayMax - c.opts.DelayMin
	d := c.opts.DelayMin
	if span > 0 {
		d += time.Duration(rand.Int63n(int64(span)))
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// Close is a no-op for the direct strategy.
func (c *DirectClient) Close() error { return nil }
