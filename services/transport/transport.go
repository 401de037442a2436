package transport

import (
	"bytes"
	"context"
	"net/http"

	"github.com/PuerkitoBio/goquery"
)

// Request is one HTTP exchange to perform. Form takes precedence over Body
// when both are set; Header entries override the client's defaults.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is the normalized result every client strategy returns. Cookies
// and UserAgent describe the session the response was obtained with, so a
// caller can transplant them into a browser context without re-solving
// whatever challenge produced them.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
	Cookies    []*http.Cookie
	UserAgent  string
}

// OK reports whether the response carries a usable 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Document parses the body as HTML.
func (r *Response) Document() (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
}

// Client is the pluggable transport strategy. Implementations are safe for
// use by a single scraper; they are never shared across scrapers.
type Client interface {
	Do(ctx context.Context, req Request) (*Response, error)
	Close() error
}

// Get is a convenience wrapper for the common case.
func Get(ctx context.Context, c Client, url string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, URL: url})
}
