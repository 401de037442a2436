package browser

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// Options configures one browser process.
type Options struct {
	Headless  bool
	UserAgent string
	// OpTimeout bounds each individual tab operation. Defaults to 30s.
	OpTimeout time.Duration
}

// Session owns a single headless-browser process. A scraper owns its session
// exclusively; parallelism comes from opening one tab per worker, never from
// sharing a tab.
type Session struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	opts          Options

	mu     sync.Mutex
	closed bool
}

// NewSession launches the browser process. The parent context bounds the
// whole session lifetime.
func NewSession(parent context.Context, opts Options) (*Session, error) {
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 30 * time.Second
	}

	execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if opts.UserAgent != "" {
		execOpts = append(execOpts, chromedp.UserAgent(opts.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, execOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Force the process to start now so a broken Chrome install fails here
	// rather than in the middle of a search.
	startCtx, cancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer cancel()
	if err := chromedp.Run(startCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	return &Session{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		opts:          opts,
	}, nil
}

// NewTab opens a fresh tab in the session's browser. The caller must Close
// the tab when its unit of work is done.
func (s *Session) NewTab() (*Tab, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("browser session is closed")
	}

	tabCtx, tabCancel := chromedp.NewContext(s.browserCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return &Tab{ctx: tabCtx, cancel: tabCancel, timeout: s.opts.OpTimeout}, nil
}

// Close tears down the browser process. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	log.Printf("[browser] closing session")
	s.browserCancel()
	s.allocCancel()
	return nil
}
