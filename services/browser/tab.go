package browser

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// Rect is an element's viewport geometry.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Tab is one disposable page inside a Session. A tab must only ever be
// driven by one goroutine at a time.
type Tab struct {
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
}

// run executes actions against the tab with the per-op timeout, honoring the
// caller's cancellation as well.
func (t *Tab) run(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(t.ctx, t.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(opCtx, actions...)
}

// Navigate loads the URL and waits for the document body to be ready.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	return t.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// Reload refreshes the current page.
func (t *Tab) Reload(ctx context.Context) error {
	return t.run(ctx,
		chromedp.Reload(),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// WaitVisible blocks until the selector matches a visible element.
func (t *Tab) WaitVisible(ctx context.Context, sel string) error {
	return t.run(ctx, chromedp.WaitVisible(sel, chromedp.ByQuery))
}

// HTML returns the page's current outer HTML.
func (t *Tab) HTML(ctx context.Context) (string, error) {
	var html string
	if err := t.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// Location returns the tab's current URL.
func (t *Tab) Location(ctx context.Context) (string, error) {
	var loc string
	if err := t.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// Click clicks the first element matching the selector through the
// automation API. Challenge widgets need MouseClick instead.
func (t *Tab) Click(ctx context.Context, sel string) error {
	return t.run(ctx, chromedp.Click(sel, chromedp.ByQuery))
}

// SendKeys types into the first element matching the selector.
func (t *Tab) SendKeys(ctx context.Context, sel, value string) error {
	return t.run(ctx, chromedp.SendKeys(sel, value, chromedp.ByQuery))
}

// Evaluate runs a script and unmarshals its result into out. Pass nil when
// the result does not matter.
func (t *Tab) Evaluate(ctx context.Context, script string, out any) error {
	if out == nil {
		return t.run(ctx, chromedp.Evaluate(script, nil))
	}
	return t.run(ctx, chromedp.Evaluate(script, out))
}

// Rect returns the viewport geometry of the first element matching the
// selector, and whether the element exists.
func (t *Tab) Rect(ctx context.Context, sel string) (Rect, bool, error) {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) { return {x:0, y:0, width:0, height:0}; }
		const r = el.getBoundingClientRect();
		return {x:r.x, y:r.y, width:r.width, height:r.height};
	})()`, sel)

	var rect Rect
	if err := t.run(ctx, chromedp.Evaluate(script, &rect)); err != nil {
		return Rect{}, false, err
	}
	if rect.Width == 0 && rect.Height == 0 {
		return Rect{}, false, nil
	}
	return rect, true, nil
}

// MouseClick dispatches a raw press/release pair at viewport coordinates.
// Challenge widgets reject the automation API's element click, so this path
// goes through the input domain directly.
func (t *Tab) MouseClick(ctx context.Context, x, y float64) error {
	return t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		press := input.DispatchMouseEvent(input.MousePressed, x, y).
			WithButton(input.Left).WithClickCount(1)
		if err := press.Do(ctx); err != nil {
			return err
		}
		release := input.DispatchMouseEvent(input.MouseReleased, x, y).
			WithButton(input.Left).WithClickCount(1)
		return release.Do(ctx)
	}))
}

// MouseDrag presses at the start point, moves in small steps to the end
// point, and releases. Used for slider puzzles.
func (t *Tab) MouseDrag(ctx context.Context, fromX, fromY, toX, toY float64) error {
	return t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		press := input.DispatchMouseEvent(input.MousePressed, fromX, fromY).
			WithButton(input.Left).WithClickCount(1)
		if err := press.Do(ctx); err != nil {
			return err
		}

		const steps = 12
		for i := 1; i <= steps; i++ {
			frac := float64(i) / steps
			x := fromX + (toX-fromX)*frac
			y := fromY + (toY-fromY)*frac
			move := input.DispatchMouseEvent(input.MouseMoved, x, y).
				WithButton(input.Left)
			if err := move.Do(ctx); err != nil {
				return err
			}
			time.Sleep(20 * time.Millisecond)
		}

		release := input.DispatchMouseEvent(input.MouseReleased, toX, toY).
			WithButton(input.Left).WithClickCount(1)
		return release.Do(ctx)
	}))
}

// SetCookies injects cookies into the browser context, typically harvested
// from a transport client that already cleared a challenge.
func (t *Tab) SetCookies(ctx context.Context, domain string, cookies []*http.Cookie) error {
	return t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, ck := range cookies {
			d := ck.Domain
			if d == "" {
				d = domain
			}
			p := ck.Path
			if p == "" {
				p = "/"
			}
			err := network.SetCookie(ck.Name, ck.Value).
				WithDomain(d).
				WithPath(p).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("set cookie %s: %w", ck.Name, err)
			}
		}
		return nil
	}))
}

// SetUserAgent overrides the tab's user-agent string.
func (t *Tab) SetUserAgent(ctx context.Context, ua string) error {
	if ua == "" {
		return nil
	}
	return t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return emulation.SetUserAgentOverride(ua).Do(ctx)
	}))
}

// Download clicks the trigger element and waits for the resulting download
// to land in dir. Returns the final file path, renamed to the browser's
// suggested filename.
func (t *Tab) Download(ctx context.Context, triggerSel, dir string) (string, error) {
	done := make(chan string, 1)

	// names is written on chromedp's event goroutine and read on the
	// caller's goroutine once the download completes.
	var namesMu sync.Mutex
	names := make(map[string]string)

	lctx, lcancel := context.WithCancel(t.ctx)
	defer lcancel()
	chromedp.ListenTarget(lctx, func(ev any) {
		switch e := ev.(type) {
		case *browser.EventDownloadWillBegin:
			namesMu.Lock()
			names[e.GUID] = e.SuggestedFilename
			namesMu.Unlock()
		case *browser.EventDownloadProgress:
			if e.State == browser.DownloadProgressStateCompleted {
				select {
				case done <- e.GUID:
				default:
				}
			}
		}
	})

	err := t.run(ctx,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(dir).
			WithEventsEnabled(true),
		chromedp.Click(triggerSel, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("trigger download: %w", err)
	}

	select {
	case guid := <-done:
		path := filepath.Join(dir, guid)
		namesMu.Lock()
		suggested := names[guid]
		namesMu.Unlock()
		if suggested != "" {
			renamed := filepath.Join(dir, suggested)
			if err := os.Rename(path, renamed); err == nil {
				path = renamed
			}
		}
		return path, nil
	case <-time.After(t.timeout):
		return "", fmt.Errorf("download did not complete within %s", t.timeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close disposes the tab.
func (t *Tab) Close() {
	t.cancel()
}
