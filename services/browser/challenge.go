package browser

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

// challengeKind classifies the bot-challenge families the solver knows.
type challengeKind int

const (
	challengeNone challengeKind = iota
	challengeSlider
	challengeTurnstile
)

func (k challengeKind) String() string {
	switch k {
	case challengeSlider:
		return "slider"
	case challengeTurnstile:
		return "turnstile"
	default:
		return "none"
	}
}

// Page is the slice of tab behavior the solver needs. *Tab implements it;
// tests substitute a scripted page.
type Page interface {
	HTML(ctx context.Context) (string, error)
	Reload(ctx context.Context) error
	Rect(ctx context.Context, sel string) (Rect, bool, error)
	MouseClick(ctx context.Context, x, y float64) error
	MouseDrag(ctx context.Context, fromX, fromY, toX, toY float64) error
}

var sliderHandleSelectors = []string{".ui-handler", ".verify-move-block", ".slider-btn"}

var turnstileSelectors = []string{"#challenge-stage", ".cf-turnstile", "#turnstile-wrapper", ".challenge-widget-container"}

// detectChallenge classifies the rendered page by known DOM signatures.
func detectChallenge(html string) challengeKind {
	lower := strings.ToLower(html)
	switch {
	case strings.Contains(html, "GOEDGE_WAF_CAPTCHA_ID"),
		strings.Contains(lower, "ui-handler"),
		strings.Contains(html, "滑动上面方块"):
		return challengeSlider
	case strings.Contains(lower, "cf-turnstile-response"),
		strings.Contains(lower, "challenge-widget-container"),
		strings.Contains(lower, "<title>just a moment"),
		strings.Contains(lower, "checking your browser"):
		return challengeTurnstile
	default:
		return challengeNone
	}
}

// sliderDragOffset is deliberately larger than any puzzle track; overshooting
// the end stop still registers as a completed slide.
const sliderDragOffset = 300.0

// clickPoint computes where to click a turnstile widget: the checkbox sits a
// fixed inset from the left edge, vertically centered.
func clickPoint(r Rect) (x, y float64) {
	inset := 30.0
	if r.Width > 0 && r.Width/2 < inset {
		inset = r.Width / 2
	}
	return r.X + inset, r.Y + r.Height/2
}

// dragPath computes the press and release points for a slider handle: press
// at the handle center, release a fixed offset to the right at the same
// height.
func dragPath(handle Rect) (fromX, fromY, toX, toY float64) {
	fromX = handle.X + handle.Width/2
	fromY = handle.Y + handle.Height/2
	return fromX, fromY, fromX + sliderDragOffset, fromY
}

// Solver passes slider and turnstile challenges on a page. It holds no
// per-page state, so one solver can serve every tab of a scraper.
type Solver struct {
	// MaxAttempts bounds solve attempts per Pass call. Defaults to 5.
	MaxAttempts uint
	// Delay is the base backoff between attempts. Defaults to 1s.
	Delay time.Duration
}

// NewSolver returns a solver with the default bounds.
func NewSolver() *Solver {
	return &Solver{MaxAttempts: 5, Delay: time.Second}
}

// Pass returns true once the page shows no challenge. It is safe to call
// speculatively: a page that was never challenged returns true on the first
// probe. After exhausting its attempts it returns false and the caller must
// treat the page content as unusable.
func (s *Solver) Pass(ctx context.Context, p Page) bool {
	attempts := s.MaxAttempts
	if attempts == 0 {
		attempts = 5
	}
	delay := s.Delay
	if delay <= 0 {
		delay = time.Second
	}

	html, err := p.HTML(ctx)
	if err != nil {
		log.Printf("[browser] challenge probe failed: %v", err)
		return false
	}
	kind := detectChallenge(html)
	if kind == challengeNone {
		return true
	}
	log.Printf("[browser] %s challenge detected", kind)

	attempt := uint(0)
	err = retry.Do(
		func() error {
			attempt++
			// A stuck widget sometimes never becomes solvable; reload
			// every other failed attempt to get a fresh one.
			if attempt > 1 && attempt%2 == 1 {
				if err := p.Reload(ctx); err != nil {
					return fmt.Errorf("reload: %w", err)
				}
			}

			if err := s.solveOnce(ctx, p, kind); err != nil {
				return err
			}

			html, err := p.HTML(ctx)
			if err != nil {
				return fmt.Errorf("re-probe: %w", err)
			}
			if k := detectChallenge(html); k != challengeNone {
				kind = k
				return fmt.Errorf("%s challenge still present", k)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		log.Printf("[browser] challenge not solved after %d attempts: %v", attempts, err)
		return false
	}
	log.Printf("[browser] %s challenge cleared", kind)
	return true
}

func (s *Solver) solveOnce(ctx context.Context, p Page, kind challengeKind) error {
	switch kind {
	case challengeSlider:
		return s.solveSlider(ctx, p)
	case challengeTurnstile:
		return s.solveTurnstile(ctx, p)
	default:
		return nil
	}
}

func (s *Solver) solveSlider(ctx context.Context, p Page) error {
	for _, sel := range sliderHandleSelectors {
		rect, ok, err := p.Rect(ctx, sel)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		fromX, fromY, toX, toY := dragPath(rect)
		return p.MouseDrag(ctx, fromX, fromY, toX, toY)
	}
	return fmt.Errorf("slider handle not found")
}

func (s *Solver) solveTurnstile(ctx context.Context, p Page) error {
	for _, sel := range turnstileSelectors {
		rect, ok, err := p.Rect(ctx, sel)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		x, y := clickPoint(rect)
		return p.MouseClick(ctx, x, y)
	}
	return fmt.Errorf("turnstile widget not found")
}
