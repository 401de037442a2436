package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedPage plays back a fixed HTML body and counts interactions.
type scriptedPage struct {
	html       string
	htmlAfter  string // returned once solved is set
	solveAfter int    // clicks/drags before the challenge clears; 0 = never

	htmlCalls int
	reloads   int
	clicks    int
	drags     int
}

func (p *scriptedPage) HTML(ctx context.Context) (string, error) {
	p.htmlCalls++
	if p.solveAfter > 0 && p.clicks+p.drags >= p.solveAfter {
		return p.htmlAfter, nil
	}
	return p.html, nil
}

func (p *scriptedPage) Reload(ctx context.Context) error {
	p.reloads++
	return nil
}

func (p *scriptedPage) Rect(ctx context.Context, sel string) (Rect, bool, error) {
	return Rect{X: 100, Y: 200, Width: 300, Height: 60}, true, nil
}

func (p *scriptedPage) MouseClick(ctx context.Context, x, y float64) error {
	p.clicks++
	return nil
}

func (p *scriptedPage) MouseDrag(ctx context.Context, fromX, fromY, toX, toY float64) error {
	p.drags++
	return nil
}

func newTestSolver(attempts uint) *Solver {
	return &Solver{MaxAttempts: attempts, Delay: time.Millisecond}
}

func TestPassNoChallengeReturnsImmediately(t *testing.T) {
	p := &scriptedPage{html: "<html><body>normal page</body></html>"}
	ok := newTestSolver(5).Pass(context.Background(), p)
	assert.True(t, ok)
	assert.Equal(t, 1, p.htmlCalls)
	assert.Zero(t, p.clicks)
	assert.Zero(t, p.drags)
}

func TestPassTurnstileSolvedOnFirstClick(t *testing.T) {
	p := &scriptedPage{
		html:       `<html><title>Just a moment...</title><div class="challenge-widget-container"></div></html>`,
		htmlAfter:  "<html><body>real content</body></html>",
		solveAfter: 1,
	}
	ok := newTestSolver(5).Pass(context.Background(), p)
	assert.True(t, ok)
	assert.Equal(t, 1, p.clicks)
}

func TestPassSliderUsesDrag(t *testing.T) {
	p := &scriptedPage{
		html:       `<html><input type="hidden" name="GOEDGE_WAF_CAPTCHA_ID"><div class="ui-handler"></div></html>`,
		htmlAfter:  "<html><body>unlocked</body></html>",
		solveAfter: 1,
	}
	ok := newTestSolver(5).Pass(context.Background(), p)
	assert.True(t, ok)
	assert.Equal(t, 1, p.drags)
	assert.Zero(t, p.clicks)
}

func TestPassUnsolvableChallengeBoundedAttempts(t *testing.T) {
	p := &scriptedPage{
		html: `<html><input name="cf-turnstile-response"></html>`,
	}
	ok := newTestSolver(5).Pass(context.Background(), p)
	assert.False(t, ok)
	// One click per attempt, never more than the bound.
	assert.Equal(t, 5, p.clicks)
	// The page is refreshed between some failed attempts.
	assert.Greater(t, p.reloads, 0)
}

func TestDetectChallenge(t *testing.T) {
	cases := []struct {
		html string
		want challengeKind
	}{
		{"<html><body>hello</body></html>", challengeNone},
		{`<div class="ui-handler">滑动上面方块到右侧解锁</div>`, challengeSlider},
		{`<input name="cf-turnstile-response">`, challengeTurnstile},
		{`<title>Just a Moment...</title>`, challengeTurnstile},
		{`<p>Checking your browser before accessing</p>`, challengeTurnstile},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, detectChallenge(tc.html), tc.html)
	}
}

func TestClickPointGeometry(t *testing.T) {
	x, y := clickPoint(Rect{X: 100, Y: 200, Width: 300, Height: 60})
	assert.Equal(t, 130.0, x, "checkbox inset from the left edge")
	assert.Equal(t, 230.0, y, "vertically centered")

	// Narrow widget: inset shrinks to half the width.
	x, y = clickPoint(Rect{X: 10, Y: 0, Width: 40, Height: 40})
	assert.Equal(t, 30.0, x)
	assert.Equal(t, 20.0, y)
}

func TestDragPathGeometry(t *testing.T) {
	fromX, fromY, toX, toY := dragPath(Rect{X: 50, Y: 500, Width: 40, Height: 40})
	require.Equal(t, 70.0, fromX)
	require.Equal(t, 520.0, fromY)
	assert.Equal(t, fromX+sliderDragOffset, toX)
	assert.Equal(t, fromY, toY)
}
