package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(rule Rule) (*Registry, *time.Time) {
	r := NewRegistry(rule)
	current := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return current }
	return r, &current
}

func TestCheckAdmitsUpToBurstThenLimits(t *testing.T) {
	r, _ := newTestRegistry(Rule{Window: time.Minute, Burst: 3})

	for i := 0; i < 3; i++ {
		limited, reason := r.Check("example.com")
		require.False(t, limited, "call %d should pass", i+1)
		require.Empty(t, reason)
	}

	limited, reason := r.Check("example.com")
	assert.True(t, limited)
	assert.Contains(t, reason, "example.com")
	assert.Contains(t, reason, "limit 3")
}

func TestCheckWindowSlides(t *testing.T) {
	r, clock := newTestRegistry(Rule{Window: time.Minute, Burst: 2})

	r.Check("example.com")
	r.Check("example.com")
	limited, _ := r.Check("example.com")
	require.True(t, limited)

	*clock = clock.Add(61 * time.Second)
	limited, _ = r.Check("example.com")
	assert.False(t, limited, "window should have expired")
}

func TestCheckRejectionDoesNotExtendWindow(t *testing.T) {
	r, clock := newTestRegistry(Rule{Window: time.Minute, Burst: 1})

	r.Check("example.com")
	for i := 0; i < 5; i++ {
		*clock = clock.Add(10 * time.Second)
		limited, _ := r.Check("example.com")
		require.True(t, limited)
	}

	// 61s after the single admitted hit the domain opens again even though
	// rejected attempts kept arriving in between.
	*clock = clock.Add(11 * time.Second)
	limited, _ := r.Check("example.com")
	assert.False(t, limited)
}

func TestCheckUnknownDomainFailsOpen(t *testing.T) {
	r := NewRegistry(Rule{})
	for i := 0; i < 100; i++ {
		limited, _ := r.Check("anything.example")
		require.False(t, limited)
	}
}

func TestCheckPerDomainIsolation(t *testing.T) {
	r, _ := newTestRegistry(Rule{Window: time.Minute, Burst: 1})

	r.Check("a.example")
	limited, _ := r.Check("b.example")
	assert.False(t, limited, "domains must not share windows")
}

func TestSetRuleOverridesDefault(t *testing.T) {
	r, _ := newTestRegistry(Rule{Window: time.Minute, Burst: 1})
	r.SetRule("fast.example", Rule{})

	r.Check("fast.example")
	limited, _ := r.Check("fast.example")
	assert.False(t, limited)
}

func TestResetClearsHits(t *testing.T) {
	r, _ := newTestRegistry(Rule{Window: time.Minute, Burst: 1})

	r.Check("example.com")
	limited, _ := r.Check("example.com")
	require.True(t, limited)

	r.Reset("example.com")
	limited, _ = r.Check("example.com")
	assert.False(t, limited)
}

func TestCheckConcurrentAccess(t *testing.T) {
	r := NewRegistry(Rule{Window: time.Minute, Burst: 50})

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limited, _ := r.Check("example.com"); !limited {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, admitted)
}
