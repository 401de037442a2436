package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Rule caps admissions per domain to Burst hits inside a sliding Window.
// A zero Burst means the domain is unlimited.
type Rule struct {
	Window time.Duration
	Burst  int
}

// Registry tracks recent admission timestamps per domain and answers whether
// the next request should be held back. It is owned by whoever constructs
// the scrapers and handed to each of them; all methods are safe for
// concurrent use.
type Registry struct {
	mu          sync.Mutex
	rules       map[string]Rule
	defaultRule Rule
	hits        map[string][]time.Time

	now func() time.Time
}

// NewRegistry builds a registry applying defaultRule to domains without a
// specific rule. Pass a zero Rule to leave unconfigured domains unlimited.
func NewRegistry(defaultRule Rule) *Registry {
	return &Registry{
		rules:       make(map[string]Rule),
		defaultRule: defaultRule,
		hits:        make(map[string][]time.Time),
		now:         time.Now,
	}
}

// SetRule installs or replaces the rule for one domain.
func (r *Registry) SetRule(domain string, rule Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[domain] = rule
}

// Check admits or rejects one request against the domain's sliding window.
// An admitted request is recorded immediately; a rejected one is not, so a
// rejected caller does not push the window further out. Domains with no
// applicable rule are always admitted.
func (r *Registry) Check(domain string) (limited bool, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rule, ok := r.rules[domain]
	if !ok {
		rule = r.defaultRule
	}
	if rule.Burst <= 0 || rule.Window <= 0 {
		return false, ""
	}

	now := r.now()
	cutoff := now.Add(-rule.Window)

	recent := r.hits[domain][:0]
	for _, t := range r.hits[domain] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	r.hits[domain] = recent

	if len(recent) >= rule.Burst {
		retryIn := recent[0].Add(rule.Window).Sub(now).Round(time.Second)
		return true, fmt.Sprintf("%d requests to %s in the last %s (limit %d), retry in %s",
			len(recent), domain, rule.Window, rule.Burst, retryIn)
	}

	r.hits[domain] = append(recent, now)
	return false, ""
}

// Reset forgets the recorded hits for a domain.
func (r *Registry) Reset(domain string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.hits, domain)
}
