package scraper

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"magnetar/config"
	"magnetar/models"
	"magnetar/services/history"
)

// Registry loads the enabled scrapers, routes searches to them, and owns
// every config mutation. One broken scraper never prevents the rest from
// loading.
type Registry struct {
	manager *config.Manager
	deps    Deps
	history *history.Service

	// newScraper is swappable for tests.
	newScraper func(Profile, config.ScraperConfig, Deps) Scraper

	mu        sync.RWMutex
	settings  config.Settings
	running   map[string]Scraper
	reachable map[string]bool
	stopped   bool
}

// NewRegistry builds a registry. Call Load before serving traffic.
func NewRegistry(manager *config.Manager, deps Deps, hist *history.Service) *Registry {
	return &Registry{
		manager: manager,
		deps:    deps,
		history: hist,
		newScraper: func(p Profile, cfg config.ScraperConfig, deps Deps) Scraper {
			return NewSite(p, cfg, deps)
		},
		running:   make(map[string]Scraper),
		reachable: make(map[string]bool),
	}
}

// Load reads settings and instantiates every enabled scraper. Load errors
// are isolated per plugin.
func (r *Registry) Load() error {
	settings, err := r.manager.Load()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings = settings

	for _, cfg := range settings.Scrapers {
		if !cfg.Enabled {
			continue
		}
		if err := r.startLocked(cfg.ID); err != nil {
			log.Printf("[registry] %s failed to load, skipping: %v", cfg.ID, err)
		}
	}
	log.Printf("[registry] %d of %d scrapers running", len(r.running), len(settings.Scrapers))
	return nil
}

// startLocked instantiates one scraper. Caller holds r.mu.
func (r *Registry) startLocked(id string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("plugin panic: %v", rec)
		}
	}()

	if _, ok := r.running[id]; ok {
		return nil
	}
	profile, ok := ProfileByID(id)
	if !ok {
		return fmt.Errorf("unknown scraper id %q", id)
	}
	cfg := r.settings.Scraper(id)
	if cfg == nil {
		return fmt.Errorf("no config for %q", id)
	}
	if cfg.SiteURL == "" {
		return fmt.Errorf("%s has no site URL", id)
	}
	r.running[id] = r.newScraper(profile, *cfg, r.deps)
	return nil
}

func (r *Registry) stopLocked(id string) {
	if s, ok := r.running[id]; ok {
		s.Stop()
		delete(r.running, id)
	}
}

// Search routes one search to a scraper and records the run. A missing or
// disabled scraper yields nil, matching "no results".
func (r *Registry) Search(ctx context.Context, id, keyword string, page int, sctx *models.SearchContext) []models.TorrentRecord {
	r.mu.RLock()
	s, ok := r.running[id]
	r.mu.RUnlock()
	if !ok {
		log.Printf("[registry] search for unknown or disabled scraper %q", id)
		return nil
	}

	started := time.Now()
	records, outcome, msg := s.Run(ctx, keyword, page, sctx)
	if r.history != nil {
		r.history.Record(id, keyword, page, len(records), outcome, msg, started)
	}
	return records
}

// Indexers lists descriptors for all running scrapers, stable by ID.
func (r *Registry) Indexers() []models.IndexerDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.IndexerDescriptor, 0, len(r.running))
	for _, s := range r.running {
		out = append(out, s.Indexer())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reachable reports whether at least one scraper currently resolves.
func (r *Registry) Reachable() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id := range r.running {
		if r.reachable[id] {
			return true
		}
	}
	return false
}

// Status summarizes every configured scraper, running or not.
func (r *Registry) Status() []models.ScraperStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.ScraperStatus, 0, len(r.settings.Scrapers))
	for _, cfg := range r.settings.Scrapers {
		profile, ok := ProfileByID(cfg.ID)
		if !ok {
			continue
		}
		out = append(out, models.ScraperStatus{
			Name:         profile.Name,
			Description:  profile.Description,
			URL:          cfg.SiteURL,
			Enabled:      cfg.Enabled,
			WebReachable: r.reachable[cfg.ID],
			Tags:         profile.Tags,
		})
	}
	return out
}

// ProbeAll runs a connectivity check on every running scraper and caches
// the result for Status and Reachable.
func (r *Registry) ProbeAll(ctx context.Context) {
	r.mu.RLock()
	targets := make(map[string]Scraper, len(r.running))
	for id, s := range r.running {
		targets[id] = s
	}
	r.mu.RUnlock()

	for id, s := range targets {
		ok, msg := s.TestConnectivity(ctx)
		r.mu.Lock()
		r.reachable[id] = ok
		r.mu.Unlock()
		if !ok {
			log.Printf("[registry] %s unreachable: %s", id, msg)
		}
	}
}

// SetEnabled toggles one scraper, persists the change, and starts or tears
// down the instance.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg := r.settings.Scraper(id)
	if cfg == nil {
		return fmt.Errorf("unknown scraper %q", id)
	}
	cfg.Enabled = enabled
	if err := r.manager.Save(r.settings); err != nil {
		return fmt.Errorf("persist settings: %w", err)
	}

	if enabled {
		if err := r.startLocked(id); err != nil {
			return err
		}
	} else {
		r.stopLocked(id)
	}
	return nil
}

// UpdateConfig replaces one scraper's config blob, persists it, and rebuilds
// the running instance so the new settings take effect immediately.
func (r *Registry) UpdateConfig(id string, updated config.ScraperConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg := r.settings.Scraper(id)
	if cfg == nil {
		return fmt.Errorf("unknown scraper %q", id)
	}
	updated.ID = id
	*cfg = updated
	if err := r.manager.Save(r.settings); err != nil {
		return fmt.Errorf("persist settings: %w", err)
	}

	r.stopLocked(id)
	if cfg.Enabled {
		return r.startLocked(id)
	}
	return nil
}

// ResetScraper restores one scraper's config from the defaults table.
func (r *Registry) ResetScraper(id string) error {
	def, ok := config.DefaultScraperConfig(id)
	if !ok {
		return fmt.Errorf("unknown scraper %q", id)
	}
	return r.UpdateConfig(id, def)
}

// ResetAll restores every scraper config to defaults.
func (r *Registry) ResetAll() error {
	r.mu.RLock()
	ids := make([]string, 0, len(r.settings.Scrapers))
	for _, cfg := range r.settings.Scrapers {
		ids = append(ids, cfg.ID)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		if err := r.ResetScraper(id); err != nil {
			return err
		}
	}
	return nil
}

// Scrapers returns the current config blobs.
func (r *Registry) Scrapers() []config.ScraperConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]config.ScraperConfig(nil), r.settings.Scrapers...)
}

// Stop tears down every running scraper. Idempotent.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.stopped = true
	for id := range r.running {
		r.stopLocked(id)
	}
	log.Printf("[registry] stopped")
}
