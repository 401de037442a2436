package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"magnetar/config"
	"magnetar/models"
	"magnetar/services/scraper"
)

type scraperAdmin interface {
	Status() []models.ScraperStatus
	Scrapers() []config.ScraperConfig
	SetEnabled(id string, enabled bool) error
	UpdateConfig(id string, cfg config.ScraperConfig) error
	ResetScraper(id string) error
	ResetAll() error
	ProbeAll(ctx context.Context)
}

var _ scraperAdmin = (*scraper.Registry)(nil)

// ScrapersHandler is the admin surface for scraper configuration.
type ScrapersHandler struct {
	Service scraperAdmin
}

func NewScrapersHandler(s scraperAdmin) *ScrapersHandler {
	return &ScrapersHandler{Service: s}
}

// Status returns one aggregate row per configured scraper.
func (h *ScrapersHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.Service.Status())
}

// List returns the current per-scraper configuration blobs.
func (h *ScrapersHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.Service.Scrapers())
}

// Toggle enables or disables one scraper.
func (h *ScrapersHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}

	if err := h.Service.SetEnabled(id, body.Enabled); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, map[string]bool{"enabled": body.Enabled})
}

// Update replaces one scraper's configuration. The registry persists it and
// rebuilds the running instance.
func (h *ScrapersHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var cfg config.ScraperConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode config: %w", err))
		return
	}

	if err := h.Service.UpdateConfig(id, cfg); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, map[string]string{"status": "updated"})
}

// Reset restores one scraper's configuration to defaults.
func (h *ScrapersHandler) Reset(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.Service.ResetScraper(id); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, map[string]string{"status": "reset"})
}

// ResetAll restores every scraper's configuration to defaults.
func (h *ScrapersHandler) ResetAll(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.ResetAll(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]string{"status": "reset"})
}

// Probe triggers an immediate connectivity check across all scrapers.
func (h *ScrapersHandler) Probe(w http.ResponseWriter, r *http.Request) {
	h.Service.ProbeAll(r.Context())
	writeJSON(w, h.Service.Status())
}

func (h *ScrapersHandler) Options(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
