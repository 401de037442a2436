package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"magnetar/models"
	"magnetar/services/scraper"
)

type indexerService interface {
	Search(ctx context.Context, id, keyword string, page int, sctx *models.SearchContext) []models.TorrentRecord
	Indexers() []models.IndexerDescriptor
	Reachable() bool
}

var _ indexerService = (*scraper.Registry)(nil)

// IndexerHandler exposes the running scrapers as search indexers.
type IndexerHandler struct {
	Service indexerService
}

func NewIndexerHandler(s indexerService) *IndexerHandler {
	return &IndexerHandler{Service: s}
}

// List returns descriptors for every running indexer.
func (h *IndexerHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.Service.Indexers())
}

// Search runs one keyword search against one indexer. The response is always
// a JSON list; scraper-side failures surface as an empty list, never a 5xx.
func (h *IndexerHandler) Search(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	q := r.URL.Query()

	keyword := strings.TrimSpace(q.Get("q"))
	if keyword == "" {
		keyword = strings.TrimSpace(q.Get("keyword"))
	}

	page := 1
	if raw := q.Get("page"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			page = parsed
		}
	}

	sctx := &models.SearchContext{
		EnableFilter: parseBool(q.Get("filter")),
		Strict:       parseBool(q.Get("strict")),
		MediaType:    strings.TrimSpace(q.Get("mediaType")),
	}
	if rawYear := q.Get("year"); rawYear != "" {
		if parsed, err := strconv.Atoi(rawYear); err == nil && parsed > 0 {
			sctx.Year = parsed
		}
	}
	if imdbID := strings.TrimSpace(q.Get("imdbId")); imdbID != "" {
		sctx.Area = "imdbid"
		keyword = imdbID
	}

	records := h.Service.Search(r.Context(), id, keyword, page, sctx)
	if records == nil {
		records = []models.TorrentRecord{}
	}
	writeJSON(w, records)
}

// Status reports whether any indexer is currently reachable, the aggregate
// the host polls before dispatching searches.
func (h *IndexerHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]bool{"reachable": h.Service.Reachable()})
}

func (h *IndexerHandler) Options(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func parseBool(raw string) bool {
	v, err := strconv.ParseBool(raw)
	return err == nil && v
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
