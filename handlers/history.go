package handlers

import (
	"net/http"
	"strconv"

	"magnetar/models"
	"magnetar/services/history"
)

type historyService interface {
	Recent(limit int) []models.RunRecord
}

var _ historyService = (*history.Service)(nil)

// HistoryHandler serves the bounded search-run history.
type HistoryHandler struct {
	Service historyService
}

func NewHistoryHandler(s historyService) *HistoryHandler {
	return &HistoryHandler{Service: s}
}

// Recent returns recent run records, newest first. The optional limit query
// parameter caps the count.
func (h *HistoryHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	records := h.Service.Recent(limit)
	if records == nil {
		records = []models.RunRecord{}
	}
	writeJSON(w, records)
}

func (h *HistoryHandler) Options(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
