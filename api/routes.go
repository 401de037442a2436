package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"magnetar/handlers"
)

// corsMiddleware handles CORS for API routes
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Register mounts API endpoints onto the provided router.
func Register(
	r *mux.Router,
	indexerHandler *handlers.IndexerHandler,
	scrapersHandler *handlers.ScrapersHandler,
	historyHandler *handlers.HistoryHandler,
) {
	api := r.PathPrefix("/api").Subrouter()
	api.Use(corsMiddleware)

	// Indexer surface, what the host talks to
	api.HandleFunc("/indexers", indexerHandler.List).Methods(http.MethodGet)
	api.HandleFunc("/indexers", indexerHandler.Options).Methods(http.MethodOptions)
	api.HandleFunc("/indexers/status", indexerHandler.Status).Methods(http.MethodGet)
	api.HandleFunc("/indexers/status", indexerHandler.Options).Methods(http.MethodOptions)
	api.HandleFunc("/indexers/{id}/search", indexerHandler.Search).Methods(http.MethodGet)
	api.HandleFunc("/indexers/{id}/search", indexerHandler.Options).Methods(http.MethodOptions)

	// Scraper administration
	api.HandleFunc("/scrapers", scrapersHandler.List).Methods(http.MethodGet)
	api.HandleFunc("/scrapers", scrapersHandler.Options).Methods(http.MethodOptions)
	api.HandleFunc("/scrapers/status", scrapersHandler.Status).Methods(http.MethodGet)
	api.HandleFunc("/scrapers/status", scrapersHandler.Options).Methods(http.MethodOptions)
	api.HandleFunc("/scrapers/probe", scrapersHandler.Probe).Methods(http.MethodPost)
	api.HandleFunc("/scrapers/probe", scrapersHandler.Options).Methods(http.MethodOptions)
	api.HandleFunc("/scrapers/reset", scrapersHandler.ResetAll).Methods(http.MethodPost)
	api.HandleFunc("/scrapers/reset", scrapersHandler.Options).Methods(http.MethodOptions)
	api.HandleFunc("/scrapers/{id}/toggle", scrapersHandler.Toggle).Methods(http.MethodPost)
	api.HandleFunc("/scrapers/{id}/toggle", scrapersHandler.Options).Methods(http.MethodOptions)
	api.HandleFunc("/scrapers/{id}/config", scrapersHandler.Update).Methods(http.MethodPut)
	api.HandleFunc("/scrapers/{id}/config", scrapersHandler.Options).Methods(http.MethodOptions)
	api.HandleFunc("/scrapers/{id}/reset", scrapersHandler.Reset).Methods(http.MethodPost)
	api.HandleFunc("/scrapers/{id}/reset", scrapersHandler.Options).Methods(http.MethodOptions)

	// Search-run history
	api.HandleFunc("/history", historyHandler.Recent).Methods(http.MethodGet)
	api.HandleFunc("/history", historyHandler.Options).Methods(http.MethodOptions)
}
