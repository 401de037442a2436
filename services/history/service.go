package history

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"magnetar/models"
)

// MaxEntries bounds the retained run history.
const MaxEntries = 50

// Service keeps a bounded, newest-first record of search runs, persisted as
// a JSON file so history survives restarts.
type Service struct {
	mu      sync.RWMutex
	path    string
	entries []models.RunRecord
}

// NewService loads existing history from path. A missing or unreadable file
// starts an empty history; persistence failures never block recording.
func NewService(path string) *Service {
	s := &Service{path: path}
	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, &s.entries); err != nil {
			log.Printf("[history] discarding corrupt history file: %v", err)
			s.entries = nil
		}
	}
	if len(s.entries) > MaxEntries {
		s.entries = s.entries[:MaxEntries]
	}
	return s
}

// Record prepends one run record, assigns it an ID, and trims to the bound.
func (s *Service) Record(scraper, keyword string, page, results int, outcome models.RunOutcome, message string, startedAt time.Time) {
	rec := models.RunRecord{
		ID:        uuid.NewString(),
		Scraper:   scraper,
		Keyword:   keyword,
		Page:      page,
		Results:   results,
		Outcome:   outcome,
		Message:   message,
		StartedAt: startedAt,
		Duration:  time.Since(startedAt),
	}

	s.mu.Lock()
	s.entries = append([]models.RunRecord{rec}, s.entries...)
	if len(s.entries) > MaxEntries {
		s.entries = s.entries[:MaxEntries]
	}
	snapshot := append([]models.RunRecord(nil), s.entries...)
	s.mu.Unlock()

	s.persist(snapshot)
}

// Recent returns up to limit entries, newest first. limit <= 0 returns the
// full retained history.
func (s *Service) Recent(limit int) []models.RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.entries) {
		limit = len(s.entries)
	}
	return append([]models.RunRecord(nil), s.entries[:limit]...)
}

func (s *Service) persist(entries []models.RunRecord) {
	if s.path == "" {
		return
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		log.Printf("[history] marshal failed: %v", err)
		return
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		log.Printf("[history] mkdir failed: %v", err)
		return
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Printf("[history] write failed: %v", err)
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		log.Printf("[history] rename failed: %v", err)
	}
}
