package models

import "time"

// TorrentRecord is one discovered downloadable resource. Enclosure uniquely
// identifies a record within a single search call; duplicates are suppressed
// before results are returned.
type TorrentRecord struct {
	Title       string    `json:"title"`
	Enclosure   string    `json:"enclosure"`
	Description string    `json:"description,omitempty"`
	SizeBytes   int64     `json:"size,omitempty"`
	PageURL     string    `json:"pageUrl,omitempty"`
	PubDate     time.Time `json:"pubDate,omitempty"`
	Seeders     int       `json:"seeders,omitempty"`
}

// SearchContext carries host-supplied hints into a search call.
type SearchContext struct {
	// Area is "imdbid" when Keyword is an external id rather than free text.
	Area string `json:"area,omitempty"`
	// EnableFilter asks the pipeline to run candidate titles through the
	// relevance filter before visiting detail pages.
	EnableFilter bool `json:"enableFilter,omitempty"`
	// Strict tightens the relevance filter when set.
	Strict bool `json:"strict,omitempty"`
	// MediaType is "movie" or "series" when the host knows it.
	MediaType string `json:"mediaType,omitempty"`
	Year      int    `json:"year,omitempty"`
}

// IndexerDescriptor is the read-only projection of a running scraper exposed
// to the host. Regenerated on demand, never persisted.
type IndexerDescriptor struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	URL    string `json:"url"`
	Domain string `json:"domain"`
	Public bool   `json:"public"`
	Proxy  bool   `json:"proxy"`
	Parser string `json:"parser"`
	// Capability flags the host dispatches on.
	Browse bool `json:"browse"`
	IMDB   bool `json:"imdb"`
}

// RunOutcome classifies how a search run ended.
type RunOutcome string

const (
	RunOutcomeOK          RunOutcome = "ok"
	RunOutcomeEmpty       RunOutcome = "empty"
	RunOutcomeRateLimited RunOutcome = "rateLimited"
	RunOutcomeFailed      RunOutcome = "failed"
)

// RunRecord is one entry in the bounded search-run history.
type RunRecord struct {
	ID        string        `json:"id"`
	Scraper   string        `json:"scraper"`
	Keyword   string        `json:"keyword"`
	Page      int           `json:"page"`
	Results   int           `json:"results"`
	Outcome   RunOutcome    `json:"outcome"`
	Message   string        `json:"message,omitempty"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
}

// ScraperStatus is the aggregate status row returned by the status API.
type ScraperStatus struct {
	Name         string   `json:"name"`
	Description  string   `json:"desc,omitempty"`
	URL          string   `json:"url"`
	Enabled      bool     `json:"enabled"`
	WebReachable bool     `json:"webStatus"`
	Tags         []string `json:"tags,omitempty"`
}
