package scraper

import (
	"context"
	"log"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"magnetar/models"
	"magnetar/utils/titles"
)

// Candidate is one (title, detail URL) pair collected from a search-results
// page.
type Candidate struct {
	Title string
	URL   string
}

// PageResult is what one search-results fetch yields. Direct is set when the
// site skipped the list and answered with a detail page; the pipeline then
// treats the current page as the one and only detail page.
type PageResult struct {
	Candidates []Candidate
	TotalPages int
	Direct     bool
	DirectURL  string
}

// ExtractFunc pulls torrent records out of one detail page. Implementations
// belong to a single batch worker and are called sequentially within it.
type ExtractFunc func(ctx context.Context, c Candidate) []models.TorrentRecord

// Pipeline is the shared search-and-extract shape every scraper variant
// instantiates with its own fetch, worker, and parse callbacks. Run is the
// whole algorithm: pre-checks, candidate collection with dedup, optional
// relevance filter and cap, then a bounded concurrent fan-out over detail
// pages.
type Pipeline struct {
	Site   string
	Domain string

	// Limiter answers the per-domain admission check. Nil means unlimited.
	Limiter interface {
		Check(domain string) (bool, string)
	}

	Enabled func() bool

	// Bootstrap primes the session (cookie harvest, challenge pass) before
	// the first search fetch. Optional.
	Bootstrap func(ctx context.Context) error

	// FetchPage loads one search-results page (1-based).
	FetchPage func(ctx context.Context, keyword string, page int) (*PageResult, error)

	// OpenWorker allocates one batch worker (typically a browser tab) and
	// returns its extract function plus a cleanup. Workers are never shared
	// between batches.
	OpenWorker func(ctx context.Context) (ExtractFunc, func(), error)

	// Filter keeps only relevant candidate titles. Optional; consulted only
	// when the search context enables filtering.
	Filter func(keyword string, candidates []string, sctx *models.SearchContext) []string

	// Delay is the jittered pause between items of one batch. Optional.
	Delay func(ctx context.Context)

	// Browse serves the no-keyword listing for sites that support it.
	Browse func(ctx context.Context, page int) []models.TorrentRecord

	// Lookup serves id-based queries for sites that support them.
	Lookup func(ctx context.Context, id string, sctx *models.SearchContext) []models.TorrentRecord

	BatchConcurrency int
	MaxPages         int
	MaxResults       int
}

// Run executes one search. It never returns an error: every failure is
// logged and folded into the outcome so the host only ever sees a list.
func (p *Pipeline) Run(ctx context.Context, keyword string, page int, sctx *models.SearchContext) ([]models.TorrentRecord, models.RunOutcome, string) {
	if p.Enabled != nil && !p.Enabled() {
		log.Printf("[scraper] %s: disabled, skipping search", p.Site)
		return nil, models.RunOutcomeEmpty, "disabled"
	}

	if p.Limiter != nil {
		if limited, reason := p.Limiter.Check(p.Domain); limited {
			log.Printf("[scraper] %s: rate limited: %s", p.Site, reason)
			return nil, models.RunOutcomeRateLimited, reason
		}
	}

	if keyword == "" {
		if p.Browse != nil {
			records := p.Browse(ctx, page)
			return records, outcomeFor(records), "browse listing"
		}
		log.Printf("[scraper] %s: empty keyword, nothing to search", p.Site)
		return nil, models.RunOutcomeEmpty, "empty keyword"
	}

	if p.Lookup != nil && sctx != nil && sctx.Area == "imdbid" {
		records := p.Lookup(ctx, keyword, sctx)
		return records, outcomeFor(records), "id lookup"
	}

	if p.Bootstrap != nil {
		if err := p.Bootstrap(ctx); err != nil {
			log.Printf("[scraper] %s: session bootstrap failed: %v", p.Site, err)
			return nil, models.RunOutcomeFailed, "session bootstrap failed"
		}
	}

	first, err := p.FetchPage(ctx, keyword, 1)
	if err != nil {
		log.Printf("[scraper] %s: search page fetch failed: %v", p.Site, err)
		return nil, models.RunOutcomeFailed, "search fetch failed"
	}

	if first.Direct {
		records := p.extractDirect(ctx, first, keyword)
		return records, outcomeFor(records), "direct detail page"
	}

	candidates := p.collect(ctx, keyword, first)
	if len(candidates) == 0 {
		return nil, models.RunOutcomeEmpty, "no candidates"
	}

	if sctx != nil && sctx.EnableFilter && p.Filter != nil {
		candidates = p.applyFilter(keyword, candidates, sctx)
		if len(candidates) == 0 {
			log.Printf("[scraper] %s: relevance filter rejected every candidate", p.Site)
			return nil, models.RunOutcomeEmpty, "filtered out"
		}
	}

	if p.MaxResults > 0 && len(candidates) > p.MaxResults {
		candidates = candidates[:p.MaxResults]
	}

	records := p.fanOut(ctx, candidates)
	log.Printf("[scraper] %s: %q -> %d records from %d candidates", p.Site, keyword, len(records), len(candidates))
	return records, outcomeFor(records), ""
}

func outcomeFor(records []models.TorrentRecord) models.RunOutcome {
	if len(records) == 0 {
		return models.RunOutcomeEmpty
	}
	return models.RunOutcomeOK
}

// collect walks the search pages and gathers candidates, deduplicating by
// normalized title and by URL across the whole multi-page scan.
func (p *Pipeline) collect(ctx context.Context, keyword string, first *PageResult) []Candidate {
	maxPages := p.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}
	total := first.TotalPages
	if total <= 0 {
		total = 1
	}
	if total > maxPages {
		total = maxPages
	}

	seenTitles := make(map[string]struct{})
	seenURLs := make(map[string]struct{})
	var out []Candidate

	add := func(cands []Candidate) {
		for _, c := range cands {
			if c.URL == "" {
				continue
			}
			titleKey := titles.DedupKey(c.Title)
			if _, dup := seenURLs[c.URL]; dup {
				continue
			}
			if titleKey != "" {
				if _, dup := seenTitles[titleKey]; dup {
					continue
				}
				seenTitles[titleKey] = struct{}{}
			}
			seenURLs[c.URL] = struct{}{}
			out = append(out, c)
		}
	}

	add(first.Candidates)
	for page := 2; page <= total; page++ {
		res, err := p.FetchPage(ctx, keyword, page)
		if err != nil {
			log.Printf("[scraper] %s: page %d fetch failed, continuing: %v", p.Site, page, err)
			continue
		}
		add(res.Candidates)
	}
	return out
}

func (p *Pipeline) applyFilter(keyword string, candidates []Candidate, sctx *models.SearchContext) []Candidate {
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.Title
	}
	kept := p.Filter(keyword, names, sctx)
	keep := make(map[string]struct{}, len(kept))
	for _, name := range kept {
		keep[name] = struct{}{}
	}

	out := candidates[:0]
	for _, c := range candidates {
		if _, ok := keep[c.Title]; ok {
			out = append(out, c)
		}
	}
	return out
}

// extractDirect handles sites that answer a search with the detail page
// itself.
func (p *Pipeline) extractDirect(ctx context.Context, res *PageResult, keyword string) []models.TorrentRecord {
	extract, cleanup, err := p.OpenWorker(ctx)
	if err != nil {
		log.Printf("[scraper] %s: worker open failed: %v", p.Site, err)
		return nil
	}
	defer cleanup()

	records := extract(ctx, Candidate{Title: keyword, URL: res.DirectURL})
	return dedupeByTitle(records, make(map[string]struct{}), nil)
}

// fanOut partitions candidates into batches and processes the batches on a
// bounded worker pool. One worker handles one batch sequentially so tab
// state never sees two drivers; results merge under a single lock with a
// run-scope title dedup.
func (p *Pipeline) fanOut(ctx context.Context, candidates []Candidate) []models.TorrentRecord {
	batches := partition(candidates, p.BatchConcurrency)

	var mu sync.Mutex
	var records []models.TorrentRecord
	seen := make(map[string]struct{})

	workers := pool.New().WithMaxGoroutines(len(batches))
	for _, batch := range batches {
		batch := batch
		workers.Go(func() {
			extract, cleanup, err := p.OpenWorker(ctx)
			if err != nil {
				log.Printf("[scraper] %s: worker open failed, dropping batch of %d: %v", p.Site, len(batch), err)
				return
			}
			defer cleanup()

			for i, c := range batch {
				if ctx.Err() != nil {
					return
				}
				if i > 0 && p.Delay != nil {
					p.Delay(ctx)
				}
				items := extract(ctx, c)
				if len(items) == 0 {
					continue
				}
				mu.Lock()
				records = dedupeByTitle(items, seen, records)
				mu.Unlock()
			}
		})
	}
	workers.Wait()
	return records
}

// dedupeByTitle appends items whose normalized title has not been seen in
// this run. Records without a parseable title are kept as-is.
func dedupeByTitle(items []models.TorrentRecord, seen map[string]struct{}, dst []models.TorrentRecord) []models.TorrentRecord {
	for _, item := range items {
		if item.Enclosure == "" {
			continue
		}
		key := titles.DedupKey(item.Title)
		if key != "" {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		dst = append(dst, item)
	}
	return dst
}

// partition splits candidates into at most batchConcurrency batches of
// roughly equal size, each holding at least one candidate, preserving
// discovery order.
func partition(candidates []Candidate, batchConcurrency int) [][]Candidate {
	if len(candidates) == 0 {
		return nil
	}
	n := batchConcurrency
	if n <= 0 {
		n = 1
	}
	if n > len(candidates) {
		n = len(candidates)
	}

	batches := make([][]Candidate, 0, n)
	size := len(candidates) / n
	rem := len(candidates) % n
	start := 0
	for i := 0; i < n; i++ {
		end := start + size
		if i < rem {
			end++
		}
		batches = append(batches, candidates[start:end])
		start = end
	}
	return batches
}
