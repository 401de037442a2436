package scraper

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"magnetar/models"
)

// stubFetcher scripts search pages and counts every fetch and extract call.
type stubFetcher struct {
	mu       sync.Mutex
	pages    map[int]*PageResult
	fetches  int
	extracts []string
	records  map[string][]models.TorrentRecord
}

func (s *stubFetcher) fetchPage(ctx context.Context, keyword string, page int) (*PageResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	res, ok := s.pages[page]
	if !ok {
		return nil, fmt.Errorf("no page %d", page)
	}
	return res, nil
}

func (s *stubFetcher) openWorker(ctx context.Context) (ExtractFunc, func(), error) {
	return func(ctx context.Context, c Candidate) []models.TorrentRecord {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.extracts = append(s.extracts, c.URL)
		if recs, ok := s.records[c.URL]; ok {
			return recs
		}
		return []models.TorrentRecord{{Title: c.Title, Enclosure: "magnet:?xt=urn:btih:" + c.URL}}
	}, func() {}, nil
}

func (s *stubFetcher) extractCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.extracts)
}

func newTestPipeline(s *stubFetcher) *Pipeline {
	return &Pipeline{
		Site:             "testsite",
		Domain:           "test.example",
		FetchPage:        s.fetchPage,
		OpenWorker:       s.openWorker,
		BatchConcurrency: 2,
		MaxPages:         3,
	}
}

func TestRunEmptyKeywordShortCircuits(t *testing.T) {
	s := &stubFetcher{}
	p := newTestPipeline(s)

	records, outcome, _ := p.Run(context.Background(), "", 1, nil)
	assert.Empty(t, records)
	assert.Equal(t, models.RunOutcomeEmpty, outcome)
	assert.Zero(t, s.fetches, "no network call may be attempted")
}

func TestRunDisabledShortCircuits(t *testing.T) {
	s := &stubFetcher{}
	p := newTestPipeline(s)
	p.Enabled = func() bool { return false }

	records, outcome, msg := p.Run(context.Background(), "anything", 1, nil)
	assert.Empty(t, records)
	assert.Equal(t, models.RunOutcomeEmpty, outcome)
	assert.Equal(t, "disabled", msg)
	assert.Zero(t, s.fetches)
}

type fixedLimiter struct{ limited bool }

func (l fixedLimiter) Check(string) (bool, string) {
	if l.limited {
		return true, "window full"
	}
	return false, ""
}

func TestRunRateLimitedShortCircuits(t *testing.T) {
	s := &stubFetcher{}
	p := newTestPipeline(s)
	p.Limiter = fixedLimiter{limited: true}

	records, outcome, _ := p.Run(context.Background(), "anything", 1, nil)
	assert.Empty(t, records)
	assert.Equal(t, models.RunOutcomeRateLimited, outcome)
	assert.Zero(t, s.fetches)
}

func TestCollectDedupsAcrossPages(t *testing.T) {
	s := &stubFetcher{pages: map[int]*PageResult{
		1: {
			TotalPages: 2,
			Candidates: []Candidate{
				{Title: "Show.S01E01", URL: "/t/1"},
				{Title: "Show.S01E02", URL: "/t/2"},
			},
		},
		2: {
			Candidates: []Candidate{
				{Title: "Show.S01E02", URL: "/t/2"},  // duplicate URL
				{Title: "show s01e01", URL: "/t/9"},  // duplicate normalized title
				{Title: "Show.S01E03", URL: "/t/3"},
			},
		},
	}}
	p := newTestPipeline(s)

	records, outcome, _ := p.Run(context.Background(), "Show", 1, nil)
	require.Equal(t, models.RunOutcomeOK, outcome)
	assert.Len(t, records, 3)

	seen := map[string]bool{}
	for _, url := range s.extracts {
		assert.False(t, seen[url], "detail %s visited twice", url)
		seen[url] = true
	}
	assert.Len(t, s.extracts, 3)
	assert.NotContains(t, s.extracts, "/t/9")
}

func TestRunFilterShortCircuit(t *testing.T) {
	s := &stubFetcher{pages: map[int]*PageResult{
		1: {Candidates: []Candidate{{Title: "A", URL: "/a"}, {Title: "B", URL: "/b"}}},
	}}
	p := newTestPipeline(s)
	p.Filter = func(keyword string, candidates []string, sctx *models.SearchContext) []string {
		return nil
	}

	sctx := &models.SearchContext{EnableFilter: true}
	records, outcome, msg := p.Run(context.Background(), "kw", 1, sctx)
	assert.Empty(t, records, "must not fall back to unfiltered candidates")
	assert.Equal(t, models.RunOutcomeEmpty, outcome)
	assert.Equal(t, "filtered out", msg)
	assert.Zero(t, s.extractCount())
}

func TestRunFilterKeepsSubset(t *testing.T) {
	s := &stubFetcher{pages: map[int]*PageResult{
		1: {Candidates: []Candidate{{Title: "Keep", URL: "/k"}, {Title: "Drop", URL: "/d"}}},
	}}
	p := newTestPipeline(s)
	p.Filter = func(keyword string, candidates []string, sctx *models.SearchContext) []string {
		return []string{"Keep"}
	}

	records, _, _ := p.Run(context.Background(), "kw", 1, &models.SearchContext{EnableFilter: true})
	require.Len(t, records, 1)
	assert.Equal(t, "Keep", records[0].Title)
	assert.Equal(t, []string{"/k"}, s.extracts)
}

func TestRunMaxResultCap(t *testing.T) {
	var cands []Candidate
	for i := 0; i < 10; i++ {
		cands = append(cands, Candidate{Title: fmt.Sprintf("Item %d", i), URL: fmt.Sprintf("/t/%d", i)})
	}
	s := &stubFetcher{pages: map[int]*PageResult{1: {Candidates: cands}}}
	p := newTestPipeline(s)
	p.MaxResults = 4
	p.BatchConcurrency = 1 // keep discovery order observable

	records, _, _ := p.Run(context.Background(), "kw", 1, nil)
	assert.Len(t, records, 4)
	assert.Equal(t, []string{"/t/0", "/t/1", "/t/2", "/t/3"}, s.extracts,
		"exactly the first K detail pages are fetched, in discovery order")
}

func TestRunPageClamp(t *testing.T) {
	s := &stubFetcher{pages: map[int]*PageResult{
		1: {TotalPages: 50, Candidates: []Candidate{{Title: "P1", URL: "/1"}}},
		2: {Candidates: []Candidate{{Title: "P2", URL: "/2"}}},
		3: {Candidates: []Candidate{{Title: "P3", URL: "/3"}}},
		4: {Candidates: []Candidate{{Title: "P4", URL: "/4"}}},
	}}
	p := newTestPipeline(s)
	p.MaxPages = 3

	records, _, _ := p.Run(context.Background(), "kw", 1, nil)
	assert.Len(t, records, 3)
	assert.Equal(t, 3, s.fetches, "pages beyond the clamp are not fetched")
}

func TestRunDirectDetailPage(t *testing.T) {
	s := &stubFetcher{
		pages: map[int]*PageResult{
			1: {Direct: true, DirectURL: "/detail/42"},
		},
		records: map[string][]models.TorrentRecord{
			"/detail/42": {{Title: "The Only One", Enclosure: "magnet:?xt=urn:btih:X"}},
		},
	}
	p := newTestPipeline(s)

	records, outcome, msg := p.Run(context.Background(), "kw", 1, nil)
	require.Len(t, records, 1)
	assert.Equal(t, models.RunOutcomeOK, outcome)
	assert.Equal(t, "direct detail page", msg)
	assert.Equal(t, []string{"/detail/42"}, s.extracts)
}

func TestRunEndToEndDuplicateTitles(t *testing.T) {
	// Two rows with the same title pointing at different detail pages: the
	// candidate-stage title dedup means only one detail page is visited and
	// a single record comes back.
	s := &stubFetcher{
		pages: map[int]*PageResult{
			1: {Candidates: []Candidate{
				{Title: "Show.S01E01", URL: "/t/1"},
				{Title: "Show.S01E01", URL: "/t/2"},
			}},
		},
		records: map[string][]models.TorrentRecord{
			"/t/1": {{Title: "Show S01E01 1080p", Enclosure: "magnet:?xt=urn:btih:A&dn=One"}},
			"/t/2": {{Title: "Show S01E01 2160p", Enclosure: "magnet:?xt=urn:btih:B&dn=Two"}},
		},
	}
	p := newTestPipeline(s)

	records, _, _ := p.Run(context.Background(), "Show", 1, nil)
	require.Len(t, s.extracts, 1, "only one of the two detail pages may be visited")
	require.Len(t, records, 1)
}

func TestRunItemScopeTitleDedup(t *testing.T) {
	// Distinct candidates whose detail pages surface the same canonical
	// torrent name collapse to one record.
	s := &stubFetcher{
		pages: map[int]*PageResult{
			1: {Candidates: []Candidate{
				{Title: "Listing A", URL: "/a"},
				{Title: "Listing B", URL: "/b"},
			}},
		},
		records: map[string][]models.TorrentRecord{
			"/a": {{Title: "Same Release", Enclosure: "magnet:?xt=urn:btih:A"}},
			"/b": {{Title: "Same Release", Enclosure: "magnet:?xt=urn:btih:B"}},
		},
	}
	p := newTestPipeline(s)
	p.BatchConcurrency = 1

	records, _, _ := p.Run(context.Background(), "kw", 1, nil)
	assert.Len(t, s.extracts, 2)
	assert.Len(t, records, 1)
}

func TestRunBrowsePathOnEmptyKeyword(t *testing.T) {
	s := &stubFetcher{}
	p := newTestPipeline(s)
	p.Browse = func(ctx context.Context, page int) []models.TorrentRecord {
		return []models.TorrentRecord{{Title: "Featured", Enclosure: "magnet:?xt=urn:btih:F"}}
	}

	records, outcome, _ := p.Run(context.Background(), "", 1, nil)
	require.Len(t, records, 1)
	assert.Equal(t, models.RunOutcomeOK, outcome)
	assert.Zero(t, s.fetches)
}

func TestRunLookupPathForIDQueries(t *testing.T) {
	s := &stubFetcher{}
	p := newTestPipeline(s)
	p.Lookup = func(ctx context.Context, id string, sctx *models.SearchContext) []models.TorrentRecord {
		assert.Equal(t, "tt0133093", id)
		return []models.TorrentRecord{{Title: "By ID", Enclosure: "magnet:?xt=urn:btih:I"}}
	}

	records, _, _ := p.Run(context.Background(), "tt0133093", 1, &models.SearchContext{Area: "imdbid"})
	require.Len(t, records, 1)
	assert.Zero(t, s.fetches)
}

func TestPartitionProperty(t *testing.T) {
	for _, tc := range []struct{ urls, batches int }{
		{1, 4}, {4, 4}, {5, 2}, {10, 3}, {7, 8}, {100, 6},
	} {
		var cands []Candidate
		for i := 0; i < tc.urls; i++ {
			cands = append(cands, Candidate{URL: fmt.Sprintf("/t/%d", i)})
		}
		batches := partition(cands, tc.batches)

		require.LessOrEqual(t, len(batches), tc.batches)
		total := 0
		seen := map[string]bool{}
		for _, b := range batches {
			require.NotEmpty(t, b, "every batch holds at least one URL")
			total += len(b)
			for _, c := range b {
				require.False(t, seen[c.URL], "URL in more than one batch")
				seen[c.URL] = true
			}
		}
		assert.Equal(t, tc.urls, total, "batch sizes sum to the candidate count")
	}
}

func TestRunFetchFailureNeverPanics(t *testing.T) {
	s := &stubFetcher{pages: map[int]*PageResult{}}
	p := newTestPipeline(s)

	records, outcome, _ := p.Run(context.Background(), "kw", 1, nil)
	assert.Empty(t, records)
	assert.Equal(t, models.RunOutcomeFailed, outcome)
}
