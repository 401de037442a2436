package scraper

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/spf13/afero"

	"magnetar/config"
	"magnetar/models"
	"magnetar/services/browser"
	"magnetar/services/fileshare"
	"magnetar/services/magnetinfo"
	"magnetar/services/ratelimit"
	"magnetar/services/transport"
	"magnetar/utils/filter"
	"magnetar/utils/titles"
)

// Scraper is the plugin contract the registry dispatches to.
type Scraper interface {
	Name() string
	Indexer() models.IndexerDescriptor
	TestConnectivity(ctx context.Context) (bool, string)
	// Run never returns an error: failures fold into the outcome.
	Run(ctx context.Context, keyword string, page int, sctx *models.SearchContext) ([]models.TorrentRecord, models.RunOutcome, string)
	Stop()
}

// Deps are the collaborators shared across all site scrapers.
type Deps struct {
	Limiter      *ratelimit.Registry
	MagnetInfo   *magnetinfo.Client
	FileShare    *fileshare.Client
	FlareURL     string
	FlareTimeout time.Duration
	StagingDir   string
	Fs           afero.Fs
}

// Site is the generic scraper: one instance per enabled site, driven
// entirely by its Profile and ScraperConfig. It owns its transport client
// and, for browser variants, its browser session; neither is ever shared.
type Site struct {
	profile Profile
	cfg     config.ScraperConfig
	deps    Deps
	client  transport.Client
	domain  string

	mu       sync.Mutex
	session  *browser.Session
	solver   *browser.Solver
	loggedIn bool
	stopped  bool
}

// NewSite builds a scraper instance for one site. The config is snapshotted:
// edits go through the registry, which tears the instance down and rebuilds
// it.
func NewSite(profile Profile, cfg config.ScraperConfig, deps Deps) *Site {
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}

	var client transport.Client
	if cfg.UseProxy && deps.FlareURL != "" {
		client = transport.NewFlareClient(deps.FlareURL, deps.FlareTimeout)
	} else {
		client = transport.NewDirectClient(transport.DirectOptions{
			DelayMin: profile.DelayMin,
			DelayMax: profile.DelayMax,
		})
	}

	domain := titles.Domain(cfg.SiteURL)
	if deps.Limiter != nil && cfg.RateLimitCount > 0 && domain != "" {
		deps.Limiter.SetRule(domain, ratelimit.Rule{
			Window: time.Duration(cfg.RateLimitSeconds) * time.Second,
			Burst:  cfg.RateLimitCount,
		})
	}

	return &Site{
		profile: profile,
		cfg:     cfg,
		deps:    deps,
		client:  client,
		domain:  domain,
		solver:  browser.NewSolver(),
	}
}

func (s *Site) Name() string { return s.profile.ID }

// Indexer is the read-only projection handed to the host.
func (s *Site) Indexer() models.IndexerDescriptor {
	return models.IndexerDescriptor{
		ID:     s.profile.ID,
		Name:   s.profile.Name,
		URL:    s.cfg.SiteURL,
		Domain: s.domain,
		Public: s.profile.Public,
		Proxy:  s.cfg.UseProxy,
		Parser: string(s.profile.Variant),
		Browse: s.profile.BrowsePath != "",
		IMDB:   s.profile.SupportsIMDB,
	}
}

// Config returns the snapshot this instance was built with.
func (s *Site) Config() config.ScraperConfig { return s.cfg }

// Tags returns the site's descriptive tags.
func (s *Site) Tags() []string { return s.profile.Tags }

// TestConnectivity performs one lightweight request against the site root.
func (s *Site) TestConnectivity(ctx context.Context) (bool, string) {
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	resp, err := transport.Get(ctx, s.client, s.cfg.SiteURL)
	if err != nil {
		return false, err.Error()
	}
	if resp.StatusCode >= 500 {
		return false, fmt.Sprintf("status %d", resp.StatusCode)
	}
	return true, fmt.Sprintf("status %d", resp.StatusCode)
}

// Run executes one search through the shared pipeline.
func (s *Site) Run(ctx context.Context, keyword string, page int, sctx *models.SearchContext) ([]models.TorrentRecord, models.RunOutcome, string) {
	r := &searchRun{site: s, cfg: s.cfg}
	defer r.close()

	p := &Pipeline{
		Site:             s.profile.ID,
		Domain:           s.domain,
		Enabled:          func() bool { return s.cfg.Enabled && !s.isStopped() },
		FetchPage:        r.fetchPage,
		OpenWorker:       r.openWorker,
		Delay:            r.delay,
		BatchConcurrency: s.cfg.BatchConcurrency,
		MaxPages:         s.cfg.MaxLoadPages,
		MaxResults:       s.cfg.MaxResultItems,
		Filter: func(keyword string, candidates []string, sctx *models.SearchContext) []string {
			return filter.Titles(s.profile.ID, keyword, candidates, sctx)
		},
	}
	if s.deps.Limiter != nil {
		p.Limiter = s.deps.Limiter
	}
	if r.needsBootstrap() {
		p.Bootstrap = r.bootstrap
	}
	if s.profile.BrowsePath != "" {
		p.Browse = r.browse
	}
	if s.profile.SupportsIMDB {
		p.Lookup = r.lookup
	}

	records, outcome, msg := p.Run(ctx, keyword, page, sctx)
	s.backfillSizes(ctx, records)
	return records, outcome, msg
}

// backfillSizes fills missing sizes on magnet records via the metadata API.
// Bounded: the lookup endpoint is shared and slow, so only the first few
// gaps are worth the round trips.
func (s *Site) backfillSizes(ctx context.Context, records []models.TorrentRecord) {
	if s.deps.MagnetInfo == nil {
		return
	}
	const maxLookups = 5
	looked := 0
	for i := range records {
		if looked >= maxLookups || ctx.Err() != nil {
			return
		}
		if records[i].SizeBytes != 0 || !strings.HasPrefix(records[i].Enclosure, "magnet:") {
			continue
		}
		looked++
		info, err := s.deps.MagnetInfo.Lookup(ctx, records[i].Enclosure)
		if err != nil {
			log.Printf("[scraper] %s: size lookup failed: %v", s.profile.ID, err)
			continue
		}
		records[i].SizeBytes = info.Size
		if records[i].Title == "" {
			records[i].Title = info.Name
		}
	}
}

func (s *Site) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// browserSession lazily starts the site's browser process.
func (s *Site) browserSession() (*browser.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, fmt.Errorf("scraper %s is stopped", s.profile.ID)
	}
	if s.session != nil {
		return s.session, nil
	}
	sess, err := browser.NewSession(context.Background(), browser.Options{
		Headless: s.cfg.Headless,
	})
	if err != nil {
		return nil, err
	}
	s.session = sess
	return sess, nil
}

// Stop releases the transport client and browser session. Idempotent.
func (s *Site) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	sess := s.session
	s.session = nil
	s.mu.Unlock()

	if err := s.client.Close(); err != nil {
		log.Printf("[scraper] %s: transport close: %v", s.profile.ID, err)
	}
	if sess != nil {
		sess.Close()
	}
	if s.deps.Limiter != nil && s.domain != "" {
		s.deps.Limiter.Reset(s.domain)
	}
	log.Printf("[scraper] %s: stopped", s.profile.ID)
}

// searchRun holds per-search state, most importantly the main browser tab
// for browser-driven sites. It is discarded when the search returns.
type searchRun struct {
	site *Site
	cfg  config.ScraperConfig

	mainTab *browser.Tab
}

func (r *searchRun) browserDriven() bool {
	return r.cfg.BrowserMode == "automated"
}

func (r *searchRun) needsBootstrap() bool {
	return r.browserDriven() || r.cfg.RequiresChallengeBypass
}

func (r *searchRun) close() {
	if r.mainTab != nil {
		r.mainTab.Close()
		r.mainTab = nil
	}
}

// bootstrap primes the session: browser sites open the main tab on the home
// page and clear any challenge (plus log in when the site wants it);
// transport sites fetch the home page once so cookies land in the jar or the
// proxy session warms up.
func (r *searchRun) bootstrap(ctx context.Context) error {
	s := r.site
	if !r.browserDriven() {
		resp, err := transport.Get(ctx, s.client, r.cfg.SiteURL)
		if err != nil {
			return fmt.Errorf("bootstrap fetch: %w", err)
		}
		if !resp.OK() {
			return fmt.Errorf("bootstrap fetch: status %d", resp.StatusCode)
		}
		return nil
	}

	sess, err := s.browserSession()
	if err != nil {
		return err
	}
	tab, err := sess.NewTab()
	if err != nil {
		return err
	}
	r.mainTab = tab

	if err := r.transplantProxyCookies(ctx, tab); err != nil {
		log.Printf("[scraper] %s: cookie transplant skipped: %v", s.profile.ID, err)
	}

	if err := tab.Navigate(ctx, r.cfg.SiteURL); err != nil {
		return fmt.Errorf("open home page: %w", err)
	}
	if !s.solver.Pass(ctx, tab) {
		return fmt.Errorf("home page challenge not passed")
	}

	if s.profile.LoginPath != "" && r.cfg.Username != "" {
		if err := r.login(ctx, tab); err != nil {
			return fmt.Errorf("login: %w", err)
		}
	}
	return nil
}

// transplantProxyCookies moves a proxy-cleared session into the browser so
// the browser does not face the challenge again.
func (r *searchRun) transplantProxyCookies(ctx context.Context, tab *browser.Tab) error {
	s := r.site
	if !r.cfg.UseProxy {
		return nil
	}
	resp, err := transport.Get(ctx, s.client, r.cfg.SiteURL)
	if err != nil {
		return err
	}
	if len(resp.Cookies) > 0 {
		if err := tab.SetCookies(ctx, s.domain, resp.Cookies); err != nil {
			return err
		}
	}
	return tab.SetUserAgent(ctx, resp.UserAgent)
}

func (r *searchRun) login(ctx context.Context, tab *browser.Tab) error {
	s := r.site
	s.mu.Lock()
	done := s.loggedIn
	s.mu.Unlock()
	if done {
		return nil
	}

	sel := s.profile.Selectors
	loginURL := strings.TrimRight(r.cfg.SiteURL, "/") + s.profile.LoginPath
	if err := tab.Navigate(ctx, loginURL); err != nil {
		return err
	}
	if !s.solver.Pass(ctx, tab) {
		return fmt.Errorf("login page challenge not passed")
	}
	if err := tab.WaitVisible(ctx, sel.LoginUser); err != nil {
		return fmt.Errorf("login form not found: %w", err)
	}
	if err := tab.SendKeys(ctx, sel.LoginUser, r.cfg.Username); err != nil {
		return err
	}
	if err := tab.SendKeys(ctx, sel.LoginPass, r.cfg.Password); err != nil {
		return err
	}
	if err := tab.Click(ctx, sel.LoginSubmit); err != nil {
		return err
	}
	// Give the redirect a moment, then confirm the form is gone.
	time.Sleep(2 * time.Second)
	html, err := tab.HTML(ctx)
	if err != nil {
		return err
	}
	if strings.Contains(html, sel.LoginUser) {
		return fmt.Errorf("still on login form")
	}

	s.mu.Lock()
	s.loggedIn = true
	s.mu.Unlock()
	log.Printf("[scraper] %s: logged in", s.profile.ID)
	return nil
}

// fetchPage loads one search-results page through whichever channel the
// site uses.
func (r *searchRun) fetchPage(ctx context.Context, keyword string, page int) (*PageResult, error) {
	s := r.site
	u := s.profile.SearchURL(r.cfg.SiteURL, keyword, page)

	if r.browserDriven() {
		if r.mainTab == nil {
			return nil, fmt.Errorf("browser tab not bootstrapped")
		}
		doc, finalURL, err := r.renderPage(ctx, r.mainTab, u)
		if err != nil {
			return nil, err
		}
		return parseSearchHTML(s.profile, finalURL, doc), nil
	}

	resp, err := transport.Get(ctx, s.client, u)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("search page: status %d", resp.StatusCode)
	}
	doc, err := resp.Document()
	if err != nil {
		return nil, fmt.Errorf("parse search page: %w", err)
	}
	return parseSearchHTML(s.profile, u, doc), nil
}

// renderPage navigates a tab, clears challenges, and parses the DOM.
func (r *searchRun) renderPage(ctx context.Context, tab *browser.Tab, u string) (*goquery.Document, string, error) {
	s := r.site
	if err := tab.Navigate(ctx, u); err != nil {
		return nil, "", fmt.Errorf("navigate %s: %w", u, err)
	}
	if !s.solver.Pass(ctx, tab) {
		return nil, "", fmt.Errorf("challenge not passed on %s", u)
	}
	html, err := tab.HTML(ctx)
	if err != nil {
		return nil, "", err
	}
	finalURL, err := tab.Location(ctx)
	if err != nil || finalURL == "" {
		finalURL = u
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, "", err
	}
	return doc, finalURL, nil
}

// openWorker allocates one batch worker: a fresh tab for browser variants,
// the shared transport client otherwise.
func (r *searchRun) openWorker(ctx context.Context) (ExtractFunc, func(), error) {
	s := r.site

	if r.browserDriven() {
		sess, err := s.browserSession()
		if err != nil {
			return nil, nil, err
		}
		tab, err := sess.NewTab()
		if err != nil {
			return nil, nil, err
		}
		extract := func(ctx context.Context, c Candidate) []models.TorrentRecord {
			doc, finalURL, err := r.renderPage(ctx, tab, c.URL)
			if err != nil {
				log.Printf("[scraper] %s: detail %s skipped: %v", s.profile.ID, c.URL, err)
				return nil
			}
			if s.profile.Variant == VariantDownload {
				return r.extractDownload(ctx, tab, c, doc)
			}
			return parseDetailHTML(s.profile, finalURL, c.Title, doc)
		}
		return extract, tab.Close, nil
	}

	extract := func(ctx context.Context, c Candidate) []models.TorrentRecord {
		resp, err := transport.Get(ctx, s.client, c.URL)
		if err != nil {
			log.Printf("[scraper] %s: detail %s skipped: %v", s.profile.ID, c.URL, err)
			return nil
		}
		if !resp.OK() {
			log.Printf("[scraper] %s: detail %s skipped: status %d", s.profile.ID, c.URL, resp.StatusCode)
			return nil
		}
		doc, err := resp.Document()
		if err != nil {
			log.Printf("[scraper] %s: detail %s skipped: %v", s.profile.ID, c.URL, err)
			return nil
		}
		return parseDetailHTML(s.profile, c.URL, c.Title, doc)
	}
	return extract, func() {}, nil
}

// extractDownload handles the torrent-download variant: pull the .torrent
// through the browser, verify and parse it, re-share it, and surface the
// share URL as the enclosure.
func (r *searchRun) extractDownload(ctx context.Context, tab *browser.Tab, c Candidate, doc *goquery.Document) []models.TorrentRecord {
	s := r.site
	if s.deps.FileShare == nil || !s.deps.FileShare.Configured() {
		log.Printf("[scraper] %s: no file share configured, skipping download", s.profile.ID)
		return nil
	}

	path, err := tab.Download(ctx, s.profile.Selectors.DownloadTrigger, s.deps.StagingDir)
	if err != nil {
		log.Printf("[scraper] %s: download failed for %s: %v", s.profile.ID, c.URL, err)
		return nil
	}
	defer func() {
		if err := s.deps.Fs.Remove(path); err != nil {
			log.Printf("[scraper] %s: staging cleanup: %v", s.profile.ID, err)
		}
	}()

	data, err := afero.ReadFile(s.deps.Fs, path)
	if err != nil {
		log.Printf("[scraper] %s: read download: %v", s.profile.ID, err)
		return nil
	}
	meta, err := parseTorrent(data)
	if err != nil {
		log.Printf("[scraper] %s: %s: %v", s.profile.ID, path, err)
		return nil
	}

	_, shareURL, err := s.deps.FileShare.Upload(ctx, path)
	if err != nil {
		log.Printf("[scraper] %s: share upload: %v", s.profile.ID, err)
		return nil
	}

	title := meta.Name
	if ep, formatted := titles.FormatEpisodeFilename(meta.Name); ep > 0 {
		title = formatted
	}
	return []models.TorrentRecord{{
		Title:       title,
		Enclosure:   shareURL,
		Description: strings.TrimSpace(doc.Find(s.profile.Selectors.DetailTitle).First().Text()),
		SizeBytes:   meta.Size,
	}}
}

// browse serves the no-keyword listing: collect the listing page's rows and
// walk their detail pages on a single worker. The pipeline dispatches here
// before its bootstrap stage, so browse primes the session itself.
func (r *searchRun) browse(ctx context.Context, page int) []models.TorrentRecord {
	s := r.site
	if r.needsBootstrap() {
		if err := r.bootstrap(ctx); err != nil {
			log.Printf("[scraper] %s: browse bootstrap failed: %v", s.profile.ID, err)
			return nil
		}
	}
	if page < 1 {
		page = 1
	}
	u := s.profile.BrowseURL(r.cfg.SiteURL, page)

	var res *PageResult
	if r.browserDriven() {
		if r.mainTab == nil {
			log.Printf("[scraper] %s: browse without bootstrap", s.profile.ID)
			return nil
		}
		doc, finalURL, err := r.renderPage(ctx, r.mainTab, u)
		if err != nil {
			log.Printf("[scraper] %s: browse fetch failed: %v", s.profile.ID, err)
			return nil
		}
		res = parseSearchHTML(s.profile, finalURL, doc)
	} else {
		resp, err := transport.Get(ctx, s.client, u)
		if err != nil || !resp.OK() {
			log.Printf("[scraper] %s: browse fetch failed: %v", s.profile.ID, err)
			return nil
		}
		doc, err := resp.Document()
		if err != nil {
			return nil
		}
		res = parseSearchHTML(s.profile, u, doc)
	}

	cands := res.Candidates
	if s.cfg.MaxResultItems > 0 && len(cands) > s.cfg.MaxResultItems {
		cands = cands[:s.cfg.MaxResultItems]
	}

	extract, cleanup, err := r.openWorker(ctx)
	if err != nil {
		log.Printf("[scraper] %s: browse worker: %v", s.profile.ID, err)
		return nil
	}
	defer cleanup()

	var records []models.TorrentRecord
	seen := make(map[string]struct{})
	for i, c := range cands {
		if ctx.Err() != nil {
			break
		}
		if i > 0 {
			r.delay(ctx)
		}
		records = dedupeByTitle(extract(ctx, c), seen, records)
	}
	return records
}

// lookup serves id-based queries: the site accepts the external id as a
// search keyword, so this is a single-page search walked on one worker.
func (r *searchRun) lookup(ctx context.Context, id string, sctx *models.SearchContext) []models.TorrentRecord {
	s := r.site
	if r.needsBootstrap() {
		if err := r.bootstrap(ctx); err != nil {
			log.Printf("[scraper] %s: id lookup bootstrap failed: %v", s.profile.ID, err)
			return nil
		}
	}

	res, err := r.fetchPage(ctx, id, 1)
	if err != nil {
		log.Printf("[scraper] %s: id lookup fetch failed: %v", s.profile.ID, err)
		return nil
	}

	extract, cleanup, err := r.openWorker(ctx)
	if err != nil {
		log.Printf("[scraper] %s: id lookup worker: %v", s.profile.ID, err)
		return nil
	}
	defer cleanup()

	if res.Direct {
		return dedupeByTitle(extract(ctx, Candidate{Title: id, URL: res.DirectURL}), make(map[string]struct{}), nil)
	}

	cands := res.Candidates
	if s.cfg.MaxResultItems > 0 && len(cands) > s.cfg.MaxResultItems {
		cands = cands[:s.cfg.MaxResultItems]
	}

	var records []models.TorrentRecord
	seen := make(map[string]struct{})
	for i, c := range cands {
		if ctx.Err() != nil {
			break
		}
		if i > 0 {
			r.delay(ctx)
		}
		records = dedupeByTitle(extract(ctx, c), seen, records)
	}
	return records
}

// delay sleeps a jittered interval between items of one batch. Batch workers
// call this concurrently, so the jitter comes from the locked global source.
func (r *searchRun) delay(ctx context.Context) {
	s := r.site
	if s.profile.DelayMax <= 0 {
		return
	}
	span := s.profile.DelayMax - s.profile.DelayMin
	d := s.profile.DelayMin
	if span > 0 {
		d += time.Duration(rand.Int63n(int64(span)))
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
