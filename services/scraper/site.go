package scraper

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"magnetar/models"
	"magnetar/utils/titles"
)

// Variant selects the structural pattern a site follows. Most sites are
// plain list+detail over HTTP; some need a driven browser; one downloads
// .torrent files instead of exposing magnets.
type Variant string

const (
	VariantList     Variant = "list"
	VariantBrowser  Variant = "browser"
	VariantDownload Variant = "download"
)

// Selectors is the declarative selector set one site needs. The generic
// adapters consume these; a site never gets its own parsing code unless its
// flow is genuinely unique.
type Selectors struct {
	Rows       string // one search-result row
	RowTitle   string // title within a row
	RowLink    string // detail link within a row (href)
	Pagination string // pagination anchors; highest number wins

	DetailMagnet string // magnet anchors on a detail page
	DetailTitle  string // canonical title on a detail page
	DetailSize   string // size fragment on a detail page

	DownloadTrigger string // .torrent download link (download variant)

	LoginUser   string
	LoginPass   string
	LoginSubmit string
}

// Profile is the static description of one supported site: identity, URL
// templates, selector set, and pacing defaults. Mutable knobs live in
// config.ScraperConfig.
type Profile struct {
	ID          string
	Name        string
	Description string
	SearchPath  string // template, {keyword} and {page} substituted
	BrowsePath  string // no-keyword listing, optional
	LoginPath   string // login form page, optional
	Variant     Variant
	Public      bool
	// SupportsIMDB marks sites whose search accepts an imdb id as the
	// keyword.
	SupportsIMDB bool

	// Encode overrides the keyword encoding. Nil means standard
	// percent-encoding.
	Encode func(string) string

	Selectors Selectors
	Tags      []string

	DelayMin time.Duration
	DelayMax time.Duration
}

// SearchURL renders the search URL for a keyword and 1-based page.
func (p Profile) SearchURL(siteURL, keyword string, page int) string {
	enc := url.QueryEscape
	if p.Encode != nil {
		enc = p.Encode
	}
	path := strings.ReplaceAll(p.SearchPath, "{keyword}", enc(keyword))
	path = strings.ReplaceAll(path, "{page}", strconv.Itoa(page))
	return strings.TrimRight(siteURL, "/") + path
}

// BrowseURL renders the recommended-items listing URL.
func (p Profile) BrowseURL(siteURL string, page int) string {
	path := strings.ReplaceAll(p.BrowsePath, "{page}", strconv.Itoa(page))
	return strings.TrimRight(siteURL, "/") + path
}

// Profiles is the table of supported sites.
func Profiles() []Profile {
	return []Profile{
		{
			ID:          "onelou",
			Name:        "1LOU",
			Description: "BT forum with slider-protected pages",
			SearchPath:  "/search-{keyword}-1-{page}.htm",
			BrowsePath:  "/forum-1-{page}.htm",
			Variant:     VariantBrowser,
			Public:      true,
			Encode:      titles.EncodeKeyword,
			Selectors: Selectors{
				Rows:         "li.media.thread",
				RowTitle:     ".subject a",
				RowLink:      ".subject a",
				Pagination:   "ul.pagination li a",
				DetailMagnet: "a[href^='magnet:']",
				DetailTitle:  "h4.break-all",
				DetailSize:   ".attachlist .filename",
			},
			Tags:     []string{"forum", "magnet"},
			DelayMin: 500 * time.Millisecond,
			DelayMax: 1500 * time.Millisecond,
		},
		{
			ID:           "gying",
			Name:         "GYing",
			Description:  "Credentialed index, login required",
			SearchPath:   "/s/1---1/{keyword}",
			LoginPath:    "/user/login/",
			Variant:      VariantBrowser,
			SupportsIMDB: true,
			Selectors: Selectors{
				Rows:         ".sr_lists dl",
				RowTitle:     "dd b",
				RowLink:      "dd a",
				DetailMagnet: "a[href^='magnet:']",
				DetailTitle:  "h1",
				DetailSize:   ".torrent-size",
				LoginUser:    "input[name='username']",
				LoginPass:    "input[name='password']",
				LoginSubmit:  "button[type='submit']",
			},
			Tags:     []string{"login", "magnet"},
			DelayMin: time.Second,
			DelayMax: 2 * time.Second,
		},
		{
			ID:          "cilixiong",
			Name:        "磁力熊",
			Description: "Plain magnet index",
			SearchPath:  "/search/{keyword}/{page}.html",
			Variant:     VariantList,
			Public:      true,
			Selectors: Selectors{
				Rows:         ".row .card",
				RowTitle:     ".card-title",
				RowLink:      "a.stretched-link",
				Pagination:   ".pagination a.page-link",
				DetailMagnet: "a[href^='magnet:']",
				DetailTitle:  "h1",
				DetailSize:   ".table td",
			},
			Tags:     []string{"magnet"},
			DelayMin: 300 * time.Millisecond,
			DelayMax: 800 * time.Millisecond,
		},
		{
			ID:          "btdx8",
			Name:        "BT大侠",
			Description: "Movie index; single matches land on the detail page",
			SearchPath:  "/?s={keyword}",
			Variant:     VariantList,
			Public:      true,
			Selectors: Selectors{
				Rows:         "article.post",
				RowTitle:     "h2 a",
				RowLink:      "h2 a",
				Pagination:   ".pagination a",
				DetailMagnet: "a[href^='magnet:']",
				DetailTitle:  "h1.entry-title",
				DetailSize:   ".entry-content",
			},
			Tags:     []string{"magnet", "torrent"},
			DelayMin: 300 * time.Millisecond,
			DelayMax: 800 * time.Millisecond,
		},
		{
			ID:          "wuqian",
			Name:        "无嫌",
			Description: "Torrent-file site; downloads are re-shared for the host",
			SearchPath:  "/search/{keyword}/page/{page}",
			Variant:     VariantDownload,
			Selectors: Selectors{
				Rows:            ".post-list .item",
				RowTitle:        ".title a",
				RowLink:         ".title a",
				Pagination:      ".page-numbers",
				DetailTitle:     "h1",
				DetailSize:      ".meta",
				DownloadTrigger: "a.download-link",
			},
			Tags:     []string{"torrent", "download"},
			DelayMin: time.Second,
			DelayMax: 3 * time.Second,
		},
	}
}

// ProfileByID looks a profile up by its scraper ID.
func ProfileByID(id string) (Profile, bool) {
	for _, p := range Profiles() {
		if p.ID == id {
			return p, true
		}
	}
	return Profile{}, false
}

// parseSearchHTML turns a search-results document into a PageResult using
// the profile's selector set. pageURL is the document's own URL, used both
// to absolutize links and as the direct-detail URL when the site skipped the
// list entirely.
func parseSearchHTML(p Profile, pageURL string, doc *goquery.Document) *PageResult {
	res := &PageResult{}

	rows := doc.Find(p.Selectors.Rows)
	if rows.Length() == 0 {
		// No list markers: single-result sites answer with the detail page.
		if p.Selectors.DetailMagnet != "" && doc.Find(p.Selectors.DetailMagnet).Length() > 0 {
			res.Direct = true
			res.DirectURL = pageURL
		}
		return res
	}

	rows.Each(func(_ int, row *goquery.Selection) {
		link := row.Find(p.Selectors.RowLink).First()
		href, ok := link.Attr("href")
		if !ok || href == "" {
			return
		}
		title := strings.TrimSpace(row.Find(p.Selectors.RowTitle).First().Text())
		if title == "" {
			title = strings.TrimSpace(link.Text())
		}
		res.Candidates = append(res.Candidates, Candidate{
			Title: title,
			URL:   absolutize(pageURL, href),
		})
	})

	if p.Selectors.Pagination != "" {
		res.TotalPages = maxPageNumber(doc.Find(p.Selectors.Pagination))
	}
	return res
}

// maxPageNumber scans pagination anchors for the highest numeric label.
func maxPageNumber(sel *goquery.Selection) int {
	max := 0
	sel.Each(func(_ int, a *goquery.Selection) {
		n, err := strconv.Atoi(strings.TrimSpace(a.Text()))
		if err == nil && n > max {
			max = n
		}
	})
	return max
}

// parseDetailHTML extracts magnet records from one detail page.
func parseDetailHTML(p Profile, pageURL, fallbackTitle string, doc *goquery.Document) []models.TorrentRecord {
	pageTitle := strings.TrimSpace(doc.Find(p.Selectors.DetailTitle).First().Text())
	if pageTitle == "" {
		pageTitle = fallbackTitle
	}

	var sizeHint int64
	if p.Selectors.DetailSize != "" {
		sizeHint = titles.ParseSize(doc.Find(p.Selectors.DetailSize).Text())
	}

	magnetSel := p.Selectors.DetailMagnet
	if magnetSel == "" {
		magnetSel = "a[href^='magnet:']"
	}

	var records []models.TorrentRecord
	doc.Find(magnetSel).Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok || !strings.HasPrefix(href, "magnet:") {
			return
		}

		title := titles.MagnetDisplayName(href)
		if title == "" {
			title = strings.TrimSpace(a.Text())
		}
		if title == "" || strings.HasPrefix(strings.ToLower(title), "magnet:") {
			title = pageTitle
		}

		size := titles.ParseTitle(title).SizeBytes
		if size == 0 {
			size = sizeHint
		}

		records = append(records, models.TorrentRecord{
			Title:     title,
			Enclosure: href,
			SizeBytes: size,
			PageURL:   pageURL,
		})
	})
	return records
}

// absolutize resolves href against the page it appeared on.
func absolutize(pageURL, href string) string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
