package filter

import (
	"log"
	"regexp"
	"strconv"

	"magnetar/models"
	"magnetar/utils/similarity"
	"magnetar/utils/titles"
)

const (
	// MinScore is the similarity floor a candidate title must clear against
	// the search keyword before its detail page is worth visiting.
	MinScore = 0.80

	// StrictMinScore replaces MinScore when the caller asks for strict
	// matching.
	StrictMinScore = 0.90

	// MaxYearDifference tolerates re-releases dated a year off.
	MaxYearDifference = 1
)

var yearRe = regexp.MustCompile(`(19|20)\d{2}`)

// Titles keeps the candidate titles relevant to the search keyword. The
// helper is deliberately forgiving: an empty keyword, a nil context, or a
// title the parser cannot make sense of all err on the side of keeping the
// candidate, because a false negative costs a result while a false positive
// only costs one extra page fetch.
func Titles(site, keyword string, candidates []string, sctx *models.SearchContext) []string {
	if keyword == "" || len(candidates) == 0 {
		return candidates
	}

	threshold := MinScore
	wantMovie := false
	wantYear := 0
	if sctx != nil {
		if sctx.Strict {
			threshold = StrictMinScore
		}
		wantMovie = sctx.MediaType == "movie"
		wantYear = sctx.Year
	}

	kept := make([]string, 0, len(candidates))
	for _, title := range candidates {
		if title == "" {
			continue
		}

		score := similarity.Score(keyword, title)
		if score < threshold {
			continue
		}

		if wantMovie && titles.Episode(title) > 0 {
			log.Printf("[filter] %s: dropping %q, episode marker on a movie search", site, title)
			continue
		}

		if wantMovie && wantYear > 0 {
			if year := extractYear(title); year > 0 && absInt(year-wantYear) > MaxYearDifference {
				log.Printf("[filter] %s: dropping %q, year %d too far from %d", site, title, year, wantYear)
				continue
			}
		}

		kept = append(kept, title)
	}

	if len(kept) < len(candidates) {
		log.Printf("[filter] %s: kept %d of %d candidates for %q", site, len(kept), len(candidates), keyword)
	}
	return kept
}

func extractYear(title string) int {
	m := yearRe.FindString(title)
	if m == "" {
		return 0
	}
	y, _ := strconv.Atoi(m)
	return y
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
