package similarity

import (
	"strings"
	"unicode"

	"github.com/mozillazg/go-unidecode"
)

// Score calculates the similarity between two titles using Levenshtein
// distance over normalized forms. Returns a value between 0.0 (completely
// different) and 1.0 (identical).
//
// Non-Latin titles are transliterated before comparison so that a
// pinyin-romanized release name still matches the original CJK title.
// Containment is handled specially: if one normalized title contains the
// other as a whole-word run (e.g. "藏海传" inside "藏海传 4K 全40集"),
// the score is high regardless of the trailing noise.
func Score(a, b string) float64 {
	a = normalize(a)
	b = normalize(b)

	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}

	if s := containmentScore(a, b); s > 0 {
		return s
	}

	distance := levenshtein(a, b)
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	return 1.0 - float64(distance)/float64(longest)
}

// containmentScore returns a high score when the shorter normalized title is
// a word-bounded substring of the longer one and makes up a substantial part
// of it. Release titles routinely append resolution and group tags, so plain
// edit distance punishes exact-name matches.
func containmentScore(a, b string) float64 {
	longer, shorter := a, b
	if len(a) < len(b) {
		longer, shorter = b, a
	}

	idx := strings.Index(longer, shorter)
	if idx < 0 {
		return 0
	}
	if idx > 0 && longer[idx-1] != ' ' {
		return 0
	}
	end := idx + len(shorter)
	if end < len(longer) && longer[end] != ' ' {
		return 0
	}

	ratio := float64(len(shorter)) / float64(len(longer))
	if ratio < 0.25 {
		// A three-character name inside a paragraph of junk is not a match.
		return 0
	}
	return 0.85 + ratio*0.15
}

// normalize lowercases, transliterates to ASCII, maps "&" to "and", and
// strips punctuation so comparison ignores separator style.
func normalize(s string) string {
	s = strings.ReplaceAll(s, "&", " and ")
	s = unidecode.Unidecode(s)

	var out strings.Builder
	out.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			out.WriteRune(r)
		case unicode.IsSpace(r) || r == '.' || r == '-' || r == '_' || r == ':':
			out.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(out.String()), " ")
}

func levenshtein(a, b string) int {
	ra := []rune(a)
	rb := []rune(b)

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = minInt(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func minInt(values ...int) int {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
