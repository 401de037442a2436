package titles

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/mozillazg/go-unidecode"
)

// EncodeKeyword applies the search-keyword encoding used by the xn-style
// sites: standard percent-encoding first, then custom escapes for the
// punctuation percent-encoding leaves alone, and finally every literal "%"
// becomes "_". DecodeKeyword reverses it.
func EncodeKeyword(s string) string {
	encoded := url.QueryEscape(s)
	// QueryEscape emits "+" for spaces; the sites expect percent-encoding.
	encoded = strings.ReplaceAll(encoded, "+", "%20")

	replacer := strings.NewReplacer(
		"_", "%5f",
		"-", "%2d",
		".", "%2e",
		"~", "%7e",
		"!", "%21",
		"*", "%2a",
		"(", "%28",
		")", "%29",
	)
	encoded = replacer.Replace(encoded)
	return strings.ReplaceAll(encoded, "%", "_")
}

// DecodeKeyword reverses EncodeKeyword.
func DecodeKeyword(s string) string {
	restored := strings.ReplaceAll(s, "_", "%")
	decoded, err := url.QueryUnescape(restored)
	if err != nil {
		return s
	}
	return decoded
}

// MagnetDisplayName extracts the decoded dn parameter from a magnet URI.
// Returns "" when the link is not a magnet or carries no display name.
func MagnetDisplayName(magnet string) string {
	if !strings.HasPrefix(magnet, "magnet:") {
		return ""
	}
	u, err := url.Parse(magnet)
	if err != nil {
		return ""
	}
	return u.Query().Get("dn")
}

// Domain returns the hostname of a URL, or "" when it cannot be parsed.
func Domain(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// DedupKey normalizes a title for duplicate detection: ASCII-transliterated,
// lower-cased, with separator punctuation folded into spaces so
// "Show.S01E01" and "show s01e01" collapse to the same key.
func DedupKey(title string) string {
	ascii := unidecode.Unidecode(strings.TrimSpace(title))
	ascii = strings.ToLower(ascii)
	ascii = strings.NewReplacer(".", " ", "-", " ", "_", " ").Replace(ascii)
	return strings.Join(strings.Fields(ascii), " ")
}

var (
	sizeRe    = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(TB|GB|MB|KB|B)`)
	episodeRe = regexp.MustCompile(`(?i)S(\d{1,2})E(\d{1,3})|E(?:P)?(\d{1,3})|第(\d{1,3})集`)
	// trailing run of at least two digits before the file extension,
	// optionally followed by letters/digits/dashes ("藏海传12-.mp4")
	episodeFileRe = regexp.MustCompile(`(\d{2,})[a-zA-Z0-9\-]*(\.\w+)$`)
)

// Parsed holds whatever the title parser could recover. Missing fields stay
// zero; callers must tolerate partial data.
type Parsed struct {
	SizeBytes int64
	Season    int
	Episode   int
}

// ParseTitle extracts size and episode hints from a raw release title or
// surrounding text fragment.
func ParseTitle(raw string) Parsed {
	var p Parsed
	p.SizeBytes = ParseSize(raw)
	if m := episodeRe.FindStringSubmatch(raw); m != nil {
		switch {
		case m[1] != "":
			p.Season, _ = strconv.Atoi(m[1])
			p.Episode, _ = strconv.Atoi(m[2])
		case m[3] != "":
			p.Episode, _ = strconv.Atoi(m[3])
		case m[4] != "":
			p.Episode, _ = strconv.Atoi(m[4])
		}
	}
	return p
}

// Episode returns the episode number found in raw, or 0.
func Episode(raw string) int {
	return ParseTitle(raw).Episode
}

// ParseSize converts a human-readable size fragment ("1.58 GB") found
// anywhere in the string to bytes. Returns 0 when no size is present.
func ParseSize(raw string) int64 {
	m := sizeRe.FindStringSubmatch(raw)
	if m == nil {
		return 0
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	var mult float64
	switch strings.ToUpper(m[2]) {
	case "TB":
		mult = 1 << 40
	case "GB":
		mult = 1 << 30
	case "MB":
		mult = 1 << 20
	case "KB":
		mult = 1 << 10
	default:
		mult = 1
	}
	return int64(value * mult)
}

// FormatEpisodeFilename rewrites a torrent file name whose episode number is
// embedded right before the extension ("藏海传09.mp4") into the bracketed
// form the host's renamer understands ("藏海传[第09集].mp4"). Returns the
// episode number and the rewritten name; names without a recognizable
// episode come back unchanged with episode 0.
func FormatEpisodeFilename(filename string) (int, string) {
	m := episodeFileRe.FindStringSubmatchIndex(filename)
	if m == nil {
		return 0, filename
	}
	digits := filename[m[2]:m[3]]
	episode, err := strconv.Atoi(digits)
	if err != nil {
		return 0, filename
	}
	ext := filename[m[4]:m[5]]
	formatted := filename[:m[2]] + fmt.Sprintf("[第%02d集]", episode) + ext
	return episode, formatted
}
