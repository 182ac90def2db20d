package vast

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

var (
	cdataRe     = regexp.MustCompile(`(?is)<!\[CDATA\[(.*?)\]\]>`)
	mediaFileRe = regexp.MustCompile(`(?is)<MediaFile((?:\s[^>]*)?)>(.*?)</MediaFile\s*>`)
	trackingRe  = regexp.MustCompile(`(?is)<Tracking((?:\s[^>]*)?)>(.*?)</Tracking\s*>`)
	linearRe    = regexp.MustCompile(`(?is)<Linear\b([^>]*)>`)
	attrRe      = regexp.MustCompile(`(?i)([a-zA-Z][a-zA-Z0-9:_-]*)\s*=\s*(?:"([^"]*)"|'([^']*)')`)
	clockRe     = regexp.MustCompile(`^(?:(\d+):)?(\d{1,2}):(\d{1,2}(?:\.\d+)?)$`)

	tagReMu    sync.Mutex
	tagRecache = map[string]*regexp.Regexp{}
)

func tagPattern(tag string) *regexp.Regexp {
	tagReMu.Lock()
	defer tagReMu.Unlock()
	if re, ok := tagRecache[tag]; ok {
		return re
	}
	re := regexp.MustCompile(fmt.Sprintf(`(?is)<%s(?:\s[^>]*)?>(.*?)</%s\s*>`, tag, tag))
	tagRecache[tag] = re
	return re
}

// eventAliases folds the lowercased VAST event names we care about onto
// their canonical keys. Anything else is dropped.
var eventAliases = map[string]string{
	"start":         EventStart,
	"firstquartile": EventFirstQuartile,
	"midpoint":      EventMidpoint,
	"thirdquartile": EventThirdQuartile,
	"complete":      EventComplete,
	"skip":          EventSkip,
	"closelinear":   EventCloseLinear,
	"close":         EventCloseLinear,
	"click":         EventClick,
	"clicktracking": EventClick,
}

// decodeText unwraps CDATA sections and decodes the five standard XML
// entities. The ampersand is decoded last so "&amp;lt;" stays "&lt;".
func decodeText(s string) string {
	if m := cdataRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	s = strings.TrimSpace(s)
	r := strings.NewReplacer(
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&apos;", "'",
	)
	s = r.Replace(s)
	return strings.ReplaceAll(s, "&amp;", "&")
}

// resolveURL resolves ref against base, returning "" when nothing
// usable comes out. Absolute refs pass through untouched.
func resolveURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if u.IsAbs() {
		return ref
	}
	if base == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil || !b.IsAbs() {
		return ""
	}
	return b.ResolveReference(u).String()
}

// ExtractTagValues returns the decoded text content of every well-formed
// <tag>...</tag> occurrence in document order. Empty and whitespace-only
// matches are dropped.
func ExtractTagValues(xmlText, tag string) []string {
	var out []string
	for _, m := range tagPattern(tag).FindAllStringSubmatch(xmlText, -1) {
		if v := decodeText(m[1]); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// parseAttrs extracts the attributes of a single tag, keyed by
// lowercased attribute name.
func parseAttrs(raw string) map[string]string {
	attrs := map[string]string{}
	for _, m := range attrRe.FindAllStringSubmatch(raw, -1) {
		val := m[2]
		if val == "" {
			val = m[3]
		}
		attrs[strings.ToLower(m[1])] = val
	}
	return attrs
}

func atoiAttr(attrs map[string]string, keys ...string) int {
	for _, k := range keys {
		if v, ok := attrs[k]; ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
				return n
			}
		}
	}
	return 0
}

// ExtractMediaCandidates returns every MediaFile element resolved to an
// absolute URL, with its optional type/bitrate/width/height attributes.
// Attribute names match case-insensitively.
func ExtractMediaCandidates(xmlText, baseURL string) []MediaCandidate {
	var out []MediaCandidate
	for _, m := range mediaFileRe.FindAllStringSubmatch(xmlText, -1) {
		u := resolveURL(baseURL, decodeText(m[2]))
		if u == "" {
			continue
		}
		attrs := parseAttrs(m[1])
		out = append(out, MediaCandidate{
			URL:     u,
			Type:    strings.TrimSpace(attrs["type"]),
			Bitrate: atoiAttr(attrs, "bitrate", "minbitrate"),
			Width:   atoiAttr(attrs, "width"),
			Height:  atoiAttr(attrs, "height"),
		})
	}
	return out
}

// ExtractTrackingEvents returns a map from canonical event name to a
// de-duplicated list of absolute tracking URLs. Unknown event names are
// ignored.
func ExtractTrackingEvents(xmlText, baseURL string) map[string][]string {
	out := map[string][]string{}
	seen := map[string]map[string]bool{}
	for _, m := range trackingRe.FindAllStringSubmatch(xmlText, -1) {
		attrs := parseAttrs(m[1])
		event, ok := eventAliases[strings.ToLower(strings.TrimSpace(attrs["event"]))]
		if !ok {
			continue
		}
		u := resolveURL(baseURL, decodeText(m[2]))
		if u == "" {
			continue
		}
		if seen[event] == nil {
			seen[event] = map[string]bool{}
		}
		if seen[event][u] {
			continue
		}
		seen[event][u] = true
		out[event] = append(out[event], u)
	}
	return out
}

// ParseDurationSeconds parses a VAST clock value ([HH:]MM:SS[.mmm]) into
// seconds. Returns 0 when the value is not a clock string.
func ParseDurationSeconds(s string) float64 {
	m := clockRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0
	}
	hours := 0
	if m[1] != "" {
		hours, _ = strconv.Atoi(m[1])
	}
	minutes, _ := strconv.Atoi(m[2])
	seconds, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return 0
	}
	return float64(hours)*3600 + float64(minutes)*60 + seconds
}

// parseSkipOffset parses one skipoffset attribute value. The three
// accepted encodings are a clock string, a percentage of the known
// duration, and a bare number of seconds.
func parseSkipOffset(value string, durationSeconds float64) (float64, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if strings.HasSuffix(value, "%") {
		if durationSeconds <= 0 {
			return 0, false
		}
		pct, err := strconv.ParseFloat(strings.TrimSuffix(value, "%"), 64)
		if err != nil || pct < 0 {
			return 0, false
		}
		return durationSeconds * pct / 100, true
	}
	if strings.Contains(value, ":") {
		if secs := ParseDurationSeconds(value); secs > 0 || value == "00:00:00" {
			return secs, true
		}
		return 0, false
	}
	secs, err := strconv.ParseFloat(value, 64)
	if err != nil || secs < 0 {
		return 0, false
	}
	return secs, true
}

// ExtractSkipOffsetSeconds scans every Linear@skipoffset attribute and
// returns the first successfully parsed, non-negative value. A
// percentage encoding requires a known positive duration.
func ExtractSkipOffsetSeconds(xmlText string, durationSeconds float64) *float64 {
	for _, m := range linearRe.FindAllStringSubmatch(xmlText, -1) {
		attrs := parseAttrs(m[1])
		raw, ok := attrs["skipoffset"]
		if !ok {
			continue
		}
		if secs, ok := parseSkipOffset(raw, durationSeconds); ok {
			return &secs
		}
	}
	return nil
}
