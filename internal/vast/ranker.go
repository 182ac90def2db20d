package vast

import (
	"net/url"
	"regexp"
	"strings"
)

// typePreference orders MIME types from most to least desirable. Rank i
// contributes 200-20*i points, so an exact mp4 match always beats an
// HLS match regardless of bitrate and resolution bonuses.
var typePreference = []string{
	"video/mp4",
	"application/x-mpegurl",
	"application/vnd.apple.mpegurl",
	"video/webm",
}

var bareMediaURLRe = regexp.MustCompile(`https?://[^\s"'<>]+\.(?:mp4|m3u8|webm)(?:\?[^\s"'<>]*)?`)

func scoreCandidate(c MediaCandidate) float64 {
	score := 0.0

	mime := strings.ToLower(strings.TrimSpace(c.Type))
	for i, pref := range typePreference {
		if mime == pref {
			score += float64(200 - 20*i)
			break
		}
	}

	path := c.URL
	if u, err := url.Parse(c.URL); err == nil {
		path = u.Path
	}
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".mp4"):
		score += 20
	case strings.HasSuffix(lower, ".m3u8"):
		score += 15
	}

	if c.Bitrate > 0 {
		score += min(float64(c.Bitrate)/100, 20)
	}
	if c.Width > 0 && c.Height > 0 {
		score += min(float64(c.Width*c.Height)/100000, 15)
	}
	return score
}

// PickBestCandidate returns the highest-scoring candidate. Ties keep the
// first-seen candidate. Returns nil for an empty list.
func PickBestCandidate(candidates []MediaCandidate) *MediaCandidate {
	var best *MediaCandidate
	bestScore := 0.0
	for i := range candidates {
		s := scoreCandidate(candidates[i])
		if best == nil || s > bestScore {
			best = &candidates[i]
			bestScore = s
		}
	}
	return best
}

// FallbackMediaURL scans a document for the first bare mp4/m3u8/webm URL.
// Used when a VAST response carries no MediaFile elements; a nil result
// is the signal to abandon the current wrapper branch.
func FallbackMediaURL(xmlText string) string {
	return bareMediaURLRe.FindString(xmlText)
}
