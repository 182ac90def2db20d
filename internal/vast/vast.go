// Package vast resolves VAST ad tags into playable ad descriptors.
//
// The parser deliberately scans the narrow VAST subset we consume with
// regular expressions instead of a full XML parser: the grammar is tiny
// (a handful of known tags), the input is size- and time-bounded by the
// resolver, and ad servers routinely emit XML that strict parsers choke
// on. Unparsable fragments are skipped, never surfaced as errors.
package vast

import "fmt"

// Slot identifies the ad break position.
type Slot string

const (
	SlotPreroll Slot = "preroll"
	SlotMidroll Slot = "midroll"
)

// ParseSlot maps a request string onto a Slot.
func ParseSlot(s string) (Slot, error) {
	switch Slot(s) {
	case SlotPreroll, SlotMidroll:
		return Slot(s), nil
	}
	return "", fmt.Errorf("unknown ad slot %q", s)
}

// Canonical tracking event keys.
const (
	EventStart         = "start"
	EventFirstQuartile = "firstQuartile"
	EventMidpoint      = "midpoint"
	EventThirdQuartile = "thirdQuartile"
	EventComplete      = "complete"
	EventSkip          = "skip"
	EventCloseLinear   = "closeLinear"
	EventClick         = "click"
)

// MediaCandidate is one MediaFile entry with the attributes the ranker
// scores on. Zero values mean the attribute was absent or unparsable.
type MediaCandidate struct {
	URL     string
	Type    string
	Bitrate int
	Width   int
	Height  int
}

// Ad is a fully resolved linear ad: one playable asset plus every
// tracking obligation collected along the wrapper chain. It is built
// once per ad break and owned by the break for its lifetime.
type Ad struct {
	Slot              Slot                `json:"slot"`
	MediaURL          string              `json:"mediaUrl"`
	ClickThroughURL   string              `json:"clickThroughUrl,omitempty"`
	DurationSeconds   float64             `json:"durationSeconds,omitempty"`
	SkipOffsetSeconds *float64            `json:"skipOffsetSeconds,omitempty"`
	ImpressionURLs    []string            `json:"impressionUrls,omitempty"`
	ErrorURLs         []string            `json:"errorUrls,omitempty"`
	ClickTrackingURLs []string            `json:"clickTrackingUrls,omitempty"`
	Tracking          map[string][]string `json:"tracking,omitempty"`
}
