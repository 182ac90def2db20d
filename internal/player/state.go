package player

import (
	"math"

	"github.com/playgate-tv/playgate/internal/vast"
)

// State is the ad-break state machine position. Transitions only move
// Idle → AwaitingAd → Playing → Finishing → Idle; illegal combinations
// (an ad playing while another is awaited, a consumed break replaying)
// are unrepresentable.
type State int

const (
	StateIdle State = iota
	StateAwaitingAd
	StatePlaying
	StateFinishing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingAd:
		return "awaiting_ad"
	case StatePlaying:
		return "playing"
	case StateFinishing:
		return "finishing"
	}
	return "unknown"
}

// impressionEvent keys the impression beacons in the per-break fired
// set alongside the regular tracking events.
const impressionEvent = "impression"

// adBreak owns one ActiveVastAd for the lifetime of a single break. The
// fired set makes every tracking dispatch at-most-once; the break is
// discarded wholesale when the break finishes, so the flags can never
// leak into the next ad.
type adBreak struct {
	slot       vast.Slot
	ad         *vast.Ad
	fired      map[string]bool
	started    bool
	resumeTime float64
}

func newAdBreak(slot vast.Slot, ad *vast.Ad, resumeTime float64) *adBreak {
	return &adBreak{
		slot:       slot,
		ad:         ad,
		fired:      map[string]bool{},
		resumeTime: resumeTime,
	}
}

// fireOnce reports whether the event still needs dispatching and marks
// it fired. Calling twice always returns false the second time.
func (b *adBreak) fireOnce(event string) bool {
	if b.fired[event] {
		return false
	}
	b.fired[event] = true
	return true
}

// effectiveDuration prefers the player-reported duration and falls back
// to the VAST-declared one.
func (b *adBreak) effectiveDuration(playerReported float64) float64 {
	if playerReported > 0 {
		return playerReported
	}
	return b.ad.DurationSeconds
}

// skipCountdown returns the whole seconds remaining until the skip
// affordance unlocks, rounded up and clamped at zero. The second return
// is false when the ad carries no skip offset at all.
func (b *adBreak) skipCountdown(currentTime float64) (int, bool) {
	if b.ad.SkipOffsetSeconds == nil {
		return 0, false
	}
	remaining := *b.ad.SkipOffsetSeconds - currentTime
	if remaining <= 0 {
		return 0, true
	}
	return int(math.Ceil(remaining)), true
}
