// Package player drives client-side playback: it holds the ranked
// source list, fails over between sources on fatal errors, and runs the
// ad-break state machine with at-most-once tracking delivery.
package player

import (
	"context"
	"fmt"
	"sync"

	"github.com/playgate-tv/playgate/internal/log"
	"github.com/playgate-tv/playgate/internal/sources"
	"github.com/playgate-tv/playgate/internal/vast"
)

// vastErrUnexpectedTermination is the VAST error code reported when ad
// playback dies without completing.
const vastErrUnexpectedTermination = 405

// MediaSurface is the minimal control surface of the embedding video
// element. The orchestrator owns two: one for main content, one for ad
// playback.
type MediaSurface interface {
	Load(url string)
	Play()
	Pause()
	Seek(seconds float64)
	CurrentTime() float64
	Duration() float64
}

// AdResolver turns a slot into a playable ad, or nil when no ad is
// available. Implementations absorb their own failures.
type AdResolver interface {
	Resolve(ctx context.Context, slot vast.Slot) *vast.Ad
}

// Orchestrator is one player instance. All event methods are safe for
// concurrent use; the embedding player calls them from its event loop.
type Orchestrator struct {
	mu sync.Mutex

	content  MediaSurface
	adOut    MediaSurface
	resolver AdResolver
	notifier Notifier

	ctx    context.Context
	cancel context.CancelFunc

	options   []sources.Option
	sourceIdx int
	sourceURL string
	exhausted bool

	state         State
	brk           *adBreak
	resumeTime    float64
	adsEnabled    bool
	prerollPlayed bool
	midrollPlayed bool

	onExhausted func()
}

// OrchestratorOption customises an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithExhaustedHandler registers the only user-visible failure hook:
// called once when every source has failed.
func WithExhaustedHandler(fn func()) OrchestratorOption {
	return func(o *Orchestrator) { o.onExhausted = fn }
}

// WithAdsDisabled starts the orchestrator with ad breaks off.
func WithAdsDisabled() OrchestratorOption {
	return func(o *Orchestrator) { o.adsEnabled = false }
}

// NewOrchestrator wires a player instance. The parent context bounds
// every outstanding ad fetch; cancelling it (unmount) abandons them.
func NewOrchestrator(parent context.Context, content, adOut MediaSurface, resolver AdResolver, notifier Notifier, opts ...OrchestratorOption) *Orchestrator {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	o := &Orchestrator{
		content:    content,
		adOut:      adOut,
		resolver:   resolver,
		notifier:   notifier,
		ctx:        ctx,
		cancel:     cancel,
		state:      StateIdle,
		adsEnabled: true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Close abandons outstanding work. Event calls after Close are no-ops.
func (o *Orchestrator) Close() {
	o.cancel()
}

// State reports the current ad-break state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// SetAdsEnabled toggles ad breaks. Disabling mid-flight lets any
// in-flight resolution finish as a no-op resume.
func (o *Orchestrator) SetAdsEnabled(enabled bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.adsEnabled = enabled
}

// SetSources installs the aggregated option list and loads the default
// entry. All ad-break flags reset: this is a new source lifetime.
func (o *Orchestrator) SetSources(opts []sources.Option) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.options = opts
	o.exhausted = false
	idx := 0
	for i, opt := range opts {
		if opt.Default {
			idx = i
			break
		}
	}
	o.loadSourceLocked(idx)
}

// CurrentSource returns the active option.
func (o *Orchestrator) CurrentSource() (sources.Option, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sourceIdx < 0 || o.sourceIdx >= len(o.options) {
		return sources.Option{}, false
	}
	return o.options[o.sourceIdx], true
}

// SwitchSource manually selects an option by index.
func (o *Orchestrator) SwitchSource(index int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if index < 0 || index >= len(o.options) {
		return fmt.Errorf("source index %d out of range", index)
	}
	o.loadSourceLocked(index)
	o.content.Play()
	return nil
}

// loadSourceLocked activates options[idx] and resets every per-source
// flag. A changed source URL also invalidates any in-flight ad fetch
// via the stale-delivery guard.
func (o *Orchestrator) loadSourceLocked(idx int) {
	if idx < 0 || idx >= len(o.options) {
		return
	}
	o.sourceIdx = idx
	o.sourceURL = o.options[idx].File
	o.state = StateIdle
	o.brk = nil
	o.resumeTime = 0
	o.prerollPlayed = false
	o.midrollPlayed = false
	o.content.Load(o.sourceURL)
}

// OnContentError handles a fatal player error on the main content:
// advance to the next source, or report exhaustion. Source exhaustion
// is the only failure the viewer ever sees.
func (o *Orchestrator) OnContentError() {
	o.mu.Lock()
	if o.exhausted {
		o.mu.Unlock()
		return
	}
	next := o.sourceIdx + 1
	if next >= len(o.options) {
		o.exhausted = true
		handler := o.onExhausted
		o.mu.Unlock()
		lg := log.WithComponent("player")
		lg.Warn().Int("sources", len(o.options)).
			Str("event", "player.sources_exhausted").Msg("all stream sources failed")
		if handler != nil {
			handler()
		}
		return
	}
	lg := log.WithComponent("player")
	lg.Info().Int("next_index", next).Msg("switching to fallback source")
	o.loadSourceLocked(next)
	o.content.Play()
	o.mu.Unlock()
}

// OnContentPlay triggers the preroll break on the first play of a
// source. Repeat play events and in-flight requests are no-ops.
func (o *Orchestrator) OnContentPlay() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.adsEnabled || o.state != StateIdle || o.prerollPlayed {
		return
	}
	o.requestBreakLocked(vast.SlotPreroll)
}

// OnContentTimeUpdate triggers the midroll break once playback crosses
// the midpoint of the content.
func (o *Orchestrator) OnContentTimeUpdate() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.adsEnabled || o.state != StateIdle || o.midrollPlayed {
		return
	}
	dur := o.content.Duration()
	if dur <= 0 || o.content.CurrentTime() < dur/2 {
		return
	}
	o.requestBreakLocked(vast.SlotMidroll)
}

// requestBreakLocked pauses content and kicks off ad resolution. The
// AwaitingAd state doubles as the in-flight de-duplication guard: a
// second trigger sees a non-idle state and backs off.
func (o *Orchestrator) requestBreakLocked(slot vast.Slot) {
	o.resumeTime = o.content.CurrentTime()
	o.content.Pause()
	o.state = StateAwaitingAd

	expected := o.sourceURL
	go func() {
		ad := o.resolver.Resolve(o.ctx, slot)
		o.deliverAd(slot, ad, expected)
	}()
}

// deliverAd finishes the AwaitingAd state. Deliveries for a source that
// has since changed are discarded: the new source lifetime starts with
// clean flags and owes nothing to the old fetch.
func (o *Orchestrator) deliverAd(slot vast.Slot, ad *vast.Ad, expectedSource string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.ctx.Err() != nil || o.sourceURL != expectedSource || o.state != StateAwaitingAd {
		return
	}

	// One attempt per slot per source lifetime, successful or not.
	o.markSlotConsumedLocked(slot)

	if ad == nil || !o.adsEnabled {
		o.state = StateIdle
		o.resumeContentLocked()
		return
	}

	o.brk = newAdBreak(slot, ad, o.resumeTime)
	o.state = StatePlaying
	o.adOut.Load(ad.MediaURL)
	o.adOut.Play()
}

func (o *Orchestrator) markSlotConsumedLocked(slot vast.Slot) {
	switch slot {
	case vast.SlotPreroll:
		o.prerollPlayed = true
	case vast.SlotMidroll:
		o.midrollPlayed = true
	}
}

func (o *Orchestrator) resumeContentLocked() {
	o.content.Seek(o.resumeTime)
	o.content.Play()
}

// OnAdTimeUpdate advances the tracking timeline of the active break.
// The first call fires impressions and the start event; quartiles fire
// as playback position crosses them. Every dispatch is at-most-once.
func (o *Orchestrator) OnAdTimeUpdate() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StatePlaying || o.brk == nil {
		return
	}

	b := o.brk
	if !b.started {
		b.started = true
		if b.fireOnce(impressionEvent) {
			o.notifier.Fire(impressionEvent, b.ad.ImpressionURLs)
		}
		if b.fireOnce(vast.EventStart) {
			o.notifier.Fire(vast.EventStart, b.ad.Tracking[vast.EventStart])
		}
	}

	dur := b.effectiveDuration(o.adOut.Duration())
	if dur <= 0 {
		return
	}
	progress := o.adOut.CurrentTime() / dur
	for _, q := range []struct {
		threshold float64
		event     string
	}{
		{0.25, vast.EventFirstQuartile},
		{0.50, vast.EventMidpoint},
		{0.75, vast.EventThirdQuartile},
	} {
		if progress >= q.threshold && b.fireOnce(q.event) {
			o.notifier.Fire(q.event, b.ad.Tracking[q.event])
		}
	}
}

// OnAdEnded fires complete and returns to main content.
func (o *Orchestrator) OnAdEnded() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StatePlaying || o.brk == nil {
		return
	}
	if o.brk.fireOnce(vast.EventComplete) {
		o.notifier.Fire(vast.EventComplete, o.brk.ad.Tracking[vast.EventComplete])
	}
	o.finishBreakLocked()
}

// OnAdError reports a fatal ad playback error. A zero code defaults to
// the VAST "unexpected termination" code. The break ends regardless of
// completion state.
func (o *Orchestrator) OnAdError(code int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StatePlaying || o.brk == nil {
		return
	}
	if code == 0 {
		code = vastErrUnexpectedTermination
	}
	if o.brk.fireOnce("error") {
		o.notifier.FireError(o.brk.ad.ErrorURLs, code)
	}
	o.finishBreakLocked()
}

// SkipCountdown reports the whole seconds until skip unlocks. ok is
// false when the ad has no skip affordance at all.
func (o *Orchestrator) SkipCountdown() (remaining int, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StatePlaying || o.brk == nil {
		return 0, false
	}
	return o.brk.skipCountdown(o.adOut.CurrentTime())
}

// Skip ends the break at the viewer's request. Only selectable once the
// countdown has reached zero; returns false otherwise.
func (o *Orchestrator) Skip() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StatePlaying || o.brk == nil {
		return false
	}
	remaining, ok := o.brk.skipCountdown(o.adOut.CurrentTime())
	if !ok || remaining > 0 {
		return false
	}
	if o.brk.fireOnce(vast.EventSkip) {
		o.notifier.Fire(vast.EventSkip, o.brk.ad.Tracking[vast.EventSkip])
	}
	if o.brk.fireOnce(vast.EventCloseLinear) {
		o.notifier.Fire(vast.EventCloseLinear, o.brk.ad.Tracking[vast.EventCloseLinear])
	}
	o.finishBreakLocked()
	return true
}

// ClickThrough returns the advertiser landing URL for the embedding UI
// to open in a new context, firing click trackers at most once. The
// break keeps playing.
func (o *Orchestrator) ClickThrough() (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StatePlaying || o.brk == nil || o.brk.ad.ClickThroughURL == "" {
		return "", false
	}
	if o.brk.fireOnce(vast.EventClick) {
		o.notifier.Fire(vast.EventClick, o.brk.ad.ClickTrackingURLs)
		o.notifier.Fire(vast.EventClick, o.brk.ad.Tracking[vast.EventClick])
	}
	return o.brk.ad.ClickThroughURL, true
}

// finishBreakLocked walks Finishing → Idle: slot consumed (already done
// at delivery), ad state cleared, content seeked back to the exact
// pre-break time and resumed.
func (o *Orchestrator) finishBreakLocked() {
	o.state = StateFinishing
	resume := o.brk.resumeTime
	o.brk = nil
	o.adOut.Pause()
	o.content.Seek(resume)
	o.content.Play()
	o.state = StateIdle
}
