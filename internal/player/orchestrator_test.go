package player

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playgate-tv/playgate/internal/sources"
	"github.com/playgate-tv/playgate/internal/vast"
)

type fakeSurface struct {
	mu       sync.Mutex
	loads    []string
	seeks    []float64
	playing  bool
	current  float64
	duration float64
}

func (f *fakeSurface) Load(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, url)
	f.playing = false
}

func (f *fakeSurface) Play() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playing = true
}

func (f *fakeSurface) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playing = false
}

func (f *fakeSurface) Seek(seconds float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeks = append(f.seeks, seconds)
	f.current = seconds
}

func (f *fakeSurface) CurrentTime() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeSurface) Duration() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.duration
}

func (f *fakeSurface) setTime(t float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = t
}

func (f *fakeSurface) isPlaying() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing
}

func (f *fakeSurface) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.loads)
}

func (f *fakeSurface) lastLoad() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.loads) == 0 {
		return ""
	}
	return f.loads[len(f.loads)-1]
}

func (f *fakeSurface) lastSeek() (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.seeks) == 0 {
		return 0, false
	}
	return f.seeks[len(f.seeks)-1], true
}

type fakeResolver struct {
	mu    sync.Mutex
	calls []vast.Slot
	ad    *vast.Ad
	gate  chan struct{}
}

func (r *fakeResolver) Resolve(_ context.Context, slot vast.Slot) *vast.Ad {
	r.mu.Lock()
	r.calls = append(r.calls, slot)
	r.mu.Unlock()
	if r.gate != nil {
		<-r.gate
	}
	return r.ad
}

func (r *fakeResolver) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type recordingNotifier struct {
	mu     sync.Mutex
	fired  map[string][]string
	errors []int
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{fired: map[string][]string{}}
}

func (n *recordingNotifier) Fire(event string, urls []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fired[event] = append(n.fired[event], urls...)
}

func (n *recordingNotifier) FireError(urls []string, code int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for range urls {
		n.errors = append(n.errors, code)
	}
}

func (n *recordingNotifier) count(event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.fired[event])
}

func testAd() *vast.Ad {
	skip := 5.0
	return &vast.Ad{
		Slot:              vast.SlotPreroll,
		MediaURL:          "https://ads.example.com/creative.mp4",
		ClickThroughURL:   "https://advertiser.example.com/",
		DurationSeconds:   20,
		SkipOffsetSeconds: &skip,
		ImpressionURLs:    []string{"https://t.example.com/imp"},
		ErrorURLs:         []string{"https://t.example.com/err?code=[ERRORCODE]"},
		ClickTrackingURLs: []string{"https://t.example.com/clicktrack"},
		Tracking: map[string][]string{
			vast.EventStart:         {"https://t.example.com/start"},
			vast.EventFirstQuartile: {"https://t.example.com/q1"},
			vast.EventMidpoint:      {"https://t.example.com/q2"},
			vast.EventThirdQuartile: {"https://t.example.com/q3"},
			vast.EventComplete:      {"https://t.example.com/done"},
			vast.EventSkip:          {"https://t.example.com/skip"},
			vast.EventCloseLinear:   {"https://t.example.com/close"},
		},
	}
}

func testSources() []sources.Option {
	return []sources.Option{
		{File: "https://cdn.example.com/hd.m3u8", Label: "HD", Default: true},
		{File: "https://cdn.example.com/sd.m3u8", Label: "SD"},
		{File: "https://cdn.example.com/low.m3u8", Label: "Low"},
	}
}

func waitState(t *testing.T, o *Orchestrator, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return o.State() == want },
		time.Second, 2*time.Millisecond, "state never reached %s", want)
}

func TestPrerollLifecycle(t *testing.T) {
	content := &fakeSurface{}
	adOut := &fakeSurface{duration: 20}
	resolver := &fakeResolver{ad: testAd()}
	notifier := newRecordingNotifier()

	o := NewOrchestrator(context.Background(), content, adOut, resolver, notifier)
	defer o.Close()

	o.SetSources(testSources())
	assert.Equal(t, "https://cdn.example.com/hd.m3u8", content.lastLoad())

	content.setTime(0)
	o.OnContentPlay()
	waitState(t, o, StatePlaying)
	assert.False(t, content.isPlaying(), "content pauses for the break")
	assert.Equal(t, "https://ads.example.com/creative.mp4", adOut.lastLoad())

	// First timeline tick fires impression and start exactly once.
	adOut.setTime(0.5)
	o.OnAdTimeUpdate()
	o.OnAdTimeUpdate()
	assert.Equal(t, 1, notifier.count(impressionEvent))
	assert.Equal(t, 1, notifier.count(vast.EventStart))

	adOut.setTime(20)
	o.OnAdTimeUpdate()
	o.OnAdEnded()
	assert.Equal(t, 1, notifier.count(vast.EventComplete))
	assert.Equal(t, StateIdle, o.State())

	seek, ok := content.lastSeek()
	require.True(t, ok)
	assert.Equal(t, 0.0, seek, "content resumes at the exact pre-break time")
	assert.True(t, content.isPlaying())

	// The preroll slot is consumed for this source lifetime.
	o.OnContentPlay()
	assert.Equal(t, StateIdle, o.State())
	assert.Equal(t, 1, resolver.callCount())
}

func TestResolveFailureResumesContent(t *testing.T) {
	content := &fakeSurface{}
	resolver := &fakeResolver{ad: nil}
	o := NewOrchestrator(context.Background(), content, &fakeSurface{}, resolver, newRecordingNotifier())
	defer o.Close()

	o.SetSources(testSources())
	content.setTime(3.25)
	o.OnContentPlay()
	waitState(t, o, StateIdle)

	seek, ok := content.lastSeek()
	require.True(t, ok)
	assert.Equal(t, 3.25, seek)
	assert.True(t, content.isPlaying())

	// A failed attempt still consumes the slot.
	o.OnContentPlay()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, resolver.callCount())
}

func TestMidrollTriggersOnceAtMidpoint(t *testing.T) {
	content := &fakeSurface{duration: 100}
	resolver := &fakeResolver{ad: testAd()}
	o := NewOrchestrator(context.Background(), content, &fakeSurface{duration: 20}, resolver, newRecordingNotifier())
	defer o.Close()

	o.SetSources(testSources())
	o.mu.Lock()
	o.prerollPlayed = true
	o.mu.Unlock()

	content.setTime(30)
	o.OnContentTimeUpdate()
	assert.Equal(t, 0, resolver.callCount(), "before the midpoint nothing happens")

	content.setTime(50)
	o.OnContentTimeUpdate()
	o.OnContentTimeUpdate()
	o.OnContentTimeUpdate()
	waitState(t, o, StatePlaying)
	assert.Equal(t, 1, resolver.callCount(), "repeated timeupdates request at most one break")
}

func TestQuartileTrackingIsIdempotent(t *testing.T) {
	content := &fakeSurface{}
	adOut := &fakeSurface{duration: 20}
	notifier := newRecordingNotifier()
	o := NewOrchestrator(context.Background(), content, adOut, &fakeResolver{ad: testAd()}, notifier)
	defer o.Close()

	o.SetSources(testSources())
	o.OnContentPlay()
	waitState(t, o, StatePlaying)

	// Jumping straight to 80% fires every quartile up to it, once.
	adOut.setTime(16)
	for i := 0; i < 5; i++ {
		o.OnAdTimeUpdate()
	}
	assert.Equal(t, 1, notifier.count(vast.EventFirstQuartile))
	assert.Equal(t, 1, notifier.count(vast.EventMidpoint))
	assert.Equal(t, 1, notifier.count(vast.EventThirdQuartile))
	assert.Equal(t, 0, notifier.count(vast.EventComplete))
}

func TestSkipCountdownAndSkip(t *testing.T) {
	content := &fakeSurface{}
	adOut := &fakeSurface{duration: 20}
	notifier := newRecordingNotifier()
	o := NewOrchestrator(context.Background(), content, adOut, &fakeResolver{ad: testAd()}, notifier)
	defer o.Close()

	o.SetSources(testSources())
	content.setTime(1.5)
	o.OnContentPlay()
	waitState(t, o, StatePlaying)

	adOut.setTime(2.2)
	remaining, ok := o.SkipCountdown()
	require.True(t, ok)
	assert.Equal(t, 3, remaining, "countdown rounds up")
	assert.False(t, o.Skip(), "skip locked while the countdown runs")

	adOut.setTime(5)
	assert.True(t, o.Skip())
	assert.Equal(t, 1, notifier.count(vast.EventSkip))
	assert.Equal(t, 1, notifier.count(vast.EventCloseLinear))
	assert.Equal(t, 0, notifier.count(vast.EventComplete), "a skipped ad never completes")
	assert.Equal(t, StateIdle, o.State())

	seek, ok := content.lastSeek()
	require.True(t, ok)
	assert.Equal(t, 1.5, seek)
}

func TestSkipCountdownAbsentWithoutOffset(t *testing.T) {
	ad := testAd()
	ad.SkipOffsetSeconds = nil
	o := NewOrchestrator(context.Background(), &fakeSurface{}, &fakeSurface{}, &fakeResolver{ad: ad}, newRecordingNotifier())
	defer o.Close()

	o.SetSources(testSources())
	o.OnContentPlay()
	waitState(t, o, StatePlaying)

	_, ok := o.SkipCountdown()
	assert.False(t, ok)
	assert.False(t, o.Skip())
}

func TestClickThrough(t *testing.T) {
	notifier := newRecordingNotifier()
	o := NewOrchestrator(context.Background(), &fakeSurface{}, &fakeSurface{}, &fakeResolver{ad: testAd()}, notifier)
	defer o.Close()

	o.SetSources(testSources())
	o.OnContentPlay()
	waitState(t, o, StatePlaying)

	url, ok := o.ClickThrough()
	require.True(t, ok)
	assert.Equal(t, "https://advertiser.example.com/", url)

	url, ok = o.ClickThrough()
	require.True(t, ok, "the landing URL stays available")
	assert.Equal(t, "https://advertiser.example.com/", url)
	assert.Equal(t, 1, notifier.count(vast.EventClick), "click trackers fire once")
	assert.Equal(t, StatePlaying, o.State(), "the break keeps playing")
}

func TestAdErrorFiresErrorBeaconAndResumes(t *testing.T) {
	content := &fakeSurface{}
	notifier := newRecordingNotifier()
	o := NewOrchestrator(context.Background(), content, &fakeSurface{}, &fakeResolver{ad: testAd()}, notifier)
	defer o.Close()

	o.SetSources(testSources())
	content.setTime(7)
	o.OnContentPlay()
	waitState(t, o, StatePlaying)

	o.OnAdError(0)
	require.Len(t, notifier.errors, 1)
	assert.Equal(t, 405, notifier.errors[0], "unspecified errors default to code 405")
	assert.Equal(t, StateIdle, o.State())
	assert.True(t, content.isPlaying())
}

func TestSourceFailoverAndExhaustion(t *testing.T) {
	content := &fakeSurface{}
	exhausted := 0
	o := NewOrchestrator(context.Background(), content, &fakeSurface{}, &fakeResolver{}, newRecordingNotifier(),
		WithExhaustedHandler(func() { exhausted++ }))
	defer o.Close()

	o.SetSources(testSources())

	o.OnContentError()
	assert.Equal(t, "https://cdn.example.com/sd.m3u8", content.lastLoad())
	o.OnContentError()
	assert.Equal(t, "https://cdn.example.com/low.m3u8", content.lastLoad())

	loads := content.loadCount()
	o.OnContentError()
	assert.Equal(t, 1, exhausted, "exhaustion is the only surfaced failure")
	assert.Equal(t, loads, content.loadCount(), "nothing left to load")

	o.OnContentError()
	assert.Equal(t, 1, exhausted, "exhaustion reports once")
}

func TestSourceSwitchResetsBreakFlags(t *testing.T) {
	content := &fakeSurface{}
	resolver := &fakeResolver{ad: testAd()}
	o := NewOrchestrator(context.Background(), content, &fakeSurface{duration: 20}, resolver, newRecordingNotifier())
	defer o.Close()

	o.SetSources(testSources())
	o.OnContentPlay()
	waitState(t, o, StatePlaying)
	o.OnAdEnded()

	require.NoError(t, o.SwitchSource(1))
	o.OnContentPlay()
	waitState(t, o, StatePlaying)
	assert.Equal(t, 2, resolver.callCount(), "a new source lifetime gets its own preroll")
}

func TestStaleAdDeliveryIsDiscarded(t *testing.T) {
	content := &fakeSurface{}
	resolver := &fakeResolver{ad: testAd(), gate: make(chan struct{})}
	o := NewOrchestrator(context.Background(), content, &fakeSurface{}, resolver, newRecordingNotifier())
	defer o.Close()

	o.SetSources(testSources())
	o.OnContentPlay()
	require.Eventually(t, func() bool { return resolver.callCount() == 1 },
		time.Second, 2*time.Millisecond)

	// Switch away while resolution is still in flight, then release it.
	require.NoError(t, o.SwitchSource(1))
	close(resolver.gate)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateIdle, o.State(), "the stale delivery never starts a break")
	assert.Equal(t, "https://cdn.example.com/sd.m3u8", content.lastLoad())
}

func TestAdsDisabled(t *testing.T) {
	resolver := &fakeResolver{ad: testAd()}
	o := NewOrchestrator(context.Background(), &fakeSurface{}, &fakeSurface{}, resolver, newRecordingNotifier(),
		WithAdsDisabled())
	defer o.Close()

	o.SetSources(testSources())
	o.OnContentPlay()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, resolver.callCount())
	assert.Equal(t, StateIdle, o.State())
}

func TestDisableAdsMidFlight(t *testing.T) {
	content := &fakeSurface{}
	resolver := &fakeResolver{ad: testAd(), gate: make(chan struct{})}
	o := NewOrchestrator(context.Background(), content, &fakeSurface{}, resolver, newRecordingNotifier())
	defer o.Close()

	o.SetSources(testSources())
	content.setTime(0)
	o.OnContentPlay()
	require.Eventually(t, func() bool { return resolver.callCount() == 1 },
		time.Second, 2*time.Millisecond)

	o.SetAdsEnabled(false)
	close(resolver.gate)
	waitState(t, o, StateIdle)
	assert.True(t, content.isPlaying(), "the resolved ad is dropped and content resumes")
}
