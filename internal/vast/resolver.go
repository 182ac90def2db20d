package vast

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/playgate-tv/playgate/internal/log"
	"github.com/playgate-tv/playgate/internal/metrics"
)

const (
	defaultTimeout  = 8 * time.Second
	defaultMaxDepth = 3
	defaultUA       = "Mozilla/5.0 (compatible; playgate/1.0)"

	// Ad servers should never need more than this; bounds memory against
	// a hostile wrapper chain.
	maxBodyBytes = 5 << 20
)

// Resolver fetches VAST documents and walks wrapper chains until it
// finds a playable inline ad. One deadline covers the whole chain, not
// each hop.
type Resolver struct {
	client    *http.Client
	timeout   time.Duration
	maxDepth  int
	userAgent string
}

// ResolverOption customises a Resolver.
type ResolverOption func(*Resolver)

// WithHTTPClient replaces the HTTP client used for tag fetches.
func WithHTTPClient(c *http.Client) ResolverOption {
	return func(r *Resolver) { r.client = c }
}

// WithTimeout sets the whole-chain resolution deadline.
func WithTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) { r.timeout = d }
}

// WithMaxDepth sets the wrapper recursion bound.
func WithMaxDepth(n int) ResolverOption {
	return func(r *Resolver) { r.maxDepth = n }
}

// NewResolver constructs a Resolver with an 8s chain deadline and a
// wrapper depth bound of 3.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		client:    &http.Client{},
		timeout:   defaultTimeout,
		maxDepth:  defaultMaxDepth,
		userAgent: defaultUA,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve fetches tagURL and recursively unwraps it into an Ad. Every
// failure mode (network, timeout, malformed XML, empty wrapper chain)
// yields nil; ads are best-effort by contract.
func (r *Resolver) Resolve(ctx context.Context, slot Slot, tagURL string) *Ad {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	ad := r.resolve(ctx, slot, tagURL, 0)

	outcome := "resolved"
	if ad == nil {
		outcome = "empty"
	}
	metrics.ObserveVastResolve(string(slot), outcome, time.Since(start))
	return ad
}

func (r *Resolver) resolve(ctx context.Context, slot Slot, tagURL string, depth int) *Ad {
	logger := log.WithComponentFromContext(ctx, "vast")
	if depth > r.maxDepth {
		logger.Warn().Str("url", tagURL).Int("depth", depth).Msg("wrapper chain too deep, abandoning")
		return nil
	}

	body := r.fetch(ctx, tagURL)
	if body == "" {
		return nil
	}

	if ad := buildInline(slot, body, tagURL); ad != nil {
		return ad
	}

	// Wrapper: remember this level's tracking obligations, then chase
	// the next hop. Wrapper trackers must fire even though the playable
	// ad lives deeper in the chain.
	levelImpressions := resolveList(body, "Impression", tagURL)
	levelErrors := resolveList(body, "Error", tagURL)
	levelClicks := resolveList(body, "ClickTracking", tagURL)
	levelTracking := ExtractTrackingEvents(body, tagURL)

	for _, next := range ExtractTagValues(body, "VASTAdTagURI") {
		nextURL := resolveURL(tagURL, next)
		if nextURL == "" {
			continue
		}
		child := r.resolve(ctx, slot, nextURL, depth+1)
		if child == nil {
			continue
		}
		child.ImpressionURLs = unionStrings(levelImpressions, child.ImpressionURLs)
		child.ErrorURLs = unionStrings(levelErrors, child.ErrorURLs)
		child.ClickTrackingURLs = unionStrings(levelClicks, child.ClickTrackingURLs)
		child.Tracking = unionTracking(levelTracking, child.Tracking)
		return child
	}

	logger.Debug().Str("url", tagURL).Int("depth", depth).Msg("no inline ad and no resolvable wrapper")
	return nil
}

func (r *Resolver) fetch(ctx context.Context, rawURL string) string {
	logger := log.WithComponentFromContext(ctx, "vast")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		logger.Debug().Err(err).Str("url", rawURL).Msg("invalid ad tag URL")
		return ""
	}
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Accept", "application/xml, text/xml, */*")

	resp, err := r.client.Do(req)
	if err != nil {
		logger.Debug().Err(err).Str("url", rawURL).Str("event", "vast.fetch_failed").Msg("ad tag fetch failed")
		return ""
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Debug().Int("status", resp.StatusCode).Str("url", rawURL).Msg("ad tag returned non-2xx")
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		logger.Debug().Err(err).Str("url", rawURL).Msg("ad tag body read failed")
		return ""
	}
	return strings.TrimSpace(string(data))
}

// buildInline assembles an Ad from a document that carries a playable
// media candidate, or returns nil when the document is a wrapper.
func buildInline(slot Slot, body, baseURL string) *Ad {
	mediaURL := ""
	if best := PickBestCandidate(ExtractMediaCandidates(body, baseURL)); best != nil {
		mediaURL = best.URL
	} else if fb := FallbackMediaURL(body); fb != "" {
		mediaURL = fb
	}
	if mediaURL == "" {
		return nil
	}

	var duration float64
	for _, raw := range ExtractTagValues(body, "Duration") {
		if d := ParseDurationSeconds(raw); d > 0 {
			duration = d
			break
		}
	}

	clickThrough := ""
	if vals := resolveList(body, "ClickThrough", baseURL); len(vals) > 0 {
		clickThrough = vals[0]
	}

	return &Ad{
		Slot:              slot,
		MediaURL:          mediaURL,
		ClickThroughURL:   clickThrough,
		DurationSeconds:   duration,
		SkipOffsetSeconds: ExtractSkipOffsetSeconds(body, duration),
		ImpressionURLs:    resolveList(body, "Impression", baseURL),
		ErrorURLs:         resolveList(body, "Error", baseURL),
		ClickTrackingURLs: resolveList(body, "ClickTracking", baseURL),
		Tracking:          ExtractTrackingEvents(body, baseURL),
	}
}

// resolveList extracts tag values, resolves them against base and
// de-duplicates while preserving first occurrence.
func resolveList(body, tag, baseURL string) []string {
	var out []string
	seen := map[string]bool{}
	for _, raw := range ExtractTagValues(body, tag) {
		u := resolveURL(baseURL, raw)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

// unionStrings merges a then b, dropping duplicates and preserving the
// first occurrence order.
func unionStrings(a, b []string) []string {
	if len(a) == 0 {
		return b
	}
	seen := map[string]bool{}
	out := make([]string, 0, len(a)+len(b))
	for _, v := range a {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, v := range b {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func unionTracking(a, b map[string][]string) map[string][]string {
	if len(a) == 0 {
		return b
	}
	out := map[string][]string{}
	for k, v := range a {
		out[k] = unionStrings(v, b[k])
	}
	for k, v := range b {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out
}
