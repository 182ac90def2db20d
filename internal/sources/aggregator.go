// Package sources aggregates upstream stream providers into one ranked,
// de-duplicated list of playable options. Provider failures are isolated
// and never cancel sibling queries.
package sources

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/playgate-tv/playgate/internal/log"
	"github.com/playgate-tv/playgate/internal/metrics"
)

// Request identifies the title being played.
type Request struct {
	MediaType string // "movie" or "tv"
	ID        string
	Season    int
	Episode   int
}

// Option is one playable stream source. Immutable once constructed.
type Option struct {
	Type     string `json:"type"` // stream container, "hls" unless a provider says otherwise
	File     string `json:"file"`
	Label    string `json:"label"`
	Provider string `json:"provider,omitempty"`
	Default  bool   `json:"default,omitempty"`
}

// Provider is one upstream scraping backend.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, req Request) ([]Option, error)
}

const defaultProviderTimeout = 12 * time.Second

// Aggregator fans out to all registered providers concurrently.
type Aggregator struct {
	providers []Provider
	timeout   time.Duration
}

// AggregatorOption customises an Aggregator.
type AggregatorOption func(*Aggregator)

// WithProviderTimeout bounds each provider query independently.
func WithProviderTimeout(d time.Duration) AggregatorOption {
	return func(a *Aggregator) { a.timeout = d }
}

// NewAggregator builds an Aggregator over the given providers.
func NewAggregator(providers []Provider, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{providers: providers, timeout: defaultProviderTimeout}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate queries every provider concurrently and joins the results:
// concatenated in provider registration order, de-duplicated by exact
// file URL (first occurrence kept), with exactly one option marked
// default. An empty result means no provider produced anything playable.
func (a *Aggregator) Aggregate(ctx context.Context, req Request) []Option {
	logger := log.WithComponentFromContext(ctx, "sources")

	results := make([][]Option, len(a.providers))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range a.providers {
		i, p := i, p
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, a.timeout)
			defer cancel()

			start := time.Now()
			opts, err := p.Fetch(pctx, req)
			metrics.ObserveSourceFetch(p.Name(), err == nil, time.Since(start))
			if err != nil {
				// Isolated: a broken provider only loses its own results.
				logger.Warn().Err(err).Str("provider", p.Name()).
					Str("event", "sources.provider_failed").Msg("provider query failed")
				return nil
			}
			results[i] = opts
			return nil
		})
	}
	_ = g.Wait()

	seen := map[string]bool{}
	var out []Option
	for _, opts := range results {
		for _, o := range opts {
			if o.File == "" || seen[o.File] {
				continue
			}
			seen[o.File] = true
			if o.Type == "" {
				o.Type = "hls"
			}
			out = append(out, o)
		}
	}
	markDefault(out)
	return out
}

// markDefault enforces the single-default invariant: the first option
// any provider flagged wins; with no claims the first option overall is
// promoted.
func markDefault(opts []Option) {
	chosen := -1
	for i := range opts {
		if opts[i].Default && chosen == -1 {
			chosen = i
		}
		opts[i].Default = false
	}
	if chosen == -1 && len(opts) > 0 {
		chosen = 0
	}
	if chosen >= 0 {
		opts[chosen].Default = true
	}
}
