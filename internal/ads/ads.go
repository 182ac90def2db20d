// Package ads serves the server-side ad decision endpoint. It maps a
// slot onto its configured tag URL, resolves the tag through the VAST
// resolver and returns a flattened descriptor the player consumes
// directly. Decisions cache briefly to absorb bursts of identical
// player requests.
package ads

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/playgate-tv/playgate/internal/cache"
	"github.com/playgate-tv/playgate/internal/config"
	"github.com/playgate-tv/playgate/internal/log"
	"github.com/playgate-tv/playgate/internal/vast"
)

// resolver is the slice of vast.Resolver the decider needs.
type resolver interface {
	Resolve(ctx context.Context, slot vast.Slot, tagURL string) *vast.Ad
}

// Decision is the /ads response body: the enabled flag plus the
// flattened ad descriptor. The descriptor fields are absent when the
// slot is enabled but no playable ad came back; the player resumes
// content.
type Decision struct {
	Enabled bool `json:"enabled"`
	*vast.Ad
}

// Handler answers GET /ads?slot=.
type Handler struct {
	resolver resolver
	store    cache.Store
	current  func() *config.Config
}

// NewHandler wires the ad decision endpoint. current supplies the live
// config snapshot so tag URL changes apply without restart.
func NewHandler(r resolver, store cache.Store, current func() *config.Config) *Handler {
	if store == nil {
		store = cache.Disabled{}
	}
	return &Handler{resolver: r, store: store, current: current}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	slot, err := vast.ParseSlot(r.URL.Query().Get("slot"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cfg := h.current()
	tagURL := cfg.AdTag(string(slot))
	if tagURL == "" {
		writeJSON(w, Decision{Enabled: false})
		return
	}

	key := "ads:" + string(slot) + ":" + tagURL
	if body, ok := h.store.Get(r.Context(), key); ok {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), cfg.AdResolveTimeout)
	defer cancel()

	ad := h.resolver.Resolve(ctx, slot, tagURL)
	if ad == nil {
		lg := log.WithComponentFromContext(r.Context(), "ads")
		lg.Debug().
			Str("slot", string(slot)).Str("event", "ads.no_fill").Msg("slot resolved empty")
	}

	body, err := json.Marshal(Decision{Enabled: true, Ad: ad})
	if err != nil {
		http.Error(w, "encoding failed", http.StatusInternalServerError)
		return
	}
	h.store.Set(r.Context(), key, body, cfg.CacheTTL)

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
