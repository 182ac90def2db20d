// Package api wires the HTTP surface: ad decisions, source
// aggregation, the secure playlist proxy and the operational
// endpoints, all behind the canonical middleware stack.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/playgate-tv/playgate/internal/ads"
	"github.com/playgate-tv/playgate/internal/api/middleware"
	"github.com/playgate-tv/playgate/internal/cache"
	"github.com/playgate-tv/playgate/internal/config"
	"github.com/playgate-tv/playgate/internal/health"
	"github.com/playgate-tv/playgate/internal/log"
	"github.com/playgate-tv/playgate/internal/proxy"
	"github.com/playgate-tv/playgate/internal/sources"
	"github.com/playgate-tv/playgate/internal/token"
	"github.com/playgate-tv/playgate/internal/vast"
)

// proxyPath is the public mount of the playlist proxy; minted tokens
// reference it.
const proxyPath = "/secure-proxy"

// Options collects the server dependencies. Current supplies the live
// config snapshot so hot-reloaded settings (ad tags, providers) apply
// without restart.
type Options struct {
	Current func() *config.Config
	Tokens  *token.Service // nil disables the proxy and source signing
	Store   cache.Store
	Health  *health.Manager
	Client  *http.Client
	Version string
}

// Server owns the router and the request-scoped wiring.
type Server struct {
	current func() *config.Config
	tokens  *token.Service
	store   cache.Store
	health  *health.Manager
	client  *http.Client
	version string
}

func NewServer(opts Options) *Server {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	store := opts.Store
	if store == nil {
		store = cache.Disabled{}
	}
	return &Server{
		current: opts.Current,
		tokens:  opts.Tokens,
		store:   store,
		health:  opts.Health,
		client:  client,
		version: opts.Version,
	}
}

// Router builds the chi mux. Security headers cover the API routes
// only; the proxy mount manages its own header set because it must
// strip and replace upstream framing headers.
func (s *Server) Router() *chi.Mux {
	cfg := s.current()

	r := chi.NewRouter()
	middleware.ApplyStack(r, middleware.StackConfig{
		EnableCORS:     true,
		AllowedOrigins: cfg.AllowedOrigins,
		EnableMetrics:  true,
		EnableLogging:  true,
		RateLimitRPM:   cfg.RateLimitRPM,
	})

	adHandler := ads.NewHandler(vast.NewResolver(vast.WithHTTPClient(s.client)), s.store, s.current)

	r.Group(func(r chi.Router) {
		r.Use(middleware.SecurityHeaders(""))
		r.Get("/ads", adHandler.ServeHTTP)
		r.Get("/sources", s.handleSources)
		if s.health != nil {
			r.Get("/healthz", s.health.Healthz)
			r.Get("/readyz", s.health.Readyz)
		}
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	})

	r.Handle(proxyPath, proxy.NewHandler(s.tokens, s.client, proxyPath))
	return r
}

type playlistGroup struct {
	Sources []sources.Option `json:"sources"`
}

type sourcesResponse struct {
	Playlist []playlistGroup `json:"playlist"`
}

// handleSources answers GET /sources?type=&id=&season=&episode= by
// fanning out to every configured provider. Providers are rebuilt from
// the current config snapshot on each request so hot reloads apply.
func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := sources.Request{
		MediaType: q.Get("type"),
		ID:        q.Get("id"),
	}
	if req.MediaType != "movie" && req.MediaType != "tv" {
		http.Error(w, "type must be movie or tv", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	if req.MediaType == "tv" {
		var err error
		if req.Season, err = strconv.Atoi(q.Get("season")); err != nil || req.Season < 1 {
			http.Error(w, "season must be a positive integer", http.StatusBadRequest)
			return
		}
		if req.Episode, err = strconv.Atoi(q.Get("episode")); err != nil || req.Episode < 1 {
			http.Error(w, "episode must be a positive integer", http.StatusBadRequest)
			return
		}
	}

	key := "sources:" + req.MediaType + ":" + req.ID + ":" +
		strconv.Itoa(req.Season) + ":" + strconv.Itoa(req.Episode)
	if body, ok := s.store.Get(r.Context(), key); ok {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
		return
	}

	cfg := s.current()
	providers := make([]sources.Provider, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		providers = append(providers, sources.NewHTTPProvider(pc, s.client, s.tokens, proxyPath, cfg.TokenTTL))
	}

	opts := sources.NewAggregator(providers).Aggregate(r.Context(), req)
	if opts == nil {
		opts = []sources.Option{}
	}

	body, err := json.Marshal(sourcesResponse{Playlist: []playlistGroup{{Sources: opts}}})
	if err != nil {
		http.Error(w, "encoding failed", http.StatusInternalServerError)
		return
	}
	if len(opts) > 0 {
		s.store.Set(r.Context(), key, body, cfg.CacheTTL)
	} else {
		lg := log.WithComponentFromContext(r.Context(), "api")
		lg.Warn().
			Str("media_type", req.MediaType).Str("id", req.ID).
			Str("event", "sources.empty").Msg("no provider returned a playable source")
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}
