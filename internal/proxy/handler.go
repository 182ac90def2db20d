// Package proxy serves untrusted upstream media through the token
// security boundary. Manifests are rewritten so every embedded reference
// keeps flowing through the proxy; everything else streams through
// unchanged.
package proxy

import (
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/playgate-tv/playgate/internal/log"
	"github.com/playgate-tv/playgate/internal/metrics"
	"github.com/playgate-tv/playgate/internal/token"
)

const (
	manifestMIME = "application/vnd.apple.mpegurl"
	upstreamUA   = "Mozilla/5.0 (compatible; playgate/1.0)"

	// Playlists are tiny; this only bounds the rewrite buffer, binary
	// segments are streamed and never buffered.
	maxManifestBytes = 10 << 20
)

// Handler implements GET/OPTIONS /secure-proxy.
type Handler struct {
	tokens *token.Service // nil when no secret is configured
	client *http.Client
	// publicPath is the route the player reaches the proxy on; minted
	// references point back at it.
	publicPath string
}

// NewHandler builds the proxy handler. tokens may be nil, in which case
// every request answers 503.
func NewHandler(tokens *token.Service, client *http.Client, publicPath string) *Handler {
	if client == nil {
		client = &http.Client{}
	}
	if publicPath == "" {
		publicPath = "/secure-proxy"
	}
	return &Handler{tokens: tokens, client: client, publicPath: publicPath}
}

// strippedHeaders are never relayed from upstream: the proxy must not
// become a cookie-leak or clickjacking vector, and framing/CSP decisions
// belong to us, not the upstream CDN.
var strippedHeaders = []string{
	"Set-Cookie",
	"Set-Cookie2",
	"X-Frame-Options",
	"Content-Security-Policy",
	"Content-Security-Policy-Report-Only",
}

func setCORS(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Range, Origin, Referer, Content-Type")
	h.Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges")
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	logger := log.WithComponentFromContext(r.Context(), "proxy")

	if h.tokens == nil {
		metrics.IncProxyRequest("disabled")
		http.Error(w, "secure proxy is not configured", http.StatusServiceUnavailable)
		return
	}

	payload, err := h.tokens.Decode(r.URL.Query().Get("token"))
	if err != nil {
		metrics.IncProxyRequest("forbidden")
		http.Error(w, "invalid or expired token", http.StatusForbidden)
		return
	}
	// Decode already validates the target, but this is the trust
	// boundary: reject anything that does not parse as an absolute
	// http(s) URL before fetching on the client's behalf.
	if u, err := url.Parse(payload.Target); err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		metrics.IncProxyRequest("bad_target")
		http.Error(w, "invalid target", http.StatusBadRequest)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, payload.Target, nil)
	if err != nil {
		metrics.IncProxyRequest("bad_target")
		http.Error(w, "invalid target", http.StatusBadRequest)
		return
	}
	h.setUpstreamHeaders(req, r, payload)

	resp, err := h.client.Do(req)
	if err != nil {
		metrics.IncProxyRequest("upstream_error")
		logger.Warn().Err(err).Str("event", "proxy.upstream_error").Msg("upstream fetch failed")
		http.Error(w, "upstream fetch failed", http.StatusBadGateway)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	upstreamURL := payload.Target
	if resp.Request != nil && resp.Request.URL != nil {
		// Redirects may have moved us; rewrite against the final URL.
		upstreamURL = resp.Request.URL.String()
	}

	if looksLikeManifest(resp.Header.Get("Content-Type"), upstreamURL) {
		h.serveManifest(w, resp, upstreamURL, payload, logger)
		return
	}
	h.servePassthrough(w, resp)
}

func (h *Handler) setUpstreamHeaders(req *http.Request, inbound *http.Request, payload *token.Payload) {
	ua := upstreamUA
	if v := payload.Headers["User-Agent"]; v != "" {
		ua = v
	}
	req.Header.Set("User-Agent", ua)

	if rng := inbound.Header.Get("Range"); rng != "" {
		req.Header.Set("Range", rng)
	}

	// Upstream CDNs frequently gate on Origin/Referer. The token's
	// companion header set wins; the inbound request is the fallback.
	origin := payload.Headers["Origin"]
	if origin == "" {
		origin = inbound.Header.Get("Origin")
	}
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	referer := payload.Headers["Referer"]
	if referer == "" {
		referer = inbound.Header.Get("Referer")
	}
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
}

func relayHeaders(w http.ResponseWriter, resp *http.Response) {
	for k, vals := range resp.Header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	for _, k := range strippedHeaders {
		w.Header().Del(k)
	}
}

func (h *Handler) servePassthrough(w http.ResponseWriter, resp *http.Response) {
	relayHeaders(w, resp)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		// Client went away mid-stream; nothing to recover.
		return
	}
	metrics.IncProxyRequest("ok")
}

func (h *Handler) serveManifest(w http.ResponseWriter, resp *http.Response, upstreamURL string, payload *token.Payload, logger zerolog.Logger) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
	if err != nil {
		metrics.IncProxyRequest("upstream_error")
		http.Error(w, "upstream read failed", http.StatusBadGateway)
		return
	}

	// Every minted reference keeps the inbound token's expiry and header
	// set, so a playlist never outlives the capability that fetched it.
	exp := time.Unix(payload.Exp, 0)
	mint := func(absURL string) (string, bool) {
		tok, err := h.tokens.Create(absURL, exp, payload.Headers)
		if err != nil {
			logger.Warn().Err(err).Str("url", absURL).Msg("failed to mint proxy token during rewrite")
			return "", false
		}
		return h.publicPath + "?token=" + tok, true
	}

	rewritten, count := RewriteManifest(string(body), upstreamURL, mint)

	relayHeaders(w, resp)
	// The body changed; stale framing metadata must not survive.
	w.Header().Del("Content-Length")
	w.Header().Del("Content-Encoding")
	w.Header().Set("Content-Type", manifestMIME)
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.WriteHeader(resp.StatusCode)
	_, _ = io.WriteString(w, rewritten)

	metrics.IncProxyRequest("rewritten")
	metrics.AddProxyRewrittenLines(count)
}
