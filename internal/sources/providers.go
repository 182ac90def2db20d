package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/playgate-tv/playgate/internal/config"
	"github.com/playgate-tv/playgate/internal/token"
)

const (
	providerUA   = "Mozilla/5.0 (compatible; playgate/1.0)"
	maxScrapeLen = 2 << 20
)

// embeddedManifestRe scrapes a signed manifest URL out of an untrusted
// embed page. Both player-config ("file": "...") and plain attribute
// (src="...") styles appear in the wild.
var embeddedManifestRe = regexp.MustCompile(`(?i)(?:file|src|source)\s*[:=]\s*["']([^"']+\.m3u8[^"']*)["']`)

// HTTPProvider queries one upstream scraping endpoint and normalises its
// response into Options. When a token service is configured, every
// resolved media URL is wrapped into a secure-proxy reference carrying
// the provider's Origin/Referer/UA so downstream fetches present the
// headers the upstream expects.
type HTTPProvider struct {
	cfg       config.ProviderConfig
	client    *http.Client
	tokens    *token.Service // nil disables proxy wrapping
	proxyPath string
	tokenTTL  time.Duration
}

// NewHTTPProvider builds a provider from configuration. tokens may be
// nil; options then carry the raw upstream URL.
func NewHTTPProvider(cfg config.ProviderConfig, client *http.Client, tokens *token.Service, proxyPath string, tokenTTL time.Duration) *HTTPProvider {
	if client == nil {
		client = &http.Client{}
	}
	if proxyPath == "" {
		proxyPath = "/secure-proxy"
	}
	if tokenTTL <= 0 {
		tokenTTL = token.DefaultTTL
	}
	return &HTTPProvider{cfg: cfg, client: client, tokens: tokens, proxyPath: proxyPath, tokenTTL: tokenTTL}
}

// Name implements Provider.
func (p *HTTPProvider) Name() string { return p.cfg.Name }

// Fetch implements Provider.
func (p *HTTPProvider) Fetch(ctx context.Context, req Request) ([]Option, error) {
	endpoint, err := p.endpoint(req)
	if err != nil {
		return nil, err
	}
	body, err := p.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	switch p.cfg.Kind {
	case "embed":
		return p.fromEmbed(body)
	default:
		return p.fromJSON(body)
	}
}

func (p *HTTPProvider) endpoint(req Request) (string, error) {
	base, err := url.Parse(p.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("provider %s: bad base URL: %w", p.cfg.Name, err)
	}
	q := base.Query()
	q.Set("type", req.MediaType)
	q.Set("id", req.ID)
	if req.MediaType == "tv" {
		q.Set("season", strconv.Itoa(req.Season))
		q.Set("episode", strconv.Itoa(req.Episode))
	}
	base.RawQuery = q.Encode()
	return base.String(), nil
}

func (p *HTTPProvider) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	ua := p.cfg.UserAgent
	if ua == "" {
		ua = providerUA
	}
	req.Header.Set("User-Agent", ua)
	if p.cfg.Referer != "" {
		req.Header.Set("Referer", p.cfg.Referer)
	}
	if p.cfg.Origin != "" {
		req.Header.Set("Origin", p.cfg.Origin)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider %s: status %d", p.cfg.Name, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxScrapeLen))
}

// providerSource is the JSON shape the scraping endpoints return.
type providerSource struct {
	File    string `json:"file"`
	Label   string `json:"label"`
	Default bool   `json:"default"`
}

func (p *HTTPProvider) fromJSON(body []byte) ([]Option, error) {
	var doc struct {
		Sources []providerSource `json:"sources"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("provider %s: unparsable response: %w", p.cfg.Name, err)
	}

	var out []Option
	for _, s := range doc.Sources {
		opt, ok := p.option(s.File, s.Label, s.Default)
		if ok {
			out = append(out, opt)
		}
	}
	return out, nil
}

func (p *HTTPProvider) fromEmbed(body []byte) ([]Option, error) {
	m := embeddedManifestRe.FindSubmatch(body)
	if m == nil {
		return nil, fmt.Errorf("provider %s: no manifest URL in embed page", p.cfg.Name)
	}
	opt, ok := p.option(string(m[1]), "", p.cfg.Default)
	if !ok {
		return nil, fmt.Errorf("provider %s: scraped manifest URL unusable", p.cfg.Name)
	}
	return []Option{opt}, nil
}

// option normalises one scraped URL, proxying it through the security
// boundary when the token service is available.
func (p *HTTPProvider) option(file, label string, isDefault bool) (Option, bool) {
	file = strings.TrimSpace(file)
	u, err := url.Parse(file)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return Option{}, false
	}
	if label == "" {
		label = p.cfg.Name
	}

	if p.tokens != nil {
		headers := map[string]string{}
		if p.cfg.Origin != "" {
			headers["Origin"] = p.cfg.Origin
		}
		if p.cfg.Referer != "" {
			headers["Referer"] = p.cfg.Referer
		}
		if p.cfg.UserAgent != "" {
			headers["User-Agent"] = p.cfg.UserAgent
		}
		tok, err := p.tokens.Create(file, time.Now().Add(p.tokenTTL), headers)
		if err == nil {
			file = p.proxyPath + "?token=" + tok
		}
		// Token minting never blocks playback; on failure the raw URL
		// is still better than nothing.
	}

	return Option{
		File:     file,
		Label:    label,
		Provider: p.cfg.Name,
		Default:  isDefault || p.cfg.Default,
	}, true
}
