// Package config loads and validates the daemon configuration with the
// precedence ENV > file > defaults. Optional features (secure proxy, ad
// slots, redis cache) disable themselves when their settings are absent
// instead of failing startup.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ProviderConfig describes one upstream source provider.
type ProviderConfig struct {
	Name      string        `yaml:"name"`
	Kind      string        `yaml:"kind"` // "json" or "embed"
	BaseURL   string        `yaml:"base_url"`
	Origin    string        `yaml:"origin"`
	Referer   string        `yaml:"referer"`
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"`
	Default   bool          `yaml:"default"` // provider claims the default slot for its first source
}

// Config is the full daemon configuration.
type Config struct {
	ListenAddr     string        `yaml:"listen"`
	LogLevel       string        `yaml:"log_level"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	RateLimitRPM   int           `yaml:"rate_limit_rpm"`
	ShutdownGrace  time.Duration `yaml:"shutdown_grace"`

	// Secure playlist proxy. Empty secret disables the proxy.
	ProxySecret  string        `yaml:"proxy_secret"`
	ProxyBaseURL string        `yaml:"proxy_base_url"`
	TokenTTL     time.Duration `yaml:"token_ttl"`

	// Ad slots. An empty tag URL disables the slot.
	AdTagPreroll     string        `yaml:"ad_tag_preroll"`
	AdTagMidroll     string        `yaml:"ad_tag_midroll"`
	AdResolveTimeout time.Duration `yaml:"ad_resolve_timeout"`

	// Optional redis-backed result cache; empty address selects the
	// in-memory cache.
	RedisAddr string        `yaml:"redis_addr"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`

	Providers []ProviderConfig `yaml:"providers"`
}

// Defaults returns the baseline configuration before file and env merge.
func Defaults() Config {
	return Config{
		ListenAddr:       ":8080",
		LogLevel:         "info",
		RateLimitRPM:     600,
		ShutdownGrace:    10 * time.Second,
		TokenTTL:         6 * time.Hour,
		AdResolveTimeout: 9 * time.Second,
		CacheTTL:         2 * time.Minute,
	}
}

// ProxyEnabled reports whether the secure playlist proxy is configured.
func (c *Config) ProxyEnabled() bool {
	return strings.TrimSpace(c.ProxySecret) != ""
}

// AdTag returns the configured ad-tag URL for a slot name, or "".
func (c *Config) AdTag(slot string) string {
	switch strings.ToLower(slot) {
	case "preroll":
		return c.AdTagPreroll
	case "midroll":
		return c.AdTagMidroll
	}
	return ""
}

// Validate checks invariants that would make the daemon misbehave at
// runtime. It aggregates all findings into one error.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.ListenAddr) == "" {
		problems = append(problems, "listen address must not be empty")
	}
	if c.TokenTTL <= 0 {
		problems = append(problems, "token_ttl must be positive")
	}
	if c.AdResolveTimeout <= 0 {
		problems = append(problems, "ad_resolve_timeout must be positive")
	}
	for _, raw := range []struct{ name, value string }{
		{"proxy_base_url", c.ProxyBaseURL},
		{"ad_tag_preroll", c.AdTagPreroll},
		{"ad_tag_midroll", c.AdTagMidroll},
	} {
		if raw.value == "" {
			continue
		}
		u, err := url.Parse(raw.value)
		if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
			problems = append(problems, fmt.Sprintf("%s must be an absolute http(s) URL", raw.name))
		}
	}
	seen := map[string]bool{}
	for i, p := range c.Providers {
		if strings.TrimSpace(p.Name) == "" {
			problems = append(problems, fmt.Sprintf("provider[%d]: name must not be empty", i))
			continue
		}
		if seen[p.Name] {
			problems = append(problems, fmt.Sprintf("provider %q: duplicate name", p.Name))
		}
		seen[p.Name] = true
		if p.Kind != "json" && p.Kind != "embed" {
			problems = append(problems, fmt.Sprintf("provider %q: kind must be json or embed", p.Name))
		}
		if u, err := url.Parse(p.BaseURL); err != nil || !u.IsAbs() {
			problems = append(problems, fmt.Sprintf("provider %q: base_url must be an absolute URL", p.Name))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
