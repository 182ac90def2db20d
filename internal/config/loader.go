package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Loader resolves the effective configuration with the precedence
// ENV > file > defaults.
type Loader struct {
	path string
}

// NewLoader creates a Loader. An empty path skips the file layer.
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Load produces a validated Config.
func (l *Loader) Load() (Config, error) {
	cfg := Defaults()

	if l.path != "" {
		if err := mergeFile(&cfg, l.path); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", l.path, err)
		}
	}
	mergeEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func mergeEnv(cfg *Config) {
	cfg.ListenAddr = ParseString("PLAYGATE_LISTEN", cfg.ListenAddr)
	cfg.LogLevel = ParseString("PLAYGATE_LOG_LEVEL", cfg.LogLevel)
	cfg.AllowedOrigins = ParseStringSlice("PLAYGATE_CORS_ORIGINS", cfg.AllowedOrigins)
	cfg.RateLimitRPM = ParseInt("PLAYGATE_RATE_LIMIT_RPM", cfg.RateLimitRPM)
	cfg.ShutdownGrace = ParseDuration("PLAYGATE_SHUTDOWN_GRACE", cfg.ShutdownGrace)

	cfg.ProxySecret = ParseString("PLAYGATE_PROXY_SECRET", cfg.ProxySecret)
	cfg.ProxyBaseURL = ParseString("PLAYGATE_PROXY_BASE_URL", cfg.ProxyBaseURL)
	cfg.TokenTTL = ParseDuration("PLAYGATE_TOKEN_TTL", cfg.TokenTTL)

	cfg.AdTagPreroll = ParseString("PLAYGATE_AD_TAG_PREROLL", cfg.AdTagPreroll)
	cfg.AdTagMidroll = ParseString("PLAYGATE_AD_TAG_MIDROLL", cfg.AdTagMidroll)
	cfg.AdResolveTimeout = ParseDuration("PLAYGATE_AD_RESOLVE_TIMEOUT", cfg.AdResolveTimeout)

	cfg.RedisAddr = ParseString("PLAYGATE_REDIS_ADDR", cfg.RedisAddr)
	cfg.CacheTTL = ParseDuration("PLAYGATE_CACHE_TTL", cfg.CacheTTL)
}
