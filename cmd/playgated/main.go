// Command playgated runs the streaming gateway daemon: source
// aggregation, server-side ad decisions and the secure playlist proxy.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/playgate-tv/playgate/internal/api"
	"github.com/playgate-tv/playgate/internal/cache"
	"github.com/playgate-tv/playgate/internal/config"
	"github.com/playgate-tv/playgate/internal/health"
	"github.com/playgate-tv/playgate/internal/log"
	"github.com/playgate-tv/playgate/internal/token"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, strings.TrimSpace(*configPath)); err != nil {
		lg := log.WithComponent("daemon")
		lg.Error().Err(err).Msg("daemon exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Service: "playgate",
		Version: version,
	})
	logger := log.WithComponent("daemon")

	manager := config.NewManager(loader, cfg)
	if configPath != "" {
		go func() {
			if err := manager.Watch(ctx, configPath); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn().Err(err).Msg("config watch stopped")
			}
		}()
	}

	// Optional features disable themselves instead of failing startup.
	var tokens *token.Service
	if cfg.ProxyEnabled() {
		tokens, err = token.New(cfg.ProxySecret)
		if err != nil {
			return fmt.Errorf("initialise proxy tokens: %w", err)
		}
		logger.Info().Dur("token_ttl", cfg.TokenTTL).Msg("secure playlist proxy enabled")
	} else {
		logger.Warn().Msg("no proxy secret configured, secure playlist proxy disabled")
	}

	store, err := buildCache(&cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	hm := health.NewManager(version)
	hm.SetFeature("secure_proxy", cfg.ProxyEnabled())
	hm.SetFeature("ads_preroll", cfg.AdTagPreroll != "")
	hm.SetFeature("ads_midroll", cfg.AdTagMidroll != "")
	hm.SetFeature("redis_cache", cfg.RedisAddr != "")
	hm.RegisterCheck("config", true, func(context.Context) error {
		return manager.Current().Validate()
	})
	if r, ok := store.(*cache.Redis); ok {
		hm.RegisterCheck("redis", false, r.Ping)
	}

	server := api.NewServer(api.Options{
		Current: manager.Current,
		Tokens:  tokens,
		Store:   store,
		Health:  hm,
		Version: version,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Int("providers", len(cfg.Providers)).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Dur("grace", cfg.ShutdownGrace).Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

// buildCache selects the redis backend when configured, falling back to
// the in-process cache when redis is unreachable.
func buildCache(cfg *config.Config) (cache.Store, error) {
	if cfg.RedisAddr == "" {
		return cache.NewMemory(time.Minute), nil
	}
	r, err := cache.NewRedis(cfg.RedisAddr, "", 0)
	if err != nil {
		lg := log.WithComponent("daemon")
		lg.Warn().Err(err).Str("addr", cfg.RedisAddr).
			Msg("redis unavailable, using in-memory cache")
		return cache.NewMemory(time.Minute), nil
	}
	return r, nil
}
