package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/ipa_gateway/internal/catalog"
	"github.com/R3E-Network/ipa_gateway/internal/catalog/cache"
	"github.com/R3E-Network/ipa_gateway/internal/catalog/postgres"
	catalogsupabase "github.com/R3E-Network/ipa_gateway/internal/catalog/supabase"
	"github.com/R3E-Network/ipa_gateway/internal/catalog/yamlfile"
	"github.com/R3E-Network/ipa_gateway/internal/config"
	"github.com/R3E-Network/ipa_gateway/internal/edge"
	"github.com/R3E-Network/ipa_gateway/internal/httpapi"
	"github.com/R3E-Network/ipa_gateway/internal/issuer"
	"github.com/R3E-Network/ipa_gateway/internal/logging"
	"github.com/R3E-Network/ipa_gateway/internal/manifest"
	"github.com/R3E-Network/ipa_gateway/internal/metrics"
	"github.com/R3E-Network/ipa_gateway/internal/middleware"
	"github.com/R3E-Network/ipa_gateway/internal/platform/migrations"
	"github.com/R3E-Network/ipa_gateway/internal/token"
	"github.com/R3E-Network/ipa_gateway/supabase/client"
)

const serviceName = "ipa-gateway"

// backend is an opened catalog with its health check and cleanup.
type backend struct {
	store catalog.Store
	ready func(ctx context.Context) error
	close func() error
}

func noopClose() error { return nil }

func openCatalog(ctx context.Context, cfg *config.Config, migrate bool, logger *logging.Logger) (*backend, error) {
	switch cfg.CatalogBackend {
	case config.BackendPostgres:
		store, err := postgres.Open(ctx, cfg.DatabaseURL, cfg.CatalogTable)
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := migrations.Apply(store.DB().DB); err != nil {
				store.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			logger.WithContext(ctx).Info("Catalog migrations applied")
		}
		return &backend{store: store, ready: store.DB().PingContext, close: store.Close}, nil

	case config.BackendSupabase:
		c, err := client.NewEnhanced(client.Config{
			URL:    cfg.SupabaseURL,
			APIKey: cfg.SupabaseServiceKey,
		}, client.DefaultRetryConfig(), client.DefaultCircuitBreakerConfig())
		if err != nil {
			return nil, err
		}
		store, err := catalogsupabase.New(c, cfg.CatalogTable)
		if err != nil {
			return nil, err
		}
		return &backend{store: store, close: noopClose}, nil

	case config.BackendFile:
		store, err := yamlfile.Load(cfg.CatalogFile)
		if err != nil {
			return nil, err
		}
		logger.WithContext(ctx).WithField("entries", store.Len()).Info("Loaded file catalog")
		return &backend{store: store, close: noopClose}, nil

	default:
		return nil, fmt.Errorf("unknown catalog backend %q", cfg.CatalogBackend)
	}
}

// withCache adds the Redis cache when REDIS_ADDR is set.
func withCache(ctx context.Context, b *backend, cfg *config.Config, logger *logging.Logger) (*backend, error) {
	if cfg.RedisAddr == "" {
		return b, nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.WithContext(ctx).WithError(err).Warn("Redis unavailable, catalog cache disabled")
		rdb.Close()
		return b, nil
	}

	closeBackend := b.close
	return &backend{
		store: cache.New(b.store, rdb, cfg.CatalogCacheTTL, logger),
		ready: b.ready,
		close: func() error {
			rdb.Close()
			return closeBackend()
		},
	}, nil
}

// newIssuer builds the signer and issuer from configuration.
func newIssuer(cfg *config.Config) (*token.Signer, *issuer.Issuer, error) {
	signer, err := token.NewSigner(token.Config{
		Secret: []byte(cfg.TokenSecret),
		TTL:    cfg.TokenTTL,
		Issuer: cfg.TokenIssuer,
	})
	if err != nil {
		return nil, nil, err
	}
	iss, err := issuer.New(signer, cfg.PublicBaseURL)
	if err != nil {
		return nil, nil, err
	}
	return signer, iss, nil
}

// buildHandler assembles the HTTP stack around an opened catalog.
func buildHandler(cfg *config.Config, b *backend, logger *logging.Logger, m *metrics.Metrics) (http.Handler, *middleware.RateLimiter, error) {
	signer, iss, err := newIssuer(cfg)
	if err != nil {
		return nil, nil, err
	}

	files, err := manifest.NewDir(cfg.ManifestDir)
	if err != nil {
		return nil, nil, err
	}
	gate := manifest.NewGate(signer, b.store, files, manifest.WithLogger(logger), manifest.WithRecorder(m))

	timeouts, err := cfg.RelayTimeouts()
	if err != nil {
		return nil, nil, err
	}
	relayer := edge.NewRelayer(edge.RelayerConfig{
		Timeouts: timeouts,
		Logger:   logger,
		Recorder: m,
		Key:      cfg.RelayKey,
	})
	filter, err := edge.New(edge.Config{
		Marker:             cfg.ObfuscatedExtension,
		LandingPath:        cfg.LandingPath,
		AttachmentFilename: cfg.AttachmentFilename,
		AllowedHosts:       cfg.RelayAllowedHosts(),
	}, relayer, logger, m)
	if err != nil {
		return nil, nil, err
	}

	var limiter *middleware.RateLimiter
	if cfg.RateLimitRPS > 0 {
		limiter = middleware.NewRateLimiter(float64(cfg.RateLimitRPS), cfg.RateLimitBurst, logger)
	}

	handler, err := httpapi.NewHandler(httpapi.Dependencies{
		Service:        serviceName,
		Issuer:         iss,
		Gate:           gate,
		Edge:           filter,
		RateLimiter:    limiter,
		Metrics:        m,
		Logger:         logger,
		AllowedOrigins: cfg.AllowedOrigins(),
		StaticDir:      cfg.StaticDir,
		Ready:          b.ready,
	})
	if err != nil {
		return nil, nil, err
	}
	return handler, limiter, nil
}
