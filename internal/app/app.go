// Package app arma el grafo de dependencias del broker. Todo se inyecta;
// ningún paquete de dominio tiene estado global (el logger es la excepción
// deliberada).
package app

import (
	"context"
	"fmt"
	"time"

	rdb "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dropDatabas3/toolgate/internal/audit"
	"github.com/dropDatabas3/toolgate/internal/breaker"
	"github.com/dropDatabas3/toolgate/internal/cache"
	"github.com/dropDatabas3/toolgate/internal/config"
	"github.com/dropDatabas3/toolgate/internal/idp"
	"github.com/dropDatabas3/toolgate/internal/metrics"
	"github.com/dropDatabas3/toolgate/internal/observability/logger"
	"github.com/dropDatabas3/toolgate/internal/provider"
	"github.com/dropDatabas3/toolgate/internal/rate"
	"github.com/dropDatabas3/toolgate/internal/registry"
	"github.com/dropDatabas3/toolgate/internal/retryhttp"
	"github.com/dropDatabas3/toolgate/internal/security/secretbox"
	tokens "github.com/dropDatabas3/toolgate/internal/security/token"
	"github.com/dropDatabas3/toolgate/internal/store/core"
	"github.com/dropDatabas3/toolgate/internal/store/memory"
	"github.com/dropDatabas3/toolgate/internal/store/pg"
)

type Container struct {
	Cfg      *config.Config
	Store    core.Repository
	Cache    cache.Client
	Box      *secretbox.Box
	Registry *registry.Registry
	Breakers *breaker.Group
	Catalog  *provider.Catalog
	Provider *provider.Manager
	IdP      *idp.Client
	Audit    *audit.Recorder
	Retry    *retryhttp.Client

	// HTTPLimiter es el límite inbound por IP; nil si rate.enabled es false.
	HTTPLimiter rate.Limiter
}

// New construye el container completo desde la config validada.
func New(ctx context.Context, cfg *config.Config) (*Container, error) {
	c := &Container{Cfg: cfg}

	// storage: postgres si hay DSN, memoria para dev/tests
	if cfg.Storage.DSN != "" {
		st, err := pg.New(ctx, cfg.Storage.DSN, pg.PoolConfig{
			MaxOpenConns:    cfg.Storage.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.Postgres.ConnMaxLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("app: postgres: %w", err)
		}
		c.Store = st
	} else {
		logger.L().Warn("no storage DSN, using in-memory store")
		c.Store = memory.New()
	}

	kv, err := cache.New(cache.Config{
		Driver:   cfg.Cache.Driver,
		Addr:     cfg.Cache.Addr,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
		Prefix:   cfg.Cache.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("app: cache: %w", err)
	}
	c.Cache = kv

	box, err := secretbox.New(cfg.Security.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("app: master key: %w", err)
	}
	c.Box = box

	c.Registry = registry.New(c.Store)
	if err := c.Registry.Seed(ctx, staticClients(cfg)); err != nil {
		return nil, err
	}

	c.Audit = audit.NewRecorder(c.Store)

	c.Retry = retryhttp.NewClient(
		retryhttp.WithMaxRetries(cfg.Resilience.Retry.MaxRetries),
		retryhttp.WithInitialRetryDelay(config.ParseDuration(cfg.Resilience.Retry.InitialDelay, 0)),
		retryhttp.WithMaxRetryDelay(config.ParseDuration(cfg.Resilience.Retry.MaxDelay, 0)),
		retryhttp.WithRetryDelayMultiple(cfg.Resilience.Retry.Multiplier),
	)

	c.Breakers = breaker.NewGroup(
		breaker.Config{
			FailureThreshold: cfg.Resilience.Breaker.FailureThreshold,
			Cooldown:         config.ParseDuration(cfg.Resilience.Breaker.Cooldown, 0),
		},
		breakerOverrides(cfg),
	)
	c.Breakers.OnTransition = func(provider string, from, to breaker.State) {
		metrics.BreakerState.WithLabelValues(provider).Set(float64(to))
		metrics.BreakerTransitions.WithLabelValues(provider, to.String()).Inc()
		logger.Named("breaker").Info("circuit state change",
			logger.Provider(provider),
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	}

	if cfg.OAuth.Enabled {
		c.IdP = idp.New(cfg.IdP.Issuer, cfg.IdP.ClientID, cfg.IdP.ClientSecret,
			cfg.IdPRedirectURL(), cfg.IdP.Scopes, c.Retry.HTTPClient())
	}

	c.Catalog = provider.NewCatalog(cfg)
	c.Provider = provider.NewManager(c.Catalog, c.Store, c.Box, c.Breakers,
		c.limiterFactory(), c.Retry, c.Audit, cfg.Server.PublicOrigin)

	if cfg.Rate.Enabled {
		max := cfg.Rate.HTTP.Limit
		if max <= 0 {
			max = 120
		}
		window := config.ParseDuration(cfg.Rate.HTTP.Window, time.Minute)
		c.HTTPLimiter = c.newLimiter("http", max, window)
	}

	if err := metrics.Register(nil); err != nil {
		return nil, err
	}
	return c, nil
}

// limiterFactory decide redis vs memoria según el backend de cache.
func (c *Container) limiterFactory() provider.LimiterFactory {
	return func(name string, max int, window time.Duration) rate.Limiter {
		return c.newLimiter("prov:"+name, max, window)
	}
}

func (c *Container) newLimiter(prefix string, max int, window time.Duration) rate.Limiter {
	if raw, ok := c.Cache.(interface{ Raw() *rdb.Client }); ok {
		return rate.NewRedisLimiter(raw.Raw(), "rl:"+prefix+":", max, window)
	}
	return rate.NewMemoryLimiter(max, window)
}

func (c *Container) Close() {
	if c.Cache != nil {
		_ = c.Cache.Close()
	}
	if c.Store != nil {
		c.Store.Close()
	}
}

func staticClients(cfg *config.Config) []core.Client {
	out := make([]core.Client, 0, len(cfg.OAuth.StaticClients))
	for _, sc := range cfg.OAuth.StaticClients {
		cl := core.Client{
			ClientID:     sc.ClientID,
			Name:         sc.Name,
			RedirectURIs: sc.RedirectURIs,
			Scopes:       sc.Scopes,
			AuthMethod:   sc.AuthMethod,
		}
		if sc.ClientSecret != "" {
			cl.SecretHash = tokens.SHA256Base64URL(sc.ClientSecret)
		}
		out = append(out, cl)
	}
	return out
}

func breakerOverrides(cfg *config.Config) map[string]breaker.Config {
	out := make(map[string]breaker.Config)
	for name, p := range cfg.Providers {
		if !p.Enabled {
			continue
		}
		if p.Breaker.FailureThreshold > 0 || p.Breaker.Cooldown != "" {
			out[name] = breaker.Config{
				FailureThreshold: p.Breaker.FailureThreshold,
				Cooldown:         p.Breaker.CooldownDuration(),
			}
		}
	}
	return out
}
