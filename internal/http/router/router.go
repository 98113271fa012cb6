// Package router arma el árbol de rutas del broker.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dropDatabas3/toolgate/internal/app"
	"github.com/dropDatabas3/toolgate/internal/http/handlers"
	mw "github.com/dropDatabas3/toolgate/internal/http/middlewares"
)

// New construye el handler raíz con middlewares globales y rate limit
// inbound sobre los endpoints del protocolo (no sobre health/metrics).
func New(c *app.Container) http.Handler {
	r := chi.NewRouter()

	// operacionales, sin rate limit
	r.Get("/healthz", handlers.NewHealthzHandler())
	r.Get("/readyz", handlers.NewReadyzHandler(c))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Get("/.well-known/oauth-authorization-server", handlers.NewAuthServerMetadataHandler(c))
	r.Get("/.well-known/oauth-protected-resource", handlers.NewProtectedResourceMetadataHandler(c))

	r.Group(func(g chi.Router) {
		g.Use(mw.WithRateLimit(c.HTTPLimiter))

		g.Get("/authorize", handlers.NewAuthorizeHandler(c))
		g.Get(c.Cfg.Server.CallbackPath, handlers.NewIdPCallbackHandler(c))
		g.Post("/token", handlers.NewTokenHandler(c))
		g.Post("/register", handlers.NewRegisterHandler(c))
		g.Post("/revoke", handlers.NewRevokeHandler(c))
		g.Post("/introspect", handlers.NewIntrospectHandler(c))

		g.Get("/auth/{provider}", handlers.NewProviderConnectHandler(c))
		g.Get("/auth/{provider}/callback", handlers.NewProviderCallbackHandler(c))
		g.Get("/auth/{provider}/status", handlers.NewProviderStatusHandler(c))
		g.Get("/auth/{provider}/token", handlers.NewProviderTokenHandler(c))
		g.Post("/auth/{provider}/revoke", handlers.NewProviderRevokeHandler(c))
	})

	return mw.Chain(r,
		mw.WithRequestID(),
		mw.WithRecover(),
		mw.WithSecurityHeaders(),
		mw.WithLogging(),
	)
}
