package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/toolgate/internal/app"
	"github.com/dropDatabas3/toolgate/internal/audit"
	"github.com/dropDatabas3/toolgate/internal/breaker"
	"github.com/dropDatabas3/toolgate/internal/httpx"
	"github.com/dropDatabas3/toolgate/internal/observability/logger"
	"github.com/dropDatabas3/toolgate/internal/provider"
	"github.com/dropDatabas3/toolgate/internal/store/core"
)

// NewProviderTokenHandler entrega un access token vigente del proveedor al
// caller autorizado, refrescando por abajo si hace falta. Es el punto donde
// los guardrails de salida se vuelven visibles para el cliente:
//
//	auth_required  403  el user tiene que (re)conectar el proveedor
//	rate_limited   429  con Retry-After
//	circuit open   503  con Retry-After
func NewProviderTokenHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "provider")
		ctx := r.Context()

		rec, err := bearerUser(ctx, c, r)
		if err != nil {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "bearer token required")
			return
		}
		if rec.UserID == "" {
			httpx.WriteError(w, http.StatusForbidden, "invalid_token", "token is not bound to a user")
			return
		}

		access, err := c.Provider.GetToken(ctx, rec.UserID, name)
		if err != nil {
			if ar, ok := provider.IsAuthRequired(err); ok {
				httpx.WriteJSON(w, http.StatusForbidden, map[string]any{
					"error":    "auth_required",
					"provider": ar.Provider,
					"auth_url": ar.AuthURL,
				})
				return
			}
			if rl, ok := provider.IsRateLimited(err); ok {
				httpx.WriteRetryableError(w, http.StatusTooManyRequests,
					"rate_limited", "provider call budget exhausted", rl.RetryAfter)
				return
			}
			var eo *breaker.ErrOpen
			if errors.As(err, &eo) {
				httpx.WriteRetryableError(w, http.StatusServiceUnavailable,
					"provider_unavailable", "provider is temporarily unavailable", eo.RetryAfter)
				return
			}
			if !c.Catalog.Has(name) {
				httpx.WriteError(w, http.StatusNotFound, "unknown_provider", "unknown or disabled provider")
				return
			}
			logger.L().Error("provider token failed", logger.Provider(name), logger.UserID(rec.UserID), logger.Err(err))
			httpx.WriteError(w, http.StatusBadGateway, "provider_error", "could not obtain provider token")
			return
		}

		c.Audit.Record(ctx, audit.Event{
			UserID:    rec.UserID,
			EventType: core.AuditToolCall,
			Provider:  name,
		}.FromRequest(r))

		httpx.NoStore(w)
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"provider":     name,
			"access_token": access,
			"token_type":   "Bearer",
		})
	}
}
