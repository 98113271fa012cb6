package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/toolgate/internal/app"
	"github.com/dropDatabas3/toolgate/internal/audit"
	"github.com/dropDatabas3/toolgate/internal/httpx"
	"github.com/dropDatabas3/toolgate/internal/observability/logger"
	tokens "github.com/dropDatabas3/toolgate/internal/security/token"
	"github.com/dropDatabas3/toolgate/internal/store/core"
)

// NewProviderConnectHandler inicia la conexión de un user a un proveedor
// third-party. El user llega acá desde el auth_url de un error auth_required,
// o directo con su access token del broker.
func NewProviderConnectHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "provider")
		if !c.Catalog.Has(name) {
			httpx.WriteError(w, http.StatusNotFound, "unknown_provider", "unknown or disabled provider")
			return
		}

		ctx := r.Context()
		userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
		if userID == "" {
			rec, err := bearerUser(ctx, c, r)
			if err != nil {
				httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "user_id or bearer token required")
				return
			}
			userID = rec.UserID
		}
		if userID == "" {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "cannot connect a provider without a user")
			return
		}
		// solo users con sesión real; un user_id inventado no siembra credenciales
		if _, err := c.Store.GetSessionByUserID(ctx, userID); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				httpx.WriteError(w, http.StatusForbidden, "unknown_user", "no session for this user")
				return
			}
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "session lookup failed")
			return
		}

		state, err := tokens.GenerateOpaqueToken(32)
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "could not generate state")
			return
		}
		ps := provState{UserID: userID, Provider: name}
		if err := putJSON(ctx, c.Cache, provStateKey(state), ps, c.Cfg.StateTTL()); err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "could not persist state")
			return
		}

		loc, err := c.Provider.AuthCodeURL(name, state)
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "could not build authorization url")
			return
		}
		httpx.NoStore(w)
		http.Redirect(w, r, loc, http.StatusFound)
	}
}

// NewProviderCallbackHandler cierra la conexión: consume el state, canjea el
// code y deja la credencial cifrada en storage.
func NewProviderCallbackHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "provider")
		q := r.URL.Query()
		state := strings.TrimSpace(q.Get("state"))
		code := strings.TrimSpace(q.Get("code"))

		ctx := r.Context()
		if state == "" {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "missing state")
			return
		}

		var ps provState
		ok, err := getDelJSON(ctx, c.Cache, provStateKey(state), &ps)
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "could not load state")
			return
		}
		// el state tiene que existir Y ser de ESTE proveedor
		if !ok || ps.Provider != name {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "unknown or expired state")
			return
		}

		if provErr := strings.TrimSpace(q.Get("error")); provErr != "" {
			httpx.WriteError(w, http.StatusBadRequest, "access_denied", provErr)
			return
		}
		if code == "" {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "missing code")
			return
		}

		if err := c.Provider.Exchange(ctx, name, ps.UserID, code); err != nil {
			logger.L().Warn("provider exchange failed", logger.Provider(name), logger.Err(err))
			httpx.WriteError(w, http.StatusBadGateway, "provider_error", "code exchange with provider failed")
			return
		}

		c.Audit.Record(ctx, audit.Event{
			UserID:    ps.UserID,
			EventType: core.AuditAuthGrant,
			Provider:  name,
		}.FromRequest(r))

		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"status":   "connected",
			"provider": name,
		})
	}
}

// NewProviderStatusHandler reporta si el caller necesita (re)conectar el
// proveedor. Requiere access token del broker.
func NewProviderStatusHandler(c *app.Container) http.HandlerFunc {
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

		need, err := c.Provider.RequiresAuth(ctx, rec.UserID, name)
		if err != nil {
			httpx.WriteError(w, http.StatusNotFound, "unknown_provider", "unknown or disabled provider")
			return
		}

		resp := map[string]any{
			"provider":      name,
			"auth_required": need,
		}
		if need {
			resp["auth_url"] = c.Provider.ConnectURL(name, rec.UserID)
		}
		httpx.WriteJSON(w, http.StatusOK, resp)
	}
}

// NewProviderRevokeHandler desconecta al caller del proveedor. Idempotente.
func NewProviderRevokeHandler(c *app.Container) http.HandlerFunc {
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

		if err := c.Provider.Revoke(ctx, rec.UserID, name); err != nil {
			if !c.Catalog.Has(name) {
				httpx.WriteError(w, http.StatusNotFound, "unknown_provider", "unknown or disabled provider")
				return
			}
			logger.L().Error("provider revoke failed", logger.Provider(name), logger.Err(err))
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "revoke failed")
			return
		}

		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"status":   "revoked",
			"provider": name,
		})
	}
}
