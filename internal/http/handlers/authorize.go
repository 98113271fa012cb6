package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dropDatabas3/toolgate/internal/app"
	"github.com/dropDatabas3/toolgate/internal/httpx"
	"github.com/dropDatabas3/toolgate/internal/observability/logger"
	"github.com/dropDatabas3/toolgate/internal/registry"
	tokens "github.com/dropDatabas3/toolgate/internal/security/token"
)

// NewAuthorizeHandler arranca el flujo authorization_code. El broker no tiene
// UI de login propia: valida el request, cuelga el estado pendiente en cache
// y delega la autenticación al IdP primario con su propio par PKCE.
func NewAuthorizeHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		responseType := strings.TrimSpace(q.Get("response_type"))
		clientID := strings.TrimSpace(q.Get("client_id"))
		redirectURI := strings.TrimSpace(q.Get("redirect_uri"))
		scope := strings.TrimSpace(q.Get("scope"))
		state := strings.TrimSpace(q.Get("state"))
		codeChallenge := strings.TrimSpace(q.Get("code_challenge"))
		codeMethod := strings.TrimSpace(q.Get("code_challenge_method"))

		if clientID == "" || redirectURI == "" {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "client_id and redirect_uri are required")
			return
		}

		ctx := r.Context()
		// client y redirect_uri se validan ANTES de redirigir nada: errores de
		// identidad nunca viajan a un redirect_uri no verificado
		if _, err := c.Registry.ValidateClient(ctx, clientID, redirectURI); err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, registry.ErrUnknownClient) {
				status = http.StatusUnauthorized
			}
			httpx.WriteError(w, status, "invalid_client", err.Error())
			return
		}

		if responseType != "code" {
			redirectError(w, r, redirectURI, state, "unsupported_response_type", "only response_type=code is supported")
			return
		}
		// PKCE obligatorio, solo S256 literal: "plain" y variantes en
		// minúscula se rechazan
		if codeChallenge == "" || codeMethod != "S256" {
			redirectError(w, r, redirectURI, state, "invalid_request", "PKCE with code_challenge_method=S256 is required")
			return
		}
		if scope != "" {
			if err := c.Registry.ValidateScopes(ctx, clientID, strings.Fields(scope)); err != nil {
				redirectError(w, r, redirectURI, state, "invalid_scope", err.Error())
				return
			}
		}

		if c.IdP == nil {
			httpx.WriteError(w, http.StatusServiceUnavailable, "temporarily_unavailable", "login is not configured")
			return
		}

		// par PKCE propio del broker contra el IdP, independiente del par del client
		brokerState, err := tokens.GenerateOpaqueToken(32)
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "could not generate state")
			return
		}
		idpVerifier, err := tokens.GenerateVerifier()
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "could not generate verifier")
			return
		}
		nonce, err := tokens.GenerateOpaqueToken(16)
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "could not generate nonce")
			return
		}

		st := authState{
			ClientID:        clientID,
			RedirectURI:     redirectURI,
			Scope:           scope,
			ClientState:     state,
			ClientChallenge: codeChallenge,
			IdPVerifier:     idpVerifier,
			Nonce:           nonce,
			CreatedAt:       time.Now().UTC(),
		}
		if err := putJSON(ctx, c.Cache, stateKey(brokerState), st, c.Cfg.StateTTL()); err != nil {
			logger.L().Error("authorize: persist state", logger.OAuthClient(clientID), logger.Err(err))
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "could not persist state")
			return
		}

		loc, err := c.IdP.AuthURL(ctx, brokerState, nonce, tokens.S256Challenge(idpVerifier))
		if err != nil {
			logger.L().Error("authorize: idp discovery", logger.Err(err))
			httpx.WriteError(w, http.StatusBadGateway, "temporarily_unavailable", "identity provider unavailable")
			return
		}

		httpx.NoStore(w)
		http.Redirect(w, r, loc, http.StatusFound)
	}
}
