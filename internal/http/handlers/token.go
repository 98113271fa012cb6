package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dropDatabas3/toolgate/internal/app"
	"github.com/dropDatabas3/toolgate/internal/audit"
	"github.com/dropDatabas3/toolgate/internal/httpx"
	"github.com/dropDatabas3/toolgate/internal/metrics"
	"github.com/dropDatabas3/toolgate/internal/observability/logger"
	tokens "github.com/dropDatabas3/toolgate/internal/security/token"
	"github.com/dropDatabas3/toolgate/internal/store/core"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// NewTokenHandler implementa el token endpoint: authorization_code (PKCE),
// refresh_token (con rotación) y client_credentials.
func NewTokenHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
		if err := r.ParseForm(); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
			return
		}
		grantType := strings.TrimSpace(r.PostForm.Get("grant_type"))

		switch grantType {
		case "authorization_code":
			handleAuthorizationCode(c, w, r)
		case "refresh_token":
			handleRefreshToken(c, w, r)
		case "client_credentials":
			handleClientCredentials(c, w, r)
		default:
			fail(c, w, r, grantType, http.StatusBadRequest, "unsupported_grant_type", "unsupported grant_type")
		}
	}
}

func handleAuthorizationCode(c *app.Container, w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(r.PostForm.Get("code"))
	redirectURI := strings.TrimSpace(r.PostForm.Get("redirect_uri"))
	codeVerifier := strings.TrimSpace(r.PostForm.Get("code_verifier"))

	if code == "" || redirectURI == "" || codeVerifier == "" {
		fail(c, w, r, "authorization_code", http.StatusBadRequest, "invalid_request", "code, redirect_uri and code_verifier are required")
		return
	}

	ctx := r.Context()
	cl, err := authenticateClient(c, r)
	if err != nil {
		fail(c, w, r, "authorization_code", http.StatusUnauthorized, "invalid_client", err.Error())
		return
	}

	// consumir el code: 1 uso, el replay concurrente pierde acá
	var ac authCode
	ok, err := getDelJSON(ctx, c.Cache, codeKey(code), &ac)
	if err != nil {
		fail(c, w, r, "authorization_code", http.StatusInternalServerError, "server_error", "could not load code")
		return
	}
	if !ok || time.Now().After(ac.ExpiresAt) {
		fail(c, w, r, "authorization_code", http.StatusBadRequest, "invalid_grant", "invalid or expired authorization code")
		return
	}
	if ac.ClientID != cl.ClientID || ac.RedirectURI != redirectURI {
		fail(c, w, r, "authorization_code", http.StatusBadRequest, "invalid_grant", "client or redirect_uri mismatch")
		return
	}
	if !tokens.VerifyS256(codeVerifier, ac.CodeChallenge) {
		fail(c, w, r, "authorization_code", http.StatusBadRequest, "invalid_grant", "PKCE verification failed")
		return
	}

	resp, err := mintTokens(ctx, c, ac.UserID, cl.ClientID, ac.Scope, true)
	if err != nil {
		logger.L().Error("token: mint", logger.OAuthClient(cl.ClientID), logger.Err(err))
		fail(c, w, r, "authorization_code", http.StatusInternalServerError, "server_error", "could not issue tokens")
		return
	}

	granted(c, r, "authorization_code", ac.UserID, cl.ClientID)
	writeTokenResponse(w, resp)
}

func handleRefreshToken(c *app.Container, w http.ResponseWriter, r *http.Request) {
	refreshToken := strings.TrimSpace(r.PostForm.Get("refresh_token"))
	if refreshToken == "" {
		fail(c, w, r, "refresh_token", http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	ctx := r.Context()
	cl, err := authenticateClient(c, r)
	if err != nil {
		fail(c, w, r, "refresh_token", http.StatusUnauthorized, "invalid_client", err.Error())
		return
	}

	// rotación: el refresh usado se consume; presentarlo dos veces falla
	var rec tokenRecord
	ok, err := getDelJSON(ctx, c.Cache, refreshKey(refreshToken), &rec)
	if err != nil {
		fail(c, w, r, "refresh_token", http.StatusInternalServerError, "server_error", "could not load refresh token")
		return
	}
	if !ok || time.Now().After(rec.ExpiresAt) || rec.ClientID != cl.ClientID {
		fail(c, w, r, "refresh_token", http.StatusBadRequest, "invalid_grant", "invalid refresh token")
		return
	}

	resp, err := mintTokens(ctx, c, rec.UserID, cl.ClientID, rec.Scope, true)
	if err != nil {
		logger.L().Error("token: mint on refresh", logger.OAuthClient(cl.ClientID), logger.Err(err))
		fail(c, w, r, "refresh_token", http.StatusInternalServerError, "server_error", "could not issue tokens")
		return
	}

	granted(c, r, "refresh_token", rec.UserID, cl.ClientID)
	writeTokenResponse(w, resp)
}

func handleClientCredentials(c *app.Container, w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cl, err := authenticateClient(c, r)
	if err != nil {
		fail(c, w, r, "client_credentials", http.StatusUnauthorized, "invalid_client", err.Error())
		return
	}
	// solo clients confidenciales; uno público no tiene con qué autenticarse
	if cl.Public() {
		fail(c, w, r, "client_credentials", http.StatusUnauthorized, "invalid_client", "client_credentials requires a confidential client")
		return
	}

	scope := strings.TrimSpace(r.PostForm.Get("scope"))
	if scope != "" {
		if err := c.Registry.ValidateScopes(ctx, cl.ClientID, strings.Fields(scope)); err != nil {
			fail(c, w, r, "client_credentials", http.StatusBadRequest, "invalid_scope", err.Error())
			return
		}
	}

	// sin user y sin refresh token: acceso máquina a máquina
	resp, err := mintTokens(ctx, c, "", cl.ClientID, scope, false)
	if err != nil {
		logger.L().Error("token: mint client_credentials", logger.OAuthClient(cl.ClientID), logger.Err(err))
		fail(c, w, r, "client_credentials", http.StatusInternalServerError, "server_error", "could not issue tokens")
		return
	}

	granted(c, r, "client_credentials", "", cl.ClientID)
	writeTokenResponse(w, resp)
}

// mintTokens emite el par access(+refresh) opaco y lo respalda en cache.
func mintTokens(ctx context.Context, c *app.Container, userID, clientID, scope string, withRefresh bool) (*tokenResponse, error) {
	access, err := tokens.GenerateOpaqueToken(32)
	if err != nil {
		return nil, err
	}
	accessTTL := c.Cfg.AccessTTL()
	rec := tokenRecord{
		UserID:    userID,
		ClientID:  clientID,
		Scope:     scope,
		ExpiresAt: time.Now().Add(accessTTL).UTC(),
	}
	if err := putJSON(ctx, c.Cache, accessKey(access), rec, accessTTL); err != nil {
		return nil, err
	}

	resp := &tokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int64(accessTTL.Seconds()),
		Scope:       scope,
	}
	if withRefresh {
		refresh, err := tokens.GenerateOpaqueToken(32)
		if err != nil {
			return nil, err
		}
		refreshTTL := c.Cfg.RefreshTTL()
		rrec := tokenRecord{
			UserID:    userID,
			ClientID:  clientID,
			Scope:     scope,
			ExpiresAt: time.Now().Add(refreshTTL).UTC(),
		}
		if err := putJSON(ctx, c.Cache, refreshKey(refresh), rrec, refreshTTL); err != nil {
			return nil, err
		}
		resp.RefreshToken = refresh
	}
	return resp, nil
}

func writeTokenResponse(w http.ResponseWriter, resp *tokenResponse) {
	httpx.NoStore(w)
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// granted y fail dejan métrica y rastro de auditoría de cada emisión. Las
// denegaciones van sin user: en este punto no hay identidad confiable.
func granted(c *app.Container, r *http.Request, grant, userID, clientID string) {
	metrics.TokenGrants.WithLabelValues(grant, "ok").Inc()
	c.Audit.Record(r.Context(), audit.Event{
		UserID:    userID,
		EventType: core.AuditTokenGrant,
		Metadata:  map[string]any{"grant_type": grant, "outcome": "ok", "client_id": clientID},
	}.FromRequest(r))
}

func fail(c *app.Container, w http.ResponseWriter, r *http.Request, grant string, status int, code, desc string) {
	metrics.TokenGrants.WithLabelValues(grant, "error").Inc()
	c.Audit.Record(r.Context(), audit.Event{
		EventType: core.AuditTokenGrant,
		Metadata:  map[string]any{"grant_type": grant, "outcome": "denied", "error": code},
	}.FromRequest(r))
	httpx.WriteError(w, status, code, desc)
}
