package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/toolgate/internal/app"
	"github.com/dropDatabas3/toolgate/internal/audit"
	"github.com/dropDatabas3/toolgate/internal/httpx"
	"github.com/dropDatabas3/toolgate/internal/idp"
	"github.com/dropDatabas3/toolgate/internal/observability/logger"
	tokens "github.com/dropDatabas3/toolgate/internal/security/token"
	"github.com/dropDatabas3/toolgate/internal/store/core"
)

// NewIdPCallbackHandler cierra el login contra el IdP primario: consume el
// state pendiente (single-use), canjea el code con el verifier del broker,
// verifica el id_token y recién ahí emite el authorization code propio.
func NewIdPCallbackHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		state := strings.TrimSpace(q.Get("state"))
		code := strings.TrimSpace(q.Get("code"))

		ctx := r.Context()

		if state == "" {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "missing state")
			return
		}

		var st authState
		ok, err := getDelJSON(ctx, c.Cache, stateKey(state), &st)
		if err != nil {
			logger.L().Error("callback: load state", logger.Err(err))
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "could not load state")
			return
		}
		if !ok {
			// expirado, replay o forjado; no hay redirect_uri confiable
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "unknown or expired state")
			return
		}

		// los logins que mueren acá también quedan auditados, sin user
		// todavía porque la identidad no se llegó a verificar
		denied := func(reason string) {
			c.Audit.Record(ctx, audit.Event{
				EventType: core.AuditAuthGrant,
				Metadata:  map[string]any{"client_id": st.ClientID, "outcome": "denied", "reason": reason},
			}.FromRequest(r))
		}

		// el IdP puede volver con error (user canceló, etc.)
		if idpErr := strings.TrimSpace(q.Get("error")); idpErr != "" {
			denied(idpErr)
			redirectError(w, r, st.RedirectURI, st.ClientState, "access_denied", idpErr)
			return
		}
		if code == "" {
			denied("missing_code")
			redirectError(w, r, st.RedirectURI, st.ClientState, "invalid_request", "missing code")
			return
		}

		tr, err := c.IdP.ExchangeCode(ctx, code, st.IdPVerifier)
		if err != nil {
			logger.L().Warn("callback: idp exchange failed", logger.Err(err))
			denied("idp_exchange_failed")
			redirectError(w, r, st.RedirectURI, st.ClientState, "access_denied", "login failed")
			return
		}
		claims, err := c.IdP.VerifyIDToken(ctx, tr.IDToken, st.Nonce)
		if err != nil {
			logger.L().Warn("callback: id_token rejected", logger.Err(err))
			denied("id_token_rejected")
			redirectError(w, r, st.RedirectURI, st.ClientState, "access_denied", "identity could not be verified")
			return
		}

		// userID estable y opaco: hash del email verificado, nunca el email en claro
		userID := tokens.SHA256Hex(strings.ToLower(claims.Email))

		if err := upsertSession(ctx, c, userID, claims.Email, claims.Name, tr); err != nil {
			logger.L().Error("callback: persist session", logger.UserID(userID), logger.Err(err))
			redirectError(w, r, st.RedirectURI, st.ClientState, "server_error", "could not persist session")
			return
		}

		brokerCode, err := tokens.GenerateOpaqueToken(32)
		if err != nil {
			redirectError(w, r, st.RedirectURI, st.ClientState, "server_error", "could not generate code")
			return
		}
		ac := authCode{
			UserID:        userID,
			ClientID:      st.ClientID,
			RedirectURI:   st.RedirectURI,
			Scope:         st.Scope,
			CodeChallenge: st.ClientChallenge,
			ExpiresAt:     time.Now().Add(c.Cfg.CodeTTL()).UTC(),
		}
		if err := putJSON(ctx, c.Cache, codeKey(brokerCode), ac, c.Cfg.CodeTTL()); err != nil {
			logger.L().Error("callback: persist code", logger.Err(err))
			redirectError(w, r, st.RedirectURI, st.ClientState, "server_error", "could not persist code")
			return
		}

		c.Audit.Record(ctx, audit.Event{
			UserID:    userID,
			EventType: core.AuditAuthGrant,
			Metadata:  map[string]any{"client_id": st.ClientID, "outcome": "ok"},
		}.FromRequest(r))

		httpx.NoStore(w)
		loc := addQS(st.RedirectURI, "code", brokerCode)
		if st.ClientState != "" {
			loc = addQS(loc, "state", st.ClientState)
		}
		http.Redirect(w, r, loc, http.StatusFound)
	}
}

// upsertSession guarda la sesión durable del user con los tokens del IdP
// cifrados at-rest. Una por user; el login repetido la pisa.
func upsertSession(ctx context.Context, c *app.Container, userID, email, name string, tr *idp.TokenResponse) error {
	accessEnc, err := c.Box.Encrypt(tr.AccessToken)
	if err != nil {
		return err
	}
	refreshEnc := ""
	if tr.RefreshToken != "" {
		refreshEnc, err = c.Box.Encrypt(tr.RefreshToken)
		if err != nil {
			return err
		}
	}
	expires := time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second).UTC()
	return c.Store.UpsertSession(ctx, &core.Session{
		ID:              uuid.NewString(),
		UserID:          userID,
		Email:           email,
		Name:            name,
		AccessTokenEnc:  accessEnc,
		RefreshTokenEnc: refreshEnc,
		ExpiresAt:       expires,
	})
}
