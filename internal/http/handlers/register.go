package handlers

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/toolgate/internal/app"
	"github.com/dropDatabas3/toolgate/internal/httpx"
	"github.com/dropDatabas3/toolgate/internal/observability/logger"
	tokens "github.com/dropDatabas3/toolgate/internal/security/token"
	"github.com/dropDatabas3/toolgate/internal/store/core"
)

type registerRequest struct {
	RedirectURIs []string `json:"redirect_uris"`
	ClientName   string   `json:"client_name"`
	AuthMethod   string   `json:"token_endpoint_auth_method"`
	Scope        string   `json:"scope"`
}

type registerResponse struct {
	ClientID      string   `json:"client_id"`
	ClientSecret  string   `json:"client_secret,omitempty"`
	IssuedAt      int64    `json:"client_id_issued_at"`
	SecretExpires *int64   `json:"client_secret_expires_at,omitempty"`
	RedirectURIs  []string `json:"redirect_uris"`
	ClientName    string   `json:"client_name"`
	AuthMethod    string   `json:"token_endpoint_auth_method"`
	Scope         string   `json:"scope,omitempty"`
}

// NewRegisterHandler implementa dynamic client registration (RFC 7591).
// Clients que solo redirigen a loopback se registran como públicos: un binario
// local no puede custodiar un secret.
func NewRegisterHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if !httpx.ReadJSON(w, r, &req) {
			return
		}
		if len(req.RedirectURIs) == 0 {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_redirect_uri", "redirect_uris is required")
			return
		}
		for _, ru := range req.RedirectURIs {
			if !validRedirectURI(ru) {
				httpx.WriteError(w, http.StatusBadRequest, "invalid_redirect_uri", "redirect_uris must be absolute URIs")
				return
			}
		}
		name := strings.TrimSpace(req.ClientName)
		if name == "" {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_client_metadata", "client_name is required")
			return
		}

		authMethod := strings.TrimSpace(req.AuthMethod)
		if anyLoopback(req.RedirectURIs) {
			authMethod = "none"
		}
		if authMethod == "" {
			authMethod = "client_secret_basic"
		}
		switch authMethod {
		case "none", "client_secret_basic", "client_secret_post":
		default:
			httpx.WriteError(w, http.StatusBadRequest, "invalid_client_metadata", "unsupported token_endpoint_auth_method")
			return
		}

		cl := &core.Client{
			ID:           uuid.NewString(),
			ClientID:     uuid.NewString(),
			Name:         name,
			RedirectURIs: req.RedirectURIs,
			Scopes:       strings.Fields(req.Scope),
			AuthMethod:   authMethod,
			RequirePKCE:  true,
			Active:       true,
		}

		var rawSecret string
		if authMethod != "none" {
			var err error
			rawSecret, err = tokens.GenerateOpaqueToken(32)
			if err != nil {
				httpx.WriteError(w, http.StatusInternalServerError, "server_error", "could not generate secret")
				return
			}
			cl.SecretHash = tokens.SHA256Base64URL(rawSecret)
		}

		if err := c.Store.UpsertClient(r.Context(), cl); err != nil {
			logger.L().Error("register: persist client", logger.Err(err))
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "could not persist client")
			return
		}

		resp := registerResponse{
			ClientID:     cl.ClientID,
			ClientSecret: rawSecret,
			IssuedAt:     time.Now().Unix(),
			RedirectURIs: cl.RedirectURIs,
			ClientName:   cl.Name,
			AuthMethod:   cl.AuthMethod,
			Scope:        req.Scope,
		}
		if rawSecret != "" {
			// 0 = el secret no expira (RFC 7591 §3.2.1)
			var never int64
			resp.SecretExpires = &never
		}
		httpx.NoStore(w)
		httpx.WriteJSON(w, http.StatusCreated, resp)
	}
}

func validRedirectURI(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme != "" && (u.Host != "" || u.Opaque != "" || u.Path != "")
}

// anyLoopback reporta si algún redirect URI apunta a loopback: ese client
// corre en la máquina del user y no puede custodiar un secret.
func anyLoopback(uris []string) bool {
	for _, raw := range uris {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		host := u.Hostname()
		if host == "localhost" {
			return true
		}
		if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
			return true
		}
	}
	return false
}
