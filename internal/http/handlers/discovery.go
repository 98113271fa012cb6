package handlers

import (
	"net/http"

	"github.com/dropDatabas3/toolgate/internal/app"
	"github.com/dropDatabas3/toolgate/internal/httpx"
)

// NewAuthServerMetadataHandler sirve el documento RFC 8414. Todo se deriva
// del public origin configurado; nada hardcodeado por ambiente.
func NewAuthServerMetadataHandler(c *app.Container) http.HandlerFunc {
	origin := c.Cfg.Server.PublicOrigin
	doc := map[string]any{
		"issuer":                                origin,
		"authorization_endpoint":                origin + "/authorize",
		"token_endpoint":                        origin + "/token",
		"registration_endpoint":                 origin + "/register",
		"revocation_endpoint":                   origin + "/revoke",
		"introspection_endpoint":                origin + "/introspect",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token", "client_credentials"},
		"code_challenge_methods_supported":      []string{"S256"},
		"token_endpoint_auth_methods_supported": []string{"client_secret_basic", "client_secret_post", "none"},
	}
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, doc)
	}
}

// NewProtectedResourceMetadataHandler sirve el documento RFC 9728.
func NewProtectedResourceMetadataHandler(c *app.Container) http.HandlerFunc {
	origin := c.Cfg.Server.PublicOrigin
	doc := map[string]any{
		"resource":                 origin,
		"authorization_servers":    []string{origin},
		"bearer_methods_supported": []string{"header"},
	}
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, doc)
	}
}
