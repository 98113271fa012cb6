package handlers

import (
	"net/http"
	"strings"

	"github.com/dropDatabas3/toolgate/internal/app"
	"github.com/dropDatabas3/toolgate/internal/store/core"
)

// clientCredentials extrae client_id/client_secret del request: primero
// Authorization Basic (client_secret_basic), después el form body
// (client_secret_post). Clients públicos mandan solo client_id.
func clientCredentials(r *http.Request) (clientID, clientSecret string) {
	if id, secret, ok := r.BasicAuth(); ok {
		return id, secret
	}
	return strings.TrimSpace(r.PostForm.Get("client_id")),
		strings.TrimSpace(r.PostForm.Get("client_secret"))
}

// authenticateClient resuelve y autentica el client del request del token
// endpoint. Errores de identidad siempre con el mismo mensaje genérico.
func authenticateClient(c *app.Container, r *http.Request) (*core.Client, error) {
	clientID, clientSecret := clientCredentials(r)
	return c.Registry.Authenticate(r.Context(), clientID, clientSecret)
}
