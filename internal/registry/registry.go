// Package registry valida la identidad de clients OAuth inbound: client_id,
// redirect URIs y scopes, contra el registro estático+dinámico persistido.
//
// El Registry se inyecta en los handlers; no hay estado global de paquete.
package registry

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	tokens "github.com/dropDatabas3/toolgate/internal/security/token"
	"github.com/dropDatabas3/toolgate/internal/store/core"
)

var (
	ErrUnknownClient   = errors.New("invalid client_id")
	ErrInactiveClient  = errors.New("client is inactive")
	ErrRedirectURI     = errors.New("redirect_uri does not match registered URIs")
	ErrScopeNotAllowed = errors.New("scope not allowed for this client")
)

type Registry struct {
	store core.Repository
}

func New(store core.Repository) *Registry {
	return &Registry{store: store}
}

// Seed hace upsert de los clients estáticos declarados en el deployment.
// Secrets se guardan hasheados; nunca en claro.
func (r *Registry) Seed(ctx context.Context, statics []core.Client) error {
	for i := range statics {
		c := statics[i]
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.AuthMethod == "" {
			if c.SecretHash == "" {
				c.AuthMethod = "none"
			} else {
				c.AuthMethod = "client_secret_basic"
			}
		}
		c.RequirePKCE = true
		c.Active = true
		if err := r.store.UpsertClient(ctx, &c); err != nil {
			return fmt.Errorf("registry: seed %s: %w", c.ClientID, err)
		}
	}
	return nil
}

// ValidateClient resuelve el client y verifica redirect_uri.
func (r *Registry) ValidateClient(ctx context.Context, clientID, redirectURI string) (*core.Client, error) {
	cl, err := r.lookup(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if !matchAnyRedirect(cl.RedirectURIs, redirectURI) {
		return nil, ErrRedirectURI
	}
	return cl, nil
}

// ValidateScopes exige que TODOS los scopes pedidos estén permitidos.
// Un scope desconocido rechaza el request completo, nunca un grant parcial.
func (r *Registry) ValidateScopes(ctx context.Context, clientID string, requested []string) error {
	cl, err := r.lookup(ctx, clientID)
	if err != nil {
		return err
	}
	allowed := make(map[string]struct{}, len(cl.Scopes))
	for _, s := range cl.Scopes {
		allowed[s] = struct{}{}
	}
	for _, s := range requested {
		if _, ok := allowed[s]; !ok {
			return fmt.Errorf("%w: %s", ErrScopeNotAllowed, s)
		}
	}
	return nil
}

// IsPKCERequired: fail closed, un client desconocido requiere PKCE.
func (r *Registry) IsPKCERequired(ctx context.Context, clientID string) bool {
	cl, err := r.lookup(ctx, clientID)
	if err != nil {
		return true
	}
	return cl.RequirePKCE
}

// Authenticate valida el secret presentado contra el hash guardado.
// Clients públicos (auth_method "none") pasan sin secret.
func (r *Registry) Authenticate(ctx context.Context, clientID, clientSecret string) (*core.Client, error) {
	cl, err := r.lookup(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if cl.Public() {
		return cl, nil
	}
	if clientSecret == "" ||
		subtle.ConstantTimeCompare([]byte(tokens.SHA256Base64URL(clientSecret)), []byte(cl.SecretHash)) != 1 {
		return nil, ErrUnknownClient
	}
	return cl, nil
}

func (r *Registry) lookup(ctx context.Context, clientID string) (*core.Client, error) {
	cl, err := r.store.GetClientByClientID(ctx, clientID)
	if errors.Is(err, core.ErrNotFound) {
		return nil, ErrUnknownClient
	}
	if err != nil {
		return nil, err
	}
	if !cl.Active {
		return nil, ErrInactiveClient
	}
	return cl, nil
}

func matchAnyRedirect(patterns []string, uri string) bool {
	for _, p := range patterns {
		if MatchRedirectURI(p, uri) {
			return true
		}
	}
	return false
}

// MatchRedirectURI soporta match exacto y el patrón wildcard-port
// "scheme://host:*[/path]": scheme y host deben coincidir exacto; si el
// patrón trae path, el path debe coincidir exacto; sin path, matchea
// cualquier path de ese host.
func MatchRedirectURI(pattern, uri string) bool {
	if pattern == uri {
		return true
	}
	idx := strings.Index(pattern, ":*")
	if idx < 0 {
		return false
	}

	prefix := pattern[:idx] // scheme://host
	rest := pattern[idx+2:] // "" o /path

	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	if prefix != u.Scheme+"://"+u.Hostname() {
		return false
	}
	if rest == "" {
		return true
	}
	return rest == u.Path
}
