// Package provider administra las credenciales OAuth por usuario y por
// proveedor SaaS: flujo de conexión, refresh automático y revocación.
package provider

import (
	"fmt"
	"sort"
	"time"

	"golang.org/x/oauth2"

	"github.com/dropDatabas3/toolgate/internal/config"
)

// Entry es la configuración resuelta de un proveedor habilitado.
type Entry struct {
	Name      string
	OAuth     *oauth2.Config
	RevokeURL string
	Timeout   time.Duration

	RateMax    int
	RateWindow time.Duration
}

// Catalog indexa los proveedores habilitados por nombre.
type Catalog struct {
	entries map[string]*Entry
}

// NewCatalog construye el catálogo desde la config. Los providers
// deshabilitados no entran.
func NewCatalog(cfg *config.Config) *Catalog {
	c := &Catalog{entries: make(map[string]*Entry)}
	for name, p := range cfg.Providers {
		if !p.Enabled {
			continue
		}
		e := &Entry{
			Name: name,
			OAuth: &oauth2.Config{
				ClientID:     p.ClientID,
				ClientSecret: p.ClientSecret,
				RedirectURL:  cfg.ProviderRedirectURL(name),
				Scopes:       p.Scopes,
				Endpoint: oauth2.Endpoint{
					AuthURL:  p.AuthURL,
					TokenURL: p.TokenURL,
				},
			},
			RevokeURL:  p.RevokeURL,
			Timeout:    p.TimeoutDuration(),
			RateMax:    p.RateMax,
			RateWindow: p.RateWindowDuration(),
		}
		if e.RateMax <= 0 {
			e.RateMax = 60
		}
		if e.RateWindow <= 0 {
			e.RateWindow = time.Minute
		}
		c.entries[name] = e
	}
	return c
}

// Get devuelve la entrada o error si el provider no existe o está apagado.
func (c *Catalog) Get(name string) (*Entry, error) {
	e, ok := c.entries[name]
	if !ok {
		return nil, fmt.Errorf("provider: unknown or disabled provider %q", name)
	}
	return e, nil
}

func (c *Catalog) Has(name string) bool {
	_, ok := c.entries[name]
	return ok
}

// Names lista los proveedores habilitados, ordenados.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.entries))
	for n := range c.entries {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
