// Package config resuelve la configuración del broker: defaults estáticos,
// YAML de deployment y secrets por variables de entorno, en ese orden.
// Un secret requerido ausente corta el arranque (fail fast).
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
		// PublicOrigin es la URL pública del broker; de acá derivan los
		// documentos de discovery y los redirect URIs hacia IdP/proveedores.
		PublicOrigin string `yaml:"public_origin"`
		// CallbackPath es el path del callback del IdP primario.
		CallbackPath string `yaml:"callback_path"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Storage struct {
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxOpenConns    int    `yaml:"max_open_conns"`
			MaxIdleConns    int    `yaml:"max_idle_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Cache struct {
		Driver   string `yaml:"driver"` // memory | redis
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"cache"`

	Security struct {
		// MasterKey cifra tokens at-rest. base64/hex/raw de 32 bytes,
		// o una passphrase que se deriva con PBKDF2.
		MasterKey string `yaml:"master_key"`
	} `yaml:"security"`

	OAuth struct {
		Enabled    bool   `yaml:"enabled"`
		AccessTTL  string `yaml:"access_ttl"`  // default 1h
		RefreshTTL string `yaml:"refresh_ttl"` // default 720h (30d)
		CodeTTL    string `yaml:"code_ttl"`    // default 10m
		StateTTL   string `yaml:"state_ttl"`   // default 10m

		// Clients estáticos sembrados al arranque (upsert).
		StaticClients []StaticClient `yaml:"static_clients"`
	} `yaml:"oauth"`

	IdP struct {
		// Issuer del IdP primario; discovery en <issuer>/.well-known/openid-configuration.
		Issuer       string   `yaml:"issuer"`
		Tenant       string   `yaml:"tenant"`
		ClientID     string   `yaml:"client_id"`
		ClientSecret string   `yaml:"client_secret"`
		Scopes       []string `yaml:"scopes"`
	} `yaml:"idp"`

	Providers map[string]Provider `yaml:"providers"`

	Resilience struct {
		Breaker struct {
			FailureThreshold int    `yaml:"failure_threshold"` // default 5
			Cooldown         string `yaml:"cooldown"`          // default 60s
		} `yaml:"breaker"`
		Retry struct {
			MaxRetries   int     `yaml:"max_retries"`   // default 3
			InitialDelay string  `yaml:"initial_delay"` // default 500ms
			MaxDelay     string  `yaml:"max_delay"`     // default 10s
			Multiplier   float64 `yaml:"multiplier"`    // default 2.0
		} `yaml:"retry"`
	} `yaml:"resilience"`

	Rate struct {
		Enabled bool `yaml:"enabled"`
		// Límite inbound por IP en endpoints OAuth.
		HTTP struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"http"`
	} `yaml:"rate"`
}

// StaticClient es un RegisteredClient declarado en el YAML de deployment.
type StaticClient struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Name         string   `yaml:"name"`
	RedirectURIs []string `yaml:"redirect_uris"`
	Scopes       []string `yaml:"scopes"`
	AuthMethod   string   `yaml:"auth_method"` // client_secret_basic|client_secret_post|none
}

// Provider es la configuración de un proveedor third-party. Toda la lógica de
// lookup por proveedor sale de esta tabla; nada de switches duplicados.
type Provider struct {
	Enabled      bool            `yaml:"enabled"`
	ClientID     string          `yaml:"client_id"`
	ClientSecret string          `yaml:"client_secret"`
	AuthURL      string          `yaml:"auth_url"`
	TokenURL     string          `yaml:"token_url"`
	RevokeURL    string          `yaml:"revoke_url"`
	Scopes       []string        `yaml:"scopes"`
	Timeout      string          `yaml:"timeout"`     // default 30s
	RateMax      int             `yaml:"rate_max"`    // default 60
	RateWindow   string          `yaml:"rate_window"` // default 1m
	Breaker      ProviderBreaker `yaml:"breaker"`
}

// ProviderBreaker es el override del breaker por proveedor; cero usa los
// defaults de resilience.breaker.
type ProviderBreaker struct {
	FailureThreshold int    `yaml:"failure_threshold"`
	Cooldown         string `yaml:"cooldown"`
}

func (p Provider) TimeoutDuration() time.Duration {
	return ParseDuration(p.Timeout, 30*time.Second)
}

func (p Provider) RateWindowDuration() time.Duration {
	return ParseDuration(p.RateWindow, time.Minute)
}

func (b ProviderBreaker) CooldownDuration() time.Duration {
	return ParseDuration(b.Cooldown, 0)
}

// Load lee el YAML (si path != ""), expande ${VAR} contra el entorno y
// aplica los overrides de entorno conocidos.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		expanded := os.Expand(string(raw), func(k string) string { return os.Getenv(k) })
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

// applyEnv pisa secrets puntuales con variables de entorno dedicadas, para
// deployments que no quieren secrets dentro del YAML.
func (c *Config) applyEnv() {
	if v := os.Getenv("TOOLGATE_MASTER_KEY"); v != "" {
		c.Security.MasterKey = v
	}
	if v := os.Getenv("TOOLGATE_IDP_CLIENT_ID"); v != "" {
		c.IdP.ClientID = v
	}
	if v := os.Getenv("TOOLGATE_IDP_CLIENT_SECRET"); v != "" {
		c.IdP.ClientSecret = v
	}
	if v := os.Getenv("TOOLGATE_DB_DSN"); v != "" {
		c.Storage.DSN = v
	}
	for name, p := range c.Providers {
		envBase := "TOOLGATE_PROVIDER_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		if v := os.Getenv(envBase + "_CLIENT_ID"); v != "" {
			p.ClientID = v
		}
		if v := os.Getenv(envBase + "_CLIENT_SECRET"); v != "" {
			p.ClientSecret = v
		}
		c.Providers[name] = p
	}
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.PublicOrigin == "" {
		c.Server.PublicOrigin = "http://localhost:8080"
	}
	c.Server.PublicOrigin = strings.TrimRight(c.Server.PublicOrigin, "/")
	if c.Server.CallbackPath == "" {
		c.Server.CallbackPath = "/callback"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Cache.Driver == "" {
		c.Cache.Driver = "memory"
	}
	if len(c.IdP.Scopes) == 0 {
		c.IdP.Scopes = []string{"openid", "email", "profile"}
	}
}

// Validate corta el arranque ante credenciales requeridas ausentes.
func (c *Config) Validate() error {
	var missing []string

	if c.Security.MasterKey == "" {
		missing = append(missing, "security.master_key (o TOOLGATE_MASTER_KEY)")
	}
	if c.OAuth.Enabled {
		if c.IdP.Issuer == "" {
			missing = append(missing, "idp.issuer")
		}
		if c.IdP.ClientID == "" {
			missing = append(missing, "idp.client_id")
		}
		if c.IdP.ClientSecret == "" {
			missing = append(missing, "idp.client_secret")
		}
	}
	for name, p := range c.Providers {
		if !p.Enabled {
			continue
		}
		if p.ClientID == "" {
			missing = append(missing, "providers."+name+".client_id")
		}
		if p.ClientSecret == "" {
			missing = append(missing, "providers."+name+".client_secret")
		}
		if p.AuthURL == "" {
			missing = append(missing, "providers."+name+".auth_url")
		}
		if p.TokenURL == "" {
			missing = append(missing, "providers."+name+".token_url")
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("config: missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ParseDuration parsea una duración con fallback.
func ParseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// TTLs efectivos con los defaults del protocolo.

func (c *Config) AccessTTL() time.Duration  { return ParseDuration(c.OAuth.AccessTTL, time.Hour) }
func (c *Config) RefreshTTL() time.Duration { return ParseDuration(c.OAuth.RefreshTTL, 720*time.Hour) }
func (c *Config) CodeTTL() time.Duration    { return ParseDuration(c.OAuth.CodeTTL, 10*time.Minute) }
func (c *Config) StateTTL() time.Duration   { return ParseDuration(c.OAuth.StateTTL, 10*time.Minute) }

// IdPRedirectURL deriva el redirect_uri del broker hacia el IdP primario.
func (c *Config) IdPRedirectURL() string {
	return c.Server.PublicOrigin + c.Server.CallbackPath
}

// ProviderRedirectURL deriva el redirect_uri del broker para un proveedor.
func (c *Config) ProviderRedirectURL(name string) string {
	return c.Server.PublicOrigin + "/auth/" + name + "/callback"
}
