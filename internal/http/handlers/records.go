// Package handlers implementa los endpoints OAuth del broker sobre el
// container inyectado. El estado efímero del protocolo (states, codes,
// tokens opacos) vive en cache con TTL, siempre keyed por hash.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dropDatabas3/toolgate/internal/cache"
	"github.com/dropDatabas3/toolgate/internal/httpx"
	tokens "github.com/dropDatabas3/toolgate/internal/security/token"
)

// Prefijos de keys en cache. El valor crudo del token nunca se usa como key;
// siempre su SHA-256 base64url.
const (
	stateKeyPrefix     = "oauth:state:"
	codeKeyPrefix      = "oauth:code:"
	accessKeyPrefix    = "oauth:at:"
	refreshKeyPrefix   = "oauth:rt:"
	provStateKeyPrefix = "prov:state:"
)

func stateKey(raw string) string   { return stateKeyPrefix + tokens.SHA256Base64URL(raw) }
func codeKey(raw string) string    { return codeKeyPrefix + tokens.SHA256Base64URL(raw) }
func accessKey(raw string) string  { return accessKeyPrefix + tokens.SHA256Base64URL(raw) }
func refreshKey(raw string) string { return refreshKeyPrefix + tokens.SHA256Base64URL(raw) }
func provStateKey(raw string) string {
	return provStateKeyPrefix + tokens.SHA256Base64URL(raw)
}

// authState es el request de autorización pendiente mientras el user está en
// el IdP. Single-use: se consume con GetDel en el callback.
type authState struct {
	ClientID        string    `json:"client_id"`
	RedirectURI     string    `json:"redirect_uri"`
	Scope           string    `json:"scope"`
	ClientState     string    `json:"client_state"`
	ClientChallenge string    `json:"client_challenge"`
	IdPVerifier     string    `json:"idp_verifier"`
	Nonce           string    `json:"nonce"`
	CreatedAt       time.Time `json:"created_at"`
}

// authCode es el authorization code emitido por el broker. Single-use.
type authCode struct {
	UserID        string    `json:"user_id"`
	ClientID      string    `json:"client_id"`
	RedirectURI   string    `json:"redirect_uri"`
	Scope         string    `json:"scope"`
	CodeChallenge string    `json:"code_challenge"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// tokenRecord respalda access y refresh tokens opacos.
type tokenRecord struct {
	UserID    string    `json:"user_id"`
	ClientID  string    `json:"client_id"`
	Scope     string    `json:"scope"`
	ExpiresAt time.Time `json:"expires_at"`
}

// provState es el state del flujo de conexión a un proveedor third-party.
type provState struct {
	UserID   string `json:"user_id"`
	Provider string `json:"provider"`
}

func putJSON(ctx context.Context, kv cache.Client, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return kv.Set(ctx, key, string(b), ttl)
}

func getJSON(ctx context.Context, kv cache.Client, key string, v any) (bool, error) {
	raw, err := kv.Get(ctx, key)
	if err != nil {
		if cache.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, json.Unmarshal([]byte(raw), v)
}

// getDelJSON consume la key: el segundo lector concurrente pierde (fail closed).
func getDelJSON(ctx context.Context, kv cache.Client, key string, v any) (bool, error) {
	raw, err := kv.GetDel(ctx, key)
	if err != nil {
		if cache.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, json.Unmarshal([]byte(raw), v)
}

func addQS(u, k, v string) string {
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + url.QueryEscape(k) + "=" + url.QueryEscape(v)
}

// redirectError devuelve el error OAuth por redirect al client, como manda
// el protocolo una vez validado el redirect_uri.
func redirectError(w http.ResponseWriter, r *http.Request, redirectURI, state, code, desc string) {
	httpx.NoStore(w)
	loc := addQS(redirectURI, "error", code)
	if desc != "" {
		loc = addQS(loc, "error_description", desc)
	}
	if state != "" {
		loc = addQS(loc, "state", state)
	}
	http.Redirect(w, r, loc, http.StatusFound)
}
