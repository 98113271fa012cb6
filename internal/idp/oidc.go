// Package idp es el cliente OIDC hacia el identity provider primario.
// El broker actúa acá como client OAuth con su PROPIO par PKCE, independiente
// del par que el client inbound le presentó al broker.
package idp

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

type discoveryDoc struct {
	Issuer        string `json:"issuer"`
	AuthEndpoint  string `json:"authorization_endpoint"`
	TokenEndpoint string `json:"token_endpoint"`
	JWKSURI       string `json:"jwks_uri"`
}

type jwk struct {
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"` // base64url
	E   string `json:"e"` // base64url
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

type Client struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	http  *http.Client
	mu    sync.RWMutex
	disc  *discoveryDoc
	discU time.Time

	jwks     *jwks
	jwksAt   time.Time
	jwksETag string
}

// New crea el cliente. httpClient es opcional; si se pasa, las llamadas al
// IdP salen por ese cliente (timeouts/retry del caller).
func New(issuer, clientID, clientSecret, redirectURL string, scopes []string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		Issuer:       strings.TrimRight(issuer, "/"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       scopes,
		http:         httpClient,
	}
}

func (c *Client) discovery(ctx context.Context) (*discoveryDoc, error) {
	c.mu.RLock()
	disc := c.disc
	stale := time.Since(c.discU) > 24*time.Hour
	c.mu.RUnlock()
	if disc != nil && !stale {
		return disc, nil
	}

	req, _ := http.NewRequestWithContext(ctx, "GET", c.Issuer+"/.well-known/openid-configuration", nil)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("idp: discovery http %d", resp.StatusCode)
	}
	var dd discoveryDoc
	if err := json.NewDecoder(resp.Body).Decode(&dd); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.disc = &dd
	c.discU = time.Now()
	c.mu.Unlock()
	return &dd, nil
}

func (c *Client) getJWKS(ctx context.Context, uri string) (*jwks, error) {
	c.mu.RLock()
	j := c.jwks
	age := time.Since(c.jwksAt)
	etag := c.jwksETag
	c.mu.RUnlock()
	if j != nil && age < time.Hour {
		return j, nil
	}

	req, _ := http.NewRequestWithContext(ctx, "GET", uri, nil)
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		c.mu.Lock()
		out := c.jwks
		c.jwksAt = time.Now()
		c.mu.Unlock()
		return out, nil
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("idp: jwks http %d", resp.StatusCode)
	}
	var jj jwks
	if err := json.NewDecoder(resp.Body).Decode(&jj); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.jwks = &jj
	c.jwksAt = time.Now()
	c.jwksETag = resp.Header.Get("ETag")
	c.mu.Unlock()
	return &jj, nil
}

func (c *Client) rsaKeyForKid(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	disc, err := c.discovery(ctx)
	if err != nil {
		return nil, err
	}
	keys, err := c.getJWKS(ctx, disc.JWKSURI)
	if err != nil {
		return nil, err
	}
	for _, k := range keys.Keys {
		if k.Kid == kid && strings.EqualFold(k.Kty, "RSA") {
			nb, err := base64.RawURLEncoding.DecodeString(k.N)
			if err != nil {
				return nil, err
			}
			eb, err := base64.RawURLEncoding.DecodeString(k.E)
			if err != nil {
				return nil, err
			}
			n := new(big.Int).SetBytes(nb)
			e := 0
			for _, b := range eb {
				e = (e << 8) | int(b)
			}
			if e == 0 {
				e = 65537
			}
			return &rsa.PublicKey{N: n, E: e}, nil
		}
	}
	return nil, errors.New("idp: kid not found in jwks")
}

// AuthURL construye la URL de autorización con el PKCE challenge del broker.
func (c *Client) AuthURL(ctx context.Context, state, nonce, codeChallenge string) (string, error) {
	disc, err := c.discovery(ctx)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(disc.AuthEndpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", c.ClientID)
	q.Set("redirect_uri", c.RedirectURL)
	q.Set("scope", strings.Join(c.Scopes, " "))
	q.Set("state", state)
	q.Set("nonce", nonce)
	q.Set("code_challenge", codeChallenge)
	q.Set("code_challenge_method", "S256")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// ExchangeCode canjea el code del IdP usando el code_verifier del broker.
func (c *Client) ExchangeCode(ctx context.Context, code, codeVerifier string) (*TokenResponse, error) {
	disc, err := c.discovery(ctx)
	if err != nil {
		return nil, err
	}
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)
	form.Set("redirect_uri", c.RedirectURL)
	form.Set("code_verifier", codeVerifier)

	req, _ := http.NewRequestWithContext(ctx, "POST", disc.TokenEndpoint, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		var b struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&b)
		return nil, fmt.Errorf("idp: token http %d: %s %s", resp.StatusCode, b.Error, b.ErrorDescription)
	}
	var tr TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, err
	}
	return &tr, nil
}

type IDClaims struct {
	Sub           string `json:"sub"`
	Iss           string `json:"iss"`
	Exp           int64  `json:"exp"`
	Iat           int64  `json:"iat"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Nonce         string `json:"nonce"`

	Raw jwtv5.MapClaims `json:"-"`
}

// VerifyIDToken valida firma, iss, aud, exp y nonce del id_token.
func (c *Client) VerifyIDToken(ctx context.Context, idToken, expectedNonce string) (*IDClaims, error) {
	parsed, err := jwtv5.Parse(idToken, func(t *jwtv5.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("idp: id_token without kid")
		}
		return c.rsaKeyForKid(ctx, kid)
	},
		jwtv5.WithValidMethods([]string{"RS256"}),
		jwtv5.WithAudience(c.ClientID),
		jwtv5.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("idp: verify id_token: %w", err)
	}
	mc, ok := parsed.Claims.(jwtv5.MapClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("idp: invalid id_token claims")
	}

	out := &IDClaims{Raw: mc}
	out.Sub, _ = mc["sub"].(string)
	out.Iss, _ = mc["iss"].(string)
	out.Email, _ = mc["email"].(string)
	out.EmailVerified, _ = mc["email_verified"].(bool)
	out.Name, _ = mc["name"].(string)
	out.Nonce, _ = mc["nonce"].(string)
	if v, ok := mc["exp"].(float64); ok {
		out.Exp = int64(v)
	}
	if v, ok := mc["iat"].(float64); ok {
		out.Iat = int64(v)
	}

	if out.Iss != c.Issuer {
		return nil, fmt.Errorf("idp: issuer mismatch: %s", out.Iss)
	}
	if expectedNonce != "" && out.Nonce != expectedNonce {
		return nil, errors.New("idp: nonce mismatch")
	}
	if out.Email == "" {
		return nil, errors.New("idp: id_token without email claim")
	}
	return out, nil
}
