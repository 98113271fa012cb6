package handlers_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/dropDatabas3/toolgate/internal/app"
	"github.com/dropDatabas3/toolgate/internal/config"
	"github.com/dropDatabas3/toolgate/internal/http/router"
	tokens "github.com/dropDatabas3/toolgate/internal/security/token"
	"github.com/dropDatabas3/toolgate/internal/store/core"
	"github.com/dropDatabas3/toolgate/internal/store/memory"
)

const (
	testClientID     = "acme-cli"
	testClientSecret = "s3cret-s3cret"
	testRedirectURI  = "https://client.example/cb"
	testEmail        = "Dev@Example.com"
)

// fakeIdP es un OIDC provider mínimo: discovery, jwks y token endpoint que
// firma id_tokens RS256. El nonce viaja embebido en el code para no tener
// que mantener estado entre authorize y token.
type fakeIdP struct {
	key *rsa.PrivateKey
	srv *httptest.Server
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa key: %v", err)
	}
	f := &fakeIdP{key: key}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"issuer":                 f.srv.URL,
			"authorization_endpoint": f.srv.URL + "/authorize",
			"token_endpoint":         f.srv.URL + "/token",
			"jwks_uri":               f.srv.URL + "/jwks",
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		pub := f.key.PublicKey
		json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kty": "RSA",
				"alg": "RS256",
				"kid": "test-key",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   "AQAB",
			}},
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		if r.Form.Get("code_verifier") == "" {
			http.Error(w, "missing code_verifier", http.StatusBadRequest)
			return
		}
		// code = "code:<nonce>", ver startAuthorize
		nonce := strings.TrimPrefix(r.Form.Get("code"), "code:")

		claims := jwtv5.MapClaims{
			"iss":            f.srv.URL,
			"sub":            "idp-subject-1",
			"aud":            "idp-client",
			"exp":            time.Now().Add(time.Hour).Unix(),
			"iat":            time.Now().Unix(),
			"email":          testEmail,
			"email_verified": true,
			"name":           "Dev Example",
			"nonce":          nonce,
		}
		tok := jwtv5.NewWithClaims(jwtv5.SigningMethodRS256, claims)
		tok.Header["kid"] = "test-key"
		signed, err := tok.SignedString(f.key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "idp-access",
			"refresh_token": "idp-refresh",
			"id_token":      signed,
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

type brokerFixture struct {
	container *app.Container
	srv       *httptest.Server
	idp       *fakeIdP
}

func newBroker(t *testing.T) *brokerFixture {
	t.Helper()
	fidp := newFakeIdP(t)

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.Security.MasterKey = "test-master-key"
	cfg.OAuth.Enabled = true
	cfg.OAuth.StaticClients = []config.StaticClient{{
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		Name:         "Acme CLI",
		RedirectURIs: []string{testRedirectURI},
		Scopes:       []string{"read", "write"},
	}}
	cfg.IdP.Issuer = fidp.srv.URL
	cfg.IdP.ClientID = "idp-client"
	cfg.IdP.ClientSecret = "idp-secret"
	cfg.Providers = map[string]config.Provider{
		"pandadoc": {
			Enabled:      true,
			ClientID:     "pd-client",
			ClientSecret: "pd-secret",
			AuthURL:      fidp.srv.URL + "/pd/authorize",
			TokenURL:     fidp.srv.URL + "/pd/token",
			Scopes:       []string{"read"},
		},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	container, err := app.New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(container.Close)

	srv := httptest.NewServer(router.New(container))
	t.Cleanup(srv.Close)

	return &brokerFixture{container: container, srv: srv, idp: fidp}
}

// noRedirect evita que el http.Client siga los 302 del protocolo.
func noRedirect() *http.Client {
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// startAuthorize corre /authorize y devuelve la URL hacia el IdP.
func (b *brokerFixture) startAuthorize(t *testing.T, challenge, clientState string) *url.URL {
	t.Helper()
	q := url.Values{
		"response_type":         {"code"},
		"client_id":             {testClientID},
		"redirect_uri":          {testRedirectURI},
		"scope":                 {"read"},
		"state":                 {clientState},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
	}
	resp, err := noRedirect().Get(b.srv.URL + "/authorize?" + q.Encode())
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("authorize status = %d", resp.StatusCode)
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("authorize location: %v", err)
	}
	return loc
}

// completeLogin simula la vuelta del IdP y devuelve el code del broker.
func (b *brokerFixture) completeLogin(t *testing.T, idpURL *url.URL, wantClientState string) string {
	t.Helper()
	state := idpURL.Query().Get("state")
	nonce := idpURL.Query().Get("nonce")
	if state == "" || nonce == "" {
		t.Fatalf("idp url without state/nonce: %s", idpURL)
	}

	cb := url.Values{"state": {state}, "code": {"code:" + nonce}}
	resp, err := noRedirect().Get(b.srv.URL + "/callback?" + cb.Encode())
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("callback status = %d", resp.StatusCode)
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("callback location: %v", err)
	}
	if !strings.HasPrefix(loc.String(), testRedirectURI) {
		t.Fatalf("callback redirects to %s", loc)
	}
	if got := loc.Query().Get("state"); got != wantClientState {
		t.Errorf("client state = %q, want %q", got, wantClientState)
	}
	code := loc.Query().Get("code")
	if code == "" {
		t.Fatalf("callback without code: %s", loc)
	}
	return code
}

func (b *brokerFixture) postToken(t *testing.T, form url.Values) (*http.Response, map[string]any) {
	t.Helper()
	req, _ := http.NewRequest("POST", b.srv.URL+"/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(testClientID, testClientSecret)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp, body
}

func TestAuthorizationCodeFlow(t *testing.T) {
	b := newBroker(t)

	verifier, err := tokens.GenerateVerifier()
	if err != nil {
		t.Fatal(err)
	}
	idpURL := b.startAuthorize(t, tokens.S256Challenge(verifier), "xyz-state")

	// el broker negocia su propio PKCE con el IdP
	if got := idpURL.Query().Get("code_challenge_method"); got != "S256" {
		t.Errorf("idp challenge method = %q", got)
	}
	if idpURL.Query().Get("code_challenge") == tokens.S256Challenge(verifier) {
		t.Error("broker reused the client PKCE challenge against the idp")
	}

	code := b.completeLogin(t, idpURL, "xyz-state")

	resp, body := b.postToken(t, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {testRedirectURI},
		"code_verifier": {verifier},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("token status = %d body = %v", resp.StatusCode, body)
	}
	if body["access_token"] == "" || body["refresh_token"] == "" {
		t.Fatalf("missing tokens: %v", body)
	}
	if cc := resp.Header.Get("Cache-Control"); !strings.Contains(cc, "no-store") {
		t.Errorf("token response must be no-store, got %q", cc)
	}

	// login y emisión quedan auditados
	if mem, ok := b.container.Store.(*memory.Store); ok {
		var sawLogin, sawIssue bool
		for _, e := range mem.AuditEntries() {
			switch e.EventType {
			case core.AuditAuthGrant:
				sawLogin = true
			case core.AuditTokenGrant:
				if e.Metadata["outcome"] == "ok" {
					sawIssue = true
				}
			}
		}
		if !sawLogin {
			t.Error("missing auth_grant audit entry")
		}
		if !sawIssue {
			t.Error("missing token_grant audit entry")
		}
	}

	// el code es de un solo uso
	resp2, body2 := b.postToken(t, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {testRedirectURI},
		"code_verifier": {verifier},
	})
	if resp2.StatusCode != http.StatusBadRequest || body2["error"] != "invalid_grant" {
		t.Errorf("code replay: status = %d body = %v", resp2.StatusCode, body2)
	}

	// y el replay rechazado deja su propio rastro
	if mem, ok := b.container.Store.(*memory.Store); ok {
		var sawDenied bool
		for _, e := range mem.AuditEntries() {
			if e.EventType == core.AuditTokenGrant && e.Metadata["outcome"] == "denied" {
				sawDenied = true
			}
		}
		if !sawDenied {
			t.Error("missing token_grant audit entry for the denied replay")
		}
	}
}

func TestTokenRejectsWrongVerifier(t *testing.T) {
	b := newBroker(t)

	verifier, _ := tokens.GenerateVerifier()
	idpURL := b.startAuthorize(t, tokens.S256Challenge(verifier), "st")
	code := b.completeLogin(t, idpURL, "st")

	wrong, _ := tokens.GenerateVerifier()
	resp, body := b.postToken(t, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {testRedirectURI},
		"code_verifier": {wrong},
	})
	if resp.StatusCode != http.StatusBadRequest || body["error"] != "invalid_grant" {
		t.Fatalf("wrong verifier: status = %d body = %v", resp.StatusCode, body)
	}
}

func TestRefreshRotation(t *testing.T) {
	b := newBroker(t)

	verifier, _ := tokens.GenerateVerifier()
	idpURL := b.startAuthorize(t, tokens.S256Challenge(verifier), "st")
	code := b.completeLogin(t, idpURL, "st")
	_, body := b.postToken(t, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {testRedirectURI},
		"code_verifier": {verifier},
	})
	oldRefresh, _ := body["refresh_token"].(string)
	if oldRefresh == "" {
		t.Fatal("no refresh token issued")
	}

	resp, body2 := b.postToken(t, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {oldRefresh},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status = %d body = %v", resp.StatusCode, body2)
	}
	newRefresh, _ := body2["refresh_token"].(string)
	if newRefresh == "" || newRefresh == oldRefresh {
		t.Fatalf("rotation did not issue a new refresh token")
	}

	// el refresh anterior quedó muerto
	resp3, body3 := b.postToken(t, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {oldRefresh},
	})
	if resp3.StatusCode != http.StatusBadRequest || body3["error"] != "invalid_grant" {
		t.Errorf("old refresh replay: status = %d body = %v", resp3.StatusCode, body3)
	}
}

func TestIntrospectAndRevoke(t *testing.T) {
	b := newBroker(t)

	verifier, _ := tokens.GenerateVerifier()
	idpURL := b.startAuthorize(t, tokens.S256Challenge(verifier), "st")
	code := b.completeLogin(t, idpURL, "st")
	_, body := b.postToken(t, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {testRedirectURI},
		"code_verifier": {verifier},
	})
	access, _ := body["access_token"].(string)

	introspect := func(token string) map[string]any {
		req, _ := http.NewRequest("POST", b.srv.URL+"/introspect", strings.NewReader(url.Values{"token": {token}}.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.SetBasicAuth(testClientID, testClientSecret)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("introspect: %v", err)
		}
		defer resp.Body.Close()
		var out map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return out
	}

	info := introspect(access)
	if info["active"] != true {
		t.Fatalf("introspect = %v", info)
	}
	wantSub := tokens.SHA256Hex(strings.ToLower(testEmail))
	if info["sub"] != wantSub {
		t.Errorf("sub = %v, want hash of lowercased email", info["sub"])
	}
	if info["client_id"] != testClientID {
		t.Errorf("client_id = %v", info["client_id"])
	}

	// revocar y verificar que introspection apaga el token
	req, _ := http.NewRequest("POST", b.srv.URL+"/revoke", strings.NewReader(url.Values{"token": {access}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(testClientID, testClientSecret)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("revoke status = %d", resp.StatusCode)
	}

	if info := introspect(access); info["active"] != false {
		t.Errorf("after revoke introspect = %v", info)
	}

	// revocar un token desconocido también responde 200 (RFC 7009)
	req2, _ := http.NewRequest("POST", b.srv.URL+"/revoke", strings.NewReader(url.Values{"token": {"nope"}}.Encode()))
	req2.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req2.SetBasicAuth(testClientID, testClientSecret)
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("revoke unknown: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("revoke unknown status = %d", resp2.StatusCode)
	}
}

func TestAuthorizeValidation(t *testing.T) {
	b := newBroker(t)
	verifier, _ := tokens.GenerateVerifier()
	challenge := tokens.S256Challenge(verifier)

	get := func(q url.Values) *http.Response {
		resp, err := noRedirect().Get(b.srv.URL + "/authorize?" + q.Encode())
		if err != nil {
			t.Fatalf("authorize: %v", err)
		}
		resp.Body.Close()
		return resp
	}

	base := func() url.Values {
		return url.Values{
			"response_type":         {"code"},
			"client_id":             {testClientID},
			"redirect_uri":          {testRedirectURI},
			"scope":                 {"read"},
			"code_challenge":        {challenge},
			"code_challenge_method": {"S256"},
		}
	}

	// client desconocido: error directo, sin redirect
	q := base()
	q.Set("client_id", "ghost")
	if resp := get(q); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unknown client status = %d", resp.StatusCode)
	}

	// redirect_uri no registrado: error directo
	q = base()
	q.Set("redirect_uri", "https://evil.example/cb")
	if resp := get(q); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad redirect status = %d", resp.StatusCode)
	}

	// sin PKCE: error por redirect al client
	q = base()
	q.Del("code_challenge")
	q.Del("code_challenge_method")
	resp := get(q)
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("missing pkce status = %d", resp.StatusCode)
	}
	loc, _ := url.Parse(resp.Header.Get("Location"))
	if loc.Query().Get("error") != "invalid_request" {
		t.Errorf("missing pkce error = %q", loc.Query().Get("error"))
	}

	// method plain: rechazado
	q = base()
	q.Set("code_challenge_method", "plain")
	resp = get(q)
	loc, _ = url.Parse(resp.Header.Get("Location"))
	if resp.StatusCode != http.StatusFound || loc.Query().Get("error") != "invalid_request" {
		t.Errorf("plain method: status = %d error = %q", resp.StatusCode, loc.Query().Get("error"))
	}

	// el method es case-sensitive: "s256" no es "S256"
	q = base()
	q.Set("code_challenge_method", "s256")
	resp = get(q)
	loc, _ = url.Parse(resp.Header.Get("Location"))
	if resp.StatusCode != http.StatusFound || loc.Query().Get("error") != "invalid_request" {
		t.Errorf("lowercase method: status = %d error = %q", resp.StatusCode, loc.Query().Get("error"))
	}

	// scope fuera de los del client
	q = base()
	q.Set("scope", "admin")
	resp = get(q)
	loc, _ = url.Parse(resp.Header.Get("Location"))
	if loc.Query().Get("error") != "invalid_scope" {
		t.Errorf("scope error = %q", loc.Query().Get("error"))
	}
}

func TestStateIsSingleUse(t *testing.T) {
	b := newBroker(t)
	verifier, _ := tokens.GenerateVerifier()
	idpURL := b.startAuthorize(t, tokens.S256Challenge(verifier), "st")
	_ = b.completeLogin(t, idpURL, "st")

	// replay del mismo state
	state := idpURL.Query().Get("state")
	nonce := idpURL.Query().Get("nonce")
	resp, err := noRedirect().Get(b.srv.URL + "/callback?" + url.Values{"state": {state}, "code": {"code:" + nonce}}.Encode())
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("state replay status = %d, want 400", resp.StatusCode)
	}
}

func TestCallbackDeniedByIdPIsAudited(t *testing.T) {
	b := newBroker(t)
	verifier, _ := tokens.GenerateVerifier()
	idpURL := b.startAuthorize(t, tokens.S256Challenge(verifier), "st")
	state := idpURL.Query().Get("state")

	// el user canceló en el IdP
	q := url.Values{"state": {state}, "error": {"access_denied"}}
	resp, err := noRedirect().Get(b.srv.URL + "/callback?" + q.Encode())
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	loc, _ := url.Parse(resp.Header.Get("Location"))
	if loc.Query().Get("error") != "access_denied" {
		t.Errorf("error = %q", loc.Query().Get("error"))
	}

	mem, ok := b.container.Store.(*memory.Store)
	if !ok {
		t.Fatal("memory store expected")
	}
	var saw bool
	for _, e := range mem.AuditEntries() {
		if e.EventType == core.AuditAuthGrant && e.Metadata["outcome"] == "denied" {
			saw = true
		}
	}
	if !saw {
		t.Error("missing auth_grant audit entry for the denied login")
	}
}

func TestClientCredentialsGrant(t *testing.T) {
	b := newBroker(t)

	resp, body := b.postToken(t, url.Values{
		"grant_type": {"client_credentials"},
		"scope":      {"read"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body = %v", resp.StatusCode, body)
	}
	if body["access_token"] == "" {
		t.Fatal("missing access token")
	}
	if _, has := body["refresh_token"]; has {
		t.Error("client_credentials must not issue a refresh token")
	}
}

func TestDynamicRegistration(t *testing.T) {
	b := newBroker(t)

	register := func(payload map[string]any) (int, map[string]any) {
		raw, _ := json.Marshal(payload)
		resp, err := http.Post(b.srv.URL+"/register", "application/json", strings.NewReader(string(raw)))
		if err != nil {
			t.Fatalf("register: %v", err)
		}
		defer resp.Body.Close()
		var out map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return resp.StatusCode, out
	}

	// loopback: forzado a client público, sin secret
	status, out := register(map[string]any{
		"redirect_uris": []string{"http://127.0.0.1:33445/cb"},
		"client_name":   "local tool",
	})
	if status != http.StatusCreated {
		t.Fatalf("register status = %d body = %v", status, out)
	}
	if out["token_endpoint_auth_method"] != "none" {
		t.Errorf("loopback client auth method = %v, want none", out["token_endpoint_auth_method"])
	}
	if _, has := out["client_secret"]; has {
		t.Error("loopback client must not get a secret")
	}

	// loopback mezclado con remoto: basta una URI local para forzar público
	status, out = register(map[string]any{
		"redirect_uris": []string{"https://remote.example/cb", "http://[::1]:9099/cb"},
		"client_name":   "mixed tool",
	})
	if status != http.StatusCreated {
		t.Fatalf("register status = %d body = %v", status, out)
	}
	if out["token_endpoint_auth_method"] != "none" {
		t.Errorf("mixed loopback auth method = %v, want none", out["token_endpoint_auth_method"])
	}

	// remoto: confidencial con secret que no expira
	status, out = register(map[string]any{
		"redirect_uris": []string{"https://remote.example/cb"},
		"client_name":   "hosted tool",
	})
	if status != http.StatusCreated {
		t.Fatalf("register status = %d", status)
	}
	if out["token_endpoint_auth_method"] != "client_secret_basic" {
		t.Errorf("auth method = %v", out["token_endpoint_auth_method"])
	}
	if secret, _ := out["client_secret"].(string); secret == "" {
		t.Error("confidential client must get a secret")
	}
	if exp, has := out["client_secret_expires_at"]; !has || exp != float64(0) {
		t.Errorf("client_secret_expires_at = %v, want 0", exp)
	}

	// sin redirect_uris: rechazo
	status, _ = register(map[string]any{"client_name": "broken"})
	if status != http.StatusBadRequest {
		t.Errorf("no redirect_uris status = %d", status)
	}

	// sin client_name: rechazo
	status, _ = register(map[string]any{"redirect_uris": []string{"https://remote.example/cb"}})
	if status != http.StatusBadRequest {
		t.Errorf("no client_name status = %d", status)
	}
}

func TestDiscoveryDocuments(t *testing.T) {
	b := newBroker(t)

	resp, err := http.Get(b.srv.URL + "/.well-known/oauth-authorization-server")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var doc map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&doc)

	if doc["authorization_endpoint"] == "" || doc["token_endpoint"] == "" {
		t.Fatalf("incomplete metadata: %v", doc)
	}
	methods, _ := doc["code_challenge_methods_supported"].([]any)
	if len(methods) != 1 || methods[0] != "S256" {
		t.Errorf("code_challenge_methods_supported = %v", methods)
	}

	resp2, err := http.Get(b.srv.URL + "/.well-known/oauth-protected-resource")
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	var prdoc map[string]any
	_ = json.NewDecoder(resp2.Body).Decode(&prdoc)
	if _, ok := prdoc["authorization_servers"]; !ok {
		t.Errorf("protected resource metadata incomplete: %v", prdoc)
	}
}

func TestProviderStatusRequiresConnection(t *testing.T) {
	b := newBroker(t)

	verifier, _ := tokens.GenerateVerifier()
	idpURL := b.startAuthorize(t, tokens.S256Challenge(verifier), "st")
	code := b.completeLogin(t, idpURL, "st")
	_, body := b.postToken(t, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {testRedirectURI},
		"code_verifier": {verifier},
	})
	access, _ := body["access_token"].(string)

	req, _ := http.NewRequest("GET", b.srv.URL+"/auth/pandadoc/status", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var st map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&st)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if st["auth_required"] != true {
		t.Errorf("auth_required = %v", st["auth_required"])
	}
	if u, _ := st["auth_url"].(string); !strings.Contains(u, "/auth/pandadoc") {
		t.Errorf("auth_url = %q", u)
	}

	// sin bearer: 401
	resp2, err := http.Get(b.srv.URL + "/auth/pandadoc/status")
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Errorf("no bearer status = %d", resp2.StatusCode)
	}
}

func TestHealthEndpoints(t *testing.T) {
	b := newBroker(t)

	resp, err := http.Get(b.srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d", resp.StatusCode)
	}

	resp, err = http.Get(b.srv.URL + "/readyz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var ready map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&ready)
	if resp.StatusCode != http.StatusOK || ready["ready"] != true {
		t.Errorf("readyz = %d %v", resp.StatusCode, ready)
	}
}
