package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/toolgate/internal/audit"
	"github.com/dropDatabas3/toolgate/internal/breaker"
	"github.com/dropDatabas3/toolgate/internal/metrics"
	"github.com/dropDatabas3/toolgate/internal/observability/logger"
	"github.com/dropDatabas3/toolgate/internal/rate"
	"github.com/dropDatabas3/toolgate/internal/retryhttp"
	"github.com/dropDatabas3/toolgate/internal/security/secretbox"
	"github.com/dropDatabas3/toolgate/internal/store/core"
)

// refreshBuffer: un token a menos de esto de expirar se refresca proactivo,
// para que no muera en vuelo durante una llamada lenta.
const refreshBuffer = 5 * time.Minute

// AuthRequired indica que el user no tiene grant utilizable para el proveedor
// y debe pasar (o repasar) por el flujo de conexión.
type AuthRequired struct {
	Provider string
	AuthURL  string
}

func (e *AuthRequired) Error() string {
	return fmt.Sprintf("auth_required: no usable credential for provider %s", e.Provider)
}

// IsAuthRequired extrae el AuthRequired de err, si lo hay.
func IsAuthRequired(err error) (*AuthRequired, bool) {
	var ar *AuthRequired
	if errors.As(err, &ar) {
		return ar, true
	}
	return nil, false
}

// RateLimited indica rechazo local por rate limit saliente.
type RateLimited struct {
	Key        string
	RetryAfter time.Duration
}

func (e *RateLimited) Error() string {
	return fmt.Sprintf("rate_limited: %s, retry in %s", e.Key, e.RetryAfter.Round(time.Second))
}

func IsRateLimited(err error) (*RateLimited, bool) {
	var rl *RateLimited
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

// LimiterFactory construye el limiter de un proveedor (redis o memoria según
// deployment). Lo inyecta el wiring de app.
type LimiterFactory func(name string, max int, window time.Duration) rate.Limiter

// Manager es el punto único de acceso a tokens de proveedores: cachea en la
// DB cifrado, refresca con dedupe y aplica los guardrails de salida.
type Manager struct {
	catalog      *Catalog
	store        core.Repository
	box          *secretbox.Box
	breakers     *breaker.Group
	limiters     map[string]rate.Limiter
	retry        *retryhttp.Client
	audit        *audit.Recorder
	publicOrigin string

	sf  singleflight.Group
	log *zap.Logger
	now func() time.Time
}

func NewManager(catalog *Catalog, store core.Repository, box *secretbox.Box, breakers *breaker.Group, newLimiter LimiterFactory, retry *retryhttp.Client, rec *audit.Recorder, publicOrigin string) *Manager {
	limiters := make(map[string]rate.Limiter, len(catalog.entries))
	for name, e := range catalog.entries {
		limiters[name] = newLimiter(name, e.RateMax, e.RateWindow)
	}
	return &Manager{
		catalog:      catalog,
		store:        store,
		box:          box,
		breakers:     breakers,
		limiters:     limiters,
		retry:        retry,
		audit:        rec,
		publicOrigin: strings.TrimRight(publicOrigin, "/"),
		log:          logger.Named("provider"),
		now:          time.Now,
	}
}

// ConnectURL arma la URL del broker para iniciar la conexión de un proveedor.
func (m *Manager) ConnectURL(providerName, userID string) string {
	return m.publicOrigin + "/auth/" + providerName + "?user_id=" + url.QueryEscape(userID)
}

// AuthCodeURL arma la URL de autorización del proveedor (flujo de conexión).
func (m *Manager) AuthCodeURL(providerName, state string) (string, error) {
	e, err := m.catalog.Get(providerName)
	if err != nil {
		return "", err
	}
	return e.OAuth.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

// Exchange canjea el code del proveedor y persiste la credencial cifrada.
// Pasa por los mismos guardrails de salida que el refresh.
func (m *Manager) Exchange(ctx context.Context, providerName, userID, code string) error {
	e, err := m.catalog.Get(providerName)
	if err != nil {
		return err
	}
	if err := m.allowRate(ctx, e, userID); err != nil {
		return err
	}
	if err := m.breakers.Allow(e.Name); err != nil {
		return err
	}

	octx := m.outboundContext(ctx, e)
	tok, err := e.OAuth.Exchange(octx, code)
	if err != nil {
		// una respuesta 4xx prueba que el proveedor está vivo aunque
		// rechace el code; solo fallas de transporte o 5xx abren circuito
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response.StatusCode < http.StatusInternalServerError {
			m.breakers.Success(e.Name)
		} else {
			m.breakers.Failure(e.Name)
		}
		return fmt.Errorf("provider %s: exchange: %w", providerName, err)
	}
	m.breakers.Success(e.Name)
	return m.saveCredential(ctx, e, userID, tok, nil)
}

// GetToken devuelve un access token vigente para (userID, provider),
// refrescando si está por expirar. Errores tipados:
//   - *AuthRequired: sin credencial o refresh rechazado por el proveedor
//   - *RateLimited: techo local de salida
//   - *breaker.ErrOpen: circuito abierto
func (m *Manager) GetToken(ctx context.Context, userID, providerName string) (string, error) {
	e, err := m.catalog.Get(providerName)
	if err != nil {
		return "", err
	}

	if err := m.allowRate(ctx, e, userID); err != nil {
		return "", err
	}

	cred, err := m.store.GetToolCredential(ctx, userID, providerName)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return "", &AuthRequired{Provider: providerName, AuthURL: m.ConnectURL(providerName, userID)}
		}
		return "", err
	}

	access, err := m.box.Decrypt(cred.AccessTokenEnc)
	if err != nil {
		return "", fmt.Errorf("provider %s: decrypt credential: %w", providerName, err)
	}
	if m.now().Before(cred.ExpiresAt.Add(-refreshBuffer)) {
		return access, nil
	}

	return m.refresh(ctx, e, userID, cred)
}

// RequiresAuth reporta si el user necesita (re)conectar el proveedor, sin
// disparar refresh.
func (m *Manager) RequiresAuth(ctx context.Context, userID, providerName string) (bool, error) {
	if !m.catalog.Has(providerName) {
		return false, fmt.Errorf("provider: unknown or disabled provider %q", providerName)
	}
	_, err := m.store.GetToolCredential(ctx, userID, providerName)
	if errors.Is(err, core.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

// Revoke borra la credencial local. Best-effort contra el endpoint de
// revocación del proveedor si lo hay; el borrado local nunca depende de eso.
func (m *Manager) Revoke(ctx context.Context, userID, providerName string) error {
	e, err := m.catalog.Get(providerName)
	if err != nil {
		return err
	}

	cred, err := m.store.GetToolCredential(ctx, userID, providerName)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil // idempotente
		}
		return err
	}

	if e.RevokeURL != "" {
		if access, derr := m.box.Decrypt(cred.AccessTokenEnc); derr == nil {
			m.revokeRemote(ctx, e, access)
		}
	}

	if err := m.store.DeleteToolCredential(ctx, userID, providerName); err != nil {
		return err
	}
	m.audit.Record(ctx, audit.Event{
		UserID:    userID,
		EventType: core.AuditAuthRevoke,
		Provider:  providerName,
	})
	return nil
}

func (m *Manager) revokeRemote(ctx context.Context, e *Entry, accessToken string) {
	form := url.Values{"token": {accessToken}}
	req, err := http.NewRequestWithContext(ctx, "POST", e.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(e.OAuth.ClientID, e.OAuth.ClientSecret)
	resp, err := m.retry.HTTPClient().Do(req)
	if err != nil {
		m.log.Warn("remote revoke failed", logger.Provider(e.Name), logger.Err(err))
		return
	}
	resp.Body.Close()
}

// allowRate cobra una unidad del techo de salida por (provider, user). El
// breaker NO se consulta acá: recién antes de una llamada saliente real, para
// que un token servido de cache no consuma el probe de half-open.
func (m *Manager) allowRate(ctx context.Context, e *Entry, userID string) error {
	lim, ok := m.limiters[e.Name]
	if !ok {
		return nil
	}
	key := rate.Key(e.Name, userID)
	res, err := lim.Allow(ctx, key)
	if err != nil {
		// limiter caído no bloquea el tráfico
		m.log.Warn("rate limiter error", logger.Provider(e.Name), logger.Err(err))
		return nil
	}
	if !res.Allowed {
		metrics.RateLimitRejections.WithLabelValues(e.Name).Inc()
		return &RateLimited{Key: key, RetryAfter: res.RetryAfter}
	}
	return nil
}

// refresh renueva la credencial con dedupe por (provider,user): N llamadas
// concurrentes producen UN solo round-trip al proveedor.
func (m *Manager) refresh(ctx context.Context, e *Entry, userID string, cred *core.ToolCredential) (string, error) {
	key := e.Name + ":" + userID
	v, err, _ := m.sf.Do(key, func() (any, error) {
		// releer: otro vuelo pudo haber refrescado ya
		latest, err := m.store.GetToolCredential(ctx, userID, e.Name)
		if err == nil && m.now().Before(latest.ExpiresAt.Add(-refreshBuffer)) {
			return m.box.Decrypt(latest.AccessTokenEnc)
		}
		if err == nil {
			cred = latest
		}
		return m.doRefresh(ctx, e, userID, cred)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) doRefresh(ctx context.Context, e *Entry, userID string, cred *core.ToolCredential) (string, error) {
	if cred.RefreshTokenEnc == "" {
		metrics.ProviderRefreshes.WithLabelValues(e.Name, "auth_required").Inc()
		return "", &AuthRequired{Provider: e.Name, AuthURL: m.ConnectURL(e.Name, userID)}
	}
	refreshTok, err := m.box.Decrypt(cred.RefreshTokenEnc)
	if err != nil {
		return "", fmt.Errorf("provider %s: decrypt refresh token: %w", e.Name, err)
	}

	// el breaker se consulta justo antes de salir: todo camino que pase de
	// acá termina en Success o Failure y devuelve el probe
	if err := m.breakers.Allow(e.Name); err != nil {
		return "", err
	}

	octx := m.outboundContext(ctx, e)
	src := e.OAuth.TokenSource(octx, &oauth2.Token{RefreshToken: refreshTok})
	tok, err := src.Token()
	if err != nil {
		return "", m.refreshFailed(ctx, e, userID, err)
	}

	m.breakers.Success(e.Name)
	metrics.ProviderRefreshes.WithLabelValues(e.Name, "ok").Inc()

	if err := m.saveCredential(ctx, e, userID, tok, cred); err != nil {
		return "", err
	}
	m.audit.Record(ctx, audit.Event{
		UserID:    userID,
		EventType: core.AuditTokenRefresh,
		Provider:  e.Name,
		Metadata:  map[string]any{"outcome": "ok"},
	})
	return tok.AccessToken, nil
}

// refreshFailed clasifica la falla: 400/401 del proveedor es un grant muerto
// (re-auth); el resto cuenta contra el circuito.
func (m *Manager) refreshFailed(ctx context.Context, e *Entry, userID string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		code := re.Response.StatusCode
		if code == http.StatusBadRequest || code == http.StatusUnauthorized {
			// el proveedor respondió: el circuito queda sano aunque el
			// grant esté muerto
			m.breakers.Success(e.Name)
			m.log.Info("refresh token rejected, credential dropped",
				logger.Provider(e.Name), logger.UserID(userID), zap.Int("status", code))
			metrics.ProviderRefreshes.WithLabelValues(e.Name, "auth_required").Inc()
			if derr := m.store.DeleteToolCredential(ctx, userID, e.Name); derr != nil && !errors.Is(derr, core.ErrNotFound) {
				m.log.Warn("drop dead credential failed", logger.Provider(e.Name), logger.Err(derr))
			}
			m.audit.Record(ctx, audit.Event{
				UserID:    userID,
				EventType: core.AuditTokenRefresh,
				Provider:  e.Name,
				Metadata:  map[string]any{"outcome": "auth_required"},
			})
			return &AuthRequired{Provider: e.Name, AuthURL: m.ConnectURL(e.Name, userID)}
		}
	}
	m.breakers.Failure(e.Name)
	metrics.ProviderRefreshes.WithLabelValues(e.Name, "error").Inc()
	m.audit.Record(ctx, audit.Event{
		UserID:    userID,
		EventType: core.AuditTokenRefresh,
		Provider:  e.Name,
		Metadata:  map[string]any{"outcome": "error"},
	})
	return fmt.Errorf("provider %s: refresh: %w", e.Name, err)
}

// saveCredential cifra y persiste. Si el proveedor no devolvió refresh token
// nuevo se conserva el anterior (no todos rotan en cada refresh).
func (m *Manager) saveCredential(ctx context.Context, e *Entry, userID string, tok *oauth2.Token, prev *core.ToolCredential) error {
	accessEnc, err := m.box.Encrypt(tok.AccessToken)
	if err != nil {
		return err
	}
	refreshEnc := ""
	if tok.RefreshToken != "" {
		refreshEnc, err = m.box.Encrypt(tok.RefreshToken)
		if err != nil {
			return err
		}
	} else if prev != nil {
		refreshEnc = prev.RefreshTokenEnc
	}

	expires := tok.Expiry
	if expires.IsZero() {
		expires = m.now().Add(time.Hour)
	}
	cred := &core.ToolCredential{
		UserID:          userID,
		Provider:        e.Name,
		AccessTokenEnc:  accessEnc,
		RefreshTokenEnc: refreshEnc,
		ExpiresAt:       expires.UTC(),
		Scopes:          e.OAuth.Scopes,
	}
	return m.store.UpsertToolCredential(ctx, cred)
}

// outboundContext inyecta el http.Client con retry y el timeout del proveedor
// para que oauth2 lo use en exchange/refresh.
func (m *Manager) outboundContext(ctx context.Context, e *Entry) context.Context {
	hc := m.retry.HTTPClient()
	hc.Timeout = e.Timeout
	return context.WithValue(ctx, oauth2.HTTPClient, hc)
}
