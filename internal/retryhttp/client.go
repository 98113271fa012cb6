// Package retryhttp es un cliente HTTP con reintentos y backoff exponencial
// para las llamadas salientes a token endpoints de proveedores.
//
// Retryable: fallas de red/transporte, timeouts, 5xx y 429 (honrando el
// header Retry-After si viene). No retryable: 4xx, en particular 400/401,
// que para credenciales de proveedor son fallas permanentes.
package retryhttp

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

const (
	defaultMaxRetries         = 3
	defaultInitialRetryDelay  = 500 * time.Millisecond
	defaultMaxRetryDelay      = 10 * time.Second
	defaultRetryDelayMultiple = 2.0
)

// RetryableChecker decide si un error o respuesta amerita reintento.
type RetryableChecker func(err error, resp *http.Response) bool

// Client envuelve un http.Client con retry + backoff.
type Client struct {
	maxRetries         int
	initialRetryDelay  time.Duration
	maxRetryDelay      time.Duration
	retryDelayMultiple float64
	httpClient         *http.Client
	retryableChecker   RetryableChecker
}

// Option configura un Client.
type Option func(*Client)

// WithMaxRetries fija la cantidad máxima de reintentos.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithInitialRetryDelay fija el delay antes del primer reintento.
func WithInitialRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.initialRetryDelay = d
		}
	}
}

// WithMaxRetryDelay fija el delay máximo entre reintentos.
func WithMaxRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.maxRetryDelay = d
		}
	}
}

// WithRetryDelayMultiple fija el multiplicador del backoff exponencial.
func WithRetryDelayMultiple(m float64) Option {
	return func(c *Client) {
		if m > 1.0 {
			c.retryDelayMultiple = m
		}
	}
}

// WithHTTPClient usa un http.Client propio (timeouts por proveedor).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRetryableChecker reemplaza la clasificación por defecto.
func WithRetryableChecker(checker RetryableChecker) Option {
	return func(c *Client) {
		if checker != nil {
			c.retryableChecker = checker
		}
	}
}

// NewClient construye un Client con los defaults y las opciones dadas.
func NewClient(opts ...Option) *Client {
	c := &Client{
		maxRetries:         defaultMaxRetries,
		initialRetryDelay:  defaultInitialRetryDelay,
		maxRetryDelay:      defaultMaxRetryDelay,
		retryDelayMultiple: defaultRetryDelayMultiple,
		httpClient:         http.DefaultClient,
		retryableChecker:   DefaultRetryableChecker,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultRetryableChecker reintenta errores de red y 5xx/429.
func DefaultRetryableChecker(err error, resp *http.Response) bool {
	if err != nil {
		// Errores de red, timeouts, conexión: retryable
		return true
	}
	if resp == nil {
		return false
	}
	return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
}

// retryAfter lee el header Retry-After (segundos o HTTP-date) de una 429/503.
func retryAfter(resp *http.Response) (time.Duration, bool) {
	if resp == nil {
		return 0, false
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d, true
		}
	}
	return 0, false
}

// Do ejecuta el request con reintentos. El body del request original debe ser
// re-clonable (GetBody seteado, que es el caso de los form POST que armamos).
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	var resp *http.Response
	delay := c.initialRetryDelay

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := delay
			// Retry-After del server manda sobre nuestro backoff
			if ra, ok := retryAfter(resp); ok && ra > wait {
				wait = ra
				if wait > c.maxRetryDelay {
					wait = c.maxRetryDelay
				}
			}
			select {
			case <-ctx.Done():
				if lastErr != nil {
					return nil, fmt.Errorf("context cancelled after %d attempts: %w", attempt, lastErr)
				}
				return nil, ctx.Err()
			case <-time.After(wait):
				// próximo delay: exponencial + jitter, acotado
				delay = time.Duration(float64(delay)*c.retryDelayMultiple) + time.Duration(rand.Int63n(int64(100*time.Millisecond)))
				if delay > c.maxRetryDelay {
					delay = c.maxRetryDelay
				}
			}
		}

		// Clonar el request (el body puede haberse consumido)
		reqClone := req.Clone(ctx)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("retryhttp: clone body: %w", err)
			}
			reqClone.Body = body
		}

		resp, lastErr = c.httpClient.Do(reqClone)

		if !c.retryableChecker(lastErr, resp) {
			// Éxito o error no retryable: se devuelve tal cual
			return resp, lastErr
		}

		// Cerrar el body antes de reintentar para no filtrar conexiones
		if resp != nil && resp.Body != nil && attempt < c.maxRetries {
			resp.Body.Close()
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("request failed after %d retries: %w", c.maxRetries, lastErr)
	}
	return resp, nil
}

// Transport adapta el Client a http.RoundTripper para poder inyectarlo en
// bibliotecas que esperan un *http.Client (oauth2 usa context.WithValue).
type Transport struct {
	Client *Client
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.Client.Do(req.Context(), req)
}

// HTTPClient devuelve un *http.Client cuyo transporte reintenta con backoff.
func (c *Client) HTTPClient() *http.Client {
	return &http.Client{Transport: &Transport{Client: c}}
}
