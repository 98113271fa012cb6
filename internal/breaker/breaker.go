// Package breaker implementa el circuit breaker por proveedor.
//
// Estado process-local y best-effort: una instancia nueva arranca con todos
// los circuitos cerrados. El breaker protege el tráfico saliente de ESTA
// instancia, no una vista global consistente.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State es el estado del circuito.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// ErrOpen se devuelve cuando el circuito rechaza la llamada sin intentarla.
type ErrOpen struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *ErrOpen) Error() string {
	return fmt.Sprintf("circuit_breaker_open: provider %s unavailable, retry in %s", e.Provider, e.RetryAfter.Round(time.Second))
}

// IsOpen reporta si err es un rechazo de circuito abierto.
func IsOpen(err error) bool {
	var eo *ErrOpen
	return errors.As(err, &eo)
}

// Config por proveedor.
type Config struct {
	// FailureThreshold: fallas consecutivas que abren el circuito.
	FailureThreshold int
	// Cooldown: tiempo con el circuito abierto antes de permitir el probe.
	Cooldown time.Duration
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 60 * time.Second
	}
	return c
}

type circuit struct {
	state       State
	failures    int
	lastFailure time.Time
	nextRetry   time.Time
	probing     bool
}

// Group mantiene un circuito por proveedor. Se inyecta donde haga falta;
// nunca es un singleton de paquete.
type Group struct {
	mu       sync.Mutex
	defaults Config
	perProv  map[string]Config
	circuits map[string]*circuit
	now      func() time.Time

	// OnTransition se invoca en cada cambio de estado, con el mutex tomado;
	// el callback no debe volver a entrar al Group.
	OnTransition func(provider string, from, to State)
}

// NewGroup crea un Group con la config default y overrides por proveedor.
func NewGroup(defaults Config, perProvider map[string]Config) *Group {
	pp := make(map[string]Config, len(perProvider))
	for k, v := range perProvider {
		pp[k] = v.withDefaults()
	}
	return &Group{
		defaults: defaults.withDefaults(),
		perProv:  pp,
		circuits: make(map[string]*circuit),
		now:      time.Now,
	}
}

func (g *Group) config(provider string) Config {
	if c, ok := g.perProv[provider]; ok {
		return c
	}
	return g.defaults
}

func (g *Group) circuitLocked(provider string) *circuit {
	c, ok := g.circuits[provider]
	if !ok {
		c = &circuit{state: Closed}
		g.circuits[provider] = c
	}
	return c
}

func (g *Group) transition(provider string, c *circuit, to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	if g.OnTransition != nil {
		g.OnTransition(provider, from, to)
	}
}

// Allow decide si se puede intentar una llamada al proveedor.
// En half-open deja pasar exactamente un probe; el resto recibe ErrOpen.
func (g *Group) Allow(provider string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	c := g.circuitLocked(provider)
	now := g.now()

	switch c.state {
	case Closed:
		return nil
	case Open:
		if now.Before(c.nextRetry) {
			return &ErrOpen{Provider: provider, RetryAfter: c.nextRetry.Sub(now)}
		}
		// Cooldown cumplido: pasar a half-open y habilitar el probe
		g.transition(provider, c, HalfOpen)
		c.probing = true
		return nil
	case HalfOpen:
		if c.probing {
			// Ya hay un probe en vuelo
			return &ErrOpen{Provider: provider, RetryAfter: g.config(provider).Cooldown}
		}
		c.probing = true
		return nil
	}
	return nil
}

// Success registra una llamada exitosa: cierra el circuito y resetea fallas.
func (g *Group) Success(provider string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c := g.circuitLocked(provider)
	c.failures = 0
	c.probing = false
	g.transition(provider, c, Closed)
}

// Failure registra una falla. En half-open re-abre con cooldown fresco;
// en closed abre al llegar al umbral de fallas consecutivas.
func (g *Group) Failure(provider string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cfg := g.config(provider)
	c := g.circuitLocked(provider)
	now := g.now()
	c.lastFailure = now

	if c.state == HalfOpen {
		c.probing = false
		c.nextRetry = now.Add(cfg.Cooldown)
		g.transition(provider, c, Open)
		return
	}

	c.failures++
	if c.failures >= cfg.FailureThreshold {
		c.nextRetry = now.Add(cfg.Cooldown)
		g.transition(provider, c, Open)
	}
}

// Snapshot devuelve el estado actual de un proveedor (para introspección/tests).
type Snapshot struct {
	State       State
	Failures    int
	LastFailure time.Time
	NextRetry   time.Time
}

func (g *Group) Snapshot(provider string) Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := g.circuitLocked(provider)
	return Snapshot{
		State:       c.state,
		Failures:    c.failures,
		LastFailure: c.lastFailure,
		NextRetry:   c.nextRetry,
	}
}

// SetNow reemplaza el reloj (solo tests).
func (g *Group) SetNow(now func() time.Time) { g.now = now }
