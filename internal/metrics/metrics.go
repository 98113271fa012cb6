// Package metrics define los collectors Prometheus del broker. Paquete
// standalone para evitar ciclos de import entre HTTP y provider.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	TokenGrants = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "toolgate_token_grants_total",
		Help: "Grants del endpoint /token por tipo y resultado",
	}, []string{"grant_type", "result"})

	ProviderRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "toolgate_provider_refresh_total",
		Help: "Refreshes de credenciales de proveedor por resultado",
	}, []string{"provider", "result"})

	RateLimitRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "toolgate_rate_limit_rejections_total",
		Help: "Llamadas rechazadas por rate limit",
	}, []string{"provider"})

	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "toolgate_circuit_breaker_state",
		Help: "Estado del circuito por proveedor (0 closed, 1 open, 2 half-open)",
	}, []string{"provider"})

	BreakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "toolgate_circuit_breaker_transitions_total",
		Help: "Transiciones de estado del circuit breaker",
	}, []string{"provider", "to"})
)

// Register registra los collectors en el registry dado (default si es nil).
// Tolera AlreadyRegisteredError para poder llamarse desde tests.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		TokenGrants,
		ProviderRefreshes,
		RateLimitRejections,
		BreakerState,
		BreakerTransitions,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
