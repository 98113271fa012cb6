package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/dropDatabas3/toolgate/internal/app"
	"github.com/dropDatabas3/toolgate/internal/httpx"
)

// NewHealthzHandler: liveness. Responde mientras el proceso esté vivo.
func NewHealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// NewReadyzHandler: readiness. Verifica storage y cache con timeout corto.
func NewReadyzHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{"store": "ok", "cache": "ok"}
		healthy := true
		if err := c.Store.Ping(ctx); err != nil {
			checks["store"] = err.Error()
			healthy = false
		}
		if err := c.Cache.Ping(ctx); err != nil {
			checks["cache"] = err.Error()
			healthy = false
		}

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		httpx.WriteJSON(w, status, map[string]any{
			"ready":  healthy,
			"checks": checks,
		})
	}
}
