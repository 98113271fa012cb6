package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/dropDatabas3/toolgate/internal/app"
	"github.com/dropDatabas3/toolgate/internal/httpx"
)

// introspection per RFC 7662. Un token desconocido, expirado o ajeno responde
// {"active": false} sin más detalle; nunca filtra por qué.
func NewIntrospectHandler(c *app.Container) http.HandlerFunc {
	inactive := map[string]any{"active": false}

	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
		if err := r.ParseForm(); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
			return
		}

		ctx := r.Context()
		if _, err := authenticateClient(c, r); err != nil {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_client", err.Error())
			return
		}

		token := strings.TrimSpace(r.PostForm.Get("token"))
		if token == "" {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "token is required")
			return
		}

		var rec tokenRecord
		tokenType := "access_token"
		ok, err := getJSON(ctx, c.Cache, accessKey(token), &rec)
		if err == nil && !ok {
			tokenType = "refresh_token"
			ok, err = getJSON(ctx, c.Cache, refreshKey(token), &rec)
		}
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "lookup failed")
			return
		}
		if !ok || time.Now().After(rec.ExpiresAt) {
			httpx.WriteJSON(w, http.StatusOK, inactive)
			return
		}

		resp := map[string]any{
			"active":     true,
			"client_id":  rec.ClientID,
			"token_type": tokenType,
			"exp":        rec.ExpiresAt.Unix(),
		}
		if rec.Scope != "" {
			resp["scope"] = rec.Scope
		}
		if rec.UserID != "" {
			resp["sub"] = rec.UserID
		}
		httpx.WriteJSON(w, http.StatusOK, resp)
	}
}
