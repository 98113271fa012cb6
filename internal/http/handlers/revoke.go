package handlers

import (
	"net/http"
	"strings"

	"github.com/dropDatabas3/toolgate/internal/app"
	"github.com/dropDatabas3/toolgate/internal/httpx"
)

// revocation per RFC 7009: siempre 200, incluso para tokens desconocidos.
// Solo el client dueño puede revocar sus tokens.
func NewRevokeHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
		if err := r.ParseForm(); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
			return
		}

		ctx := r.Context()
		cl, err := authenticateClient(c, r)
		if err != nil {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_client", err.Error())
			return
		}

		token := strings.TrimSpace(r.PostForm.Get("token"))
		if token == "" {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "token is required")
			return
		}

		// probar en los dos espacios; borrar solo si pertenece al client
		for _, key := range []string{accessKey(token), refreshKey(token)} {
			var rec tokenRecord
			ok, err := getJSON(ctx, c.Cache, key, &rec)
			if err != nil {
				httpx.WriteError(w, http.StatusInternalServerError, "server_error", "lookup failed")
				return
			}
			if ok && rec.ClientID == cl.ClientID {
				if err := c.Cache.Delete(ctx, key); err != nil {
					httpx.WriteError(w, http.StatusInternalServerError, "server_error", "revoke failed")
					return
				}
			}
		}

		w.WriteHeader(http.StatusOK)
	}
}
