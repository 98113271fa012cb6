package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dropDatabas3/toolgate/internal/app"
)

var errNoBearer = errors.New("missing or invalid bearer token")

// bearerUser resuelve el user detrás del access token del broker. Para los
// endpoints de proveedor que exigen un caller ya autorizado.
func bearerUser(ctx context.Context, c *app.Container, r *http.Request) (*tokenRecord, error) {
	ah := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(strings.ToLower(ah), "bearer ") {
		return nil, errNoBearer
	}
	raw := strings.TrimSpace(ah[len("bearer "):])
	if raw == "" {
		return nil, errNoBearer
	}

	var rec tokenRecord
	ok, err := getJSON(ctx, c.Cache, accessKey(raw), &rec)
	if err != nil {
		return nil, err
	}
	if !ok || time.Now().After(rec.ExpiresAt) {
		return nil, errNoBearer
	}
	return &rec, nil
}
