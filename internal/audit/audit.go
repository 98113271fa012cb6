// Package audit escribe el registro de seguridad/compliance del broker.
//
// Las fallas de auditoría se tragan (log warn): nunca pueden romper el flujo
// primario de autorización.
package audit

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dropDatabas3/toolgate/internal/observability/logger"
	"github.com/dropDatabas3/toolgate/internal/store/core"
)

type Recorder struct {
	store core.Repository
	log   *zap.Logger
}

func NewRecorder(store core.Repository) *Recorder {
	return &Recorder{store: store, log: logger.Named("audit")}
}

// Event es un builder mínimo para no arrastrar ocho parámetros por handler.
type Event struct {
	UserID    string
	EventType string
	Provider  string
	ToolName  string
	Metadata  map[string]any
	IP        string
	UserAgent string
}

// FromRequest completa IP y User-Agent desde el request inbound.
func (e Event) FromRequest(r *http.Request) Event {
	if r == nil {
		return e
	}
	e.IP = clientIP(r)
	e.UserAgent = r.UserAgent()
	return e
}

// Record persiste el evento. Nunca devuelve error al caller.
func (rec *Recorder) Record(ctx context.Context, e Event) {
	entry := &core.AuditEntry{
		ID:        uuid.NewString(),
		UserID:    e.UserID,
		EventType: e.EventType,
		Provider:  e.Provider,
		ToolName:  e.ToolName,
		Metadata:  e.Metadata,
		IP:        e.IP,
		UserAgent: e.UserAgent,
		CreatedAt: time.Now().UTC(),
	}
	if err := rec.store.AppendAudit(ctx, entry); err != nil {
		rec.log.Warn("audit write failed",
			zap.String("event_type", e.EventType),
			logger.UserID(e.UserID),
			logger.Err(err))
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i > 0 {
		host = host[:i]
	}
	return host
}
