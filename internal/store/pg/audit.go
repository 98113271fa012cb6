package pg

import (
	"context"
	"encoding/json"

	"github.com/dropDatabas3/toolgate/internal/store/core"
)

// AppendAudit inserta un registro de auditoría. Append-only: no hay update
// ni delete sobre esta tabla.
func (s *Store) AppendAudit(ctx context.Context, e *core.AuditEntry) error {
	meta := []byte("{}")
	if len(e.Metadata) > 0 {
		if b, err := json.Marshal(e.Metadata); err == nil {
			meta = b
		}
	}
	const q = `
		INSERT INTO audit_log
			(id, user_id, event_type, provider, tool_name, metadata, ip, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`
	_, err := s.pool.Exec(ctx, q,
		e.ID, e.UserID, e.EventType, e.Provider, e.ToolName, meta, e.IP, e.UserAgent)
	return err
}
