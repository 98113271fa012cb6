package core

import "context"

// Repository es el datastore relacional del broker: clients registrados,
// sesiones de usuario, credenciales de proveedor y audit log.
// El estado efímero (states, codes, tokens opacos) NO pasa por acá; vive en
// el KV store con TTL.
type Repository interface {
	Ping(ctx context.Context) error
	Close()

	// Client registry (estático sembrado + registro dinámico RFC 7591)
	UpsertClient(ctx context.Context, c *Client) error
	GetClientByClientID(ctx context.Context, clientID string) (*Client, error)
	SetClientActive(ctx context.Context, clientID string, active bool) error

	// Sesiones de usuario (una por userID)
	UpsertSession(ctx context.Context, s *Session) error
	GetSessionByUserID(ctx context.Context, userID string) (*Session, error)

	// Credenciales de proveedor (únicas por user+provider)
	UpsertToolCredential(ctx context.Context, tc *ToolCredential) error
	GetToolCredential(ctx context.Context, userID, provider string) (*ToolCredential, error)
	DeleteToolCredential(ctx context.Context, userID, provider string) error

	// Audit log (append-only)
	AppendAudit(ctx context.Context, e *AuditEntry) error
}
