package core

import "time"

// Client es un RegisteredClient: una parte autorizada a pedir authorization.
// Inmutable una vez emitido el secret, salvo el flag Active.
type Client struct {
	ID           string    `json:"id"`
	ClientID     string    `json:"client_id"`
	SecretHash   string    `json:"-"` // sha256 base64url del client_secret; vacío para clients públicos
	Name         string    `json:"client_name"`
	RedirectURIs []string  `json:"redirect_uris"`
	Scopes       []string  `json:"scopes"`
	AuthMethod   string    `json:"token_endpoint_auth_method"` // client_secret_basic|client_secret_post|none
	RequirePKCE  bool      `json:"require_pkce"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Public reporta si el client no tiene secret (auth method "none").
func (c *Client) Public() bool { return c.AuthMethod == "none" }

// Session es el registro durable de un humano logueado, con los tokens del
// IdP primario cifrados at-rest. Una por userID (upsert).
type Session struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	Email           string    `json:"email"`
	Name            string    `json:"name"`
	AccessTokenEnc  string    `json:"-"`
	RefreshTokenEnc string    `json:"-"`
	ExpiresAt       time.Time `json:"expires_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ToolCredential es el grant OAuth de un user contra un proveedor third-party.
// Única por (user_id, provider); tokens cifrados at-rest.
type ToolCredential struct {
	UserID          string    `json:"user_id"`
	Provider        string    `json:"provider"`
	AccessTokenEnc  string    `json:"-"`
	RefreshTokenEnc string    `json:"-"`
	ExpiresAt       time.Time `json:"expires_at"`
	Scopes          []string  `json:"scopes"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Tipos de evento de auditoría.
const (
	AuditAuthGrant    = "auth_grant"
	AuditTokenGrant   = "token_grant"
	AuditToolCall     = "tool_call"
	AuditTokenRefresh = "token_refresh"
	AuditAuthRevoke   = "auth_revoke"
)

// AuditEntry es un registro append-only de seguridad/compliance.
type AuditEntry struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	EventType string         `json:"event_type"`
	Provider  string         `json:"provider,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	IP        string         `json:"ip,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
