package pg

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/dropDatabas3/toolgate/internal/store/core"
)

func (s *Store) UpsertClient(ctx context.Context, c *core.Client) error {
	const q = `
		INSERT INTO oauth_clients
			(id, client_id, secret_hash, name, redirect_uris, scopes, auth_method, require_pkce, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (client_id) DO UPDATE SET
			secret_hash   = EXCLUDED.secret_hash,
			name          = EXCLUDED.name,
			redirect_uris = EXCLUDED.redirect_uris,
			scopes        = EXCLUDED.scopes,
			auth_method   = EXCLUDED.auth_method,
			require_pkce  = EXCLUDED.require_pkce,
			active        = EXCLUDED.active`
	_, err := s.pool.Exec(ctx, q,
		c.ID, c.ClientID, c.SecretHash, c.Name, c.RedirectURIs, c.Scopes,
		c.AuthMethod, c.RequirePKCE, c.Active)
	return err
}

func (s *Store) GetClientByClientID(ctx context.Context, clientID string) (*core.Client, error) {
	const q = `
		SELECT id, client_id, secret_hash, name, redirect_uris, scopes, auth_method, require_pkce, active, created_at
		FROM oauth_clients
		WHERE client_id = $1`
	var c core.Client
	err := s.pool.QueryRow(ctx, q, clientID).Scan(
		&c.ID, &c.ClientID, &c.SecretHash, &c.Name, &c.RedirectURIs, &c.Scopes,
		&c.AuthMethod, &c.RequirePKCE, &c.Active, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) SetClientActive(ctx context.Context, clientID string, active bool) error {
	const q = `UPDATE oauth_clients SET active = $2 WHERE client_id = $1`
	ct, err := s.pool.Exec(ctx, q, clientID, active)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}
