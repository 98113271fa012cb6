package pg

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/dropDatabas3/toolgate/internal/store/core"
)

// UpsertToolCredential crea o reemplaza el grant de (user, provider).
func (s *Store) UpsertToolCredential(ctx context.Context, tc *core.ToolCredential) error {
	const q = `
		INSERT INTO tool_credentials
			(user_id, provider, access_token_enc, refresh_token_enc, expires_at, scopes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (user_id, provider) DO UPDATE SET
			access_token_enc  = EXCLUDED.access_token_enc,
			refresh_token_enc = EXCLUDED.refresh_token_enc,
			expires_at        = EXCLUDED.expires_at,
			scopes            = EXCLUDED.scopes,
			updated_at        = NOW()`
	_, err := s.pool.Exec(ctx, q,
		tc.UserID, tc.Provider, tc.AccessTokenEnc, tc.RefreshTokenEnc,
		tc.ExpiresAt, tc.Scopes)
	return err
}

func (s *Store) GetToolCredential(ctx context.Context, userID, provider string) (*core.ToolCredential, error) {
	const q = `
		SELECT user_id, provider, access_token_enc, refresh_token_enc, expires_at, scopes, created_at, updated_at
		FROM tool_credentials
		WHERE user_id = $1 AND provider = $2`
	var tc core.ToolCredential
	err := s.pool.QueryRow(ctx, q, userID, provider).Scan(
		&tc.UserID, &tc.Provider, &tc.AccessTokenEnc, &tc.RefreshTokenEnc,
		&tc.ExpiresAt, &tc.Scopes, &tc.CreatedAt, &tc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tc, nil
}

// DeleteToolCredential elimina el grant. Idempotente (revoke repetido no falla).
func (s *Store) DeleteToolCredential(ctx context.Context, userID, provider string) error {
	const q = `DELETE FROM tool_credentials WHERE user_id = $1 AND provider = $2`
	_, err := s.pool.Exec(ctx, q, userID, provider)
	return err
}
