package pg

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/dropDatabas3/toolgate/internal/store/core"
)

// UpsertSession crea o actualiza la sesión del user (una fila por user_id).
func (s *Store) UpsertSession(ctx context.Context, sess *core.Session) error {
	const q = `
		INSERT INTO user_sessions
			(id, user_id, email, name, access_token_enc, refresh_token_enc, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			email             = EXCLUDED.email,
			name              = EXCLUDED.name,
			access_token_enc  = EXCLUDED.access_token_enc,
			refresh_token_enc = EXCLUDED.refresh_token_enc,
			expires_at        = EXCLUDED.expires_at,
			updated_at        = NOW()`
	_, err := s.pool.Exec(ctx, q,
		sess.ID, sess.UserID, sess.Email, sess.Name,
		sess.AccessTokenEnc, sess.RefreshTokenEnc, sess.ExpiresAt)
	return err
}

func (s *Store) GetSessionByUserID(ctx context.Context, userID string) (*core.Session, error) {
	const q = `
		SELECT id, user_id, email, name, access_token_enc, refresh_token_enc, expires_at, created_at, updated_at
		FROM user_sessions
		WHERE user_id = $1`
	var sess core.Session
	err := s.pool.QueryRow(ctx, q, userID).Scan(
		&sess.ID, &sess.UserID, &sess.Email, &sess.Name,
		&sess.AccessTokenEnc, &sess.RefreshTokenEnc,
		&sess.ExpiresAt, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}
