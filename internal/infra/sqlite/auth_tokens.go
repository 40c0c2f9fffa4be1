package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ghostwriter/ghostwriter-api/internal/domain"
)

// StoreRefreshToken persists a hashed refresh token.
func (s *Store) StoreRefreshToken(ctx context.Context, accountID, tokenHash string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (token_hash, account_id, expires_at) VALUES (?, ?, ?)`,
		tokenHash, accountID, expiresAt.UTC(),
	)
	return err
}

// GetRefreshToken looks up a refresh token by its hash.
func (s *Store) GetRefreshToken(ctx context.Context, tokenHash string) (*domain.RefreshToken, error) {
	var rt domain.RefreshToken
	var revoked int
	err := s.db.QueryRowContext(ctx,
		`SELECT token_hash, account_id, expires_at, revoked FROM refresh_tokens WHERE token_hash = ?`,
		tokenHash,
	).Scan(&rt.TokenHash, &rt.AccountID, &rt.ExpiresAt, &revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrUnauthorized{Message: "invalid refresh token"}
	}
	if err != nil {
		return nil, err
	}
	rt.Revoked = revoked != 0
	return &rt, nil
}

// RevokeRefreshToken marks one refresh token as revoked.
func (s *Store) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = 1 WHERE token_hash = ?`, tokenHash)
	return err
}

// RevokeAllRefreshTokens revokes every refresh token for an account,
// used on logout-everywhere and account deactivation.
func (s *Store) RevokeAllRefreshTokens(ctx context.Context, accountID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = 1 WHERE account_id = ?`, accountID)
	return err
}
