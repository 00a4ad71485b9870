package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TokenRepo defines the interface for password-reset and email-verification
// tokens. One live token per user (upsert key), consumed atomically with the
// state change it authorizes.
type TokenRepo interface {
	UpsertReset(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error
	UpsertVerification(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error
	ConsumeVerification(ctx context.Context, token string) (uuid.UUID, error)
	ConsumeReset(ctx context.Context, token, newPasswordHash string) (uuid.UUID, error)
}

type tokenRepo struct {
	db *sql.DB
}

// NewTokenRepo creates a new TokenRepo instance
func NewTokenRepo(db *sql.DB) TokenRepo {
	return &tokenRepo{db: db}
}

// UpsertReset replaces the user's reset token, invalidating any prior one.
func (r *tokenRepo) UpsertReset(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO password_reset_tokens (user_id, token, expires_at, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id)
		DO UPDATE SET token = EXCLUDED.token, expires_at = EXCLUDED.expires_at, created_at = now()
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("upsert reset token: %w", err)
	}
	return nil
}

// UpsertVerification replaces the user's verification token.
func (r *tokenRepo) UpsertVerification(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO verification_tokens (user_id, token, expires_at, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id)
		DO UPDATE SET token = EXCLUDED.token, expires_at = EXCLUDED.expires_at, created_at = now()
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("upsert verification token: %w", err)
	}
	return nil
}

// ConsumeVerification deletes the token and stamps email_verified in one
// transaction. A second call with the same value finds no row.
func (r *tokenRepo) ConsumeVerification(ctx context.Context, token string) (uuid.UUID, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var userID uuid.UUID
	err = tx.QueryRowContext(ctx, `
		DELETE FROM verification_tokens
		WHERE token = $1 AND expires_at > now()
		RETURNING user_id
	`, token).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("delete verification token: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE users SET email_verified = now() WHERE id = $1 AND email_verified IS NULL
	`, userID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("stamp email verified: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("commit: %w", err)
	}
	return userID, nil
}

// ConsumeReset deletes the token, updates the password hash, and revokes all
// of the user's live sessions in one transaction.
func (r *tokenRepo) ConsumeReset(ctx context.Context, token, newPasswordHash string) (uuid.UUID, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var userID uuid.UUID
	err = tx.QueryRowContext(ctx, `
		DELETE FROM password_reset_tokens
		WHERE token = $1 AND expires_at > now()
		RETURNING user_id
	`, token).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("delete reset token: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE users SET password_hash = $2 WHERE id = $1
	`, userID, newPasswordHash)
	if err != nil {
		return uuid.Nil, fmt.Errorf("update password hash: %w", err)
	}

	// A reset follows suspected compromise; leave no session standing.
	_, err = tx.ExecContext(ctx, `
		UPDATE auth_sessions SET revoked_at = now()
		WHERE user_id = $1 AND revoked_at IS NULL
	`, userID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("revoke sessions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("commit: %w", err)
	}
	return userID, nil
}
