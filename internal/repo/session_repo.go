package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xtottel/xto-auth/internal/model"
)

// SessionRepo defines the interface for auth session repository operations.
// Revocation only ever sets revoked_at; rows are never deleted (audit trail).
type SessionRepo interface {
	Create(ctx context.Context, s model.AuthSession) (uuid.UUID, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.AuthSession, error)
	FindLiveByAccessToken(ctx context.Context, token string) (model.AuthSession, error)
	FindLiveByRefreshToken(ctx context.Context, token string) (model.AuthSession, error)
	RotateAccessToken(ctx context.Context, sessionID uuid.UUID, newToken string, expiresAt time.Time) error
	Revoke(ctx context.Context, sessionID uuid.UUID) error
	RevokeByAccessToken(ctx context.Context, token string) (bool, error)
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, except *uuid.UUID) error
	ListLiveForUser(ctx context.Context, userID uuid.UUID) ([]model.AuthSession, error)
	SweepExpired(ctx context.Context) (int64, error)
}

type sessionRepo struct {
	db *sql.DB
}

// NewSessionRepo creates a new SessionRepo instance
func NewSessionRepo(db *sql.DB) SessionRepo {
	return &sessionRepo{db: db}
}

const sessionColumns = `
	id, user_id, access_token, refresh_token, device_info, ip_address,
	user_agent, created_at, expires_at, revoked_at
`

func scanSession(row *sql.Row) (model.AuthSession, error) {
	var s model.AuthSession
	err := row.Scan(
		&s.ID, &s.UserID, &s.AccessToken, &s.RefreshToken, &s.DeviceInfo,
		&s.IPAddress, &s.UserAgent, &s.CreatedAt, &s.ExpiresAt, &s.RevokedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.AuthSession{}, ErrNotFound
		}
		return model.AuthSession{}, fmt.Errorf("query session: %w", err)
	}
	return s, nil
}

// Create inserts a new session row
func (r *sessionRepo) Create(ctx context.Context, s model.AuthSession) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO auth_sessions (user_id, access_token, refresh_token, device_info, ip_address, user_agent, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, s.UserID, s.AccessToken, s.RefreshToken, s.DeviceInfo, s.IPAddress, s.UserAgent, s.ExpiresAt).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert session: %w", err)
	}
	return id, nil
}

// GetByID returns the session regardless of liveness (ownership checks, audit).
func (r *sessionRepo) GetByID(ctx context.Context, id uuid.UUID) (model.AuthSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM auth_sessions WHERE id = $1`
	return scanSession(r.db.QueryRowContext(ctx, query, id))
}

// FindLiveByAccessToken returns the session only if not revoked and not expired.
func (r *sessionRepo) FindLiveByAccessToken(ctx context.Context, token string) (model.AuthSession, error) {
	query := `SELECT ` + sessionColumns + `
		FROM auth_sessions
		WHERE access_token = $1 AND revoked_at IS NULL AND expires_at > now()`
	return scanSession(r.db.QueryRowContext(ctx, query, token))
}

// FindLiveByRefreshToken returns the session only if not revoked and not expired.
func (r *sessionRepo) FindLiveByRefreshToken(ctx context.Context, token string) (model.AuthSession, error) {
	query := `SELECT ` + sessionColumns + `
		FROM auth_sessions
		WHERE refresh_token = $1 AND revoked_at IS NULL AND expires_at > now()`
	return scanSession(r.db.QueryRowContext(ctx, query, token))
}

// RotateAccessToken swaps the stored access token and pushes out the session
// expiry. A refresh must not leave two simultaneously valid access tokens for
// the same session, so the old value is overwritten in place. Idempotent when
// retried with the same arguments.
func (r *sessionRepo) RotateAccessToken(ctx context.Context, sessionID uuid.UUID, newToken string, expiresAt time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE auth_sessions
		SET access_token = $2, expires_at = $3
		WHERE id = $1 AND revoked_at IS NULL
	`, sessionID, newToken, expiresAt)
	if err != nil {
		return fmt.Errorf("rotate access token: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Revoke sets revoked_at for the session
func (r *sessionRepo) Revoke(ctx context.Context, sessionID uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE auth_sessions SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL
	`, sessionID)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeByAccessToken revokes the live session holding the token value.
// Returns false when no live session matched; that is not an error (logout
// is idempotent).
func (r *sessionRepo) RevokeByAccessToken(ctx context.Context, token string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE auth_sessions SET revoked_at = now()
		WHERE access_token = $1 AND revoked_at IS NULL
	`, token)
	if err != nil {
		return false, fmt.Errorf("revoke session by token: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// RevokeAllForUser revokes every live session for the user, optionally
// keeping one session (the caller's current one) alive.
func (r *sessionRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID, except *uuid.UUID) error {
	var err error
	if except != nil {
		_, err = r.db.ExecContext(ctx, `
			UPDATE auth_sessions SET revoked_at = now()
			WHERE user_id = $1 AND revoked_at IS NULL AND id <> $2
		`, userID, *except)
	} else {
		_, err = r.db.ExecContext(ctx, `
			UPDATE auth_sessions SET revoked_at = now()
			WHERE user_id = $1 AND revoked_at IS NULL
		`, userID)
	}
	if err != nil {
		return fmt.Errorf("revoke all sessions for user: %w", err)
	}
	return nil
}

// ListLiveForUser returns the user's live sessions, newest first.
func (r *sessionRepo) ListLiveForUser(ctx context.Context, userID uuid.UUID) ([]model.AuthSession, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM auth_sessions
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > now()
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.AuthSession
	for rows.Next() {
		var s model.AuthSession
		err := rows.Scan(
			&s.ID, &s.UserID, &s.AccessToken, &s.RefreshToken, &s.DeviceInfo,
			&s.IPAddress, &s.UserAgent, &s.CreatedAt, &s.ExpiresAt, &s.RevokedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// SweepExpired closes out sessions that ran past their expiry without an
// explicit revocation. Rows are kept for audit.
func (r *sessionRepo) SweepExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE auth_sessions SET revoked_at = now()
		WHERE revoked_at IS NULL AND expires_at <= now()
	`)
	if err != nil {
		return 0, fmt.Errorf("sweep expired sessions: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
