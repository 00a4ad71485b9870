package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AttemptRepo defines the interface for the append-only login attempt log.
// Lockout state is never stored; it is recomputed from this log on demand.
type AttemptRepo interface {
	Record(ctx context.Context, email, ip, userAgent string) (uuid.UUID, error)
	AttachUser(ctx context.Context, attemptID, userID uuid.UUID) error
	MarkSuccess(ctx context.Context, attemptID uuid.UUID) error
	CountFailuresByIP(ctx context.Context, ip string, since time.Time) (int, error)
	CountFailuresByUser(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)
}

type attemptRepo struct {
	db *sql.DB
}

// NewAttemptRepo creates a new AttemptRepo instance
func NewAttemptRepo(db *sql.DB) AttemptRepo {
	return &attemptRepo{db: db}
}

// Record appends an attempt row with success=false. The row is written up
// front so every attempt is audited even if the login crashes mid-flight.
func (r *attemptRepo) Record(ctx context.Context, email, ip, userAgent string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO login_attempts (email, ip_address, user_agent, success)
		VALUES ($1, $2, $3, false)
		RETURNING id
	`, email, ip, userAgent).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("record login attempt: %w", err)
	}
	return id, nil
}

// AttachUser retroactively links the attempt to the resolved user.
func (r *attemptRepo) AttachUser(ctx context.Context, attemptID, userID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE login_attempts SET user_id = $2 WHERE id = $1
	`, attemptID, userID)
	if err != nil {
		return fmt.Errorf("attach user to attempt: %w", err)
	}
	return nil
}

// MarkSuccess flips the attempt to success once the login completes.
func (r *attemptRepo) MarkSuccess(ctx context.Context, attemptID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE login_attempts SET success = true WHERE id = $1
	`, attemptID)
	if err != nil {
		return fmt.Errorf("mark attempt success: %w", err)
	}
	return nil
}

// CountFailuresByIP counts failed attempts from the IP since the given time.
func (r *attemptRepo) CountFailuresByIP(ctx context.Context, ip string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM login_attempts
		WHERE ip_address = $1 AND success = false AND created_at >= $2
	`, ip, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count failures by ip: %w", err)
	}
	return count, nil
}

// CountFailuresByUser counts failed attempts for the user since the given time.
func (r *attemptRepo) CountFailuresByUser(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM login_attempts
		WHERE user_id = $1 AND success = false AND created_at >= $2
	`, userID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count failures by user: %w", err)
	}
	return count, nil
}
