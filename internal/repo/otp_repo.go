package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// OtpRepo defines the interface for one-time-code storage. At most one live
// code exists per (email, purpose); issuing a new one overwrites the old.
type OtpRepo interface {
	Upsert(ctx context.Context, email, purpose, codeHash string, expiresAt time.Time) error
	Consume(ctx context.Context, email, purpose, codeHash string) (bool, error)
}

type otpRepo struct {
	db *sql.DB
}

// NewOtpRepo creates a new OtpRepo instance
func NewOtpRepo(db *sql.DB) OtpRepo {
	return &otpRepo{db: db}
}

// Upsert writes the single row for (email, purpose), invalidating any code
// previously issued for that key. One atomic statement, no read-then-write.
func (r *otpRepo) Upsert(ctx context.Context, email, purpose, codeHash string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO one_time_codes (email, purpose, code_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (email, purpose)
		DO UPDATE SET code_hash = EXCLUDED.code_hash,
		              expires_at = EXCLUDED.expires_at,
		              created_at = now()
	`, email, purpose, codeHash, expiresAt)
	if err != nil {
		return fmt.Errorf("upsert one-time code: %w", err)
	}
	return nil
}

// Consume deletes the row iff it matches the hash and has not expired, and
// reports whether a row was consumed. Deletion and match happen in one
// statement, so a code verifies successfully at most once.
func (r *otpRepo) Consume(ctx context.Context, email, purpose, codeHash string) (bool, error) {
	var e string
	err := r.db.QueryRowContext(ctx, `
		DELETE FROM one_time_codes
		WHERE email = $1 AND purpose = $2 AND code_hash = $3 AND expires_at > now()
		RETURNING email
	`, email, purpose, codeHash).Scan(&e)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("consume one-time code: %w", err)
	}
	return true, nil
}
