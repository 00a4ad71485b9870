package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/xtottel/xto-auth/internal/model"
)

// SignupInput carries everything the signup transaction creates.
type SignupInput struct {
	BusinessName string
	FirstName    string
	LastName     string
	Email        string
	Phone        string
	PasswordHash string
}

// UserRepo defines the interface for user and tenant repository operations
type UserRepo interface {
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
	GetPolicy(ctx context.Context, businessID uuid.UUID) (model.SecurityPolicy, error)
	CreateSignup(ctx context.Context, in SignupInput) (model.User, error)
	SetLastLogin(ctx context.Context, userID uuid.UUID, at time.Time) error
}

type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a new UserRepo instance
func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

const userColumns = `
	u.id, u.business_id, u.role_id, u.first_name, u.last_name, u.email, u.phone, u.password_hash,
	u.active, u.email_verified, u.last_login, u.created_at,
	r.name, r.permissions, b.active, COALESCE(m.enabled, false)
`

const userJoins = `
	FROM users u
	JOIN roles r ON r.id = u.role_id
	JOIN businesses b ON b.id = u.business_id
	LEFT JOIN mfa_settings m ON m.user_id = u.id
`

func scanUser(row *sql.Row) (model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID, &u.BusinessID, &u.RoleID, &u.FirstName, &u.LastName, &u.Email, &u.Phone, &u.PasswordHash,
		&u.Active, &u.EmailVerified, &u.LastLogin, &u.CreatedAt,
		&u.RoleName, &u.Permissions, &u.BusinessActive, &u.MFAEnabled,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

// GetByEmail retrieves a user with its role, tenant flag, and MFA setting.
func (r *userRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	query := `SELECT ` + userColumns + userJoins + ` WHERE u.email = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

// GetByID retrieves a user by ID
func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	query := `SELECT ` + userColumns + userJoins + ` WHERE u.id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

// GetPolicy retrieves the tenant's security policy.
func (r *userRepo) GetPolicy(ctx context.Context, businessID uuid.UUID) (model.SecurityPolicy, error) {
	var p model.SecurityPolicy
	err := r.db.QueryRowContext(ctx, `
		SELECT business_id, mfa_required, session_timeout_minutes, max_login_attempts
		FROM security_policies
		WHERE business_id = $1
	`, businessID).Scan(&p.BusinessID, &p.MFARequired, &p.SessionTimeoutMinutes, &p.MaxLoginAttempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.SecurityPolicy{}, ErrNotFound
		}
		return model.SecurityPolicy{}, fmt.Errorf("query policy: %w", err)
	}
	return p, nil
}

// CreateSignup creates the business, its default security policy, the owner
// user, and the user's MFA settings row in a single transaction. All-or-nothing.
func (r *userRepo) CreateSignup(ctx context.Context, in SignupInput) (model.User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.User{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var businessID uuid.UUID
	err = tx.QueryRowContext(ctx, `
		INSERT INTO businesses (name) VALUES ($1) RETURNING id
	`, in.BusinessName).Scan(&businessID)
	if err != nil {
		return model.User{}, fmt.Errorf("insert business: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO security_policies (business_id) VALUES ($1)
	`, businessID)
	if err != nil {
		return model.User{}, fmt.Errorf("insert security policy: %w", err)
	}

	var roleID uuid.UUID
	err = tx.QueryRowContext(ctx, `SELECT id FROM roles WHERE name = 'owner'`).Scan(&roleID)
	if err != nil {
		return model.User{}, fmt.Errorf("resolve owner role: %w", err)
	}

	var u model.User
	err = tx.QueryRowContext(ctx, `
		INSERT INTO users (business_id, role_id, first_name, last_name, email, phone, password_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, business_id, role_id, first_name, last_name, email, phone, password_hash,
		          active, email_verified, last_login, created_at
	`, businessID, roleID, in.FirstName, in.LastName, in.Email, in.Phone, in.PasswordHash).Scan(
		&u.ID, &u.BusinessID, &u.RoleID, &u.FirstName, &u.LastName, &u.Email, &u.Phone, &u.PasswordHash,
		&u.Active, &u.EmailVerified, &u.LastLogin, &u.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.User{}, ErrEmailTaken
		}
		return model.User{}, fmt.Errorf("insert user: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO mfa_settings (user_id, enabled) VALUES ($1, false)
	`, u.ID)
	if err != nil {
		return model.User{}, fmt.Errorf("insert mfa settings: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.User{}, fmt.Errorf("commit: %w", err)
	}

	u.RoleName = "owner"
	u.BusinessActive = true
	return u, nil
}

// SetLastLogin stamps the user's last successful login time.
func (r *userRepo) SetLastLogin(ctx context.Context, userID uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET last_login = $2 WHERE id = $1
	`, userID, at)
	if err != nil {
		return fmt.Errorf("set last login: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
