package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/xtottel/xto-auth/internal/repo"
)

const (
	ipWindow = 15 * time.Minute
	ipMax    = 10

	accountWindow      = 24 * time.Hour
	defaultMaxAttempts = 5
)

// Throttle derives lockout decisions from the login attempt log. Counts are
// advisory reads with no locking: a concurrent burst may overshoot a
// threshold by a small margin, but sequential traffic never slips past it.
type Throttle struct {
	attempts repo.AttemptRepo
}

// NewThrottle creates a new Throttle over the attempt log.
func NewThrottle(attempts repo.AttemptRepo) *Throttle {
	return &Throttle{attempts: attempts}
}

// CheckIP rejects when the IP has accumulated too many failures in the
// trailing window. This runs before any user lookup so the throttle itself
// cannot leak account existence.
func (t *Throttle) CheckIP(ctx context.Context, ip string) error {
	count, err := t.attempts.CountFailuresByIP(ctx, ip, time.Now().Add(-ipWindow))
	if err != nil {
		return dependencyErr("attempt log unavailable", err)
	}
	if count >= ipMax {
		return throttledErr(msgTooManyRequests)
	}
	return nil
}

// CheckAccount rejects when the user has exceeded the tenant's failed-attempt
// budget in the trailing 24 hours, regardless of credential validity.
// maxAttempts <= 0 falls back to the default of 5.
func (t *Throttle) CheckAccount(ctx context.Context, userID uuid.UUID, maxAttempts int) error {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	count, err := t.attempts.CountFailuresByUser(ctx, userID, time.Now().Add(-accountWindow))
	if err != nil {
		return dependencyErr("attempt log unavailable", err)
	}
	if count >= maxAttempts {
		return throttledErr(msgAccountLocked)
	}
	return nil
}
