package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/xtottel/xto-auth/internal/mail"
	"github.com/xtottel/xto-auth/internal/repo"
)

// One-time-code purposes. A code is scoped to its (email, purpose) key.
const (
	PurposeLogin2FA = "login_2fa"
)

const otpLength = 6

// CodeManager generates, delivers, and single-use-consumes numeric one-time
// codes. Only the salted hash of a code is stored.
type CodeManager struct {
	otps   repo.OtpRepo
	mailer mail.Mailer
	salt   string
	ttl    time.Duration
}

// NewCodeManager creates a new one-time-code manager.
func NewCodeManager(otps repo.OtpRepo, mailer mail.Mailer, salt string, ttl time.Duration) *CodeManager {
	return &CodeManager{otps: otps, mailer: mailer, salt: salt, ttl: ttl}
}

// Issue generates a fresh 6-digit code for (email, purpose), upserts the
// single row for that key (invalidating any earlier code), and dispatches it
// via mail. The plaintext code never touches storage or logs.
func (m *CodeManager) Issue(ctx context.Context, email, purpose string) error {
	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}

	expiresAt := time.Now().Add(m.ttl)
	if err := m.otps.Upsert(ctx, email, purpose, m.hash(email, purpose, code), expiresAt); err != nil {
		return fmt.Errorf("store code: %w", err)
	}

	body := fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(m.ttl.Minutes()))
	if err := m.mailer.Send(ctx, email, "Your verification code", body); err != nil {
		return fmt.Errorf("deliver code: %w", err)
	}
	return nil
}

// Verify consumes the code for (email, purpose). On success the row is
// deleted atomically with the match, so a second call with the same code
// always fails.
func (m *CodeManager) Verify(ctx context.Context, email, purpose, code string) (bool, error) {
	return m.otps.Consume(ctx, email, purpose, m.hash(email, purpose, code))
}

func (m *CodeManager) hash(email, purpose, code string) string {
	sum := sha256.Sum256([]byte(email + ":" + purpose + ":" + code + ":" + m.salt))
	return hex.EncodeToString(sum[:])
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", otpLength, n.Int64()+100000), nil
}
