package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token type discriminators. Verification checks the claim explicitly: a
// token of the wrong type is rejected even when the signature is valid.
const (
	TokenTypeAccess  = "access_token"
	TokenTypeRefresh = "refresh_token"
	TokenTypeMFA     = "mfa_verification"
)

// Claims carries the identity asserted by a signed token.
type Claims struct {
	UserID      uuid.UUID `json:"sub"`
	BusinessID  uuid.UUID `json:"bid"`
	Role        string    `json:"role,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
	TokenType   string    `json:"typ"`
	// AttemptID links a step-up token back to the login attempt it came
	// from, so MFA completion can mark that row successful.
	AttemptID uuid.UUID `json:"att,omitempty"`
	jwt.RegisteredClaims
}

// Signer issues and verifies signed claims blobs. Access and refresh tokens
// use independent keys so compromise of one cannot forge the other; the MFA
// step-up token rides the access key with its own type claim.
type Signer struct {
	accessSecret  []byte
	refreshSecret []byte

	accessTTL  time.Duration
	refreshTTL time.Duration
	mfaTTL     time.Duration
}

// NewSigner creates a new token signer.
func NewSigner(accessSecret, refreshSecret string, accessTTL, refreshTTL, mfaTTL time.Duration) *Signer {
	return &Signer{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		mfaTTL:        mfaTTL,
	}
}

func (s *Signer) sign(c Claims, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	c.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &c)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// IssueAccess mints an access token for the user.
func (s *Signer) IssueAccess(c Claims) (string, error) {
	c.TokenType = TokenTypeAccess
	return s.sign(c, s.accessSecret, s.accessTTL)
}

// IssueRefresh mints a refresh token for the user.
func (s *Signer) IssueRefresh(c Claims) (string, error) {
	c.TokenType = TokenTypeRefresh
	return s.sign(c, s.refreshSecret, s.refreshTTL)
}

// IssueMFA mints the short-lived step-up token asserting "password verified,
// MFA still pending".
func (s *Signer) IssueMFA(c Claims) (string, error) {
	c.TokenType = TokenTypeMFA
	return s.sign(c, s.accessSecret, s.mfaTTL)
}

func (s *Signer) verify(tokenString string, secret []byte, wantType string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.TokenType != wantType {
		return nil, fmt.Errorf("unexpected token type %q", claims.TokenType)
	}
	return claims, nil
}

// VerifyAccess verifies an access token against the access key.
func (s *Signer) VerifyAccess(tokenString string) (*Claims, error) {
	return s.verify(tokenString, s.accessSecret, TokenTypeAccess)
}

// VerifyRefresh verifies a refresh token against the refresh key.
func (s *Signer) VerifyRefresh(tokenString string) (*Claims, error) {
	return s.verify(tokenString, s.refreshSecret, TokenTypeRefresh)
}

// VerifyMFA verifies a step-up token.
func (s *Signer) VerifyMFA(tokenString string) (*Claims, error) {
	return s.verify(tokenString, s.accessSecret, TokenTypeMFA)
}

// NewRandomToken returns a random Base64URL value (32 bytes of entropy) for
// reset and verification tokens.
func NewRandomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
