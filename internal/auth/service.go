package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xtottel/xto-auth/internal/mail"
	"github.com/xtottel/xto-auth/internal/model"
	"github.com/xtottel/xto-auth/internal/repo"
)

// TTLConfig bundles the lifetimes the orchestrator hands out.
type TTLConfig struct {
	Session      time.Duration
	Reset        time.Duration
	Verification time.Duration
}

// Service orchestrates the login, MFA, refresh, and logout flows. It holds
// no in-process mutable state; concurrency safety is delegated to the store.
type Service struct {
	users    repo.UserRepo
	sessions repo.SessionRepo
	attempts repo.AttemptRepo
	tokens   repo.TokenRepo
	signer   *Signer
	hasher   *PasswordHasher
	codes    *CodeManager
	throttle *Throttle
	mailer   mail.Mailer
	ttl      TTLConfig
	log      *zap.Logger
}

// NewService creates the auth service.
func NewService(
	users repo.UserRepo,
	sessions repo.SessionRepo,
	attempts repo.AttemptRepo,
	tokens repo.TokenRepo,
	signer *Signer,
	hasher *PasswordHasher,
	codes *CodeManager,
	throttle *Throttle,
	mailer mail.Mailer,
	ttl TTLConfig,
	log *zap.Logger,
) *Service {
	return &Service{
		users:    users,
		sessions: sessions,
		attempts: attempts,
		tokens:   tokens,
		signer:   signer,
		hasher:   hasher,
		codes:    codes,
		throttle: throttle,
		mailer:   mailer,
		ttl:      ttl,
		log:      log,
	}
}

// SignupInput is the payload for tenant + owner creation.
type SignupInput struct {
	BusinessName string
	FirstName    string
	LastName     string
	Email        string
	Phone        string
	Password     string
}

// LoginInput is the payload for a credential login.
type LoginInput struct {
	Email      string
	Password   string
	DeviceInfo string
	IPAddress  string
	UserAgent  string
}

// LoginResult is returned by Login and VerifyMFA. When MFARequired is set,
// only MFAToken is populated and no session exists yet.
type LoginResult struct {
	MFARequired  bool
	MFAToken     string
	AccessToken  string
	RefreshToken string
	SessionID    uuid.UUID
	User         model.User
}

// Signup creates the business, its default policy, the owner user, and the
// MFA settings row in one transaction, then issues a verification token and
// mails it. The new account starts with email_verified unset.
func (s *Service) Signup(ctx context.Context, in SignupInput) (model.User, error) {
	in.Email = normalizeEmail(in.Email)
	if in.BusinessName == "" || in.Email == "" || !strings.Contains(in.Email, "@") {
		return model.User{}, validationErr("business name and a valid email are required")
	}
	if len(in.Password) < 8 {
		return model.User{}, validationErr("password must be at least 8 characters")
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return model.User{}, internalErr(err)
	}

	user, err := s.users.CreateSignup(ctx, repo.SignupInput{
		BusinessName: in.BusinessName,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Email:        in.Email,
		Phone:        in.Phone,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, repo.ErrEmailTaken) {
			return model.User{}, validationErr("email already registered")
		}
		return model.User{}, dependencyErr("could not create account", err)
	}

	if err := s.issueVerification(ctx, user); err != nil {
		// The account exists; the caller can request a fresh mail later.
		s.log.Warn("signup verification mail failed", zap.String("user_id", user.ID.String()), zap.Error(err))
	}

	s.log.Info("signup completed",
		zap.String("user_id", user.ID.String()),
		zap.String("business_id", user.BusinessID.String()),
	)
	return user, nil
}

// Login runs the credential state machine:
// attempt audit -> IP throttle -> user resolution -> account lockout ->
// password verify -> email-verified gate -> MFA branch or session issue.
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	in.Email = normalizeEmail(in.Email)
	if in.Email == "" || in.Password == "" {
		return nil, validationErr("email and password are required")
	}

	// Audit first so the attempt survives any later failure.
	attemptID, err := s.attempts.Record(ctx, in.Email, in.IPAddress, in.UserAgent)
	if err != nil {
		return nil, dependencyErr("attempt log unavailable", err)
	}

	if err := s.throttle.CheckIP(ctx, in.IPAddress); err != nil {
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, authenticationErr(msgInvalidCredentials)
		}
		return nil, dependencyErr("user store unavailable", err)
	}
	if err := s.attempts.AttachUser(ctx, attemptID, user.ID); err != nil {
		s.log.Warn("attach user to attempt failed", zap.Error(err))
	}

	// Deactivated account and inactive tenant answer exactly like a bad
	// password; none of these may be distinguishable to the caller.
	if !user.Active || !user.BusinessActive {
		return nil, authenticationErr(msgInvalidCredentials)
	}

	policy, err := s.users.GetPolicy(ctx, user.BusinessID)
	if err != nil {
		return nil, dependencyErr("policy unavailable", err)
	}

	if err := s.throttle.CheckAccount(ctx, user.ID, policy.MaxLoginAttempts); err != nil {
		return nil, err
	}

	if !s.hasher.Verify(in.Password, user.PasswordHash) {
		return nil, authenticationErr(msgInvalidCredentials)
	}

	if user.EmailVerified == nil {
		return nil, accountStateErr(msgEmailUnverified)
	}

	if policy.MFARequired || user.MFAEnabled {
		return s.beginMFA(ctx, user, attemptID)
	}

	return s.issueSession(ctx, user, policy, in.DeviceInfo, in.IPAddress, in.UserAgent, attemptID)
}

// beginMFA issues the one-time code and the step-up token; no session yet.
func (s *Service) beginMFA(ctx context.Context, user model.User, attemptID uuid.UUID) (*LoginResult, error) {
	if err := s.codes.Issue(ctx, user.Email, PurposeLogin2FA); err != nil {
		return nil, dependencyErr("could not deliver verification code", err)
	}

	mfaToken, err := s.signer.IssueMFA(Claims{
		UserID:     user.ID,
		BusinessID: user.BusinessID,
		AttemptID:  attemptID,
	})
	if err != nil {
		return nil, internalErr(err)
	}

	s.log.Info("mfa challenge issued", zap.String("user_id", user.ID.String()))
	return &LoginResult{MFARequired: true, MFAToken: mfaToken, User: user}, nil
}

// VerifyMFAInput completes a pending MFA login.
type VerifyMFAInput struct {
	MFAToken   string
	Code       string
	DeviceInfo string
	IPAddress  string
	UserAgent  string
}

// VerifyMFA checks the step-up token's type and expiry, consumes the
// one-time code, and issues the session the login deferred.
func (s *Service) VerifyMFA(ctx context.Context, in VerifyMFAInput) (*LoginResult, error) {
	if in.MFAToken == "" || in.Code == "" {
		return nil, validationErr("mfa token and code are required")
	}

	claims, err := s.signer.VerifyMFA(in.MFAToken)
	if err != nil {
		return nil, authenticationErr(msgInvalidToken)
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, authenticationErr(msgInvalidToken)
		}
		return nil, dependencyErr("user store unavailable", err)
	}
	if !user.Active || !user.BusinessActive {
		return nil, authenticationErr(msgInvalidCredentials)
	}

	ok, err := s.codes.Verify(ctx, user.Email, PurposeLogin2FA, in.Code)
	if err != nil {
		return nil, dependencyErr("code store unavailable", err)
	}
	if !ok {
		return nil, authenticationErr("invalid or expired verification code")
	}

	policy, err := s.users.GetPolicy(ctx, user.BusinessID)
	if err != nil {
		return nil, dependencyErr("policy unavailable", err)
	}

	return s.issueSession(ctx, user, policy, in.DeviceInfo, in.IPAddress, in.UserAgent, claims.AttemptID)
}

// issueSession mints the token pair, persists the session row, flips the
// originating attempt to success, and stamps last_login.
func (s *Service) issueSession(ctx context.Context, user model.User, policy model.SecurityPolicy, deviceInfo, ip, userAgent string, attemptID uuid.UUID) (*LoginResult, error) {
	claims := Claims{
		UserID:      user.ID,
		BusinessID:  user.BusinessID,
		Role:        user.RoleName,
		Permissions: user.Permissions,
	}

	accessToken, err := s.signer.IssueAccess(claims)
	if err != nil {
		return nil, internalErr(err)
	}
	refreshToken, err := s.signer.IssueRefresh(claims)
	if err != nil {
		return nil, internalErr(err)
	}

	sessionTTL := s.ttl.Session
	if policy.SessionTimeoutMinutes > 0 {
		sessionTTL = time.Duration(policy.SessionTimeoutMinutes) * time.Minute
	}

	sessionID, err := s.sessions.Create(ctx, model.AuthSession{
		UserID:       user.ID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		DeviceInfo:   optional(deviceInfo),
		IPAddress:    optional(ip),
		UserAgent:    optional(userAgent),
		ExpiresAt:    time.Now().Add(sessionTTL),
	})
	if err != nil {
		return nil, dependencyErr("session store unavailable", err)
	}

	if attemptID != uuid.Nil {
		if err := s.attempts.MarkSuccess(ctx, attemptID); err != nil {
			s.log.Warn("mark attempt success failed", zap.Error(err))
		}
	}
	if err := s.users.SetLastLogin(ctx, user.ID, time.Now()); err != nil {
		s.log.Warn("stamp last login failed", zap.Error(err))
	}

	s.log.Info("session issued",
		zap.String("user_id", user.ID.String()),
		zap.String("session_id", sessionID.String()),
	)
	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		SessionID:    sessionID,
		User:         user,
	}, nil
}

// RefreshResult is returned by Refresh.
type RefreshResult struct {
	AccessToken string
	SessionID   uuid.UUID
}

// Refresh verifies the refresh token against the refresh key, confirms the
// session is live, and rotates the session's stored access token so the old
// one dies with the swap.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if refreshToken == "" {
		return nil, validationErr("refresh token is required")
	}

	claims, err := s.signer.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, authenticationErr(msgInvalidToken)
	}

	session, err := s.sessions.FindLiveByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, authenticationErr(msgInvalidToken)
		}
		return nil, dependencyErr("session store unavailable", err)
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, authenticationErr(msgInvalidToken)
		}
		return nil, dependencyErr("user store unavailable", err)
	}
	if !user.Active || !user.BusinessActive {
		return nil, authenticationErr(msgInvalidToken)
	}

	accessToken, err := s.signer.IssueAccess(Claims{
		UserID:      user.ID,
		BusinessID:  user.BusinessID,
		Role:        user.RoleName,
		Permissions: user.Permissions,
	})
	if err != nil {
		return nil, internalErr(err)
	}

	policy, err := s.users.GetPolicy(ctx, user.BusinessID)
	if err != nil {
		return nil, dependencyErr("policy unavailable", err)
	}
	sessionTTL := s.ttl.Session
	if policy.SessionTimeoutMinutes > 0 {
		sessionTTL = time.Duration(policy.SessionTimeoutMinutes) * time.Minute
	}

	if err := s.sessions.RotateAccessToken(ctx, session.ID, accessToken, time.Now().Add(sessionTTL)); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, authenticationErr(msgInvalidToken)
		}
		return nil, dependencyErr("session store unavailable", err)
	}

	return &RefreshResult{AccessToken: accessToken, SessionID: session.ID}, nil
}

// Logout revokes the live session holding the access token. An unverifiable
// or already-dead token is not an error: the caller clears its credentials
// either way, and no database row changes.
func (s *Service) Logout(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}
	if _, err := s.signer.VerifyAccess(accessToken); err != nil {
		return nil
	}
	revoked, err := s.sessions.RevokeByAccessToken(ctx, accessToken)
	if err != nil {
		return dependencyErr("session store unavailable", err)
	}
	if revoked {
		s.log.Info("session revoked on logout")
	}
	return nil
}

// LogoutAll revokes every live session for the user, optionally sparing the
// caller's current one.
func (s *Service) LogoutAll(ctx context.Context, userID uuid.UUID, exceptSessionID *uuid.UUID) error {
	if err := s.sessions.RevokeAllForUser(ctx, userID, exceptSessionID); err != nil {
		return dependencyErr("session store unavailable", err)
	}
	return nil
}

// RevokeSession revokes one of the user's own sessions by id.
func (s *Service) RevokeSession(ctx context.Context, userID, sessionID uuid.UUID) error {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return validationErr("session not found")
		}
		return dependencyErr("session store unavailable", err)
	}
	if session.UserID != userID {
		return validationErr("session not found")
	}
	if err := s.sessions.Revoke(ctx, sessionID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// Already revoked; nothing to do.
			return nil
		}
		return dependencyErr("session store unavailable", err)
	}
	return nil
}

// Sessions lists the user's live sessions.
func (s *Service) Sessions(ctx context.Context, userID uuid.UUID) ([]model.AuthSession, error) {
	sessions, err := s.sessions.ListLiveForUser(ctx, userID)
	if err != nil {
		return nil, dependencyErr("session store unavailable", err)
	}
	return sessions, nil
}

// Authenticate verifies the access token signature and type and confirms the
// backing session is still live. Returns the claims and the session.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*Claims, model.AuthSession, error) {
	claims, err := s.signer.VerifyAccess(accessToken)
	if err != nil {
		return nil, model.AuthSession{}, authenticationErr(msgInvalidToken)
	}
	session, err := s.sessions.FindLiveByAccessToken(ctx, accessToken)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, model.AuthSession{}, authenticationErr(msgInvalidToken)
		}
		return nil, model.AuthSession{}, dependencyErr("session store unavailable", err)
	}
	return claims, session, nil
}

// Introspect answers GET /auth/verify.
func (s *Service) Introspect(ctx context.Context, accessToken string) (*Claims, error) {
	claims, _, err := s.Authenticate(ctx, accessToken)
	return claims, err
}

// ForgotPassword issues a reset token when the account exists. The caller
// always gets the same answer either way.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return validationErr("email is required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return dependencyErr("user store unavailable", err)
	}
	if !user.Active || !user.BusinessActive {
		return nil
	}

	token, err := NewRandomToken()
	if err != nil {
		return internalErr(err)
	}
	if err := s.tokens.UpsertReset(ctx, user.ID, token, time.Now().Add(s.ttl.Reset)); err != nil {
		return dependencyErr("token store unavailable", err)
	}

	body := fmt.Sprintf("Use this code to reset your password: %s\nIt expires in %d minutes.", token, int(s.ttl.Reset.Minutes()))
	if err := s.mailer.Send(ctx, user.Email, "Reset your password", body); err != nil {
		return dependencyErr("mail dispatch failed", err)
	}
	return nil
}

// ResetPassword consumes the reset token and swaps the password hash; the
// token deletion, hash update, and session revocation commit together.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if token == "" {
		return validationErr("reset token is required")
	}
	if len(newPassword) < 8 {
		return validationErr("password must be at least 8 characters")
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return internalErr(err)
	}

	userID, err := s.tokens.ConsumeReset(ctx, token, hash)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return authenticationErr(msgInvalidToken)
		}
		return dependencyErr("token store unavailable", err)
	}

	s.log.Info("password reset completed", zap.String("user_id", userID.String()))
	return nil
}

// ResendVerification issues a fresh verification token unless the address is
// already verified. Response is generic in all cases.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return validationErr("email is required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return dependencyErr("user store unavailable", err)
	}
	if user.EmailVerified != nil {
		return nil
	}
	if err := s.issueVerification(ctx, user); err != nil {
		return dependencyErr("mail dispatch failed", err)
	}
	return nil
}

// VerifyEmail consumes the verification token and stamps email_verified in
// the same transaction. A second call with the same value fails.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return validationErr("verification token is required")
	}
	userID, err := s.tokens.ConsumeVerification(ctx, token)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return authenticationErr(msgInvalidToken)
		}
		return dependencyErr("token store unavailable", err)
	}
	s.log.Info("email verified", zap.String("user_id", userID.String()))
	return nil
}

func (s *Service) issueVerification(ctx context.Context, user model.User) error {
	token, err := NewRandomToken()
	if err != nil {
		return err
	}
	if err := s.tokens.UpsertVerification(ctx, user.ID, token, time.Now().Add(s.ttl.Verification)); err != nil {
		return err
	}
	body := fmt.Sprintf("Verify your email with this code: %s\nIt expires in %d hours.", token, int(s.ttl.Verification.Hours()))
	return s.mailer.Send(ctx, user.Email, "Verify your email", body)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
