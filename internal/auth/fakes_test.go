package auth

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xtottel/xto-auth/internal/model"
	"github.com/xtottel/xto-auth/internal/repo"
)

// memStore is an in-memory stand-in for the Postgres repos, implementing
// every repo interface the service consumes.
type memStore struct {
	mu sync.Mutex

	users    map[uuid.UUID]*model.User
	policies map[uuid.UUID]model.SecurityPolicy
	sessions map[uuid.UUID]*model.AuthSession
	attempts map[uuid.UUID]*model.LoginAttempt
	otps     map[string]model.OneTimeCode
	resets   map[uuid.UUID]model.PasswordResetToken
	verifs   map[uuid.UUID]model.VerificationToken
}

// userRepoFake and sessionRepoFake give each repo interface its own GetByID
// while sharing the one backing store.
type userRepoFake struct{ *memStore }

type sessionRepoFake struct{ *memStore }

func (f userRepoFake) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		return *u, nil
	}
	return model.User{}, repo.ErrNotFound
}

func (f sessionRepoFake) GetByID(ctx context.Context, id uuid.UUID) (model.AuthSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		return *s, nil
	}
	return model.AuthSession{}, repo.ErrNotFound
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[uuid.UUID]*model.User),
		policies: make(map[uuid.UUID]model.SecurityPolicy),
		sessions: make(map[uuid.UUID]*model.AuthSession),
		attempts: make(map[uuid.UUID]*model.LoginAttempt),
		otps:     make(map[string]model.OneTimeCode),
		resets:   make(map[uuid.UUID]model.PasswordResetToken),
		verifs:   make(map[uuid.UUID]model.VerificationToken),
	}
}

// addUser seeds a user plus tenant policy and returns it.
func (m *memStore) addUser(email, passwordHash string, verified bool, policy model.SecurityPolicy) *model.User {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := &model.User{
		ID:             uuid.New(),
		BusinessID:     uuid.New(),
		RoleID:         uuid.New(),
		Email:          email,
		PasswordHash:   passwordHash,
		Active:         true,
		BusinessActive: true,
		RoleName:       "owner",
		Permissions:    []string{"*"},
		CreatedAt:      time.Now(),
	}
	if verified {
		now := time.Now()
		u.EmailVerified = &now
	}
	policy.BusinessID = u.BusinessID
	m.users[u.ID] = u
	m.policies[u.BusinessID] = policy
	return u
}

// --- repo.UserRepo ---

func (m *memStore) GetByEmail(ctx context.Context, email string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return *u, nil
		}
	}
	return model.User{}, repo.ErrNotFound
}

// getUser is a test convenience for inspecting seeded state.
func (m *memStore) getUser(id uuid.UUID) (model.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return *u, true
	}
	return model.User{}, false
}

func (m *memStore) GetPolicy(ctx context.Context, businessID uuid.UUID) (model.SecurityPolicy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.policies[businessID]; ok {
		return p, nil
	}
	return model.SecurityPolicy{}, repo.ErrNotFound
}

func (m *memStore) CreateSignup(ctx context.Context, in repo.SignupInput) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == in.Email {
			return model.User{}, repo.ErrEmailTaken
		}
	}
	u := &model.User{
		ID:             uuid.New(),
		BusinessID:     uuid.New(),
		RoleID:         uuid.New(),
		FirstName:      in.FirstName,
		LastName:       in.LastName,
		Email:          in.Email,
		Phone:          in.Phone,
		PasswordHash:   in.PasswordHash,
		Active:         true,
		BusinessActive: true,
		RoleName:       "owner",
		Permissions:    []string{"*"},
		CreatedAt:      time.Now(),
	}
	m.users[u.ID] = u
	m.policies[u.BusinessID] = model.SecurityPolicy{
		BusinessID:            u.BusinessID,
		SessionTimeoutMinutes: 60,
		MaxLoginAttempts:      5,
	}
	return *u, nil
}

func (m *memStore) SetLastLogin(ctx context.Context, userID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		u.LastLogin = &at
	}
	return nil
}

// --- repo.SessionRepo ---

func (m *memStore) Create(ctx context.Context, s model.AuthSession) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = uuid.New()
	s.CreatedAt = time.Now()
	m.sessions[s.ID] = &s
	return s.ID, nil
}

func (m *memStore) FindLiveByAccessToken(ctx context.Context, token string) (model.AuthSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.AccessToken == token && s.Live(time.Now()) {
			return *s, nil
		}
	}
	return model.AuthSession{}, repo.ErrNotFound
}

func (m *memStore) FindLiveByRefreshToken(ctx context.Context, token string) (model.AuthSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.RefreshToken == token && s.Live(time.Now()) {
			return *s, nil
		}
	}
	return model.AuthSession{}, repo.ErrNotFound
}

func (m *memStore) RotateAccessToken(ctx context.Context, sessionID uuid.UUID, newToken string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.RevokedAt != nil {
		return repo.ErrNotFound
	}
	s.AccessToken = newToken
	s.ExpiresAt = expiresAt
	return nil
}

func (m *memStore) Revoke(ctx context.Context, sessionID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.RevokedAt != nil {
		return repo.ErrNotFound
	}
	now := time.Now()
	s.RevokedAt = &now
	return nil
}

func (m *memStore) RevokeByAccessToken(ctx context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.AccessToken == token && s.RevokedAt == nil {
			now := time.Now()
			s.RevokedAt = &now
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) RevokeAllForUser(ctx context.Context, userID uuid.UUID, except *uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, s := range m.sessions {
		if s.UserID != userID || s.RevokedAt != nil {
			continue
		}
		if except != nil && s.ID == *except {
			continue
		}
		s.RevokedAt = &now
	}
	return nil
}

func (m *memStore) ListLiveForUser(ctx context.Context, userID uuid.UUID) ([]model.AuthSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AuthSession
	for _, s := range m.sessions {
		if s.UserID == userID && s.Live(time.Now()) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memStore) SweepExpired(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var n int64
	for _, s := range m.sessions {
		if s.RevokedAt == nil && !s.ExpiresAt.After(now) {
			s.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

// --- repo.AttemptRepo ---

func (m *memStore) Record(ctx context.Context, email, ip, userAgent string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := &model.LoginAttempt{
		ID:        uuid.New(),
		Email:     email,
		IPAddress: ip,
		UserAgent: userAgent,
		CreatedAt: time.Now(),
	}
	m.attempts[a.ID] = a
	return a.ID, nil
}

func (m *memStore) AttachUser(ctx context.Context, attemptID, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.attempts[attemptID]; ok {
		id := userID
		a.UserID = &id
	}
	return nil
}

func (m *memStore) MarkSuccess(ctx context.Context, attemptID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.attempts[attemptID]; ok {
		a.Success = true
	}
	return nil
}

func (m *memStore) CountFailuresByIP(ctx context.Context, ip string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, a := range m.attempts {
		if a.IPAddress == ip && !a.Success && !a.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *memStore) CountFailuresByUser(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, a := range m.attempts {
		if a.UserID != nil && *a.UserID == userID && !a.Success && !a.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// --- repo.OtpRepo ---

func otpKey(email, purpose string) string { return email + "|" + purpose }

func (m *memStore) Upsert(ctx context.Context, email, purpose, codeHash string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.otps[otpKey(email, purpose)] = model.OneTimeCode{
		Email:     email,
		Purpose:   purpose,
		CodeHash:  codeHash,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}
	return nil
}

func (m *memStore) Consume(ctx context.Context, email, purpose, codeHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := otpKey(email, purpose)
	c, ok := m.otps[key]
	if !ok || c.CodeHash != codeHash || !c.ExpiresAt.After(time.Now()) {
		return false, nil
	}
	delete(m.otps, key)
	return true, nil
}

// --- repo.TokenRepo ---

func (m *memStore) UpsertReset(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets[userID] = model.PasswordResetToken{UserID: userID, Token: token, ExpiresAt: expiresAt, CreatedAt: time.Now()}
	return nil
}

func (m *memStore) UpsertVerification(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifs[userID] = model.VerificationToken{UserID: userID, Token: token, ExpiresAt: expiresAt, CreatedAt: time.Now()}
	return nil
}

func (m *memStore) ConsumeVerification(ctx context.Context, token string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for userID, t := range m.verifs {
		if t.Token == token && t.ExpiresAt.After(time.Now()) {
			delete(m.verifs, userID)
			if u, ok := m.users[userID]; ok && u.EmailVerified == nil {
				now := time.Now()
				u.EmailVerified = &now
			}
			return userID, nil
		}
	}
	return uuid.Nil, repo.ErrNotFound
}

func (m *memStore) ConsumeReset(ctx context.Context, token, newPasswordHash string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for userID, t := range m.resets {
		if t.Token == token && t.ExpiresAt.After(time.Now()) {
			delete(m.resets, userID)
			if u, ok := m.users[userID]; ok {
				u.PasswordHash = newPasswordHash
			}
			now := time.Now()
			for _, s := range m.sessions {
				if s.UserID == userID && s.RevokedAt == nil {
					s.RevokedAt = &now
				}
			}
			return userID, nil
		}
	}
	return uuid.Nil, repo.ErrNotFound
}

// fakeMailer captures outbound mail so tests can fish codes and tokens out
// of the bodies.
type fakeMailer struct {
	mu   sync.Mutex
	sent []fakeMail
}

type fakeMail struct {
	To      string
	Subject string
	Body    string
}

func (f *fakeMailer) Send(ctx context.Context, to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, fakeMail{To: to, Subject: subject, Body: body})
	return nil
}

func (f *fakeMailer) last() (fakeMail, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return fakeMail{}, false
	}
	return f.sent[len(f.sent)-1], true
}

var sixDigits = regexp.MustCompile(`\b\d{6}\b`)

// lastCode extracts the most recent 6-digit code from captured mail.
func (f *fakeMailer) lastCode() string {
	m, ok := f.last()
	if !ok {
		return ""
	}
	return sixDigits.FindString(m.Body)
}
