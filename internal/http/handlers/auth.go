package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xtottel/xto-auth/internal/auth"
	"github.com/xtottel/xto-auth/internal/mail"
	"github.com/xtottel/xto-auth/internal/middleware"
)

const (
	refreshCookieName = "refresh_token"
	accessCookieName  = "access_token"
)

// AuthHandler handles the authentication endpoints.
type AuthHandler struct {
	svc           *auth.Service
	log           *zap.Logger
	refreshTTL    time.Duration
	accessTTL     time.Duration
	secureCookies bool
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(svc *auth.Service, log *zap.Logger, accessTTL, refreshTTL time.Duration, secureCookies bool) *AuthHandler {
	return &AuthHandler{
		svc:           svc,
		log:           log,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		secureCookies: secureCookies,
	}
}

type signupRequest struct {
	BusinessName string `json:"businessName"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	Password     string `json:"password"`
}

// HandleSignup handles POST /auth/signup
func (h *AuthHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.svc.Signup(r.Context(), auth.SignupInput{
		BusinessName: req.BusinessName,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Email:        req.Email,
		Phone:        req.Phone,
		Password:     req.Password,
	})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"message": "account created; check your email to verify your address",
		"userId":  user.ID.String(),
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Device   string `json:"device,omitempty"`
}

// HandleLogin handles POST /auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.svc.Login(r.Context(), auth.LoginInput{
		Email:      req.Email,
		Password:   req.Password,
		DeviceInfo: req.Device,
		IPAddress:  middleware.ClientIP(r),
		UserAgent:  r.UserAgent(),
	})
	if err != nil {
		h.logAuthFailure("login", req.Email, err)
		h.respondServiceError(w, err)
		return
	}

	if result.MFARequired {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"success":     true,
			"message":     "verification code sent",
			"mfaRequired": true,
			"mfaToken":    result.MFAToken,
		})
		return
	}

	h.setSessionCookies(w, result.AccessToken, result.RefreshToken)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"message":     "login successful",
		"accessToken": result.AccessToken,
		"sessionId":   result.SessionID.String(),
	})
}

type verifyMFARequest struct {
	MFAToken string `json:"mfaToken"`
	Code     string `json:"code"`
	Device   string `json:"device,omitempty"`
}

// HandleVerifyMFA handles POST /auth/verify-mfa
func (h *AuthHandler) HandleVerifyMFA(w http.ResponseWriter, r *http.Request) {
	var req verifyMFARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.svc.VerifyMFA(r.Context(), auth.VerifyMFAInput{
		MFAToken:   req.MFAToken,
		Code:       req.Code,
		DeviceInfo: req.Device,
		IPAddress:  middleware.ClientIP(r),
		UserAgent:  r.UserAgent(),
	})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.setSessionCookies(w, result.AccessToken, result.RefreshToken)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"message":     "login successful",
		"accessToken": result.AccessToken,
		"sessionId":   result.SessionID.String(),
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// HandleRefresh handles POST /auth/refresh. The refresh token comes from the
// http-only cookie in the browser flow, or the JSON body for API clients.
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	token := ""
	if c, err := r.Cookie(refreshCookieName); err == nil {
		token = c.Value
	}
	if token == "" {
		var req refreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			token = strings.TrimSpace(req.RefreshToken)
		}
	}
	if token == "" {
		respondError(w, http.StatusBadRequest, "refresh token is required")
		return
	}

	result, err := h.svc.Refresh(r.Context(), token)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.setAccessCookie(w, result.AccessToken)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"message":     "token refreshed",
		"accessToken": result.AccessToken,
	})
}

// HandleLogout handles POST /auth/logout. Always succeeds from the caller's
// point of view; an unverifiable token just clears cookies.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	token := middleware.BearerToken(r)
	if err := h.svc.Logout(r.Context(), token); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.clearSessionCookies(w)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "logged out",
	})
}

// HandleLogoutAll handles POST /auth/logout-all (protected). Revokes every
// other session, keeping the caller's current one.
func (h *AuthHandler) HandleLogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var except *uuid.UUID
	if session, ok := middleware.GetSession(r.Context()); ok {
		id := session.ID
		except = &id
	}
	if err := h.svc.LogoutAll(r.Context(), userID, except); err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "all other sessions revoked",
	})
}

// HandleRevokeSession handles DELETE /auth/sessions/{id} (protected).
func (h *AuthHandler) HandleRevokeSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	if err := h.svc.RevokeSession(r.Context(), userID, sessionID); err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "session revoked",
	})
}

// HandleVerify handles GET /auth/verify (token introspection).
func (h *AuthHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	token := middleware.BearerToken(r)
	if token == "" {
		respondError(w, http.StatusUnauthorized, "missing token")
		return
	}
	claims, err := h.svc.Introspect(r.Context(), token)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"message":     "token valid",
		"userId":      claims.UserID.String(),
		"businessId":  claims.BusinessID.String(),
		"role":        claims.Role,
		"permissions": claims.Permissions,
	})
}

type emailRequest struct {
	Email string `json:"email"`
}

// HandleForgotPassword handles POST /auth/forgot-password. The response is
// identical whether or not the account exists.
func (h *AuthHandler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.svc.ForgotPassword(r.Context(), req.Email); err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "if the account exists, a reset email has been sent",
	})
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// HandleResetPassword handles POST /auth/reset-password
func (h *AuthHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.svc.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "password updated; please log in again",
	})
}

// HandleResendVerification handles POST /auth/resend-verification
func (h *AuthHandler) HandleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.svc.ResendVerification(r.Context(), req.Email); err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "if the account exists, a verification email has been sent",
	})
}

type verifyEmailRequest struct {
	Token string `json:"token"`
}

// HandleVerifyEmail handles POST /auth/verify-email
func (h *AuthHandler) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.svc.VerifyEmail(r.Context(), req.Token); err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "email verified",
	})
}

// HandleSessions handles GET /user/sessions (protected).
func (h *AuthHandler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	sessions, err := h.svc.Sessions(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	type sessionView struct {
		ID         string  `json:"id"`
		DeviceInfo *string `json:"deviceInfo"`
		IPAddress  *string `json:"ipAddress"`
		UserAgent  *string `json:"userAgent"`
		CreatedAt  string  `json:"createdAt"`
		ExpiresAt  string  `json:"expiresAt"`
		Current    bool    `json:"current"`
	}
	current, _ := middleware.GetSession(r.Context())
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, sessionView{
			ID:         s.ID.String(),
			DeviceInfo: s.DeviceInfo,
			IPAddress:  s.IPAddress,
			UserAgent:  s.UserAgent,
			CreatedAt:  s.CreatedAt.Format(time.RFC3339),
			ExpiresAt:  s.ExpiresAt.Format(time.RFC3339),
			Current:    s.ID == current.ID,
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"message":  "sessions listed",
		"sessions": views,
	})
}

func (h *AuthHandler) setSessionCookies(w http.ResponseWriter, accessToken, refreshToken string) {
	h.setAccessCookie(w, accessToken)
	// Refresh token travels only in an http-only strict cookie scoped to
	// /auth; it is never part of a JSON body in the browser flow.
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    refreshToken,
		Path:     "/auth",
		MaxAge:   int(h.refreshTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) setAccessCookie(w http.ResponseWriter, accessToken string) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessCookieName,
		Value:    accessToken,
		Path:     "/",
		MaxAge:   int(h.accessTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) clearSessionCookies(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: accessCookieName, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	http.SetCookie(w, &http.Cookie{Name: refreshCookieName, Value: "", Path: "/auth", MaxAge: -1, HttpOnly: true})
}

func (h *AuthHandler) respondServiceError(w http.ResponseWriter, err error) {
	e := auth.AsError(err)
	if e.Kind == auth.KindInternal || e.Kind == auth.KindDependency {
		h.log.Error("auth request failed", zap.String("kind", string(e.Kind)), zap.Error(err))
	}
	respondError(w, e.HTTPStatus(), e.Message)
}

func (h *AuthHandler) logAuthFailure(flow, email string, err error) {
	h.log.Info("auth failure",
		zap.String("flow", flow),
		zap.String("email", mail.MaskEmail(email)),
		zap.String("kind", string(auth.KindOf(err))),
	)
}

// respondJSON writes a JSON response with the given status.
func respondJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

// respondError writes the standard error envelope.
func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"message": message,
	})
}
