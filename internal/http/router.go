package http

import (
	"database/sql"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xtottel/xto-auth/internal/auth"
	"github.com/xtottel/xto-auth/internal/http/handlers"
	"github.com/xtottel/xto-auth/internal/middleware"
)

// NewRouter creates the HTTP router with all routes configured.
func NewRouter(authHandler *handlers.AuthHandler, authService *auth.Service, db *sql.DB, log *zap.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(log))
	r.Use(chimw.Recoverer)

	r.Get("/health", handlers.NewHealthHandler(db).ServeHTTP)

	// Coarse per-IP guard for the unauthenticated auth surface. The
	// credential-aware throttles live in the auth service.
	authLimiter := middleware.NewRateLimiter(10*time.Minute, 60)

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitMiddleware(authLimiter))
			r.Post("/signup", authHandler.HandleSignup)
			r.Post("/login", authHandler.HandleLogin)
			r.Post("/verify-mfa", authHandler.HandleVerifyMFA)
			r.Post("/refresh", authHandler.HandleRefresh)
			r.Post("/forgot-password", authHandler.HandleForgotPassword)
			r.Post("/reset-password", authHandler.HandleResetPassword)
			r.Post("/resend-verification", authHandler.HandleResendVerification)
			r.Post("/verify-email", authHandler.HandleVerifyEmail)
		})

		// Logout is deliberately outside the auth middleware: it must
		// succeed even with an expired or tampered token.
		r.Post("/logout", authHandler.HandleLogout)
		r.Get("/verify", authHandler.HandleVerify)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(authService))
			r.Post("/logout-all", authHandler.HandleLogoutAll)
			r.Delete("/sessions/{id}", authHandler.HandleRevokeSession)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(authService))
		r.Get("/user/sessions", authHandler.HandleSessions)
	})

	return r
}
