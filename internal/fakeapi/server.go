// Package fakeapi is an in-memory stand-in for the two remote systems the
// client talks to:
//
//	/auth/v1/*   a GoTrue-compatible identity backend (password and refresh
//	             grants, sign-up with optional confirmation, logout, user)
//	/api/*       the nutrition REST API (foods, meals, food entries)
//
// It backs the package tests through httptest and runs locally through
// cmd/fakeapi. State lives in memory only and is lost on exit. Access
// tokens are HS256 JWTs from internal/auth; the /api routes accept exactly
// the tokens /auth/v1 issues.
package fakeapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/nutrition-client/internal/auth"
	"github.com/sakif/nutrition-client/internal/middleware"
	"github.com/sakif/nutrition-client/internal/model"
)

// Route prefixes.
const (
	AuthPrefix = "/auth/v1"
	APIPrefix  = "/api"
)

// Config configures a Server.
type Config struct {
	// JWTSecret signs access tokens; at least 16 characters.
	JWTSecret string
	// APIKey, when set, must arrive in the apikey header of identity calls.
	APIKey string
	// RequireConfirmation makes sign-up return a pending user instead of a
	// session until ConfirmUser is called.
	RequireConfirmation bool
	// TokenTTL is the access token lifetime; auth.DefaultTokenTTL if zero.
	TokenTTL time.Duration
	// BcryptCost defaults to bcrypt.MinCost; this server only ever holds
	// throwaway passwords.
	BcryptCost int
}

// Server is the fake backend.
type Server struct {
	router *chi.Mux
	cfg    Config
	logger *slog.Logger

	tokens    *auth.TokenService
	passwords *auth.PasswordService
	identity  *identityData
	data      *nutritionData
}

// New builds the server and its routes.
func New(cfg Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.MinCost
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("fakeapi: %w", err)
	}
	if cfg.TokenTTL > 0 {
		tokens = tokens.WithTTL(cfg.TokenTTL)
	}

	s := &Server{
		router:    chi.NewRouter(),
		cfg:       cfg,
		logger:    logger,
		tokens:    tokens,
		passwords: auth.NewPasswordServiceWithCost(cfg.BcryptCost),
		identity:  newIdentityData(),
		data:      newNutritionData(),
	}
	s.setupRoutes()
	return s, nil
}

// Routes:
//
//	POST   /auth/v1/token?grant_type=password|refresh_token
//	POST   /auth/v1/signup
//	POST   /auth/v1/logout
//	GET    /auth/v1/user
//	GET    /api/{foods,meals,food-entries}/        list
//	POST   /api/{foods,meals,food-entries}/        create
//	GET    /api/{foods,meals,food-entries}/{id}    get
//	PUT    /api/{foods,meals,food-entries}/{id}    full replace
//	DELETE /api/{foods,meals,food-entries}/{id}    delete
func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	ih := &identityHandler{data: s.identity, tokens: s.tokens, passwords: s.passwords, cfg: s.cfg, logger: s.logger}
	s.router.Route(AuthPrefix, ih.routes)

	nh := &nutritionHandler{data: s.data, logger: s.logger}
	s.router.Route(APIPrefix, func(r chi.Router) {
		r.Use(auth.RequireAuth(s.tokens))
		r.Use(s.rejectRevoked)
		nh.routes(r)
	})
}

// rejectRevoked refuses access tokens that were signed out.
func (s *Server) rejectRevoked(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token, ok := auth.BearerToken(r); ok && s.identity.isRevoked(token) {
			writeDetail(w, http.StatusUnauthorized, "Token has been revoked")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServeHTTP makes the Server usable with httptest.NewServer.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// =========================================================================
// TEST AND SEED HOOKS
// =========================================================================

// CreateUser registers a confirmed user directly, bypassing sign-up rules
// other than password hashing. Role defaults to auth.RoleAuthenticated.
func (s *Server) CreateUser(email, password, role string) (string, error) {
	if role == "" {
		role = auth.RoleAuthenticated
	}
	hash, err := s.passwords.Hash(password)
	if err != nil {
		return "", fmt.Errorf("fakeapi: %w", err)
	}
	u, err := s.identity.createUser(normalizeEmail(email), hash, role, true)
	if err != nil {
		return "", err
	}
	return u.id, nil
}

// ConfirmUser completes a pending sign-up.
func (s *Server) ConfirmUser(email string) error {
	s.identity.mu.Lock()
	defer s.identity.mu.Unlock()

	u, ok := s.identity.byEmail[normalizeEmail(email)]
	if !ok {
		return fmt.Errorf("fakeapi: no user %q", email)
	}
	now := time.Now().UTC()
	u.confirmedAt = &now
	return nil
}

// RevokeSessions invalidates every refresh token and every issued access
// token of the user, as an admin action or password change would.
func (s *Server) RevokeSessions(email string) {
	s.identity.mu.Lock()
	defer s.identity.mu.Unlock()

	u, ok := s.identity.byEmail[normalizeEmail(email)]
	if !ok {
		return
	}
	for rt, uid := range s.identity.refresh {
		if uid == u.id {
			delete(s.identity.refresh, rt)
		}
	}
	for at, uid := range s.identity.access {
		if uid == u.id {
			delete(s.identity.access, at)
			s.identity.revoked[at] = struct{}{}
		}
	}
}

// IssueToken signs an access token for an existing user with a custom
// lifetime, e.g. a negative one for an already-expired token.
func (s *Server) IssueToken(email string, ttl time.Duration) (string, error) {
	s.identity.mu.Lock()
	u, ok := s.identity.byEmail[normalizeEmail(email)]
	s.identity.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("fakeapi: no user %q", email)
	}
	return s.tokens.GenerateWithDuration(u.id, u.email, u.role, ttl)
}

// SeedFood adds a food to the shared catalogue.
func (s *Server) SeedFood(in model.FoodInput) (model.Food, error) {
	return s.data.createFood(in)
}

// =========================================================================
// LIFECYCLE
// =========================================================================

// Run serves on addr until ctx is cancelled, then shuts down gracefully,
// giving in-flight requests up to 30 seconds.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("fake backend starting",
			slog.String("addr", addr),
			slog.String("auth", AuthPrefix),
			slog.String("api", APIPrefix),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("fakeapi: server error: %w", err)
		}
	case <-ctx.Done():
		s.logger.Info("shutdown requested")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("fakeapi: graceful shutdown failed: %w", err)
		}
		s.logger.Info("fake backend stopped gracefully")
	}
	return nil
}
