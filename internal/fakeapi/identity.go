package fakeapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/xid"

	"github.com/sakif/nutrition-client/internal/auth"
)

// user is a registered identity.
type user struct {
	id          string
	email       string
	hash        string
	role        string
	createdAt   time.Time
	confirmedAt *time.Time
}

// identityData is the in-memory GoTrue state.
type identityData struct {
	mu sync.Mutex

	byEmail map[string]*user
	byID    map[string]*user
	refresh map[string]string   // refresh token → user id
	access  map[string]string   // issued access token → user id
	revoked map[string]struct{} // access tokens signed out before expiry
}

func newIdentityData() *identityData {
	return &identityData{
		byEmail: make(map[string]*user),
		byID:    make(map[string]*user),
		refresh: make(map[string]string),
		access:  make(map[string]string),
		revoked: make(map[string]struct{}),
	}
}

func (d *identityData) isRevoked(token string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.revoked[token]
	return ok
}

// identityHandler serves the GoTrue-compatible routes under /auth/v1.
type identityHandler struct {
	data      *identityData
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	cfg       Config
	logger    *slog.Logger
}

func (h *identityHandler) routes(r chi.Router) {
	r.Use(h.requireAPIKey)
	r.Post("/token", h.handleToken)
	r.Post("/signup", h.handleSignUp)
	r.Post("/logout", h.handleLogout)
	r.Get("/user", h.handleUser)
}

func (h *identityHandler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.APIKey != "" && r.Header.Get("apikey") != h.cfg.APIKey {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid API key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// =========================================================================
// WIRE TYPES
// =========================================================================

type userJSON struct {
	ID                 string         `json:"id"`
	Aud                string         `json:"aud"`
	Role               string         `json:"role"`
	Email              string         `json:"email"`
	AppMetadata        map[string]any `json:"app_metadata"`
	ConfirmedAt        *time.Time     `json:"confirmed_at,omitempty"`
	EmailConfirmedAt   *time.Time     `json:"email_confirmed_at,omitempty"`
	ConfirmationSentAt *time.Time     `json:"confirmation_sent_at,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

type tokenJSON struct {
	AccessToken  string   `json:"access_token"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int64    `json:"expires_in"`
	ExpiresAt    int64    `json:"expires_at"`
	RefreshToken string   `json:"refresh_token"`
	User         userJSON `json:"user"`
}

func toUserJSON(u *user) userJSON {
	out := userJSON{
		ID:          u.id,
		Aud:         "authenticated",
		Role:        u.role,
		Email:       u.email,
		AppMetadata: map[string]any{"provider": "email", "providers": []string{"email"}},
		CreatedAt:   u.createdAt,
	}
	if u.confirmedAt != nil {
		out.ConfirmedAt = u.confirmedAt
		out.EmailConfirmedAt = u.confirmedAt
	} else {
		sent := u.createdAt
		out.ConfirmationSentAt = &sent
	}
	return out
}

type credentialsJSON struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	RefreshToken string `json:"refresh_token"`
}

// =========================================================================
// HANDLERS
// =========================================================================

func (h *identityHandler) handleToken(w http.ResponseWriter, r *http.Request) {
	var body credentialsJSON
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAuthError(w, http.StatusBadRequest, "bad_json", "Could not parse request body as JSON")
		return
	}

	switch grant := r.URL.Query().Get("grant_type"); grant {
	case "password":
		h.passwordGrant(w, body)
	case "refresh_token":
		h.refreshGrant(w, body)
	default:
		writeAuthError(w, http.StatusBadRequest, "validation_failed", "unsupported_grant_type")
	}
}

func (h *identityHandler) passwordGrant(w http.ResponseWriter, body credentialsJSON) {
	email := normalizeEmail(body.Email)

	h.data.mu.Lock()
	u, ok := h.data.byEmail[email]
	h.data.mu.Unlock()

	if !ok || h.passwords.Verify(u.hash, body.Password) != nil {
		h.logger.Info("password grant rejected", slog.String("email", email))
		writeGrantError(w, "Invalid login credentials")
		return
	}
	if u.confirmedAt == nil {
		writeGrantError(w, "Email not confirmed")
		return
	}

	h.issue(w, http.StatusOK, u)
}

func (h *identityHandler) refreshGrant(w http.ResponseWriter, body credentialsJSON) {
	h.data.mu.Lock()
	userID, ok := h.data.refresh[body.RefreshToken]
	if ok {
		// Refresh tokens are single use.
		delete(h.data.refresh, body.RefreshToken)
	}
	u := h.data.byID[userID]
	h.data.mu.Unlock()

	if !ok || u == nil {
		writeGrantError(w, "Invalid Refresh Token: Refresh Token Not Found")
		return
	}
	h.issue(w, http.StatusOK, u)
}

func (h *identityHandler) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body credentialsJSON
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAuthError(w, http.StatusBadRequest, "bad_json", "Could not parse request body as JSON")
		return
	}

	email := normalizeEmail(body.Email)
	if !strings.Contains(email, "@") {
		writeAuthError(w, http.StatusBadRequest, "validation_failed", "Unable to validate email address: invalid format")
		return
	}

	hash, err := h.passwords.Hash(body.Password)
	if err != nil {
		if errors.Is(err, auth.ErrWeakPassword) {
			writeAuthError(w, http.StatusUnprocessableEntity, "weak_password", "Password should be at least 6 characters.")
			return
		}
		writeAuthError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
		return
	}

	u, err := h.data.createUser(email, hash, auth.RoleAuthenticated, !h.cfg.RequireConfirmation)
	if err != nil {
		writeAuthError(w, http.StatusUnprocessableEntity, "user_already_exists", "User already registered")
		return
	}

	h.logger.Info("user signed up", slog.String("userID", u.id), slog.Bool("confirmed", u.confirmedAt != nil))
	if u.confirmedAt == nil {
		writeJSON(w, http.StatusOK, toUserJSON(u))
		return
	}
	h.issue(w, http.StatusOK, u)
}

func (h *identityHandler) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, token, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	h.data.mu.Lock()
	for rt, uid := range h.data.refresh {
		if uid == claims.Subject {
			delete(h.data.refresh, rt)
		}
	}
	h.data.revoked[token] = struct{}{}
	h.data.mu.Unlock()

	h.logger.Info("user signed out", slog.String("userID", claims.Subject))
	w.WriteHeader(http.StatusNoContent)
}

func (h *identityHandler) handleUser(w http.ResponseWriter, r *http.Request) {
	claims, _, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	h.data.mu.Lock()
	u := h.data.byID[claims.Subject]
	h.data.mu.Unlock()

	if u == nil {
		writeAuthError(w, http.StatusNotFound, "user_not_found", "User not found")
		return
	}
	writeJSON(w, http.StatusOK, toUserJSON(u))
}

// authenticate validates the bearer token of an identity call.
func (h *identityHandler) authenticate(w http.ResponseWriter, r *http.Request) (*auth.Claims, string, bool) {
	token, ok := auth.BearerToken(r)
	if !ok {
		writeAuthError(w, http.StatusUnauthorized, "no_authorization", "This endpoint requires a Bearer token")
		return nil, "", false
	}
	claims, err := h.tokens.Validate(token)
	if err != nil || h.data.isRevoked(token) {
		writeAuthError(w, http.StatusForbidden, "bad_jwt", "invalid JWT: unable to parse or verify signature, token is expired or revoked")
		return nil, "", false
	}
	return claims, token, true
}

// issue signs a new access token and a fresh refresh token for u.
func (h *identityHandler) issue(w http.ResponseWriter, status int, u *user) {
	ttl := h.tokens.TTL()
	access, err := h.tokens.Generate(u.id, u.email, u.role)
	if err != nil {
		h.logger.Error("signing access token", slog.String("error", err.Error()))
		writeAuthError(w, http.StatusInternalServerError, "unexpected_failure", "could not issue token")
		return
	}

	refresh := xid.New().String()
	h.data.mu.Lock()
	h.data.refresh[refresh] = u.id
	h.data.access[access] = u.id
	h.data.mu.Unlock()

	writeJSON(w, status, tokenJSON{
		AccessToken:  access,
		TokenType:    "bearer",
		ExpiresIn:    int64(ttl / time.Second),
		ExpiresAt:    time.Now().Add(ttl).Unix(),
		RefreshToken: refresh,
		User:         toUserJSON(u),
	})
}

// =========================================================================
// STATE CHANGES
// =========================================================================

var errUserExists = errors.New("fakeapi: user already registered")

func (d *identityData) createUser(email, hash, role string, confirmed bool) (*user, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.byEmail[email]; ok {
		return nil, errUserExists
	}
	now := time.Now().UTC()
	u := &user{id: xid.New().String(), email: email, hash: hash, role: role, createdAt: now}
	if confirmed {
		u.confirmedAt = &now
	}
	d.byEmail[email] = u
	d.byID[u.id] = u
	return u, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
