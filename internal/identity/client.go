// Package identity talks to the identity backend: a GoTrue-compatible
// auth service (the one Supabase runs) that issues the bearer tokens the
// nutrition API accepts.
//
// The session store depends only on five operations of this package
// (sign-in, sign-up, sign-out, current session and the change stream),
// not on the wire format below.
//
//	POST {base}/token?grant_type=password       {"email","password"}
//	POST {base}/token?grant_type=refresh_token  {"refresh_token"}
//	POST {base}/signup                          {"email","password"}
//	POST {base}/logout                          (bearer)
//	GET  {base}/user                            (bearer)
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/sakif/nutrition-client/internal/apperror"
	"github.com/sakif/nutrition-client/internal/auth"
	"github.com/sakif/nutrition-client/internal/httpclient"
	"github.com/sakif/nutrition-client/internal/middleware"
	"github.com/sakif/nutrition-client/internal/model"
)

// APIKeyHeader carries the project's public key on every identity call.
const APIKeyHeader = "apikey"

// Client is the identity backend client.
type Client struct {
	http      *httpclient.Client
	logger    *slog.Logger
	bootstrap string
	now       func() time.Time

	refreshMargin time.Duration
	pollInterval  time.Duration
}

// Config configures a Client.
type Config struct {
	BaseURL string // e.g. "http://localhost:9999/auth/v1"
	APIKey  string // optional anonymous/public key

	// BootstrapToken, when set, is offered as the existing session by
	// CurrentSession, e.g. a token handed over through the environment.
	BootstrapToken string

	Logger *slog.Logger
}

// New builds a Client. Extra httpclient options (timeouts, transport)
// are applied after the defaults.
func New(cfg Config, opts ...httpclient.Option) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	base := []httpclient.Option{httpclient.WithLogger(logger)}
	if cfg.APIKey != "" {
		base = append(base, httpclient.WithHeader(APIKeyHeader, cfg.APIKey))
	}

	hc, err := httpclient.New(cfg.BaseURL, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}

	return &Client{
		http:      hc,
		logger:    logger,
		bootstrap: strings.TrimSpace(cfg.BootstrapToken),
		now:       time.Now,

		refreshMargin: RefreshMargin,
		pollInterval:  idlePoll,
	}, nil
}

// tokenResponse is the GoTrue token grant response.
type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	RefreshToken string        `json:"refresh_token"`
	User         *userResponse `json:"user"`
}

// userResponse is the GoTrue user object. Sign-up without auto-confirm
// returns only this, with ConfirmationSentAt set.
type userResponse struct {
	ID                 string         `json:"id"`
	Email              string         `json:"email"`
	Role               string         `json:"role"`
	AppMetadata        map[string]any `json:"app_metadata"`
	ConfirmedAt        *time.Time     `json:"confirmed_at"`
	EmailConfirmedAt   *time.Time     `json:"email_confirmed_at"`
	ConfirmationSentAt *time.Time     `json:"confirmation_sent_at"`
}

// signUpResponse is either a full token response or a bare user.
type signUpResponse struct {
	tokenResponse
	userResponse
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignIn exchanges email and password for a session. Invalid credentials
// come back as apperror.ErrAuth whatever status the backend used.
func (c *Client) SignIn(ctx context.Context, email, password string) (model.Session, error) {
	var resp tokenResponse
	err := c.http.Do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"password"}},
		credentials{Email: strings.TrimSpace(email), Password: password}, &resp)
	if err != nil {
		return model.Session{}, asAuthError(err)
	}

	sess, err := c.sessionFrom(resp)
	if err != nil {
		return model.Session{}, err
	}
	c.logger.Info("signed in", slog.String("userID", sess.User.ID))
	return sess, nil
}

// SignUpOutcome is what the backend did with a registration.
type SignUpOutcome struct {
	// Session is set when the backend signed the new user in immediately.
	Session *model.Session
	// Pending is true when the account awaits confirmation (e.g. email
	// verification) and no session was issued.
	Pending bool
	User    model.UserProfile
}

// SignUp registers a new identity.
func (c *Client) SignUp(ctx context.Context, email, password string) (SignUpOutcome, error) {
	var resp signUpResponse
	err := c.http.Post(ctx, "/signup",
		credentials{Email: strings.TrimSpace(email), Password: password}, &resp)
	if err != nil {
		return SignUpOutcome{}, err
	}

	if resp.AccessToken != "" {
		sess, err := c.sessionFrom(resp.tokenResponse)
		if err != nil {
			return SignUpOutcome{}, err
		}
		c.logger.Info("signed up with active session", slog.String("userID", sess.User.ID))
		return SignUpOutcome{Session: &sess, User: *sess.User}, nil
	}

	u := resp.User
	if u == nil {
		u = &resp.userResponse
	}
	if u.ID == "" {
		return SignUpOutcome{}, &apperror.AppError{
			Err:     apperror.ErrUnknownServer,
			Code:    "bad_signup_response",
			Message: "sign-up response contained neither a session nor a user",
		}
	}
	c.logger.Info("signed up, confirmation pending", slog.String("userID", u.ID))
	return SignUpOutcome{Pending: true, User: profileFrom(u)}, nil
}

// SignOut revokes the session behind accessToken at the backend.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}
	ctx = middleware.ContextWithToken(ctx, accessToken)
	if err := c.http.Post(ctx, "/logout", nil, nil); err != nil {
		// A token the backend no longer knows is already signed out.
		if errors.Is(err, apperror.ErrAuth) || errors.Is(err, apperror.ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// CurrentSession returns the session the backend already considers
// valid for this process, or nil. Without a bootstrap token there is none.
func (c *Client) CurrentSession(ctx context.Context) (*model.Session, error) {
	if c.bootstrap == "" {
		return nil, nil
	}
	user, err := c.User(ctx, c.bootstrap)
	if err != nil {
		if errors.Is(err, apperror.ErrAuth) {
			c.logger.Warn("bootstrap token rejected by identity backend")
			return nil, nil
		}
		return nil, err
	}

	tok := &oauth2.Token{AccessToken: c.bootstrap, TokenType: "Bearer"}
	if claims, err := auth.InspectToken(c.bootstrap); err == nil {
		tok.Expiry = claims.Expiry()
	}
	sess := model.NewSession(tok, &user)
	return &sess, nil
}

// User fetches the profile behind an access token; this doubles as a
// server-side validity check of the token.
func (c *Client) User(ctx context.Context, accessToken string) (model.UserProfile, error) {
	var u userResponse
	ctx = middleware.ContextWithToken(ctx, accessToken)
	if err := c.http.Get(ctx, "/user", nil, &u); err != nil {
		return model.UserProfile{}, err
	}
	return profileFrom(&u), nil
}

// Refresh trades a refresh token for a new session.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (model.Session, error) {
	if refreshToken == "" {
		return model.Session{}, apperror.Auth("no refresh token available")
	}
	var resp tokenResponse
	err := c.http.Do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"refresh_token"}},
		map[string]string{"refresh_token": refreshToken}, &resp)
	if err != nil {
		return model.Session{}, asAuthError(err)
	}
	return c.sessionFrom(resp)
}

func (c *Client) sessionFrom(resp tokenResponse) (model.Session, error) {
	if resp.AccessToken == "" {
		return model.Session{}, &apperror.AppError{
			Err:     apperror.ErrUnknownServer,
			Code:    "bad_token_response",
			Message: "identity backend returned no access token",
		}
	}

	tok := &oauth2.Token{
		AccessToken:  resp.AccessToken,
		TokenType:    resp.TokenType,
		RefreshToken: resp.RefreshToken,
	}
	switch {
	case resp.ExpiresAt > 0:
		tok.Expiry = time.Unix(resp.ExpiresAt, 0)
	case resp.ExpiresIn > 0:
		tok.Expiry = c.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}

	var user model.UserProfile
	if resp.User != nil {
		user = profileFrom(resp.User)
	}

	// Fill gaps from the token itself; opaque tokens simply skip this.
	if claims, err := auth.InspectToken(resp.AccessToken); err == nil {
		if tok.Expiry.IsZero() {
			tok.Expiry = claims.Expiry()
		}
		if user.ID == "" {
			user = model.UserProfile{ID: claims.Subject, Email: claims.Email, IsPrivileged: claims.Privileged()}
		}
	}

	return model.NewSession(tok, &user), nil
}

func profileFrom(u *userResponse) model.UserProfile {
	privileged := auth.IsPrivilegedRole(u.Role)
	if role, ok := u.AppMetadata["role"].(string); ok && auth.IsPrivilegedRole(role) {
		privileged = true
	}
	return model.UserProfile{ID: u.ID, Email: u.Email, IsPrivileged: privileged}
}

// asAuthError maps a rejected credential grant onto ErrAuth. GoTrue
// answers bad credentials with 400 invalid_grant, which the generic
// mapping would classify as a validation error.
func asAuthError(err error) error {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, apperror.ErrValidation) && (appErr.Code == "invalid_grant" || appErr.Code == "invalid_credentials") {
		return &apperror.AppError{
			Err:     apperror.ErrAuth,
			Status:  appErr.Status,
			Code:    appErr.Code,
			Message: appErr.Message,
			Cause:   appErr.Cause,
		}
	}
	return err
}
