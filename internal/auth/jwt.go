// Package auth holds the token and password primitives of the identity
// backend: signing and validating access tokens, bcrypt password hashing,
// and reading the claims of a token the client was handed.
//
// Access tokens are HS256 JWTs shaped like the ones GoTrue issues:
//
//	{"sub": "<user id>", "email": "a@x.com", "role": "authenticated",
//	 "jti": "...", "iss": "...", "iat": ..., "exp": ...}
//
// The client never holds the signing secret. It only reads claims
// (InspectToken) to learn the expiry and profile behind a token.
//
// TOKEN FLOW:
//  1. The client posts credentials to /auth/v1/token?grant_type=password.
//  2. The identity backend signs an access token (this package) and hands
//     out an opaque single-use refresh token next to it.
//  3. Every /api request carries "Authorization: Bearer <access token>";
//     RequireAuth validates it with the same secret, no lookup needed.
//  4. Shortly before exp the client trades the refresh token for a new pair.
//
// JWT STRUCTURE (three base64url parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header:    {"alg":"HS256","typ":"JWT"}
//	- Payload:   the claims above
//	- Signature: HMAC-SHA256(header + "." + payload, secret)
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"
)

const (
	DefaultIssuer = "nutrition-auth"
	// DefaultTokenTTL matches GoTrue's default. The client refreshes a
	// minute before it runs out.
	DefaultTokenTTL = time.Hour

	RoleAuthenticated = "authenticated"
	RoleAdmin         = "admin"
	RoleService       = "service_role"
)

var ErrTokenExpired = errors.New("auth: token expired")

// Claims is the access token payload. The embedded RegisteredClaims carry
// the standard fields: "sub" is the user ID, "jti" makes each token
// unique, "exp" is what the client schedules refreshes by.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"` // lets the client show who is logged in without a round trip
	Role  string `json:"role,omitempty"`  // "authenticated", or a privileged role
}

// Privileged reports whether the token's role carries elevated rights.
func (c *Claims) Privileged() bool {
	return IsPrivilegedRole(c.Role)
}

func IsPrivilegedRole(role string) bool {
	return role == RoleAdmin || role == RoleService
}

// TokenService signs and validates access tokens with an HMAC secret.
//
// HS256 is symmetric: the same secret signs and verifies. That suits the
// fake backend, which is one process holding both halves. The client side
// never gets a TokenService.
type TokenService struct {
	secret []byte
	issuer string        // checked on Validate, so tokens from another backend are refused
	ttl    time.Duration // lifetime Generate gives new tokens
}

// NewTokenService needs a secret of at least 16 characters. For anything
// longer-lived than a test, use random bytes:
//
//	JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret), issuer: DefaultIssuer, ttl: DefaultTokenTTL}, nil
}

// WithTTL returns a copy of s whose Generate uses ttl.
func (s *TokenService) WithTTL(ttl time.Duration) *TokenService {
	c := *s
	c.ttl = ttl
	return &c
}

// TTL is the lifetime Generate gives new tokens.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Generate issues a token for the user with the default lifetime.
func (s *TokenService) Generate(userID, email, role string) (string, error) {
	return s.GenerateWithDuration(userID, email, role, s.ttl)
}

// GenerateWithDuration issues a token with a custom lifetime; a negative
// duration produces an already-expired token. Every token carries a unique
// jti, so two tokens issued in the same second still differ.
func (s *TokenService) GenerateWithDuration(userID, email, role string, d time.Duration) (string, error) {
	now := time.Now()

	c := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        xid.New().String(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    s.issuer,
		},
		Email: email,
		Role:  role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Validate verifies signature, issuer and expiry and returns the claims.
// The algorithm is pinned to HS256.
func (s *TokenService) Validate(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("auth: invalid token claims")
	}
	if c.Subject == "" {
		return nil, errors.New("auth: token has no subject")
	}
	return c, nil
}

// InspectToken decodes a token's claims WITHOUT verifying the signature.
// The client uses it on tokens it received from the identity backend over
// TLS to learn the expiry and profile; it must never be used to make an
// authorization decision.
func InspectToken(tokenStr string) (*Claims, error) {
	var c Claims
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, &c); err != nil {
		return nil, fmt.Errorf("auth: decoding token claims: %w", err)
	}
	return &c, nil
}

// Expiry returns the exp claim, or the zero time when absent.
func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}
