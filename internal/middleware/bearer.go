package middleware

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/oauth2"
)

// ErrNoToken is returned by a token provider that currently holds nothing.
var ErrNoToken = errors.New("no access token")

// TokenFunc adapts a plain "current token" function to oauth2.TokenSource.
// An empty string means no token is held.
type TokenFunc func() string

func (f TokenFunc) Token() (*oauth2.Token, error) {
	s := f()
	if s == "" {
		return nil, ErrNoToken
	}
	return &oauth2.Token{AccessToken: s, TokenType: "Bearer"}, nil
}

type tokenKey struct{}

// ContextWithToken pins the bearer token for requests made with ctx,
// overriding the token source. Identity calls that act on one specific
// token (sign-out, fetching the user behind a token) use it.
func ContextWithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

func tokenFromContext(ctx context.Context) (string, bool) {
	tok, ok := ctx.Value(tokenKey{}).(string)
	return tok, ok && tok != ""
}

// BearerToken returns a round tripper that asks source for the token on
// every request and attaches it as "Authorization: Bearer <token>". When
// the source holds no token the request goes out without the header.
//
// Unlike oauth2.Transport, a missing token is not an error here: anonymous
// requests are legitimate (sign-up, public lists) and the server decides.
func BearerToken(source oauth2.TokenSource, next http.RoundTripper) http.RoundTripper {
	return RoundTripFunc(func(r *http.Request) (*http.Response, error) {
		// RoundTrippers must not modify the caller's request.
		r2 := r.Clone(r.Context())

		if pinned, ok := tokenFromContext(r.Context()); ok {
			r2.Header.Set("Authorization", "Bearer "+pinned)
			return next.RoundTrip(r2)
		}

		tok, err := source.Token()
		if err != nil || tok == nil || tok.AccessToken == "" {
			r2.Header.Del("Authorization")
			return next.RoundTrip(r2)
		}

		tok.SetAuthHeader(r2)
		return next.RoundTrip(r2)
	})
}
