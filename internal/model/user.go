// Package model defines the data structures shared by the session store,
// the resource services and the CLI.
package model

import "golang.org/x/oauth2"

// UserProfile is the identity attached to a session. The client treats it
// as opaque beyond identity and the privilege flag.
type UserProfile struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	IsPrivileged bool   `json:"is_privileged"`
}

// Session is the current authentication state. The zero Session means
// "logged out". User is only ever set together with Token.
//
// Session values are replaced, never mutated: every transition builds a
// new value and publishes it as a whole.
type Session struct {
	Token *oauth2.Token `json:"token,omitempty"`
	User  *UserProfile  `json:"user,omitempty"`
}

// Authenticated reports whether the session holds a usable access token.
func (s Session) Authenticated() bool {
	return s.Token != nil && s.Token.AccessToken != ""
}

// AccessToken returns the bearer token, or "" when logged out.
func (s Session) AccessToken() string {
	if s.Token == nil {
		return ""
	}
	return s.Token.AccessToken
}

// NewSession builds a session, dropping the user when there is no token.
func NewSession(token *oauth2.Token, user *UserProfile) Session {
	if token == nil || token.AccessToken == "" {
		return Session{}
	}
	return Session{Token: token, User: user}
}
