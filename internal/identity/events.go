package identity

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sakif/nutrition-client/internal/apperror"
	"github.com/sakif/nutrition-client/internal/model"
)

// EventKind names a session transition that originates at the backend
// rather than from a call the user made.
type EventKind int

const (
	// TokenRefreshed: the access token was replaced before it expired.
	TokenRefreshed EventKind = iota + 1
	// SessionInvalidated: the backend no longer accepts the session
	// (refresh token revoked, user deleted). The session must be cleared.
	SessionInvalidated
)

func (k EventKind) String() string {
	switch k {
	case TokenRefreshed:
		return "token_refreshed"
	case SessionInvalidated:
		return "session_invalidated"
	default:
		return "unknown"
	}
}

// Event is one externally caused session transition.
type Event struct {
	Kind EventKind
	// Previous is the access token the event applies to. Consumers must
	// ignore the event when their current token differs.
	Previous string
	// Session is the replacement session; zero for SessionInvalidated.
	Session model.Session
}

const (
	// RefreshMargin is how long before expiry a token is refreshed.
	RefreshMargin = time.Minute
	// idlePoll is how often Watch rechecks when there is nothing to refresh.
	idlePoll = 30 * time.Second
)

// Watch returns the session-change stream. It tracks the session that
// current reports, refreshes the token RefreshMargin before it expires,
// and emits TokenRefreshed or SessionInvalidated. The channel is closed
// when ctx ends.
func (c *Client) Watch(ctx context.Context, current func() model.Session) <-chan Event {
	events := make(chan Event)

	go func() {
		defer close(events)

		timer := time.NewTimer(0)
		defer timer.Stop()

		// The token an event was last emitted for. Until the consumer has
		// applied that event, current still reports it, and its refresh
		// token has already been spent.
		var handled string

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}

			sess := current()
			if handled != "" && sess.AccessToken() == handled {
				timer.Reset(c.pollInterval)
				continue
			}
			wait := c.nextCheck(sess)
			if wait > 0 {
				timer.Reset(wait)
				continue
			}

			ev, ok := c.refresh(ctx, sess)
			if ok {
				handled = ev.Previous
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
			timer.Reset(c.pollInterval)
		}
	}()

	return events
}

// Check is a single step of Watch: when sess is due for refresh it
// refreshes now and returns the resulting event. It is for short-lived
// processes that will not run Watch.
func (c *Client) Check(ctx context.Context, sess model.Session) (Event, bool) {
	if !sess.Authenticated() || c.nextCheck(sess) > 0 {
		return Event{}, false
	}
	return c.refresh(ctx, sess)
}

// nextCheck returns how long to sleep before sess needs refreshing;
// 0 means refresh now.
func (c *Client) nextCheck(sess model.Session) time.Duration {
	if !sess.Authenticated() || sess.Token.RefreshToken == "" || sess.Token.Expiry.IsZero() {
		return c.pollInterval
	}
	until := sess.Token.Expiry.Add(-c.refreshMargin).Sub(c.now())
	if until <= 0 {
		return 0
	}
	if until > c.pollInterval {
		return c.pollInterval
	}
	return until
}

func (c *Client) refresh(ctx context.Context, sess model.Session) (Event, bool) {
	prev := sess.AccessToken()

	next, err := c.Refresh(ctx, sess.Token.RefreshToken)
	switch {
	case err == nil:
		c.logger.Debug("access token refreshed", slog.Time("expiry", next.Token.Expiry))
		return Event{Kind: TokenRefreshed, Previous: prev, Session: next}, true
	case errors.Is(err, apperror.ErrAuth):
		c.logger.Info("session invalidated by identity backend", slog.String("reason", err.Error()))
		return Event{Kind: SessionInvalidated, Previous: prev}, true
	default:
		// Transport trouble: keep the session and try again on the next tick.
		c.logger.Warn("token refresh failed", slog.String("error", err.Error()))
		return Event{}, false
	}
}
