package identity

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/sakif/nutrition-client/internal/apperror"
	"github.com/sakif/nutrition-client/internal/auth"
	"github.com/sakif/nutrition-client/internal/fakeapi"
	"github.com/sakif/nutrition-client/internal/model"
)

const testSecret = "identity-test-secret-0123456789"

func newBackend(t *testing.T, cfg fakeapi.Config) (*fakeapi.Server, string) {
	t.Helper()
	cfg.JWTSecret = testSecret
	srv, err := fakeapi.New(cfg, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, ts.URL + fakeapi.AuthPrefix
}

func newClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func TestSignIn(t *testing.T) {
	srv, base := newBackend(t, fakeapi.Config{})
	userID, err := srv.CreateUser("a@x.com", "pw1234", "")
	require.NoError(t, err)

	c := newClient(t, Config{BaseURL: base})
	sess, err := c.SignIn(context.Background(), " a@x.com", "pw1234")
	require.NoError(t, err)

	require.True(t, sess.Authenticated())
	assert.NotEmpty(t, sess.Token.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(auth.DefaultTokenTTL), sess.Token.Expiry, 5*time.Second)
	require.NotNil(t, sess.User)
	assert.Equal(t, userID, sess.User.ID)
	assert.Equal(t, "a@x.com", sess.User.Email)
	assert.False(t, sess.User.IsPrivileged)
}

func TestSignIn_PrivilegedRole(t *testing.T) {
	srv, base := newBackend(t, fakeapi.Config{})
	_, err := srv.CreateUser("root@x.com", "pw1234", auth.RoleAdmin)
	require.NoError(t, err)

	sess, err := newClient(t, Config{BaseURL: base}).SignIn(context.Background(), "root@x.com", "pw1234")
	require.NoError(t, err)
	assert.True(t, sess.User.IsPrivileged)
}

func TestSignIn_InvalidCredentialsIsAuthError(t *testing.T) {
	srv, base := newBackend(t, fakeapi.Config{})
	_, err := srv.CreateUser("a@x.com", "pw1234", "")
	require.NoError(t, err)

	_, err = newClient(t, Config{BaseURL: base}).SignIn(context.Background(), "a@x.com", "nope!!")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrAuth)
	assert.NotErrorIs(t, err, apperror.ErrValidation)
	assert.Equal(t, "Invalid login credentials", err.Error())
	assert.Equal(t, 400, apperror.Status(err))
}

func TestSignIn_Unreachable(t *testing.T) {
	c := newClient(t, Config{BaseURL: "http://127.0.0.1:1/auth/v1"})

	_, err := c.SignIn(context.Background(), "a@x.com", "pw1234")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrTransport)
	assert.Equal(t, "network error: could not reach server", err.Error())
}

func TestSignIn_APIKeyHeader(t *testing.T) {
	srv, base := newBackend(t, fakeapi.Config{APIKey: "anon"})
	_, err := srv.CreateUser("a@x.com", "pw1234", "")
	require.NoError(t, err)

	_, err = newClient(t, Config{BaseURL: base}).SignIn(context.Background(), "a@x.com", "pw1234")
	assert.ErrorIs(t, err, apperror.ErrAuth)

	_, err = newClient(t, Config{BaseURL: base, APIKey: "anon"}).SignIn(context.Background(), "a@x.com", "pw1234")
	assert.NoError(t, err)
}

func TestSignUp(t *testing.T) {
	t.Run("active session", func(t *testing.T) {
		_, base := newBackend(t, fakeapi.Config{})

		out, err := newClient(t, Config{BaseURL: base}).SignUp(context.Background(), "new@x.com", "secret1")
		require.NoError(t, err)
		assert.False(t, out.Pending)
		require.NotNil(t, out.Session)
		assert.True(t, out.Session.Authenticated())
		assert.Equal(t, "new@x.com", out.User.Email)
	})

	t.Run("pending confirmation", func(t *testing.T) {
		srv, base := newBackend(t, fakeapi.Config{RequireConfirmation: true})
		c := newClient(t, Config{BaseURL: base})

		out, err := c.SignUp(context.Background(), "new@x.com", "secret1")
		require.NoError(t, err)
		assert.True(t, out.Pending)
		assert.Nil(t, out.Session)
		assert.NotEmpty(t, out.User.ID)

		require.NoError(t, srv.ConfirmUser("new@x.com"))
		_, err = c.SignIn(context.Background(), "new@x.com", "secret1")
		assert.NoError(t, err)
	})

	t.Run("weak password", func(t *testing.T) {
		_, base := newBackend(t, fakeapi.Config{})

		_, err := newClient(t, Config{BaseURL: base}).SignUp(context.Background(), "new@x.com", "123")
		require.Error(t, err)
		assert.ErrorIs(t, err, apperror.ErrValidation)
		assert.Contains(t, err.Error(), "at least 6 characters")
	})
}

func TestSignOut(t *testing.T) {
	srv, base := newBackend(t, fakeapi.Config{})
	_, err := srv.CreateUser("a@x.com", "pw1234", "")
	require.NoError(t, err)

	c := newClient(t, Config{BaseURL: base})
	ctx := context.Background()
	sess, err := c.SignIn(ctx, "a@x.com", "pw1234")
	require.NoError(t, err)

	_, err = c.User(ctx, sess.AccessToken())
	require.NoError(t, err)

	require.NoError(t, c.SignOut(ctx, sess.AccessToken()))

	_, err = c.User(ctx, sess.AccessToken())
	assert.ErrorIs(t, err, apperror.ErrAuth)

	// Signing out a dead token, or no token, is not an error.
	assert.NoError(t, c.SignOut(ctx, sess.AccessToken()))
	assert.NoError(t, c.SignOut(ctx, ""))

	_, err = c.Refresh(ctx, sess.Token.RefreshToken)
	assert.ErrorIs(t, err, apperror.ErrAuth)
}

func TestCurrentSession(t *testing.T) {
	srv, base := newBackend(t, fakeapi.Config{})
	_, err := srv.CreateUser("a@x.com", "pw1234", "")
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("no bootstrap token", func(t *testing.T) {
		sess, err := newClient(t, Config{BaseURL: base}).CurrentSession(ctx)
		require.NoError(t, err)
		assert.Nil(t, sess)
	})

	t.Run("valid bootstrap token", func(t *testing.T) {
		token, err := srv.IssueToken("a@x.com", time.Hour)
		require.NoError(t, err)

		sess, err := newClient(t, Config{BaseURL: base, BootstrapToken: token}).CurrentSession(ctx)
		require.NoError(t, err)
		require.NotNil(t, sess)
		assert.Equal(t, token, sess.AccessToken())
		assert.Equal(t, "a@x.com", sess.User.Email)
		assert.WithinDuration(t, time.Now().Add(time.Hour), sess.Token.Expiry, 5*time.Second)
	})

	t.Run("expired bootstrap token", func(t *testing.T) {
		token, err := srv.IssueToken("a@x.com", -time.Minute)
		require.NoError(t, err)

		sess, err := newClient(t, Config{BaseURL: base, BootstrapToken: token}).CurrentSession(ctx)
		require.NoError(t, err)
		assert.Nil(t, sess)
	})
}

func TestRefresh_RotatesRefreshToken(t *testing.T) {
	srv, base := newBackend(t, fakeapi.Config{})
	_, err := srv.CreateUser("a@x.com", "pw1234", "")
	require.NoError(t, err)

	c := newClient(t, Config{BaseURL: base})
	ctx := context.Background()
	first, err := c.SignIn(ctx, "a@x.com", "pw1234")
	require.NoError(t, err)

	second, err := c.Refresh(ctx, first.Token.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.AccessToken(), second.AccessToken())
	assert.NotEqual(t, first.Token.RefreshToken, second.Token.RefreshToken)

	// Single use.
	_, err = c.Refresh(ctx, first.Token.RefreshToken)
	assert.ErrorIs(t, err, apperror.ErrAuth)

	_, err = c.Refresh(ctx, "")
	assert.ErrorIs(t, err, apperror.ErrAuth)
}

// =========================================================================
// CHANGE STREAM
// =========================================================================

func receive(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "event stream closed")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no event within 5s")
		return Event{}
	}
}

func TestWatch_RefreshThenInvalidate(t *testing.T) {
	// Tokens live less than RefreshMargin, so every session is due at once.
	srv, base := newBackend(t, fakeapi.Config{TokenTTL: 30 * time.Second})
	_, err := srv.CreateUser("a@x.com", "pw1234", "")
	require.NoError(t, err)

	c := newClient(t, Config{BaseURL: base})
	c.pollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, err := c.SignIn(ctx, "a@x.com", "pw1234")
	require.NoError(t, err)

	var mu sync.Mutex
	current := sess
	snapshot := func() model.Session {
		mu.Lock()
		defer mu.Unlock()
		return current
	}

	events := c.Watch(ctx, snapshot)

	ev := receive(t, events)
	require.Equal(t, TokenRefreshed, ev.Kind)
	assert.Equal(t, sess.AccessToken(), ev.Previous)
	require.True(t, ev.Session.Authenticated())
	assert.NotEqual(t, sess.AccessToken(), ev.Session.AccessToken())

	// Revoke before handing the refreshed session back, so the next
	// refresh attempt is the one that fails.
	srv.RevokeSessions("a@x.com")
	mu.Lock()
	current = ev.Session
	mu.Unlock()

	ev2 := receive(t, events)
	assert.Equal(t, SessionInvalidated, ev2.Kind)
	assert.Equal(t, ev.Session.AccessToken(), ev2.Previous)

	cancel()
	for range events {
	}
}

func TestWatch_LoggedOutEmitsNothing(t *testing.T) {
	_, base := newBackend(t, fakeapi.Config{})
	c := newClient(t, Config{BaseURL: base})
	c.pollInterval = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	events := c.Watch(ctx, func() model.Session { return model.Session{} })
	for ev := range events {
		t.Errorf("unexpected event %v", ev.Kind)
	}
}

func TestNextCheck(t *testing.T) {
	c := newClient(t, Config{BaseURL: "http://identity.test"})
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	withExpiry := func(exp time.Time, refresh string) model.Session {
		return model.NewSession(&oauth2.Token{AccessToken: "T", RefreshToken: refresh, Expiry: exp}, nil)
	}

	tests := []struct {
		name string
		sess model.Session
		want time.Duration
	}{
		{"logged out", model.Session{}, idlePoll},
		{"no refresh token", withExpiry(now.Add(time.Second), ""), idlePoll},
		{"no expiry", withExpiry(time.Time{}, "R"), idlePoll},
		{"due", withExpiry(now.Add(30*time.Second), "R"), 0},
		{"soon", withExpiry(now.Add(RefreshMargin+10*time.Second), "R"), 10 * time.Second},
		{"far", withExpiry(now.Add(time.Hour), "R"), idlePoll},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.nextCheck(tt.sess))
		})
	}
}

func TestCheck(t *testing.T) {
	srv, base := newBackend(t, fakeapi.Config{TokenTTL: 30 * time.Second})
	_, err := srv.CreateUser("a@x.com", "pw1234", "")
	require.NoError(t, err)
	c := newClient(t, Config{BaseURL: base})

	_, ok := c.Check(context.Background(), model.Session{})
	assert.False(t, ok, "logged out")

	sess, err := c.SignIn(context.Background(), "a@x.com", "pw1234")
	require.NoError(t, err)

	ev, ok := c.Check(context.Background(), sess)
	require.True(t, ok)
	assert.Equal(t, TokenRefreshed, ev.Kind)
	assert.Equal(t, sess.AccessToken(), ev.Previous)

	// The old refresh token was rotated away.
	ev, ok = c.Check(context.Background(), sess)
	require.True(t, ok)
	assert.Equal(t, SessionInvalidated, ev.Kind)
}

func TestCheck_NotDue(t *testing.T) {
	c := newClient(t, Config{BaseURL: "http://127.0.0.1:1/auth/v1"})
	sess := model.NewSession(&oauth2.Token{AccessToken: "T", RefreshToken: "R", Expiry: time.Now().Add(time.Hour)}, nil)

	_, ok := c.Check(context.Background(), sess)
	assert.False(t, ok)
}
