package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/sakif/nutrition-client/internal/model"
)

// newTestDB returns a fresh in-memory database closed at test end.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testSession(access string) model.Session {
	return model.NewSession(
		&oauth2.Token{
			AccessToken:  access,
			TokenType:    "bearer",
			RefreshToken: "refresh-" + access,
			Expiry:       time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC),
		},
		&model.UserProfile{ID: "u1", Email: "a@x.com", IsPrivileged: true},
	)
}

func storedKeys(t *testing.T, db *DB) []string {
	t.Helper()
	rows, err := db.conn.QueryContext(context.Background(), `SELECT key FROM session_state ORDER BY key`)
	if err != nil {
		t.Fatalf("listing keys: %v", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			t.Fatalf("scanning key: %v", err)
		}
		keys = append(keys, k)
	}
	return keys
}

func TestLoad_Empty(t *testing.T) {
	db := newTestDB(t)

	sess, err := db.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if sess.Authenticated() || sess.User != nil {
		t.Errorf("Load() on empty store = %+v, want zero session", sess)
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.Save(ctx, testSession("T1")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := db.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.AccessToken() != "T1" {
		t.Errorf("AccessToken = %q, want %q", got.AccessToken(), "T1")
	}
	if got.Token.RefreshToken != "refresh-T1" {
		t.Errorf("RefreshToken = %q, want %q", got.Token.RefreshToken, "refresh-T1")
	}
	if !got.Token.Expiry.Equal(time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Errorf("Expiry = %v", got.Token.Expiry)
	}
	if got.User == nil || got.User.Email != "a@x.com" || !got.User.IsPrivileged {
		t.Errorf("User = %+v", got.User)
	}
}

func TestSave_ReplacesPrevious(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.Save(ctx, testSession("T1")); err != nil {
		t.Fatalf("Save(T1) error = %v", err)
	}

	// Second session has no user: the old user row must not survive.
	noUser := model.NewSession(&oauth2.Token{AccessToken: "T2"}, nil)
	if err := db.Save(ctx, noUser); err != nil {
		t.Fatalf("Save(T2) error = %v", err)
	}

	got, err := db.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.AccessToken() != "T2" {
		t.Errorf("AccessToken = %q, want T2", got.AccessToken())
	}
	if got.User != nil {
		t.Errorf("User = %+v, want nil", got.User)
	}
}

func TestClear_RemovesEverything(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.Save(ctx, testSession("T1")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if keys := storedKeys(t, db); len(keys) != 2 {
		t.Fatalf("stored keys = %v, want token and user", keys)
	}

	if err := db.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if keys := storedKeys(t, db); len(keys) != 0 {
		t.Errorf("stored keys after Clear = %v, want none", keys)
	}

	// Clearing twice is fine.
	if err := db.Clear(ctx); err != nil {
		t.Errorf("second Clear() error = %v", err)
	}
}

func TestSave_ZeroSessionClears(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.Save(ctx, testSession("T1")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := db.Save(ctx, model.Session{}); err != nil {
		t.Fatalf("Save(zero) error = %v", err)
	}
	if keys := storedKeys(t, db); len(keys) != 0 {
		t.Errorf("stored keys = %v, want none", keys)
	}
}

func TestLoad_UserWithoutTokenIgnored(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO session_state (key, value) VALUES ('user', '{"id":"u1","email":"a@x.com"}')`)
	if err != nil {
		t.Fatalf("seeding user row: %v", err)
	}

	got, err := db.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.User != nil || got.Authenticated() {
		t.Errorf("Load() = %+v, want zero session", got)
	}
}

func TestLoad_CorruptToken(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.conn.ExecContext(ctx, `INSERT INTO session_state (key, value) VALUES ('token', 'not json')`)
	if err != nil {
		t.Fatalf("seeding token row: %v", err)
	}

	if _, err := db.Load(ctx); err == nil {
		t.Fatal("Load() should fail on a corrupt token row")
	}
}

func TestNew_FilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.db")

	db, err := New(path)
	if err != nil {
		t.Fatalf("New(%q) error = %v", path, err)
	}
	t.Cleanup(func() { db.Close() })

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %o, want 600", perm)
	}

	if err := db.Save(context.Background(), testSession("T1")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Reopening sees the persisted session.
	db.Close()
	reopened, err := New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { reopened.Close() })

	got, err := reopened.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() after reopen error = %v", err)
	}
	if got.AccessToken() != "T1" {
		t.Errorf("AccessToken after reopen = %q, want T1", got.AccessToken())
	}
}

func TestAuthFailures(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if n, err := db.AuthFailures(ctx); err != nil || n != 0 {
		t.Fatalf("AuthFailures() on empty db = %d, %v; want 0, nil", n, err)
	}

	if err := db.Save(ctx, testSession("T1")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	for _, n := range []int{1, 2} {
		if err := db.SetAuthFailures(ctx, n); err != nil {
			t.Fatalf("SetAuthFailures(%d) error = %v", n, err)
		}
	}
	if n, err := db.AuthFailures(ctx); err != nil || n != 2 {
		t.Errorf("AuthFailures() = %d, %v; want 2, nil", n, err)
	}

	// The count must not leak into Load.
	got, err := db.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.AccessToken() != "T1" {
		t.Errorf("AccessToken = %q, want T1", got.AccessToken())
	}

	// A new session starts from zero.
	if err := db.Save(ctx, testSession("T2")); err != nil {
		t.Fatalf("Save(T2) error = %v", err)
	}
	if n, _ := db.AuthFailures(ctx); n != 0 {
		t.Errorf("AuthFailures() after Save = %d, want 0", n)
	}

	if err := db.SetAuthFailures(ctx, 1); err != nil {
		t.Fatalf("SetAuthFailures(1) error = %v", err)
	}
	if err := db.SetAuthFailures(ctx, 0); err != nil {
		t.Fatalf("SetAuthFailures(0) error = %v", err)
	}
	if keys := storedKeys(t, db); len(keys) != 2 {
		t.Errorf("stored keys = %v, want token and user only", keys)
	}
}
