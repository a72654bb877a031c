package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/oauth2"

	"github.com/sakif/nutrition-client/internal/model"
	"github.com/sakif/nutrition-client/internal/repository"
)

// compile-time check that *DB implements repository.SessionRepository
var _ repository.SessionRepository = (*DB)(nil)

// Load reads the stored session. A missing or empty token yields the zero
// Session; a stored user without a token is ignored.
func (db *DB) Load(ctx context.Context) (model.Session, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT key, value FROM session_state WHERE key IN (?, ?)`,
		repository.KeyToken, repository.KeyUser,
	)
	if err != nil {
		return model.Session{}, fmt.Errorf("sqlite: loading session: %w", err)
	}
	defer rows.Close()

	var (
		tok  *oauth2.Token
		user *model.UserProfile
	)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return model.Session{}, fmt.Errorf("sqlite: scanning session row: %w", err)
		}

		switch key {
		case repository.KeyToken:
			tok = new(oauth2.Token)
			if err := json.Unmarshal([]byte(value), tok); err != nil {
				return model.Session{}, fmt.Errorf("sqlite: decoding stored token: %w", err)
			}
		case repository.KeyUser:
			user = new(model.UserProfile)
			if err := json.Unmarshal([]byte(value), user); err != nil {
				return model.Session{}, fmt.Errorf("sqlite: decoding stored user: %w", err)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return model.Session{}, fmt.Errorf("sqlite: iterating session rows: %w", err)
	}

	return model.NewSession(tok, user), nil
}

// Save replaces the stored session in one transaction.
func (db *DB) Save(ctx context.Context, sess model.Session) error {
	if !sess.Authenticated() {
		return db.Clear(ctx)
	}

	tokenJSON, err := json.Marshal(sess.Token)
	if err != nil {
		return fmt.Errorf("sqlite: encoding token: %w", err)
	}

	// One transaction: a crash half way must not pair the new token with
	// the previous user, or keep the old token's failure count.
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_state`); err != nil {
		return fmt.Errorf("sqlite: clearing previous session: %w", err)
	}
	if err := put(ctx, tx, repository.KeyToken, tokenJSON); err != nil {
		return err
	}
	if sess.User != nil {
		userJSON, err := json.Marshal(sess.User)
		if err != nil {
			return fmt.Errorf("sqlite: encoding user: %w", err)
		}
		if err := put(ctx, tx, repository.KeyUser, userJSON); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing session: %w", err)
	}
	return nil
}

// Clear removes every stored key. Clearing an empty store is not an error.
func (db *DB) Clear(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM session_state`); err != nil {
		return fmt.Errorf("sqlite: clearing session: %w", err)
	}
	return nil
}

func put(ctx context.Context, tx *sql.Tx, key string, value []byte) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO session_state (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(value),
	)
	if err != nil {
		return fmt.Errorf("sqlite: storing %s: %w", key, err)
	}
	return nil
}

// AuthFailures reads the failure count stored for the current token.
func (db *DB) AuthFailures(ctx context.Context) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT CAST(value AS INTEGER) FROM session_state WHERE key = ?`, repository.KeyAuthFailures,
	).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite: loading auth failures: %w", err)
	}
	return n, nil
}

// SetAuthFailures stores n. Zero removes the row.
func (db *DB) SetAuthFailures(ctx context.Context, n int) error {
	if n <= 0 {
		if _, err := db.conn.ExecContext(ctx, `DELETE FROM session_state WHERE key = ?`, repository.KeyAuthFailures); err != nil {
			return fmt.Errorf("sqlite: resetting auth failures: %w", err)
		}
		return nil
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO session_state (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		repository.KeyAuthFailures, strconv.Itoa(n),
	)
	if err != nil {
		return fmt.Errorf("sqlite: storing auth failures: %w", err)
	}
	return nil
}
