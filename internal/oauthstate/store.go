// Package oauthstate persists single-use anti-CSRF state tokens for the
// OAuth handshake. Tokens survive a process restart, so a callback that
// arrives after a redeploy still validates.
package oauthstate

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/stitchcal/stitch/internal/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS oauth_states (
    token      TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    provider   TEXT NOT NULL,
    expires_at TEXT NOT NULL
);
`

// TTL bounds how long a handshake may stay open between the redirect and
// the callback.
const TTL = 10 * time.Minute

// Record is a pending handshake.
type Record struct {
	Token    string
	UserID   string
	Provider core.ProviderKind
}

// Store keeps pending states in the shared sqlite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New applies the state schema on the shared handle.
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("applying oauth state schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Create mints an unguessable token bound to the user and provider.
func (s *Store) Create(ctx context.Context, userID string, provider core.ProviderKind) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating state token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)

	expires := s.now().UTC().Add(TTL)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO oauth_states (token, user_id, provider, expires_at) VALUES (?, ?, ?, ?)`,
		token, userID, string(provider), expires.Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("storing state token: %w", err)
	}
	return token, nil
}

// Validate looks up a token. It returns (nil, nil) for unknown or expired
// tokens; the caller treats both identically to avoid an oracle.
func (s *Store) Validate(ctx context.Context, token string) (*Record, error) {
	var rec Record
	var provider, expiresAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT token, user_id, provider, expires_at FROM oauth_states WHERE token = ?`,
		token).Scan(&rec.Token, &rec.UserID, &provider, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up state token: %w", err)
	}

	expires, err := time.Parse(time.RFC3339Nano, expiresAt)
	if err != nil || s.now().UTC().After(expires) {
		return nil, nil
	}

	rec.Provider = core.ProviderKind(provider)
	return &rec, nil
}

// Delete consumes a token. Deleting an already-consumed token is a no-op.
func (s *Store) Delete(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM oauth_states WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("deleting state token: %w", err)
	}
	return nil
}

// Sweep removes expired tokens. Run periodically; abandoned handshakes
// otherwise accumulate forever.
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM oauth_states WHERE expires_at < ?`,
		s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("sweeping expired states: %w", err)
	}
	return res.RowsAffected()
}
