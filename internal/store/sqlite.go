// Package store manages the SQLite database holding calendar accounts,
// calendars, and canonical events.
//
// Only this package may open or query the database. Everything else receives
// a [*Store] (or one of the core interfaces it implements) and calls methods.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/stitchcal/stitch/internal/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS calendar_accounts (
    id                  TEXT    PRIMARY KEY,
    user_id             TEXT    NOT NULL,
    provider            TEXT    NOT NULL,
    provider_account_id TEXT    NOT NULL,
    email               TEXT    NOT NULL DEFAULT '',
    credentials         BLOB    NOT NULL,
    token_expiry        TEXT    NOT NULL DEFAULT '',
    sync_status         TEXT    NOT NULL DEFAULT 'idle',
    sync_error          TEXT    NOT NULL DEFAULT '',
    is_active           INTEGER NOT NULL DEFAULT 1,
    created_at          TEXT    NOT NULL,
    updated_at          TEXT    NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_identity
    ON calendar_accounts (user_id, provider, provider_account_id);

CREATE TABLE IF NOT EXISTS calendars (
    id          TEXT    PRIMARY KEY,
    account_id  TEXT    NOT NULL REFERENCES calendar_accounts(id) ON DELETE CASCADE,
    external_id TEXT    NOT NULL,
    name        TEXT    NOT NULL DEFAULT '',
    color       TEXT    NOT NULL DEFAULT '',
    is_read_only INTEGER NOT NULL DEFAULT 0,
    is_enabled  INTEGER NOT NULL DEFAULT 1,
    sync_token  TEXT    NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_calendars_identity
    ON calendars (account_id, external_id);

CREATE TABLE IF NOT EXISTS events (
    id                 TEXT PRIMARY KEY,
    user_id            TEXT NOT NULL,
    calendar_id        TEXT NOT NULL REFERENCES calendars(id) ON DELETE CASCADE,
    external_id        TEXT NOT NULL,
    title              TEXT NOT NULL DEFAULT '',
    description        TEXT NOT NULL DEFAULT '',
    location           TEXT NOT NULL DEFAULT '',
    start_time         TEXT NOT NULL,
    end_time           TEXT NOT NULL,
    all_day            INTEGER NOT NULL DEFAULT 0,
    timezone           TEXT NOT NULL DEFAULT '',
    recurrence_rule    TEXT NOT NULL DEFAULT '',
    recurring_event_id TEXT NOT NULL DEFAULT '',
    status             TEXT NOT NULL DEFAULT 'confirmed',
    response_status    TEXT NOT NULL DEFAULT '',
    link               TEXT NOT NULL DEFAULT '',
    etag               TEXT NOT NULL DEFAULT '',
    updated_at         TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_events_identity ON events (calendar_id, external_id);
CREATE INDEX        IF NOT EXISTS idx_events_user     ON events (user_id, start_time);
`

// Store is the SQLite-backed repository. It implements core.AccountStore,
// core.CalendarStore, and core.EventStore.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path, applies the schema, and
// configures WAL mode.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// DB exposes the underlying handle for sibling stores sharing the database
// file (the OAuth state store).
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// --- accounts ---------------------------------------------------------------

const accountColumns = `id, user_id, provider, provider_account_id, email,
    credentials, token_expiry, sync_status, sync_error, is_active, created_at, updated_at`

func (s *Store) GetAccount(ctx context.Context, id string) (*core.CalendarAccount, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM calendar_accounts WHERE id = ?`, id)
	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s not found", id)
	}
	return acct, err
}

func (s *Store) UpsertAccount(ctx context.Context, acct *core.CalendarAccount) (*core.CalendarAccount, error) {
	now := time.Now().UTC()
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calendar_accounts
		    (id, user_id, provider, provider_account_id, email, credentials,
		     token_expiry, sync_status, sync_error, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, provider, provider_account_id) DO UPDATE SET
		    email        = excluded.email,
		    credentials  = excluded.credentials,
		    token_expiry = excluded.token_expiry,
		    is_active    = 1,
		    sync_error   = '',
		    updated_at   = excluded.updated_at`,
		acct.ID, acct.UserID, string(acct.Provider), acct.ProviderAccountID, acct.Email,
		acct.Credentials, formatTime(acct.TokenExpiry), string(core.SyncIdle), "",
		boolToInt(acct.IsActive), formatTime(now), formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("upserting account: %w", err)
	}

	// Re-read so a conflict upsert returns the surviving row id.
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM calendar_accounts
		 WHERE user_id = ? AND provider = ? AND provider_account_id = ?`,
		acct.UserID, string(acct.Provider), acct.ProviderAccountID)
	return scanAccount(row)
}

func (s *Store) UpdateCredentials(ctx context.Context, id string, sealed []byte, expiry time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE calendar_accounts
		SET credentials = ?, token_expiry = ?, updated_at = ?
		WHERE id = ?`,
		sealed, formatTime(expiry), formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("updating credentials for %s: %w", id, err)
	}
	return nil
}

// BeginSync is the single-writer guard: it succeeds only for an active
// account that is not already syncing.
func (s *Store) BeginSync(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE calendar_accounts
		SET sync_status = ?, updated_at = ?
		WHERE id = ? AND is_active = 1 AND sync_status != ?`,
		string(core.SyncSyncing), formatTime(time.Now().UTC()), id, string(core.SyncSyncing))
	if err != nil {
		return false, fmt.Errorf("marking account %s syncing: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) FinishSync(ctx context.Context, id string, status core.SyncStatus, syncErr string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE calendar_accounts
		SET sync_status = ?, sync_error = ?, updated_at = ?
		WHERE id = ?`,
		string(status), syncErr, formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("finishing sync for %s: %w", id, err)
	}
	return nil
}

func (s *Store) ListActiveAccounts(ctx context.Context) ([]core.CalendarAccount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM calendar_accounts WHERE is_active = 1`)
	if err != nil {
		return nil, fmt.Errorf("listing active accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []core.CalendarAccount
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *acct)
	}
	return accounts, rows.Err()
}

// Deactivate soft-disables an account whose credentials are permanently
// invalid. The row survives so the user can reconnect.
func (s *Store) Deactivate(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE calendar_accounts SET is_active = 0, updated_at = ? WHERE id = ?`,
		formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("deactivating account %s: %w", id, err)
	}
	return nil
}

// --- calendars --------------------------------------------------------------

func (s *Store) UpsertCalendars(ctx context.Context, accountID string, cals []core.Calendar) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin calendar upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, cal := range cals {
		// is_enabled and sync_token are local state; discovery must not
		// clobber them.
		_, err := tx.ExecContext(ctx, `
			INSERT INTO calendars (id, account_id, external_id, name, color, is_read_only, is_enabled, sync_token)
			VALUES (?, ?, ?, ?, ?, ?, ?, '')
			ON CONFLICT (account_id, external_id) DO UPDATE SET
			    name         = excluded.name,
			    color        = excluded.color,
			    is_read_only = excluded.is_read_only`,
			uuid.NewString(), accountID, cal.ExternalID, cal.Name, cal.Color,
			boolToInt(cal.IsReadOnly), boolToInt(cal.IsEnabled))
		if err != nil {
			return fmt.Errorf("upserting calendar %s: %w", cal.ExternalID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListEnabledCalendars(ctx context.Context, accountID string) ([]core.Calendar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, external_id, name, color, is_read_only, is_enabled, sync_token
		FROM calendars
		WHERE account_id = ? AND is_enabled = 1
		ORDER BY external_id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("listing calendars for %s: %w", accountID, err)
	}
	defer func() { _ = rows.Close() }()

	var cals []core.Calendar
	for rows.Next() {
		var cal core.Calendar
		var readOnly, enabled int
		if err := rows.Scan(&cal.ID, &cal.AccountID, &cal.ExternalID, &cal.Name,
			&cal.Color, &readOnly, &enabled, &cal.SyncToken); err != nil {
			return nil, fmt.Errorf("scanning calendar: %w", err)
		}
		cal.IsReadOnly = readOnly != 0
		cal.IsEnabled = enabled != 0
		cals = append(cals, cal)
	}
	return cals, rows.Err()
}

func (s *Store) SaveSyncToken(ctx context.Context, calendarID, token string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE calendars SET sync_token = ? WHERE id = ?`, token, calendarID)
	if err != nil {
		return fmt.Errorf("saving sync token for %s: %w", calendarID, err)
	}
	return nil
}

// SetCalendarEnabled flips a calendar in or out of the sync set.
func (s *Store) SetCalendarEnabled(ctx context.Context, calendarID string, enabled bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE calendars SET is_enabled = ? WHERE id = ?`, boolToInt(enabled), calendarID)
	if err != nil {
		return fmt.Errorf("updating calendar %s: %w", calendarID, err)
	}
	return nil
}

// --- events -----------------------------------------------------------------

// UpsertEvents inserts or replaces canonical events keyed by
// (calendar id, external id). Local row ids are minted here and survive
// updates, so external ids never become the primary identity.
func (s *Store) UpsertEvents(ctx context.Context, userID, calendarID string, events []core.CanonicalEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin event upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := formatTime(time.Now().UTC())
	for _, ev := range events {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO events
			    (id, user_id, calendar_id, external_id, title, description, location,
			     start_time, end_time, all_day, timezone, recurrence_rule,
			     recurring_event_id, status, response_status, link, etag, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (calendar_id, external_id) DO UPDATE SET
			    title              = excluded.title,
			    description        = excluded.description,
			    location           = excluded.location,
			    start_time         = excluded.start_time,
			    end_time           = excluded.end_time,
			    all_day            = excluded.all_day,
			    timezone           = excluded.timezone,
			    recurrence_rule    = excluded.recurrence_rule,
			    recurring_event_id = excluded.recurring_event_id,
			    status             = excluded.status,
			    response_status    = excluded.response_status,
			    link               = excluded.link,
			    etag               = excluded.etag,
			    updated_at         = excluded.updated_at`,
			uuid.NewString(), userID, calendarID, ev.ExternalID, ev.Title, ev.Description,
			ev.Location, formatTime(ev.Start), formatTime(ev.End), boolToInt(ev.AllDay),
			ev.Timezone, ev.RecurrenceRule, ev.RecurringEventID, string(ev.Status),
			string(ev.Response), ev.Link, ev.ETag, now)
		if err != nil {
			return fmt.Errorf("upserting event %s: %w", ev.ExternalID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) DeleteByExternalID(ctx context.Context, userID, calendarID string, externalIDs []string) error {
	if len(externalIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin event delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range externalIDs {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM events WHERE user_id = ? AND calendar_id = ? AND external_id = ?`,
			userID, calendarID, id)
		if err != nil {
			return fmt.Errorf("deleting event %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// CountEvents is a test and operator helper.
func (s *Store) CountEvents(ctx context.Context, calendarID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE calendar_id = ?`, calendarID).Scan(&n)
	return n, err
}

// --- helpers ----------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*core.CalendarAccount, error) {
	var acct core.CalendarAccount
	var provider, tokenExpiry, syncStatus, createdAt, updatedAt string
	var active int

	err := row.Scan(&acct.ID, &acct.UserID, &provider, &acct.ProviderAccountID,
		&acct.Email, &acct.Credentials, &tokenExpiry, &syncStatus, &acct.SyncError,
		&active, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	acct.Provider = core.ProviderKind(provider)
	acct.SyncStatus = core.SyncStatus(syncStatus)
	acct.IsActive = active != 0
	acct.TokenExpiry = parseTime(tokenExpiry)
	acct.CreatedAt = parseTime(createdAt)
	acct.UpdatedAt = parseTime(updatedAt)
	return &acct, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
