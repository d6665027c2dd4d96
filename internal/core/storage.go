package core

import (
	"context"
	"time"
)

// AccountStore persists CalendarAccounts. The sync status column doubles as
// the single-writer guard for sync passes.
type AccountStore interface {
	GetAccount(ctx context.Context, id string) (*CalendarAccount, error)

	// UpsertAccount creates the account or, if the (user, provider, provider
	// account id) pair already exists, refreshes its credentials and identity.
	// The stored account is returned so callers see the surviving local id.
	UpsertAccount(ctx context.Context, acct *CalendarAccount) (*CalendarAccount, error)

	UpdateCredentials(ctx context.Context, id string, sealed []byte, expiry time.Time) error

	// BeginSync atomically moves an active, non-syncing account to the
	// syncing state. It reports false when the account is already syncing or
	// inactive, in which case the caller must skip the pass.
	BeginSync(ctx context.Context, id string) (bool, error)

	// FinishSync records the terminal state of a pass: idle on success, or
	// error plus a bounded message on failure.
	FinishSync(ctx context.Context, id string, status SyncStatus, syncErr string) error

	ListActiveAccounts(ctx context.Context) ([]CalendarAccount, error)
}

// CalendarStore persists the per-account calendar list and continuation
// tokens.
type CalendarStore interface {
	// UpsertCalendars refreshes discovered calendars, preserving the local
	// is-enabled flag and sync token of calendars that already exist.
	UpsertCalendars(ctx context.Context, accountID string, cals []Calendar) error

	ListEnabledCalendars(ctx context.Context, accountID string) ([]Calendar, error)

	// SaveSyncToken persists a calendar's continuation token. Called only
	// after the events and deletions the token describes are durably applied.
	SaveSyncToken(ctx context.Context, calendarID, token string) error
}

// EventStore persists canonical events. Upsert is keyed by
// (calendar id, external id) and must be idempotent.
type EventStore interface {
	UpsertEvents(ctx context.Context, userID, calendarID string, events []CanonicalEvent) error
	DeleteByExternalID(ctx context.Context, userID, calendarID string, externalIDs []string) error
}
