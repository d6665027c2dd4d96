package core

import (
	"context"
	"time"
)

// ListOptions configures one ListEvents call. Exactly one mode is meaningful
// at a time: a continuation token resumes a prior sync and takes precedence;
// otherwise the From/To window bounds a full fetch.
type ListOptions struct {
	SyncToken string

	From time.Time
	To   time.Time
}

// WindowOptions returns options for a full time-window fetch.
func WindowOptions(from, to time.Time) ListOptions {
	return ListOptions{From: from, To: to}
}

// DefaultWindow is the bounded window used when no continuation token is
// stored: 30 days into the past, 90 days into the future.
func DefaultWindow(now time.Time) (time.Time, time.Time) {
	return now.AddDate(0, 0, -30), now.AddDate(0, 0, 90)
}

// Provider is the capability contract every calendar backend implements.
//
// OAuth providers (Google, Outlook) implement all five operations. The CalDAV
// provider implements only ListCalendars/ListEvents; its OAuth operations
// fail fast with ErrNotSupported because it authenticates with a static
// app-specific password.
type Provider interface {
	Kind() ProviderKind

	// AuthURL returns the provider consent URL carrying the anti-CSRF state.
	AuthURL(state string) (string, error)

	// ExchangeCode trades an authorization code for credentials and resolves
	// the identity they belong to.
	ExchangeCode(ctx context.Context, code string) (Credentials, Identity, error)

	// RefreshTokens obtains fresh access credentials from a refresh token.
	RefreshTokens(ctx context.Context, creds Credentials) (Credentials, error)

	// ListCalendars enumerates the calendars the credential can read.
	ListCalendars(ctx context.Context, creds Credentials) ([]Calendar, error)

	// ListEvents fetches changes for one calendar, following provider
	// pagination until exhausted. It signals ErrSyncTokenInvalid (not a
	// generic error) when the provider rejects a stored continuation token,
	// so the caller can retry once in window mode.
	ListEvents(ctx context.Context, creds Credentials, calendarID string, opts ListOptions) (SyncResult, error)
}
