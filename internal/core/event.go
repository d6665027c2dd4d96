package core

import (
	"time"
)

// ProviderKind discriminates the supported calendar backends. It is stored on
// every CalendarAccount and used by the adapter factory to pick the
// implementation, so adding a provider is a closed change in one place.
type ProviderKind string

const (
	ProviderGoogle  ProviderKind = "google"
	ProviderOutlook ProviderKind = "outlook"
	ProviderICloud  ProviderKind = "icloud"
)

// Valid reports whether k names a known provider.
func (k ProviderKind) Valid() bool {
	switch k {
	case ProviderGoogle, ProviderOutlook, ProviderICloud:
		return true
	}
	return false
}

// UsesOAuth reports whether the provider authenticates via the OAuth2
// authorization-code flow. iCloud uses static app-specific-password
// credentials instead.
func (k ProviderKind) UsesOAuth() bool {
	return k == ProviderGoogle || k == ProviderOutlook
}

// SyncStatus is the per-account sync state machine: idle → syncing → {idle, error}.
type SyncStatus string

const (
	SyncIdle    SyncStatus = "idle"
	SyncSyncing SyncStatus = "syncing"
	SyncFailed  SyncStatus = "error"
)

// EventStatus is the provider-reported state of an event.
type EventStatus string

const (
	StatusConfirmed EventStatus = "confirmed"
	StatusTentative EventStatus = "tentative"
	StatusCancelled EventStatus = "cancelled"
)

// ResponseStatus is the authenticated user's own reply to an invitation.
// Empty means the provider reported none.
type ResponseStatus string

const (
	ResponseAccepted    ResponseStatus = "accepted"
	ResponseDeclined    ResponseStatus = "declined"
	ResponseTentative   ResponseStatus = "tentative"
	ResponseNeedsAction ResponseStatus = "needsAction"
	ResponseNone        ResponseStatus = ""
)

// CalendarAccount links one external calendar identity to a user. One user may
// own many accounts, but at most one per (provider, provider account id) pair.
type CalendarAccount struct {
	ID     string
	UserID string

	Provider ProviderKind
	// Stable account identifier assigned by the provider (Google subject id,
	// Graph user id, or the CalDAV username).
	ProviderAccountID string
	Email             string

	// Sealed credential blob. Raw tokens are never persisted.
	Credentials []byte
	TokenExpiry time.Time

	SyncStatus SyncStatus
	// Last failure message, truncated before storage. Empty when healthy.
	SyncError string
	IsActive  bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Credentials is the decrypted credential set handed to adapters. OAuth
// providers use the token fields; CalDAV uses username/password/server.
type Credentials struct {
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`

	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
	ServerURL string `json:"server_url,omitempty"`
}

// Identity is who the provider says the credential belongs to.
type Identity struct {
	ProviderAccountID string
	Email             string
}

// Calendar is one calendar inside a CalendarAccount. SyncToken is the only
// field ordinary sync passes mutate; the rest is refreshed whenever the
// account's calendar list is re-fetched.
type Calendar struct {
	ID         string
	AccountID  string
	ExternalID string

	Name       string
	Color      string
	IsReadOnly bool
	IsEnabled  bool

	// Opaque provider continuation token: a Google sync token, a Graph delta
	// URL, or empty for CalDAV.
	SyncToken string
}

// CanonicalEvent is the provider-agnostic event form every adapter produces.
// ExternalID is unique per (calendar, external id) and is the upsert key; it
// is never used as the local primary identity.
type CanonicalEvent struct {
	ExternalID string

	Title       string
	Description string
	Location    string

	Start  time.Time
	End    time.Time
	AllDay bool
	// IANA zone name when the provider reported one; not always recoverable.
	Timezone string

	// RFC 5545 RRULE body (without the "RRULE:" prefix), when recurring.
	RecurrenceRule string
	// External id of the parent recurring event for expanded instances.
	RecurringEventID string

	Status   EventStatus
	Response ResponseStatus

	// Provider web link to the event page, when available.
	Link string
	// Opaque change fingerprint; CalDAV relies on it for idempotent
	// re-processing since it has no continuation tokens.
	ETag string
}

// SyncResult is what one ListEvents call produces for one calendar. It is
// consumed immediately by the orchestrator and never persisted as-is.
type SyncResult struct {
	Events  []CanonicalEvent
	Deleted []string
	// Continuation token for the next incremental pass. Empty when the
	// provider has none (CalDAV always).
	NextSyncToken string
}
