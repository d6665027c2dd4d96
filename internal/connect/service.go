// Package connect implements the account handshake: OAuth initiate/callback
// for Google and Outlook, and credential validation for iCloud CalDAV.
package connect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stitchcal/stitch/internal/adapter"
	"github.com/stitchcal/stitch/internal/adapter/icloud"
	"github.com/stitchcal/stitch/internal/core"
	"github.com/stitchcal/stitch/internal/oauthstate"
)

// ErrStateInvalid reports a callback whose state token is unknown, expired,
// or already consumed.
var ErrStateInvalid = errors.New("oauth state invalid or expired")

// CredentialBox seals credentials before they reach the account store.
type CredentialBox interface {
	SealCredentials(core.Credentials) ([]byte, error)
}

// Submitter accepts accounts for background sync.
type Submitter interface {
	Submit(accountID string) error
}

// Service owns the connect flows.
type Service struct {
	accounts  core.AccountStore
	calendars core.CalendarStore
	states    *oauthstate.Store
	providers adapter.Factory
	box       CredentialBox
	queue     Submitter
	log       *slog.Logger
}

func NewService(
	accounts core.AccountStore,
	calendars core.CalendarStore,
	states *oauthstate.Store,
	providers adapter.Factory,
	box CredentialBox,
	queue Submitter,
	log *slog.Logger,
) *Service {
	return &Service{
		accounts:  accounts,
		calendars: calendars,
		states:    states,
		providers: providers,
		box:       box,
		queue:     queue,
		log:       log,
	}
}

// BeginConnect starts an OAuth handshake: mint a state token and return the
// provider consent URL to redirect the user to.
func (s *Service) BeginConnect(ctx context.Context, userID string, kind core.ProviderKind) (string, error) {
	if !kind.UsesOAuth() {
		return "", fmt.Errorf("provider %s does not use the oauth flow", kind)
	}

	provider, err := s.providers(kind)
	if err != nil {
		return "", err
	}

	state, err := s.states.Create(ctx, userID, kind)
	if err != nil {
		return "", fmt.Errorf("creating oauth state: %w", err)
	}

	return provider.AuthURL(state)
}

// CompleteConnect finishes the OAuth handshake on provider callback. The
// state token is consumed whether or not the exchange succeeds.
func (s *Service) CompleteConnect(ctx context.Context, kind core.ProviderKind, state, code string) (*core.CalendarAccount, error) {
	rec, err := s.states.Validate(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("validating oauth state: %w", err)
	}
	if rec == nil || rec.Provider != kind {
		return nil, ErrStateInvalid
	}
	if err := s.states.Delete(ctx, state); err != nil {
		return nil, fmt.Errorf("consuming oauth state: %w", err)
	}

	provider, err := s.providers(kind)
	if err != nil {
		return nil, err
	}

	creds, identity, err := provider.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}

	return s.register(ctx, provider, rec.UserID, creds, identity)
}

// ConnectCalDAV registers an iCloud account from an app-specific password.
// The credential is validated by listing calendars before anything is stored.
func (s *Service) ConnectCalDAV(ctx context.Context, userID, username, password, serverURL string) (*core.CalendarAccount, error) {
	provider, err := s.providers(core.ProviderICloud)
	if err != nil {
		return nil, err
	}

	creds := core.Credentials{
		Username:  username,
		Password:  password,
		ServerURL: serverURL,
	}

	cals, err := provider.ListCalendars(ctx, creds)
	if err != nil {
		return nil, err
	}
	if len(cals) == 0 {
		return nil, &core.ProviderError{
			Code: core.FailValidation,
			Hint: icloud.PasswordHint,
			Err:  errors.New("no calendars visible to this login"),
		}
	}

	identity := core.Identity{ProviderAccountID: username, Email: username}
	return s.registerWithCalendars(ctx, provider, userID, creds, identity, cals)
}

func (s *Service) register(ctx context.Context, provider core.Provider, userID string, creds core.Credentials, identity core.Identity) (*core.CalendarAccount, error) {
	cals, err := provider.ListCalendars(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("bootstrapping calendar list: %w", err)
	}
	return s.registerWithCalendars(ctx, provider, userID, creds, identity, cals)
}

func (s *Service) registerWithCalendars(ctx context.Context, provider core.Provider, userID string, creds core.Credentials, identity core.Identity, cals []core.Calendar) (*core.CalendarAccount, error) {
	sealed, err := s.box.SealCredentials(creds)
	if err != nil {
		return nil, fmt.Errorf("sealing credentials: %w", err)
	}

	acct, err := s.accounts.UpsertAccount(ctx, &core.CalendarAccount{
		UserID:            userID,
		Provider:          provider.Kind(),
		ProviderAccountID: identity.ProviderAccountID,
		Email:             identity.Email,
		Credentials:       sealed,
		TokenExpiry:       creds.Expiry,
		SyncStatus:        core.SyncIdle,
		IsActive:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("storing account: %w", err)
	}

	if err := s.calendars.UpsertCalendars(ctx, acct.ID, cals); err != nil {
		return nil, fmt.Errorf("storing calendars: %w", err)
	}

	s.log.Info("account connected",
		"account", acct.ID, "provider", string(acct.Provider), "calendars", len(cals))

	// Kick off the initial sync. A full queue is not fatal to the connect:
	// the cron refresher will pick the account up.
	if err := s.queue.Submit(acct.ID); err != nil {
		s.log.Warn("initial sync not queued", "account", acct.ID, "error", err)
	}
	return acct, nil
}
