// Package sync runs full account sync passes: fetch changes from the
// provider, apply them to local storage, and advance continuation tokens.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stitchcal/stitch/internal/adapter"
	"github.com/stitchcal/stitch/internal/core"
	"github.com/stitchcal/stitch/internal/metrics"
	"github.com/stitchcal/stitch/internal/util"
)

// refreshSkew forces a token refresh when the access token expires within
// this horizon, so it cannot lapse mid-pass.
const refreshSkew = 2 * time.Minute

// maxSyncErrorBytes bounds the persisted failure message.
const maxSyncErrorBytes = 500

// Notifier receives sync outcomes for realtime fan-out.
type Notifier interface {
	Publish(userID, event string, payload any)
}

// CredentialBox seals and opens stored credential blobs.
type CredentialBox interface {
	SealCredentials(core.Credentials) ([]byte, error)
	OpenCredentials([]byte) (core.Credentials, error)
}

// Stats summarizes one completed pass.
type Stats struct {
	Upserted int
	Deleted  int
}

// Orchestrator drives account sync passes against the stores.
type Orchestrator struct {
	accounts  core.AccountStore
	calendars core.CalendarStore
	events    core.EventStore
	providers adapter.Factory
	box       CredentialBox
	notifier  Notifier
	log       *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

func NewOrchestrator(
	accounts core.AccountStore,
	calendars core.CalendarStore,
	events core.EventStore,
	providers adapter.Factory,
	box CredentialBox,
	notifier Notifier,
	log *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		accounts:  accounts,
		calendars: calendars,
		events:    events,
		providers: providers,
		box:       box,
		notifier:  notifier,
		log:       log,
		now:       time.Now,
	}
}

// calendarFetch pairs a calendar with the changes fetched for it.
type calendarFetch struct {
	calendar core.Calendar
	result   core.SyncResult
}

// SyncAccount runs one full pass for an account. A pass that cannot acquire
// the syncing state (already running, or account inactive) is a silent no-op.
func (o *Orchestrator) SyncAccount(ctx context.Context, accountID string) (Stats, error) {
	acct, err := o.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return Stats{}, &core.SyncError{AccountID: accountID, Kind: core.KindInternal, Err: err}
	}
	if !acct.IsActive {
		o.log.Debug("skipping sync for inactive account", "account", accountID)
		return Stats{}, nil
	}

	ok, err := o.accounts.BeginSync(ctx, accountID)
	if err != nil {
		return Stats{}, &core.SyncError{AccountID: accountID, Kind: core.KindInternal, Err: err}
	}
	if !ok {
		o.log.Debug("sync already in progress", "account", accountID)
		return Stats{}, nil
	}

	start := o.now()
	stats, err := o.runPass(ctx, acct)
	if err != nil {
		kind := core.ClassifyError(err)
		msg := util.Truncate(err.Error(), maxSyncErrorBytes)
		if ferr := o.accounts.FinishSync(ctx, accountID, core.SyncFailed, msg); ferr != nil {
			o.log.Error("recording sync failure", "account", accountID, "error", ferr)
		}
		metrics.ObserveSyncPass(string(acct.Provider), "error", o.now().Sub(start))
		metrics.RecordSyncError(string(kind))
		o.log.Error("sync pass failed", "account", accountID, "kind", string(kind), "error", err)
		return Stats{}, &core.SyncError{AccountID: accountID, Kind: kind, Err: err}
	}

	if err := o.accounts.FinishSync(ctx, accountID, core.SyncIdle, ""); err != nil {
		return stats, &core.SyncError{AccountID: accountID, Kind: core.KindInternal, Err: err}
	}

	metrics.ObserveSyncPass(string(acct.Provider), "ok", o.now().Sub(start))
	metrics.RecordApplied(stats.Upserted, stats.Deleted)
	o.log.Info("sync pass complete",
		"account", accountID, "provider", string(acct.Provider),
		"upserted", stats.Upserted, "deleted", stats.Deleted)

	o.notifier.Publish(acct.UserID, "calendar:synced", map[string]any{
		"accountId": accountID,
		"upserted":  stats.Upserted,
		"deleted":   stats.Deleted,
	})
	return stats, nil
}

func (o *Orchestrator) runPass(ctx context.Context, acct *core.CalendarAccount) (Stats, error) {
	provider, err := o.providers(acct.Provider)
	if err != nil {
		return Stats{}, err
	}

	creds, err := o.box.OpenCredentials(acct.Credentials)
	if err != nil {
		return Stats{}, fmt.Errorf("opening credentials: %w", err)
	}

	creds, err = o.freshCredentials(ctx, provider, acct, creds)
	if err != nil {
		return Stats{}, err
	}

	cals, err := o.calendars.ListEnabledCalendars(ctx, acct.ID)
	if err != nil {
		return Stats{}, fmt.Errorf("listing calendars: %w", err)
	}
	if len(cals) == 0 {
		return Stats{}, nil
	}

	// Fetch all calendars concurrently; application stays sequential so the
	// pass is deterministic.
	fetches := make([]calendarFetch, len(cals))
	g, gctx := errgroup.WithContext(ctx)
	for i, cal := range cals {
		g.Go(func() error {
			res, err := o.fetchCalendar(gctx, provider, creds, cal)
			if err != nil {
				return fmt.Errorf("calendar %s: %w", cal.ExternalID, err)
			}
			fetches[i] = calendarFetch{calendar: cal, result: res}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}

	// Stable order regardless of fetch completion order.
	sort.Slice(fetches, func(i, j int) bool {
		return fetches[i].calendar.ExternalID < fetches[j].calendar.ExternalID
	})

	var stats Stats
	for _, f := range fetches {
		if err := o.applyCalendar(ctx, acct, f); err != nil {
			return stats, err
		}
		stats.Upserted += len(f.result.Events)
		stats.Deleted += len(f.result.Deleted)
	}
	return stats, nil
}

// freshCredentials refreshes OAuth tokens that are expired or about to
// expire, re-sealing the result before use.
func (o *Orchestrator) freshCredentials(ctx context.Context, provider core.Provider, acct *core.CalendarAccount, creds core.Credentials) (core.Credentials, error) {
	if !acct.Provider.UsesOAuth() {
		return creds, nil
	}
	if !creds.Expiry.IsZero() && o.now().Add(refreshSkew).Before(creds.Expiry) {
		return creds, nil
	}

	refreshed, err := provider.RefreshTokens(ctx, creds)
	if err != nil {
		return core.Credentials{}, fmt.Errorf("refreshing tokens: %w", err)
	}

	sealed, err := o.box.SealCredentials(refreshed)
	if err != nil {
		return core.Credentials{}, fmt.Errorf("sealing refreshed credentials: %w", err)
	}
	if err := o.accounts.UpdateCredentials(ctx, acct.ID, sealed, refreshed.Expiry); err != nil {
		return core.Credentials{}, fmt.Errorf("persisting refreshed credentials: %w", err)
	}

	o.log.Debug("refreshed provider tokens", "account", acct.ID)
	return refreshed, nil
}

// fetchCalendar lists changes for one calendar, falling back to a full
// window fetch exactly once when the stored continuation token is rejected.
func (o *Orchestrator) fetchCalendar(ctx context.Context, provider core.Provider, creds core.Credentials, cal core.Calendar) (core.SyncResult, error) {
	opts := o.windowOptions()
	if cal.SyncToken != "" {
		opts = core.ListOptions{SyncToken: cal.SyncToken}
	}

	res, err := provider.ListEvents(ctx, creds, cal.ExternalID, opts)
	if errors.Is(err, core.ErrSyncTokenInvalid) {
		o.log.Info("continuation token rejected, refetching window",
			"calendar", cal.ExternalID)
		res, err = provider.ListEvents(ctx, creds, cal.ExternalID, o.windowOptions())
	}
	return res, err
}

// applyCalendar writes one calendar's changes: upserts, then deletions, then
// the continuation token. The token goes last so a crash mid-apply replays
// the same changes instead of losing them.
func (o *Orchestrator) applyCalendar(ctx context.Context, acct *core.CalendarAccount, f calendarFetch) error {
	if err := o.events.UpsertEvents(ctx, acct.UserID, f.calendar.ID, f.result.Events); err != nil {
		return fmt.Errorf("applying events for %s: %w", f.calendar.ExternalID, err)
	}
	if err := o.events.DeleteByExternalID(ctx, acct.UserID, f.calendar.ID, f.result.Deleted); err != nil {
		return fmt.Errorf("applying deletions for %s: %w", f.calendar.ExternalID, err)
	}
	if f.result.NextSyncToken != "" && f.result.NextSyncToken != f.calendar.SyncToken {
		if err := o.calendars.SaveSyncToken(ctx, f.calendar.ID, f.result.NextSyncToken); err != nil {
			return fmt.Errorf("saving sync token for %s: %w", f.calendar.ExternalID, err)
		}
	}
	return nil
}

func (o *Orchestrator) windowOptions() core.ListOptions {
	from, to := core.DefaultWindow(o.now())
	return core.WindowOptions(from, to)
}
