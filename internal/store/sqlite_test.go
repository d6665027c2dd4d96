package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stitchcal/stitch/internal/core"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "stitch.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedAccount(t *testing.T, s *Store) *core.CalendarAccount {
	t.Helper()
	acct, err := s.UpsertAccount(context.Background(), &core.CalendarAccount{
		UserID:            "user-1",
		Provider:          core.ProviderGoogle,
		ProviderAccountID: "g-123",
		Email:             "a@example.com",
		Credentials:       []byte("sealed"),
		IsActive:          true,
	})
	if err != nil {
		t.Fatalf("UpsertAccount: %v", err)
	}
	return acct
}

func TestUpsertAccountIsIdempotentPerIdentity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := seedAccount(t, s)

	// Same (user, provider, provider account id): the row is refreshed, not
	// duplicated, and the original local id survives.
	second, err := s.UpsertAccount(ctx, &core.CalendarAccount{
		UserID:            "user-1",
		Provider:          core.ProviderGoogle,
		ProviderAccountID: "g-123",
		Email:             "renamed@example.com",
		Credentials:       []byte("resealed"),
		IsActive:          true,
	})
	if err != nil {
		t.Fatalf("second UpsertAccount: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("local id changed on reconnect: %s != %s", second.ID, first.ID)
	}
	if second.Email != "renamed@example.com" {
		t.Errorf("email = %q, want renamed@example.com", second.Email)
	}

	accounts, err := s.ListActiveAccounts(ctx)
	if err != nil {
		t.Fatalf("ListActiveAccounts: %v", err)
	}
	if len(accounts) != 1 {
		t.Errorf("have %d accounts, want 1", len(accounts))
	}
}

func TestBeginSyncIsExclusive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	acct := seedAccount(t, s)

	ok, err := s.BeginSync(ctx, acct.ID)
	if err != nil || !ok {
		t.Fatalf("first BeginSync = (%v, %v), want (true, nil)", ok, err)
	}

	// Second acquisition must fail while the first pass runs.
	ok, err = s.BeginSync(ctx, acct.ID)
	if err != nil {
		t.Fatalf("second BeginSync: %v", err)
	}
	if ok {
		t.Error("second BeginSync succeeded while account was syncing")
	}

	if err := s.FinishSync(ctx, acct.ID, core.SyncIdle, ""); err != nil {
		t.Fatalf("FinishSync: %v", err)
	}

	ok, err = s.BeginSync(ctx, acct.ID)
	if err != nil || !ok {
		t.Errorf("BeginSync after finish = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestBeginSyncRejectsInactiveAccount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	acct := seedAccount(t, s)

	if err := s.Deactivate(ctx, acct.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}

	ok, err := s.BeginSync(ctx, acct.ID)
	if err != nil {
		t.Fatalf("BeginSync: %v", err)
	}
	if ok {
		t.Error("BeginSync succeeded for a deactivated account")
	}
}

func TestFinishSyncRecordsError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	acct := seedAccount(t, s)

	if _, err := s.BeginSync(ctx, acct.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.FinishSync(ctx, acct.ID, core.SyncFailed, "provider_unreachable: dial tcp"); err != nil {
		t.Fatalf("FinishSync: %v", err)
	}

	got, err := s.GetAccount(ctx, acct.ID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.SyncStatus != core.SyncFailed {
		t.Errorf("status = %s, want error", got.SyncStatus)
	}
	if got.SyncError != "provider_unreachable: dial tcp" {
		t.Errorf("sync error = %q", got.SyncError)
	}
}

func TestUpsertCalendarsPreservesLocalState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	acct := seedAccount(t, s)

	discovered := []core.Calendar{
		{ExternalID: "work", Name: "Work", IsEnabled: true},
	}
	if err := s.UpsertCalendars(ctx, acct.ID, discovered); err != nil {
		t.Fatalf("UpsertCalendars: %v", err)
	}

	cals, err := s.ListEnabledCalendars(ctx, acct.ID)
	if err != nil || len(cals) != 1 {
		t.Fatalf("ListEnabledCalendars = (%v, %v), want one calendar", cals, err)
	}
	if err := s.SaveSyncToken(ctx, cals[0].ID, "tok-1"); err != nil {
		t.Fatalf("SaveSyncToken: %v", err)
	}
	if err := s.SetCalendarEnabled(ctx, cals[0].ID, false); err != nil {
		t.Fatalf("SetCalendarEnabled: %v", err)
	}

	// Re-discovery renames the calendar but must not resurrect is_enabled or
	// clobber the continuation token.
	discovered[0].Name = "Work (renamed)"
	if err := s.UpsertCalendars(ctx, acct.ID, discovered); err != nil {
		t.Fatalf("second UpsertCalendars: %v", err)
	}

	if enabled, err := s.ListEnabledCalendars(ctx, acct.ID); err != nil || len(enabled) != 0 {
		t.Errorf("disabled calendar came back enabled after re-discovery: %v, %v", enabled, err)
	}

	if err := s.SetCalendarEnabled(ctx, cals[0].ID, true); err != nil {
		t.Fatal(err)
	}
	after, err := s.ListEnabledCalendars(ctx, acct.ID)
	if err != nil || len(after) != 1 {
		t.Fatalf("ListEnabledCalendars after re-enable: %v, %v", after, err)
	}
	if after[0].SyncToken != "tok-1" {
		t.Errorf("sync token = %q, want tok-1", after[0].SyncToken)
	}
	if after[0].Name != "Work (renamed)" {
		t.Errorf("name = %q, want the re-discovered name", after[0].Name)
	}
	if after[0].ID != cals[0].ID {
		t.Errorf("local calendar id changed on re-discovery")
	}
}

func TestUpsertEventsIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	acct := seedAccount(t, s)

	if err := s.UpsertCalendars(ctx, acct.ID, []core.Calendar{{ExternalID: "work", IsEnabled: true}}); err != nil {
		t.Fatal(err)
	}
	cals, _ := s.ListEnabledCalendars(ctx, acct.ID)
	calID := cals[0].ID

	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	ev := core.CanonicalEvent{
		ExternalID: "ev-1",
		Title:      "Standup",
		Start:      start,
		End:        start.Add(30 * time.Minute),
		Status:     core.StatusConfirmed,
	}

	if err := s.UpsertEvents(ctx, "user-1", calID, []core.CanonicalEvent{ev}); err != nil {
		t.Fatalf("UpsertEvents: %v", err)
	}

	// Same external id again with a changed title: one row, updated in place.
	ev.Title = "Standup (moved)"
	if err := s.UpsertEvents(ctx, "user-1", calID, []core.CanonicalEvent{ev}); err != nil {
		t.Fatalf("second UpsertEvents: %v", err)
	}

	n, err := s.CountEvents(ctx, calID)
	if err != nil {
		t.Fatalf("CountEvents: %v", err)
	}
	if n != 1 {
		t.Errorf("have %d events, want 1", n)
	}
}

func TestDeleteByExternalID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	acct := seedAccount(t, s)

	if err := s.UpsertCalendars(ctx, acct.ID, []core.Calendar{{ExternalID: "work", IsEnabled: true}}); err != nil {
		t.Fatal(err)
	}
	cals, _ := s.ListEnabledCalendars(ctx, acct.ID)
	calID := cals[0].ID

	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	events := []core.CanonicalEvent{
		{ExternalID: "keep", Start: start, End: start.Add(time.Hour)},
		{ExternalID: "drop", Start: start, End: start.Add(time.Hour)},
	}
	if err := s.UpsertEvents(ctx, "user-1", calID, events); err != nil {
		t.Fatal(err)
	}

	// Deleting an unknown id alongside a real one is not an error.
	if err := s.DeleteByExternalID(ctx, "user-1", calID, []string{"drop", "never-existed"}); err != nil {
		t.Fatalf("DeleteByExternalID: %v", err)
	}

	n, _ := s.CountEvents(ctx, calID)
	if n != 1 {
		t.Errorf("have %d events after delete, want 1", n)
	}
}
