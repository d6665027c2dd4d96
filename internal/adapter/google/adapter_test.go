package google

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/stitchcal/stitch/internal/core"
)

func testAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	a := New("client-id", "client-secret", "http://localhost/connect/google/callback")
	a.endpoint = srv.URL + "/"
	return a
}

func windowOpts() core.ListOptions {
	from, to := core.DefaultWindow(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))
	return core.WindowOptions(from, to)
}

func TestAuthURLRequestsOfflineConsent(t *testing.T) {
	a := New("client-id", "client-secret", "http://localhost/cb")
	u, err := a.AuthURL("state-123")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"access_type=offline", "prompt=consent", "state=state-123"} {
		if !strings.Contains(u, want) {
			t.Errorf("auth URL missing %q: %s", want, u)
		}
	}
}

func TestListEventsParsesWindowPage(t *testing.T) {
	var gotQuery map[string][]string
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{
					"id":      "timed-1",
					"status":  "confirmed",
					"summary": "Design review",
					"start":   map[string]string{"dateTime": "2026-03-16T14:00:00+01:00"},
					"end":     map[string]string{"dateTime": "2026-03-16T15:00:00+01:00"},
					"attendees": []map[string]any{
						{"self": true, "responseStatus": "accepted"},
						{"self": false, "responseStatus": "declined"},
					},
				},
				{
					"id":     "allday-1",
					"status": "confirmed",
					"start":  map[string]string{"date": "2026-03-10"},
					"end":    map[string]string{"date": "2026-03-11"},
				},
				{
					"id":     "cancelled-1",
					"status": "cancelled",
				},
			},
			"nextSyncToken": "sync-token-1",
		})
	})

	res, err := a.ListEvents(context.Background(), core.Credentials{AccessToken: "tok"}, "primary", windowOpts())
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}

	if gotQuery["singleEvents"] == nil || gotQuery["singleEvents"][0] != "true" {
		t.Error("singleEvents not requested")
	}
	if gotQuery["showDeleted"] == nil || gotQuery["showDeleted"][0] != "true" {
		t.Error("showDeleted not requested")
	}
	if gotQuery["timeMin"] == nil || gotQuery["timeMax"] == nil {
		t.Error("window bounds not sent")
	}

	if len(res.Events) != 2 {
		t.Fatalf("have %d events, want 2", len(res.Events))
	}

	timed := res.Events[0]
	if timed.Response != core.ResponseAccepted {
		t.Errorf("response = %q, want accepted (the self attendee)", timed.Response)
	}
	wantStart := time.Date(2026, 3, 16, 13, 0, 0, 0, time.UTC)
	if !timed.Start.Equal(wantStart) {
		t.Errorf("timed start = %v, want %v (normalized to UTC)", timed.Start, wantStart)
	}

	allDay := res.Events[1]
	if !allDay.AllDay {
		t.Error("bare-date event not flagged all-day")
	}
	wantMidnight := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	if !allDay.Start.Equal(wantMidnight) {
		t.Errorf("all-day start = %v, want UTC midnight %v", allDay.Start, wantMidnight)
	}

	if len(res.Deleted) != 1 || res.Deleted[0] != "cancelled-1" {
		t.Errorf("deleted = %v, want [cancelled-1]", res.Deleted)
	}
	if res.NextSyncToken != "sync-token-1" {
		t.Errorf("next sync token = %q", res.NextSyncToken)
	}
}

func TestListEventsFollowsPagination(t *testing.T) {
	calls := 0
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Query().Get("pageToken") == "" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{{
					"id":     "p1",
					"status": "confirmed",
					"start":  map[string]string{"dateTime": "2026-03-16T14:00:00Z"},
					"end":    map[string]string{"dateTime": "2026-03-16T15:00:00Z"},
				}},
				"nextPageToken": "page-2",
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{{
				"id":     "p2",
				"status": "confirmed",
				"start":  map[string]string{"dateTime": "2026-03-17T14:00:00Z"},
				"end":    map[string]string{"dateTime": "2026-03-17T15:00:00Z"},
			}},
			"nextSyncToken": "final-token",
		})
	})

	res, err := a.ListEvents(context.Background(), core.Credentials{AccessToken: "tok"}, "primary", windowOpts())
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if calls != 2 {
		t.Errorf("made %d requests, want 2", calls)
	}
	if len(res.Events) != 2 {
		t.Errorf("have %d events across pages, want 2", len(res.Events))
	}
	if res.NextSyncToken != "final-token" {
		t.Errorf("next sync token = %q, want the last page's", res.NextSyncToken)
	}
}

func TestListEventsExpiredSyncToken(t *testing.T) {
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
		_, _ = w.Write([]byte(`{"error":{"code":410,"message":"Sync token is no longer valid"}}`))
	})

	_, err := a.ListEvents(context.Background(), core.Credentials{AccessToken: "tok"}, "primary",
		core.ListOptions{SyncToken: "stale-token"})
	if !errors.Is(err, core.ErrSyncTokenInvalid) {
		t.Errorf("error = %v, want ErrSyncTokenInvalid", err)
	}
}

func TestListEventsClassifiesAuthFailure(t *testing.T) {
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":401,"message":"Invalid Credentials"}}`))
	})

	_, err := a.ListEvents(context.Background(), core.Credentials{AccessToken: "bad"}, "primary", windowOpts())
	var pe *core.ProviderError
	if !errors.As(err, &pe) || pe.Code != core.FailCredentialInvalid {
		t.Errorf("error = %v, want credential_invalid", err)
	}
}

func TestListEventsSkipsMalformedRecords(t *testing.T) {
	// An event whose end precedes its start is dropped; the page survives.
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{
					"id":     "backwards",
					"status": "confirmed",
					"start":  map[string]string{"dateTime": "2026-03-16T15:00:00Z"},
					"end":    map[string]string{"dateTime": "2026-03-16T14:00:00Z"},
				},
				{
					"id":     "fine",
					"status": "confirmed",
					"start":  map[string]string{"dateTime": "2026-03-16T14:00:00Z"},
					"end":    map[string]string{"dateTime": "2026-03-16T15:00:00Z"},
				},
			},
		})
	})

	res, err := a.ListEvents(context.Background(), core.Credentials{AccessToken: "tok"}, "primary", windowOpts())
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(res.Events) != 1 || res.Events[0].ExternalID != "fine" {
		t.Errorf("events = %+v, want only the well-formed one", res.Events)
	}
}

func TestParseEventKeepsRuleVerbatim(t *testing.T) {
	item := &calendar.Event{
		Id:         "rec-1",
		Status:     "confirmed",
		Start:      &calendar.EventDateTime{DateTime: "2026-03-16T14:00:00Z"},
		End:        &calendar.EventDateTime{DateTime: "2026-03-16T15:00:00Z"},
		Recurrence: []string{"EXDATE:20260323T140000Z", "RRULE:FREQ=WEEKLY;BYDAY=MO,WE,FR"},
	}

	ev, err := parseEvent(item)
	if err != nil {
		t.Fatal(err)
	}
	if ev.RecurrenceRule != "FREQ=WEEKLY;BYDAY=MO,WE,FR" {
		t.Errorf("rule = %q, want the RRULE body verbatim", ev.RecurrenceRule)
	}
}
