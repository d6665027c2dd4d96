// Package icloud implements the calendar provider for Apple iCloud over
// CalDAV. There is no OAuth flow: the credential is an Apple ID plus an
// app-specific password, and there is no protocol-level continuation token —
// every sync is a time-windowed re-fetch made idempotent by per-object ETags.
package icloud

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	"github.com/stitchcal/stitch/internal/core"
)

// DefaultServerURL is Apple's CalDAV endpoint.
const DefaultServerURL = "https://caldav.icloud.com"

// PasswordHint is surfaced on 401-class failures; logging in with the Apple
// account password instead of an app-specific password is the most common
// integration failure.
const PasswordHint = "use an app-specific password from appleid.apple.com, not your Apple account password"

type Adapter struct {
	serverURL string
}

func New(serverURL string) *Adapter {
	if serverURL == "" {
		serverURL = DefaultServerURL
	}
	return &Adapter{serverURL: serverURL}
}

func (a *Adapter) Kind() core.ProviderKind { return core.ProviderICloud }

func (a *Adapter) AuthURL(string) (string, error) {
	return "", fmt.Errorf("icloud: auth url: %w", core.ErrNotSupported)
}

func (a *Adapter) ExchangeCode(context.Context, string) (core.Credentials, core.Identity, error) {
	return core.Credentials{}, core.Identity{}, fmt.Errorf("icloud: code exchange: %w", core.ErrNotSupported)
}

func (a *Adapter) RefreshTokens(context.Context, core.Credentials) (core.Credentials, error) {
	return core.Credentials{}, fmt.Errorf("icloud: token refresh: %w", core.ErrNotSupported)
}

// ListCalendars walks the standard CalDAV discovery chain: current user
// principal, calendar home set, then the calendar collections inside it.
func (a *Adapter) ListCalendars(ctx context.Context, creds core.Credentials) ([]core.Calendar, error) {
	client, err := a.connect(creds)
	if err != nil {
		return nil, err
	}

	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, classify(fmt.Errorf("find principal: %w", err))
	}
	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, classify(fmt.Errorf("find calendar home set: %w", err))
	}
	found, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, classify(fmt.Errorf("find calendars: %w", err))
	}

	var cals []core.Calendar
	for _, cal := range found {
		if !supportsEvents(cal) {
			continue
		}
		cals = append(cals, core.Calendar{
			ExternalID: cal.Path,
			Name:       cal.Name,
			IsEnabled:  true,
		})
	}
	return cals, nil
}

// ListEvents issues a time-range calendar query (REPORT) and extracts a
// canonical event from each returned object. NextSyncToken is always empty.
func (a *Adapter) ListEvents(ctx context.Context, creds core.Credentials, calendarID string, opts core.ListOptions) (core.SyncResult, error) {
	client, err := a.connect(creds)
	if err != nil {
		return core.SyncResult{}, err
	}

	from, to := opts.From, opts.To
	if from.IsZero() && to.IsZero() {
		from, to = core.DefaultWindow(time.Now())
	}

	query := &caldav.CalendarQuery{
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{{
				Name:  "VEVENT",
				Start: from.UTC(),
				End:   to.UTC(),
			}},
		},
	}

	objects, err := client.QueryCalendar(ctx, calendarID, query)
	if err != nil {
		return core.SyncResult{}, classify(fmt.Errorf("query calendar %s: %w", calendarID, err))
	}

	var result core.SyncResult
	for i := range objects {
		ev, err := extractEvent(&objects[i])
		if err != nil {
			// Skip the malformed object, keep the rest of the page.
			continue
		}
		result.Events = append(result.Events, ev)
	}
	return result, nil
}

func (a *Adapter) connect(creds core.Credentials) (*caldav.Client, error) {
	if creds.Username == "" || creds.Password == "" {
		return nil, &core.ProviderError{
			Code: core.FailValidation,
			Err:  errors.New("icloud credentials missing username or password"),
		}
	}

	serverURL := creds.ServerURL
	if serverURL == "" {
		serverURL = a.serverURL
	}

	httpClient := &http.Client{
		Transport: &basicAuthTransport{username: creds.Username, password: creds.Password},
		Timeout:   30 * time.Second,
	}
	client, err := caldav.NewClient(httpClient, serverURL)
	if err != nil {
		return nil, fmt.Errorf("create caldav client: %w", err)
	}
	return client, nil
}

// basicAuthTransport adds Basic auth to every request.
type basicAuthTransport struct {
	username string
	password string
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.username, t.password)
	return http.DefaultTransport.RoundTrip(req)
}

func supportsEvents(cal caldav.Calendar) bool {
	if len(cal.SupportedComponentSet) == 0 {
		return true
	}
	for _, comp := range cal.SupportedComponentSet {
		if comp == "VEVENT" {
			return true
		}
	}
	return false
}

// classify maps CalDAV failures onto the engine's taxonomy. A 401-class
// response gets the app-specific-password hint attached.
func classify(err error) error {
	var httpErr *webdav.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.Code == http.StatusUnauthorized || httpErr.Code == http.StatusForbidden:
			return &core.ProviderError{Code: core.FailCredentialInvalid, Hint: PasswordHint, Err: err}
		case httpErr.Code >= 500:
			return &core.ProviderError{Code: core.FailUnreachable, Err: err}
		}
		return err
	}
	return &core.ProviderError{Code: core.FailUnreachable, Err: err}
}
