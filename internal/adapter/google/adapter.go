// Package google implements the calendar provider for Google Calendar using
// the official API client and OAuth2 authorization-code exchange.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stitchcal/stitch/internal/core"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

const pageSize = 250

// Adapter talks to Google Calendar API v3.
type Adapter struct {
	config *oauth2.Config

	// Overridden in tests to point the API client at a local server.
	endpoint string
}

func New(clientID, clientSecret, redirectURL string) *Adapter {
	return &Adapter{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
			RedirectURL:  redirectURL,
			Scopes: []string{
				calendar.CalendarReadonlyScope,
				"https://www.googleapis.com/auth/userinfo.email",
			},
		},
	}
}

func (g *Adapter) Kind() core.ProviderKind { return core.ProviderGoogle }

// AuthURL forces re-consent so Google returns a refresh token on every
// authorization, not just the first one per user+client.
func (g *Adapter) AuthURL(state string) (string, error) {
	return g.config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	), nil
}

func (g *Adapter) ExchangeCode(ctx context.Context, code string) (core.Credentials, core.Identity, error) {
	tok, err := g.config.Exchange(ctx, code)
	if err != nil {
		return core.Credentials{}, core.Identity{}, &core.ProviderError{
			Code: core.FailCredentialExchange,
			Err:  fmt.Errorf("google code exchange: %w", err),
		}
	}

	svc, err := oauth2api.NewService(ctx, option.WithTokenSource(oauth2.StaticTokenSource(tok)))
	if err != nil {
		return core.Credentials{}, core.Identity{}, fmt.Errorf("create userinfo service: %w", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return core.Credentials{}, core.Identity{}, classify(fmt.Errorf("fetch userinfo: %w", err))
	}

	creds := core.Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	return creds, core.Identity{ProviderAccountID: info.Id, Email: info.Email}, nil
}

func (g *Adapter) RefreshTokens(ctx context.Context, creds core.Credentials) (core.Credentials, error) {
	src := g.config.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return core.Credentials{}, &core.ProviderError{
			Code: core.FailCredentialInvalid,
			Err:  fmt.Errorf("google token refresh: %w", err),
		}
	}

	next := core.Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	// Google omits the refresh token from refresh responses; keep the old one.
	if next.RefreshToken == "" {
		next.RefreshToken = creds.RefreshToken
	}
	return next, nil
}

func (g *Adapter) ListCalendars(ctx context.Context, creds core.Credentials) ([]core.Calendar, error) {
	svc, err := g.service(ctx, creds)
	if err != nil {
		return nil, err
	}

	var cals []core.Calendar
	pageToken := ""
	for {
		call := svc.CalendarList.List().Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		list, err := call.Do()
		if err != nil {
			return nil, classify(fmt.Errorf("list calendars: %w", err))
		}

		for _, item := range list.Items {
			cals = append(cals, core.Calendar{
				ExternalID: item.Id,
				Name:       item.Summary,
				Color:      item.BackgroundColor,
				IsReadOnly: item.AccessRole == "reader" || item.AccessRole == "freeBusyReader",
				IsEnabled:  true,
			})
		}

		pageToken = list.NextPageToken
		if pageToken == "" {
			return cals, nil
		}
	}
}

// ListEvents fetches one calendar's changes, following pagination until
// exhausted. Recurring events arrive pre-expanded (single-events mode) and
// deletions arrive as items with status "cancelled".
func (g *Adapter) ListEvents(ctx context.Context, creds core.Credentials, calendarID string, opts core.ListOptions) (core.SyncResult, error) {
	svc, err := g.service(ctx, creds)
	if err != nil {
		return core.SyncResult{}, err
	}

	var result core.SyncResult
	pageToken := ""

	for {
		call := svc.Events.List(calendarID).
			SingleEvents(true).
			ShowDeleted(true).
			MaxResults(pageSize).
			Context(ctx)

		if opts.SyncToken != "" {
			call = call.SyncToken(opts.SyncToken)
		} else {
			call = call.
				TimeMin(opts.From.UTC().Format(time.RFC3339)).
				TimeMax(opts.To.UTC().Format(time.RFC3339))
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		page, err := call.Do()
		if err != nil {
			// 410 Gone means the stored sync token expired; the caller
			// retries once in window mode.
			var gerr *googleapi.Error
			if opts.SyncToken != "" && errors.As(err, &gerr) && gerr.Code == http.StatusGone {
				return core.SyncResult{}, fmt.Errorf("calendar %s: %w", calendarID, core.ErrSyncTokenInvalid)
			}
			return core.SyncResult{}, classify(fmt.Errorf("list events for %s: %w", calendarID, err))
		}

		for _, item := range page.Items {
			if item.Status == "cancelled" {
				result.Deleted = append(result.Deleted, item.Id)
				continue
			}
			ev, err := parseEvent(item)
			if err != nil {
				// One malformed record must not abort the page.
				continue
			}
			result.Events = append(result.Events, ev)
		}

		if page.NextPageToken != "" {
			pageToken = page.NextPageToken
			continue
		}
		result.NextSyncToken = page.NextSyncToken
		return result, nil
	}
}

func (g *Adapter) service(ctx context.Context, creds core.Credentials) (*calendar.Service, error) {
	tok := &oauth2.Token{AccessToken: creds.AccessToken, Expiry: creds.Expiry}
	opts := []option.ClientOption{option.WithTokenSource(oauth2.StaticTokenSource(tok))}
	if g.endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.endpoint))
	}
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return svc, nil
}

// parseEvent converts a Google Calendar event to the canonical form.
func parseEvent(item *calendar.Event) (core.CanonicalEvent, error) {
	ev := core.CanonicalEvent{
		ExternalID:       item.Id,
		Title:            item.Summary,
		Description:      item.Description,
		Location:         item.Location,
		RecurringEventID: item.RecurringEventId,
		Link:             item.HtmlLink,
		ETag:             strings.Trim(item.Etag, `"`),
		Status:           parseStatus(item.Status),
		Response:         parseResponse(item),
	}

	start, end, allDay, err := parseTimes(item)
	if err != nil {
		return core.CanonicalEvent{}, err
	}
	ev.Start, ev.End, ev.AllDay = start, end, allDay
	if item.Start != nil {
		ev.Timezone = item.Start.TimeZone
	}

	// Events arrive already expanded; the rule is preserved verbatim for
	// display only.
	for _, r := range item.Recurrence {
		if strings.HasPrefix(r, "RRULE:") {
			ev.RecurrenceRule = strings.TrimPrefix(r, "RRULE:")
			break
		}
	}

	if ev.End.Before(ev.Start) {
		return core.CanonicalEvent{}, fmt.Errorf("event %s: end precedes start", item.Id)
	}
	return ev, nil
}

func parseTimes(item *calendar.Event) (start, end time.Time, allDay bool, err error) {
	if item.Start == nil || item.End == nil {
		return start, end, false, fmt.Errorf("event %s: missing start or end", item.Id)
	}

	if item.Start.Date != "" {
		// All-day events carry bare calendar dates. Interpreting them at UTC
		// midnight avoids the off-by-one-day drift a local-zone parse causes.
		start, err = time.Parse("2006-01-02", item.Start.Date)
		if err != nil {
			return start, end, false, fmt.Errorf("event %s: bad start date: %w", item.Id, err)
		}
		end, err = time.Parse("2006-01-02", item.End.Date)
		if err != nil {
			return start, end, false, fmt.Errorf("event %s: bad end date: %w", item.Id, err)
		}
		return start, end, true, nil
	}

	start, err = time.Parse(time.RFC3339, item.Start.DateTime)
	if err != nil {
		return start, end, false, fmt.Errorf("event %s: bad start time: %w", item.Id, err)
	}
	end, err = time.Parse(time.RFC3339, item.End.DateTime)
	if err != nil {
		return start, end, false, fmt.Errorf("event %s: bad end time: %w", item.Id, err)
	}
	return start.UTC(), end.UTC(), false, nil
}

func parseStatus(s string) core.EventStatus {
	switch s {
	case "tentative":
		return core.StatusTentative
	case "cancelled":
		return core.StatusCancelled
	default:
		return core.StatusConfirmed
	}
}

// parseResponse finds the authenticated user's own reply in the attendee
// list. Self-created events and subscribed calendars have none.
func parseResponse(item *calendar.Event) core.ResponseStatus {
	for _, attendee := range item.Attendees {
		if !attendee.Self {
			continue
		}
		switch attendee.ResponseStatus {
		case "accepted":
			return core.ResponseAccepted
		case "declined":
			return core.ResponseDeclined
		case "tentative":
			return core.ResponseTentative
		case "needsAction":
			return core.ResponseNeedsAction
		}
	}
	return core.ResponseNone
}

// classify maps Google API errors onto the engine's failure taxonomy.
func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden:
			return &core.ProviderError{Code: core.FailCredentialInvalid, Err: err}
		case gerr.Code >= 500:
			return &core.ProviderError{Code: core.FailUnreachable, Err: err}
		}
		return err
	}
	// No structured API error means the transport failed.
	return &core.ProviderError{Code: core.FailUnreachable, Err: err}
}
