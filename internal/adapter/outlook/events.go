package outlook

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/stitchcal/stitch/internal/core"
	"github.com/stitchcal/stitch/internal/util"
)

// graphEvent is the subset of a Graph event resource the engine consumes.
// Delta pages flag deletions inline with an @removed marker instead of a
// separate endpoint.
type graphEvent struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Body    struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	Start    graphDateTime `json:"start"`
	End      graphDateTime `json:"end"`
	Location struct {
		DisplayName string `json:"displayName"`
	} `json:"location"`
	IsAllDay       bool   `json:"isAllDay"`
	IsCancelled    bool   `json:"isCancelled"`
	ShowAs         string `json:"showAs"`
	WebLink        string `json:"webLink"`
	ChangeKey      string `json:"changeKey"`
	SeriesMasterID string `json:"seriesMasterId"`
	ResponseStatus struct {
		Response string `json:"response"`
	} `json:"responseStatus"`
	Recurrence *graphRecurrence `json:"recurrence"`
	Removed    *struct {
		Reason string `json:"reason"`
	} `json:"@removed"`
}

type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type deltaPage struct {
	Value     []graphEvent `json:"value"`
	NextLink  string       `json:"@odata.nextLink"`
	DeltaLink string       `json:"@odata.deltaLink"`
}

// ListEvents fetches one calendar's changes through the calendar-view delta
// endpoint. The continuation token is the full next/delta URL Graph returns;
// it is replayed verbatim on the next pass.
func (o *Adapter) ListEvents(ctx context.Context, creds core.Credentials, calendarID string, opts core.ListOptions) (core.SyncResult, error) {
	usingToken := opts.SyncToken != ""

	next := opts.SyncToken
	if next == "" {
		params := url.Values{
			"startDateTime": {opts.From.UTC().Format(time.RFC3339)},
			"endDateTime":   {opts.To.UTC().Format(time.RFC3339)},
		}
		next = fmt.Sprintf("%s/me/calendars/%s/calendarView/delta?%s",
			o.baseURL, url.PathEscape(calendarID), params.Encode())
	}

	var result core.SyncResult
	for next != "" {
		var page deltaPage
		if err := o.getJSON(ctx, creds, next, usingToken, &page); err != nil {
			return core.SyncResult{}, fmt.Errorf("calendar %s: %w", calendarID, err)
		}
		// Only the first request replays the stored URL; follow-up page links
		// came fresh from the provider.
		usingToken = false

		for i := range page.Value {
			ev := &page.Value[i]
			if ev.Removed != nil || ev.IsCancelled {
				result.Deleted = append(result.Deleted, ev.ID)
				continue
			}
			canonical, err := convertEvent(ev)
			if err != nil {
				continue
			}
			result.Events = append(result.Events, canonical)
		}

		if page.DeltaLink != "" {
			result.NextSyncToken = page.DeltaLink
			return result, nil
		}
		next = page.NextLink
	}

	return result, nil
}

func convertEvent(ev *graphEvent) (core.CanonicalEvent, error) {
	start, err := parseGraphTime(ev.Start, ev.IsAllDay)
	if err != nil {
		return core.CanonicalEvent{}, fmt.Errorf("event %s: %w", ev.ID, err)
	}
	end, err := parseGraphTime(ev.End, ev.IsAllDay)
	if err != nil {
		return core.CanonicalEvent{}, fmt.Errorf("event %s: %w", ev.ID, err)
	}
	if end.Before(start) {
		return core.CanonicalEvent{}, fmt.Errorf("event %s: end precedes start", ev.ID)
	}

	description := ev.Body.Content
	if strings.EqualFold(ev.Body.ContentType, "html") {
		description = util.HTMLToText(description)
	}

	canonical := core.CanonicalEvent{
		ExternalID:       ev.ID,
		Title:            ev.Subject,
		Description:      description,
		Location:         ev.Location.DisplayName,
		Start:            start,
		End:              end,
		AllDay:           ev.IsAllDay,
		Timezone:         timezoneOf(ev),
		RecurringEventID: ev.SeriesMasterID,
		Status:           parseShowAs(ev.ShowAs),
		Response:         parseResponse(ev.ResponseStatus.Response),
		Link:             ev.WebLink,
		ETag:             ev.ChangeKey,
	}

	if ev.Recurrence != nil {
		// Graph has no native RRULE text; synthesize one from the structured
		// pattern. A pattern we cannot express is dropped, not fatal.
		if rule, err := synthesizeRRule(ev.Recurrence); err == nil {
			canonical.RecurrenceRule = rule
		}
	}

	return canonical, nil
}

// parseGraphTime handles Graph's local-time strings, which omit an explicit
// UTC designator even when the Prefer header pinned the zone to UTC. The
// suffix is appended before parsing — except for all-day events, whose raw
// calendar date must pass through unshifted.
func parseGraphTime(dt graphDateTime, allDay bool) (time.Time, error) {
	s := dt.DateTime
	if s == "" {
		return time.Time{}, fmt.Errorf("missing dateTime")
	}

	if allDay {
		for _, layout := range []string{"2006-01-02T15:04:05.0000000", "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable all-day date %q", s)
	}

	if !strings.HasSuffix(s, "Z") {
		s += "Z"
	}
	for _, layout := range []string{"2006-01-02T15:04:05.0000000Z", "2006-01-02T15:04:05Z"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable dateTime %q", dt.DateTime)
}

func timezoneOf(ev *graphEvent) string {
	if ev.Start.TimeZone != "" {
		return ev.Start.TimeZone
	}
	return ""
}

// parseShowAs maps Graph's free/busy status onto event status. "free" maps to
// tentative to match the source system's behavior; do not generalize this
// without product confirmation.
func parseShowAs(showAs string) core.EventStatus {
	switch showAs {
	case "tentative", "free":
		return core.StatusTentative
	default:
		return core.StatusConfirmed
	}
}

func parseResponse(resp string) core.ResponseStatus {
	switch resp {
	case "accepted", "organizer":
		return core.ResponseAccepted
	case "declined":
		return core.ResponseDeclined
	case "tentativelyAccepted":
		return core.ResponseTentative
	case "notResponded":
		return core.ResponseNeedsAction
	default:
		return core.ResponseNone
	}
}
