package icloud

import (
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"

	"github.com/stitchcal/stitch/internal/core"
)

// extractEvent maps the first VEVENT of a calendar object onto the canonical
// form. Only the fields the engine stores are read: UID, SUMMARY,
// DESCRIPTION, LOCATION, DTSTART, DTEND, RRULE, STATUS. The object's ETag is
// the change fingerprint the orchestrator uses in place of a sync token.
func extractEvent(obj *caldav.CalendarObject) (core.CanonicalEvent, error) {
	if obj.Data == nil {
		return core.CanonicalEvent{}, fmt.Errorf("calendar object %s: no data", obj.Path)
	}

	for _, comp := range obj.Data.Children {
		if comp.Name != ical.CompEvent {
			continue
		}
		ev, err := eventFromComponent(comp)
		if err != nil {
			return core.CanonicalEvent{}, fmt.Errorf("calendar object %s: %w", obj.Path, err)
		}
		ev.ETag = strings.Trim(obj.ETag, `"`)
		return ev, nil
	}
	return core.CanonicalEvent{}, fmt.Errorf("calendar object %s: no VEVENT component", obj.Path)
}

func eventFromComponent(comp *ical.Component) (core.CanonicalEvent, error) {
	ev := core.CanonicalEvent{Status: core.StatusConfirmed}

	if prop := comp.Props.Get(ical.PropUID); prop != nil {
		ev.ExternalID = prop.Value
	}
	if ev.ExternalID == "" {
		return core.CanonicalEvent{}, fmt.Errorf("VEVENT missing UID")
	}

	if prop := comp.Props.Get(ical.PropSummary); prop != nil {
		ev.Title = prop.Value
	}
	if prop := comp.Props.Get(ical.PropDescription); prop != nil {
		ev.Description = prop.Value
	}
	if prop := comp.Props.Get(ical.PropLocation); prop != nil {
		ev.Location = prop.Value
	}
	if prop := comp.Props.Get(ical.PropRecurrenceRule); prop != nil {
		ev.RecurrenceRule = prop.Value
	}
	if prop := comp.Props.Get(ical.PropStatus); prop != nil {
		switch strings.ToUpper(prop.Value) {
		case "TENTATIVE":
			ev.Status = core.StatusTentative
		case "CANCELLED":
			ev.Status = core.StatusCancelled
		}
	}

	startProp := comp.Props.Get(ical.PropDateTimeStart)
	if startProp == nil {
		return core.CanonicalEvent{}, fmt.Errorf("VEVENT %s missing DTSTART", ev.ExternalID)
	}
	start, allDay, err := parseDateProp(startProp)
	if err != nil {
		return core.CanonicalEvent{}, fmt.Errorf("VEVENT %s: DTSTART: %w", ev.ExternalID, err)
	}
	ev.Start, ev.AllDay = start, allDay
	if tzid := startProp.Params.Get("TZID"); tzid != "" {
		ev.Timezone = tzid
	}

	if endProp := comp.Props.Get(ical.PropDateTimeEnd); endProp != nil {
		end, _, err := parseDateProp(endProp)
		if err != nil {
			return core.CanonicalEvent{}, fmt.Errorf("VEVENT %s: DTEND: %w", ev.ExternalID, err)
		}
		ev.End = end
	} else if allDay {
		// iCalendar omits DTEND for single-day all-day events.
		ev.End = ev.Start.AddDate(0, 0, 1)
	} else {
		ev.End = ev.Start
	}

	if ev.End.Before(ev.Start) {
		return core.CanonicalEvent{}, fmt.Errorf("VEVENT %s: end precedes start", ev.ExternalID)
	}
	return ev, nil
}

// parseDateProp handles both forms of DTSTART/DTEND. A bare 8-character date
// (or an explicit VALUE=DATE parameter) marks an all-day event and parses at
// UTC midnight; anything else goes through the full date-time path.
func parseDateProp(prop *ical.Prop) (time.Time, bool, error) {
	value := strings.TrimSpace(prop.Value)

	if len(value) == 8 || prop.Params.Get(ical.ParamValue) == string(ical.ValueDate) {
		t, err := time.Parse("20060102", value)
		if err != nil {
			return time.Time{}, false, err
		}
		return t, true, nil
	}

	t, err := prop.DateTime(time.UTC)
	if err != nil {
		return time.Time{}, false, err
	}
	return t.UTC(), false, nil
}
