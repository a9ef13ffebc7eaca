package ics

import (
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"icsagenda/internal/model"
)

const productID = "-//icsagenda//merged agenda//EN"

// uidNamespace scopes generated event UIDs.
var uidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:icsagenda:event"))

// Export renders stored events back into one iCalendar document so the
// merged agenda can be subscribed to. Stored dates are read in loc; events
// whose start was kept verbatim are exported without DTSTART/DTEND.
func Export(events []model.Event, loc *time.Location, stamp time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	seen := make(map[string]int, len(events))
	for _, ev := range events {
		uid := EventUID(ev)
		if n := seen[uid]; n > 0 {
			// Same event listed by two feeds: keep UIDs unique.
			seen[uid] = n + 1
			uid += "-" + strconv.Itoa(n)
		} else {
			seen[uid] = 1
		}

		vev := cal.AddEvent(uid)
		vev.SetDtStampTime(stamp)
		vev.SetSummary(ev.Title)
		if ev.Location != "" {
			vev.SetLocation(ev.Location)
		}
		if ev.Description != "" {
			vev.SetDescription(ev.Description)
		}
		if ev.CalendarID != "" {
			vev.AddProperty(ical.ComponentPropertyCategories, ev.CalendarID)
		}

		if m, ok := ParseDisplay(ev.Start, loc); ok {
			if m.DateOnly {
				vev.SetAllDayStartAt(m.Time)
			} else {
				vev.SetStartAt(m.Time)
			}
		}
		if m, ok := ParseDisplay(ev.End, loc); ok {
			if m.DateOnly {
				vev.SetAllDayEndAt(m.Time)
			} else {
				vev.SetEndAt(m.Time)
			}
		}
	}

	return cal.Serialize()
}

// EventUID derives a stable UID from the event's content, so the same
// event keeps its UID across sync cycles.
func EventUID(ev model.Event) string {
	key := strings.Join([]string{ev.CalendarID, ev.Title, ev.Start, ev.End, ev.Location}, "\x1f")
	return uuid.NewSHA1(uidNamespace, []byte(key)).String() + "@icsagenda"
}
