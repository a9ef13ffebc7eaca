package web

import (
	"strconv"
	"strings"
	"time"

	"icsagenda/internal/ics"
	"icsagenda/internal/model"
)

var monthNames = [...]string{
	"JANUARY", "FEBRUARY", "MARCH", "APRIL", "MAY", "JUNE",
	"JULY", "AUGUST", "SEPTEMBER", "OCTOBER", "NOVEMBER", "DECEMBER",
}

// agendaDay is one day section of the agenda page.
type agendaDay struct {
	Header string
	Items  []agendaItem
}

type agendaItem struct {
	Time        string
	Title       string
	Location    string
	Description string
	Calendar    string
	Video       bool
}

// upcoming keeps events that have not ended yet, caps them at limit and
// groups them by start day. Events arrive sorted by start.
func upcoming(events []model.Event, now time.Time, loc *time.Location, limit int) []agendaDay {
	var days []agendaDay
	shown := 0
	for _, ev := range events {
		if limit > 0 && shown >= limit {
			break
		}
		if !stillRelevant(ev, now, loc) {
			continue
		}
		shown++

		header := dayHeader(ev.Start, loc)
		if len(days) == 0 || days[len(days)-1].Header != header {
			days = append(days, agendaDay{Header: header})
		}
		d := &days[len(days)-1]
		d.Items = append(d.Items, agendaItem{
			Time:        timeRange(ev, loc),
			Title:       ev.Title,
			Location:    ev.Location,
			Description: ev.Description,
			Calendar:    ev.CalendarID,
			Video:       strings.Contains(strings.ToLower(ev.Description), "video"),
		})
	}
	return days
}

// stillRelevant reports whether ev ends at or after now. A date-only end
// lasts until the end of that day. An event without an end is judged by its
// start; an end that cannot be read hides the event.
func stillRelevant(ev model.Event, now time.Time, loc *time.Location) bool {
	end := ev.End
	if end == "" {
		end = ev.Start
	}
	m, ok := ics.ParseDisplay(end, loc)
	if !ok {
		return false
	}
	if m.DateOnly {
		return now.Before(m.Time.AddDate(0, 0, 1))
	}
	return !m.Time.Before(now)
}

// dayHeader renders "15. JANUARY"; a start that cannot be read is shown as is.
func dayHeader(start string, loc *time.Location) string {
	m, ok := ics.ParseDisplay(start, loc)
	if !ok {
		return start
	}
	return strconv.Itoa(m.Time.Day()) + ". " + monthNames[m.Time.Month()-1]
}

func timeRange(ev model.Event, loc *time.Location) string {
	s, ok := ics.ParseDisplay(ev.Start, loc)
	if !ok || s.DateOnly {
		return "All day"
	}
	out := s.Time.Format("15:04")
	if e, ok := ics.ParseDisplay(ev.End, loc); ok && !e.DateOnly {
		out += " - " + e.Time.Format("15:04")
	}
	return out
}
