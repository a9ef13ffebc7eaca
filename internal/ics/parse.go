package ics

import (
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"icsagenda/internal/model"
)

// ParsedEvent is the normalized representation of a VEVENT as produced by
// Parse. Dates stay structured until Event serializes them.
type ParsedEvent struct {
	Title       string
	Location    string
	Description string
	Start       Date
	End         Date
}

// Event converts the parsed record into the stored form, tagging it with
// the feed's calendar ID.
func (e ParsedEvent) Event(calendarID string) model.Event {
	return model.Event{
		Title:       e.Title,
		Start:       FormatDate(e.Start),
		End:         FormatDate(e.End),
		Location:    e.Location,
		Description: e.Description,
		CalendarID:  calendarID,
	}
}

type parseState int

const (
	stateOutside parseState = iota
	stateInEvent
)

type parseConfig struct {
	floating *time.Location
}

// ParseOption adjusts how Parse and ParseDate interpret dates.
type ParseOption func(*parseConfig)

// WithFloatingZone interprets date-times that carry neither a trailing Z
// nor a known TZID in z. The result is still converted into the display
// zone passed to Parse. A nil z keeps the default date-only fallback.
func WithFloatingZone(z *time.Location) ParseOption {
	return func(c *parseConfig) { c.floating = z }
}

// Parse reads ICS text into events, in document order, with dates
// normalized into loc (UTC when nil).
//
// Parsing is best effort and never fails as a whole:
//   - lines that are not NAME[;PARAMS]:VALUE are skipped
//   - unknown properties are ignored
//   - components nested in a VEVENT (VALARM, ...) are skipped
//   - a VEVENT still open at end of input, or interrupted by another
//     BEGIN:VEVENT, is dropped and never emitted half-built
//   - unparseable dates are kept verbatim (see ParseDate)
//
// Unfolding, parameter quoting and TEXT unescaping are golang-ical's.
func Parse(raw string, loc *time.Location, opts ...ParseOption) []ParsedEvent {
	events := make([]ParsedEvent, 0)

	state := stateOutside
	var cur ParsedEvent
	depth := 0 // open components nested inside the current VEVENT

	cs := ical.NewCalendarStream(strings.NewReader(raw))
	for {
		line, err := cs.ReadLine()
		// The last line may arrive together with io.EOF.
		if line != nil {
			name, params, value, ok := property(*line)
			if ok {
				isBegin := name == "BEGIN"
				isEnd := name == "END"
				isVEvent := strings.EqualFold(strings.TrimSpace(value), "VEVENT")

				switch state {
				case stateOutside:
					if isBegin && isVEvent {
						state = stateInEvent
						cur = ParsedEvent{}
						depth = 0
					}

				case stateInEvent:
					switch {
					case isBegin && isVEvent:
						cur = ParsedEvent{}
						depth = 0
					case isBegin:
						depth++
					case isEnd && depth > 0:
						depth--
					case isEnd && isVEvent:
						events = append(events, cur)
						state = stateOutside
					case depth > 0, isEnd:
					default:
						applyProperty(&cur, name, params, value, loc, opts)
					}
				}
			}
		}
		if err != nil {
			break
		}
	}

	return events
}

// property splits one unfolded content line. The name and parameter names
// are upper cased; only the first value of a multi-valued parameter is
// kept. Lines golang-ical cannot read as a property are reported !ok.
func property(line ical.ContentLine) (name string, params map[string]string, value string, ok bool) {
	prop, err := ical.ParseProperty(line)
	if err != nil || prop == nil {
		return "", nil, "", false
	}
	name = strings.ToUpper(strings.TrimSpace(prop.IANAToken))
	if name == "" {
		return "", nil, "", false
	}
	if len(prop.ICalParameters) > 0 {
		params = make(map[string]string, len(prop.ICalParameters))
		for k, vs := range prop.ICalParameters {
			if len(vs) > 0 {
				params[strings.ToUpper(k)] = vs[0]
			}
		}
	}
	return name, params, strings.TrimRight(prop.Value, " \t"), true
}

func applyProperty(ev *ParsedEvent, name string, params map[string]string, value string, loc *time.Location, opts []ParseOption) {
	switch name {
	case "SUMMARY":
		ev.Title = value
	case "DTSTART":
		ev.Start = ParseDate(value, params, loc, opts...)
	case "DTEND":
		ev.End = ParseDate(value, params, loc, opts...)
	case "LOCATION":
		ev.Location = value
	case "DESCRIPTION":
		ev.Description = value
	}
}
