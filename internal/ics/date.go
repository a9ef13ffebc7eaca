package ics

import (
	"strings"
	"time"
	// Conversions must not depend on the host's zoneinfo files.
	_ "time/tzdata"

	"github.com/samber/mo"
)

// Display layouts of normalized dates.
const (
	DateTimeLayout = "2006-01-02 15:04:05"
	DateLayout     = "2006-01-02"
)

// Source layouts (RFC 5545 basic ISO forms).
const (
	utcLayout      = "20060102T150405Z"
	floatingLayout = "20060102T150405"
	dateOnlyLayout = "20060102"
)

// Moment is a successfully parsed DTSTART/DTEND value, already converted
// into the display timezone.
type Moment struct {
	Time     time.Time
	DateOnly bool
}

// String renders the moment in its display layout.
func (m Moment) String() string {
	if m.DateOnly {
		return m.Time.Format(DateLayout)
	}
	return m.Time.Format(DateTimeLayout)
}

// Date is the outcome of normalizing one date property. The left variant
// carries the parsed Moment; the right variant carries the source text when
// no rule matched. The zero Date is an unparsed empty string.
type Date = mo.Either[Moment, string]

// Parsed wraps a Moment as a Date.
func Parsed(m Moment) Date {
	return mo.Left[Moment, string](m)
}

// Unparsed wraps source text that could not be interpreted as a date.
func Unparsed(raw string) Date {
	return mo.Right[Moment, string](raw)
}

// FormatDate renders d for storage: the display layout for parsed values,
// the original text otherwise.
func FormatDate(d Date) string {
	if m, ok := d.Left(); ok {
		return m.String()
	}
	return d.RightOrEmpty()
}

// ParseDate normalizes a DTSTART/DTEND value into loc. Rules, in order:
//
//   - "20250115T100000Z": UTC, converted to loc.
//   - "20250115T100000" with a TZID parameter naming a known zone:
//     interpreted in that zone, converted to loc.
//   - "20250115T100000" otherwise, when WithFloatingZone is given:
//     interpreted in that zone, converted to loc.
//   - at least 8 leading characters forming a valid date: date-only value.
//     No time of day is synthesized.
//   - anything else is returned unparsed, verbatim.
//
// A floating time is never read as UTC: without a TZID or a floating zone
// it keeps only its date.
//
// ParseDate never reads the wall clock.
func ParseDate(value string, params map[string]string, loc *time.Location, opts ...ParseOption) Date {
	if loc == nil {
		loc = time.UTC
	}
	var conf parseConfig
	for _, opt := range opts {
		opt(&conf)
	}
	v := strings.TrimSpace(value)

	if len(v) == len(utcLayout) && (v[len(v)-1] == 'Z' || v[len(v)-1] == 'z') {
		if t, err := time.Parse(utcLayout, strings.ToUpper(v)); err == nil {
			return Parsed(Moment{Time: t.In(loc)})
		}
	}

	if len(v) == len(floatingLayout) {
		src := conf.floating
		if tzid := params["TZID"]; tzid != "" {
			if z, err := time.LoadLocation(tzid); err == nil {
				src = z
			}
		}
		if src != nil {
			if t, err := time.ParseInLocation(floatingLayout, v, src); err == nil {
				return Parsed(Moment{Time: t.In(loc)})
			}
		}
	}

	if len(v) >= len(dateOnlyLayout) {
		if t, err := time.ParseInLocation(dateOnlyLayout, v[:len(dateOnlyLayout)], loc); err == nil {
			return Parsed(Moment{Time: t, DateOnly: true})
		}
	}

	return Unparsed(value)
}

// ParseDisplay is the inverse of FormatDate for stored strings. It reports
// false for values that were stored verbatim.
func ParseDisplay(s string, loc *time.Location) (Moment, bool) {
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.ParseInLocation(DateTimeLayout, s, loc); err == nil {
		return Moment{Time: t}, true
	}
	if t, err := time.ParseInLocation(DateLayout, s, loc); err == nil {
		return Moment{Time: t, DateOnly: true}, true
	}
	return Moment{}, false
}
