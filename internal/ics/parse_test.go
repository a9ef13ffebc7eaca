package ics

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icsagenda/internal/model"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func crlf(lines ...string) string {
	return strings.Join(lines, "\r\n") + "\r\n"
}

func toEvents(parsed []ParsedEvent, calendarID string) []model.Event {
	out := make([]model.Event, 0, len(parsed))
	for _, p := range parsed {
		out = append(out, p.Event(calendarID))
	}
	return out
}

func TestParseWellFormedFeed(t *testing.T) {
	feed := crlf(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"BEGIN:VEVENT",
		"SUMMARY:Standup",
		"DTSTART:20250115T100000Z",
		"DTEND:20250115T103000Z",
		"LOCATION:Room 4\\, 2nd floor",
		"DESCRIPTION:Agenda:\\nDemos\\; retro",
		"UID:abc@example.com",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"SUMMARY:Holiday",
		"DTSTART;VALUE=DATE:20250120",
		"DTEND;VALUE=DATE:20250121",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"SUMMARY:Review",
		"DTSTART:20250116T150000Z",
		"DTEND:20250116T160000Z",
		"END:VEVENT",
		"END:VCALENDAR",
	)

	got := toEvents(Parse(feed, mustLoad(t, "America/New_York")), "work")

	want := []model.Event{
		{
			Title:       "Standup",
			Start:       "2025-01-15 05:00:00",
			End:         "2025-01-15 05:30:00",
			Location:    "Room 4, 2nd floor",
			Description: "Agenda:\nDemos; retro",
			CalendarID:  "work",
		},
		{Title: "Holiday", Start: "2025-01-20", End: "2025-01-21", CalendarID: "work"},
		{Title: "Review", Start: "2025-01-16 10:00:00", End: "2025-01-16 11:00:00", CalendarID: "work"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseDropsUnterminatedBlock(t *testing.T) {
	t.Run("at end of input", func(t *testing.T) {
		feed := crlf(
			"BEGIN:VEVENT",
			"SUMMARY:First",
			"END:VEVENT",
			"BEGIN:VEVENT",
			"SUMMARY:Never closed",
			"DTSTART:20250101T000000Z",
		)
		got := Parse(feed, time.UTC)
		require.Len(t, got, 1)
		assert.Equal(t, "First", got[0].Title)
	})

	t.Run("interrupted by another block", func(t *testing.T) {
		feed := crlf(
			"BEGIN:VEVENT",
			"SUMMARY:Broken",
			"BEGIN:VEVENT",
			"SUMMARY:Second",
			"END:VEVENT",
			"BEGIN:VEVENT",
			"SUMMARY:Third",
			"END:VEVENT",
		)
		got := Parse(feed, time.UTC)
		require.Len(t, got, 2)
		assert.Equal(t, "Second", got[0].Title)
		assert.Equal(t, "Third", got[1].Title)
	})
}

func TestParseIgnoresUnknownAndMalformedLines(t *testing.T) {
	feed := crlf(
		"garbage before anything",
		"BEGIN:VEVENT",
		"X-CUSTOM-THING;FOO=bar:whatever",
		"no colon here",
		":empty name",
		"SUMMARY:Kept",
		"RRULE:FREQ=WEEKLY",
		"END:VEVENT",
		"SUMMARY:outside any event",
	)
	got := Parse(feed, time.UTC)
	require.Len(t, got, 1)
	assert.Equal(t, "Kept", got[0].Title)
}

func TestParseSkipsNestedComponents(t *testing.T) {
	feed := crlf(
		"BEGIN:VEVENT",
		"SUMMARY:Dentist",
		"DESCRIPTION:Bring card",
		"BEGIN:VALARM",
		"ACTION:DISPLAY",
		"DESCRIPTION:Reminder",
		"END:VALARM",
		"END:VEVENT",
	)
	got := Parse(feed, time.UTC)
	require.Len(t, got, 1)
	assert.Equal(t, "Bring card", got[0].Description)
}

func TestParseUnfoldsContinuationLines(t *testing.T) {
	feed := "BEGIN:VEVENT\r\n" +
		"DESCRIPTION:This is a long descr\r\n" +
		" iption that was folded\r\n" +
		"\tacross lines\r\n" +
		"SUMMARY:Folded\n" + // bare LF is accepted too
		"END:VEVENT\r\n"

	got := Parse(feed, time.UTC)
	require.Len(t, got, 1)
	assert.Equal(t, "This is a long description that was foldedacross lines", got[0].Description)
	assert.Equal(t, "Folded", got[0].Title)
}

func TestParseHonorsTZIDAndQuotedParams(t *testing.T) {
	feed := crlf(
		"begin:vevent",
		`DTSTART;TZID="Europe/Berlin";X-NOTE="a:b;c":20250715T090000`,
		"DTEND;TZID=Europe/Berlin:20250715T100000",
		"summary:Lowercase names work",
		"end:vevent",
	)
	got := toEvents(Parse(feed, mustLoad(t, "America/New_York")), "")
	require.Len(t, got, 1)
	assert.Equal(t, "2025-07-15 03:00:00", got[0].Start)
	assert.Equal(t, "2025-07-15 04:00:00", got[0].End)
	assert.Equal(t, "Lowercase names work", got[0].Title)
}

func TestParseKeepsBadDatesVerbatim(t *testing.T) {
	feed := crlf(
		"BEGIN:VEVENT",
		"SUMMARY:Odd",
		"DTSTART:tomorrow-ish",
		"END:VEVENT",
	)
	got := Parse(feed, time.UTC)
	require.Len(t, got, 1)
	assert.True(t, got[0].Start.IsRight())
	assert.Equal(t, "tomorrow-ish", FormatDate(got[0].Start))
	assert.Equal(t, "", FormatDate(got[0].End), "missing DTEND renders empty")
}

func TestParseIsDeterministic(t *testing.T) {
	feed := crlf(
		"BEGIN:VEVENT",
		"SUMMARY:A",
		"DTSTART:20250310T120000Z",
		"END:VEVENT",
	)
	loc := mustLoad(t, "Europe/London")
	first := toEvents(Parse(feed, loc), "")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, toEvents(Parse(feed, loc), ""))
	}
}

func TestParseEmptyInput(t *testing.T) {
	got := Parse("", nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestProperty(t *testing.T) {
	name, params, value, ok := property(`attendee;cn="Doe; Jane";Role=CHAIR:mailto:jane@example.com`)
	require.True(t, ok)
	assert.Equal(t, "ATTENDEE", name)
	assert.Equal(t, map[string]string{"CN": "Doe; Jane", "ROLE": "CHAIR"}, params)
	assert.Equal(t, "mailto:jane@example.com", value)

	_, _, _, ok = property("no separator")
	assert.False(t, ok)

	_, _, _, ok = property("DTSTART;TZID:20250115T100000")
	assert.False(t, ok, "parameter without a value")
}

func TestParseUnescapesText(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"lowercase newline", `line one\nline two`, "line one\nline two"},
		{"uppercase newline", `a\Nb`, "a\nb"},
		{"comma and semicolon", `Room 4\, 2nd floor\; east`, "Room 4, 2nd floor; east"},
		{"backslash", `C:\\temp`, `C:\temp`},
		{"escaped backslash before n", `\\n is not a newline`, `\n is not a newline`},
		{"unknown escape kept", `unknown \x escape`, `unknown \x escape`},
		{"clean text untouched", "Plain title, nothing to do", "Plain title, nothing to do"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feed := crlf(
				"BEGIN:VEVENT",
				"SUMMARY:"+tt.raw,
				"LOCATION:"+tt.raw,
				"DESCRIPTION:"+tt.raw,
				"END:VEVENT",
			)
			got := Parse(feed, time.UTC)
			require.Len(t, got, 1)
			assert.Equal(t, tt.want, got[0].Title)
			assert.Equal(t, tt.want, got[0].Location)
			assert.Equal(t, tt.want, got[0].Description)
		})
	}
}

func TestParseFloatingZone(t *testing.T) {
	feed := crlf(
		"BEGIN:VEVENT",
		"SUMMARY:Breakfast",
		"DTSTART:20250115T190000",
		"DTEND:20250115T200000Z",
		"END:VEVENT",
	)
	ny := mustLoad(t, "America/New_York")

	got := toEvents(Parse(feed, ny), "")
	require.Len(t, got, 1)
	assert.Equal(t, "2025-01-15", got[0].Start, "floating without a zone keeps its date")

	got = toEvents(Parse(feed, ny, WithFloatingZone(mustLoad(t, "Asia/Tokyo"))), "")
	require.Len(t, got, 1)
	assert.Equal(t, "2025-01-15 05:00:00", got[0].Start)
	assert.Equal(t, "2025-01-15 15:00:00", got[0].End)
}
