package ics

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icsagenda/internal/model"
)

func TestExportRoundTrip(t *testing.T) {
	loc := mustLoad(t, "America/New_York")
	events := []model.Event{
		{Title: "Standup", Start: "2025-01-15 05:00:00", End: "2025-01-15 05:30:00", Location: "Room 4", CalendarID: "work"},
		{Title: "Holiday", Start: "2025-01-20", End: "2025-01-21"},
		{Title: "Mystery", Start: "someday", End: ""},
	}

	out := Export(events, loc, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.True(t, strings.HasPrefix(out, "BEGIN:VCALENDAR"))
	assert.Contains(t, out, "PRODID:"+productID)
	assert.Equal(t, 3, strings.Count(out, "BEGIN:VEVENT"))

	back := toEvents(Parse(out, loc), "")
	require.Len(t, back, 3)
	assert.Equal(t, "Standup", back[0].Title)
	assert.Equal(t, "2025-01-15 05:00:00", back[0].Start)
	assert.Equal(t, "2025-01-15 05:30:00", back[0].End)
	assert.Equal(t, "Room 4", back[0].Location)
	assert.Equal(t, "2025-01-20", back[1].Start)
	assert.Equal(t, "", back[2].Start, "verbatim starts are not exported")
}

func TestEventUIDIsStableAndUnique(t *testing.T) {
	a := model.Event{Title: "A", Start: "2025-01-01"}
	b := model.Event{Title: "B", Start: "2025-01-01"}

	assert.Equal(t, EventUID(a), EventUID(a))
	assert.NotEqual(t, EventUID(a), EventUID(b))

	out := Export([]model.Event{a, a}, time.UTC, time.Now())
	assert.Contains(t, out, "UID:"+EventUID(a))
	assert.Contains(t, out, "UID:"+EventUID(a)+"-1")
}
