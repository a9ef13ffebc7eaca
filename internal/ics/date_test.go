package ics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseDate(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	tests := []struct {
		name   string
		value  string
		params map[string]string
		loc    *time.Location
		want   string
		parsed bool
	}{
		{"utc to standard time", "20250115T100000Z", nil, ny, "2025-01-15 05:00:00", true},
		{"utc to daylight time", "20250715T100000Z", nil, ny, "2025-07-15 06:00:00", true},
		{"crosses midnight", "20250115T030000Z", nil, ny, "2025-01-14 22:00:00", true},
		{"nil location means utc", "20250115T100000Z", nil, nil, "2025-01-15 10:00:00", true},
		{"lowercase z", "20250115T100000z", nil, time.UTC, "2025-01-15 10:00:00", true},
		{"surrounding whitespace", "  20250115T100000Z ", nil, time.UTC, "2025-01-15 10:00:00", true},
		{"tzid", "20250115T100000", map[string]string{"TZID": "Asia/Tokyo"}, time.UTC, "2025-01-15 01:00:00", true},
		{"unknown tzid falls back to date", "20250115T100000", map[string]string{"TZID": "W. Europe Standard Time"}, ny, "2025-01-15", true},
		{"floating time is date only", "20250115T100000", nil, ny, "2025-01-15", true},
		{"date only", "20250120", nil, ny, "2025-01-20", true},
		{"invalid utc falls back to date", "20250115T250000Z", nil, ny, "2025-01-15", true},
		{"invalid month", "20251399", nil, ny, "20251399", false},
		{"too short", "2025011", nil, ny, "2025011", false},
		{"free text", "next tuesday", nil, ny, "next tuesday", false},
		{"empty", "", nil, ny, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ParseDate(tt.value, tt.params, tt.loc)
			assert.Equal(t, tt.parsed, d.IsLeft())
			assert.Equal(t, tt.want, FormatDate(d))
		})
	}
}

func TestParseDateFloatingZone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	assert.NoError(t, err)
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	assert.NoError(t, err)

	tests := []struct {
		name   string
		value  string
		params map[string]string
		want   string
	}{
		{"floating read in zone, shown in display zone", "20250115T190000", nil, "2025-01-15 05:00:00"},
		{"tzid wins over floating zone", "20250115T100000", map[string]string{"TZID": "Europe/Berlin"}, "2025-01-15 04:00:00"},
		{"unknown tzid uses floating zone", "20250115T190000", map[string]string{"TZID": "Tokyo Standard Time"}, "2025-01-15 05:00:00"},
		{"utc ignores floating zone", "20250115T100000Z", nil, "2025-01-15 05:00:00"},
		{"date only stays date only", "20250115", nil, "2025-01-15"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ParseDate(tt.value, tt.params, ny, WithFloatingZone(tokyo))
			assert.Equal(t, tt.want, FormatDate(d))
		})
	}

	// A nil zone is the same as no option.
	assert.Equal(t, "2025-01-15", FormatDate(ParseDate("20250115T190000", nil, ny, WithFloatingZone(nil))))
}

func TestParseDateIgnoresHostTimezone(t *testing.T) {
	saved := time.Local
	t.Cleanup(func() { time.Local = saved })

	ny, err := time.LoadLocation("America/New_York")
	assert.NoError(t, err)

	for _, host := range []string{"UTC", "Asia/Kolkata", "Pacific/Auckland"} {
		time.Local, err = time.LoadLocation(host)
		assert.NoError(t, err)
		assert.Equal(t, "2025-01-15 05:00:00", FormatDate(ParseDate("20250115T100000Z", nil, ny)), host)
	}
}

func TestUnparsedKeepsOriginal(t *testing.T) {
	d := Unparsed(" 2025/01/15 ")
	_, ok := d.Left()
	assert.False(t, ok)
	assert.Equal(t, " 2025/01/15 ", FormatDate(d))
}

func TestParseDisplay(t *testing.T) {
	m, ok := ParseDisplay("2025-01-15 05:00:00", time.UTC)
	assert.True(t, ok)
	assert.False(t, m.DateOnly)
	assert.Equal(t, "2025-01-15 05:00:00", m.String())

	m, ok = ParseDisplay("2025-01-20", time.UTC)
	assert.True(t, ok)
	assert.True(t, m.DateOnly)

	_, ok = ParseDisplay("whenever", time.UTC)
	assert.False(t, ok)
}
