package model

import "time"

// Event is the canonical, display-ready form of a calendar event as it is
// persisted and served. Start/End are already normalized into the display
// timezone ("2006-01-02 15:04:05", "2006-01-02" for date-only values, or the
// source string verbatim when it could not be parsed).
type Event struct {
	Title       string `json:"title"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Location    string `json:"location"`
	Description string `json:"description"`
	// CalendarID is the configured feed ID; empty when the feed has none.
	CalendarID string `json:"calendar_id"`
}

// Snapshot is the unit of persistence: the ordered events of one sync cycle
// plus the instant they were committed. A Snapshot is never mutated after it
// has been published; a new commit replaces it as a whole.
type Snapshot struct {
	Events       []Event
	LastModified time.Time
}
