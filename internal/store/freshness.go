package store

import "time"

// Freshness is the read-only view clients poll to learn whether a newer
// snapshot exists without fetching the events themselves.
type Freshness struct {
	store *Store
}

// NewFreshness returns the freshness accessor of s.
func NewFreshness(s *Store) Freshness {
	return Freshness{store: s}
}

// LastModified is a passthrough to the store's stamp.
func (f Freshness) LastModified() time.Time {
	return f.store.LastModified()
}

// String renders the stamp in StampLayout.
func (f Freshness) String() string {
	return FormatStamp(f.store.LastModified())
}

// FormatStamp renders t in StampLayout.
func FormatStamp(t time.Time) string {
	return t.UTC().Format(StampLayout)
}

// ParseStamp parses a StampLayout string. RFC 3339 is accepted as well.
func ParseStamp(s string) (time.Time, error) {
	if t, err := time.Parse(StampLayout, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
