package models

import "time"

// Timestamp is a local moment in time expressed as milliseconds since the
// Unix epoch. It is the unit used for visit dates, record modification times
// and tombstone deletion times.
type Timestamp int64

// ServerTimestamp is a moment as reported by the sync server, also in
// milliseconds. Kept as a distinct type so local and server clocks are never
// compared by accident.
type ServerTimestamp int64

// Now returns the current local time as a Timestamp.
func Now() Timestamp {
	return Timestamp(time.Now().UnixMilli())
}

// Time converts the timestamp to a time.Time.
func (t Timestamp) Time() time.Time {
	return time.UnixMilli(int64(t))
}

// Duration returns how far t lies before other, or zero when t is not
// earlier than other.
func (t Timestamp) Duration(other Timestamp) time.Duration {
	if t >= other {
		return 0
	}
	return time.Duration(int64(other)-int64(t)) * time.Millisecond
}

// AgeOf returns how old server-time ts is relative to the reference moment
// of the current sync. Future values clamp to zero.
func (s ServerTimestamp) AgeOf(ts ServerTimestamp) time.Duration {
	if ts >= s {
		return 0
	}
	return time.Duration(int64(s)-int64(ts)) * time.Millisecond
}
