// Package timeutil provides the nanosecond-resolution time primitives shared
// by every MetricQ role: Timestamp and Timedelta.
package timeutil

import "time"

// Timestamp is a 64-bit signed count of nanoseconds since the Unix epoch.
// It is totally ordered and arithmetic with Timedelta stays in integer
// nanoseconds; the .NS/.US/.MS/.S accessors are the only widening points.
type Timestamp int64

// Now returns the current wall-clock time as a Timestamp.
func Now() Timestamp {
	return FromTime(time.Now())
}

// FromTime converts a time.Time to a Timestamp.
func FromTime(t time.Time) Timestamp {
	return Timestamp(t.UnixNano())
}

// FromNanoseconds constructs a Timestamp from a raw nanosecond count.
func FromNanoseconds(ns int64) Timestamp {
	return Timestamp(ns)
}

// Time converts the Timestamp back to a time.Time.
func (t Timestamp) Time() time.Time {
	return time.Unix(0, int64(t))
}

// NS returns the timestamp as nanoseconds since the epoch.
func (t Timestamp) NS() int64 {
	return int64(t)
}

// US returns the timestamp as microseconds since the epoch, truncated.
func (t Timestamp) US() int64 {
	return int64(t) / int64(time.Microsecond)
}

// MS returns the timestamp as milliseconds since the epoch, truncated.
func (t Timestamp) MS() int64 {
	return int64(t) / int64(time.Millisecond)
}

// S returns the timestamp as seconds since the epoch, truncated.
func (t Timestamp) S() int64 {
	return int64(t) / int64(time.Second)
}

// Sub computes the Timedelta between two timestamps: t - other.
func (t Timestamp) Sub(other Timestamp) Timedelta {
	return Timedelta(t - Timestamp(other))
}

// Add returns a new Timestamp offset by d.
func (t Timestamp) Add(d Timedelta) Timestamp {
	return Timestamp(int64(t) + int64(d))
}

// Before reports whether t occurs strictly before other.
func (t Timestamp) Before(other Timestamp) bool {
	return t < other
}

// After reports whether t occurs strictly after other.
func (t Timestamp) After(other Timestamp) bool {
	return t > other
}
