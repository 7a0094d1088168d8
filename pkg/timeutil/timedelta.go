package timeutil

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Timedelta is a 64-bit signed count of nanoseconds. All arithmetic stays in
// integer nanoseconds; NS/US/MS/S are the only widening accessors.
type Timedelta int64

const (
	Nanosecond  Timedelta = 1
	Microsecond           = 1000 * Nanosecond
	Millisecond           = 1000 * Microsecond
	Second                = 1000 * Millisecond
	Minute                = 60 * Second
	Hour                  = 60 * Minute
	Day                   = 24 * Hour
)

// unitPattern matches a numeric amount, optional whitespace, and an optional
// unit suffix. A missing unit is interpreted as seconds, matching the
// original Python implementation's unit-less parsing.
var unitPattern = regexp.MustCompile(`^\s*([+-]?[0-9]*\.?[0-9]+)\s*([a-zA-Zµ]*)\s*$`)

var units = map[string]Timedelta{
	"":    Second,
	"ns":  Nanosecond,
	"us":  Microsecond,
	"µs":  Microsecond,
	"ms":  Millisecond,
	"s":   Second,
	"sec": Second,
	"min": Minute,
	"m":   Minute,
	"h":   Hour,
	"hr":  Hour,
	"d":   Day,
	"day": Day,
}

// ParseTimedelta parses strings like "10s", "500ms", "1 min", "2 h", "3 d",
// and the unit-less form (interpreted as seconds).
func ParseTimedelta(s string) (Timedelta, error) {
	m := unitPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("timeutil: invalid timedelta %q", s)
	}
	amount, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("timeutil: invalid timedelta amount %q: %w", m[1], err)
	}
	unit, ok := units[strings.ToLower(m[2])]
	if !ok {
		return 0, fmt.Errorf("timeutil: unknown timedelta unit %q in %q", m[2], s)
	}
	return Timedelta(amount * float64(unit)), nil
}

// MustParseTimedelta is like ParseTimedelta but panics on error; intended for
// package-level constants and tests.
func MustParseTimedelta(s string) Timedelta {
	d, err := ParseTimedelta(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FromDuration converts a stdlib time.Duration to a Timedelta.
func FromDuration(d time.Duration) Timedelta {
	return Timedelta(d.Nanoseconds())
}

// Duration converts the Timedelta to a stdlib time.Duration.
func (d Timedelta) Duration() time.Duration {
	return time.Duration(d)
}

// NS returns the delta in nanoseconds.
func (d Timedelta) NS() int64 {
	return int64(d)
}

// US returns the delta in microseconds, truncated.
func (d Timedelta) US() int64 {
	return int64(d) / int64(Microsecond)
}

// MS returns the delta in milliseconds, truncated.
func (d Timedelta) MS() int64 {
	return int64(d) / int64(Millisecond)
}

// S returns the delta in seconds as a float64.
func (d Timedelta) S() float64 {
	return float64(d) / float64(Second)
}

// Add returns the sum of two Timedeltas.
func (d Timedelta) Add(other Timedelta) Timedelta {
	return d + other
}

// Sub returns the difference of two Timedeltas.
func (d Timedelta) Sub(other Timedelta) Timedelta {
	return d - other
}

// Mul scales the Timedelta by an integer factor.
func (d Timedelta) Mul(factor int64) Timedelta {
	return Timedelta(int64(d) * factor)
}

// Div divides the Timedelta by an integer divisor.
func (d Timedelta) Div(divisor int64) Timedelta {
	return Timedelta(int64(d) / divisor)
}

func (d Timedelta) String() string {
	return d.Duration().String()
}
