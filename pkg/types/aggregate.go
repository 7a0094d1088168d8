package types

import "github.com/metricq/metricq-go/pkg/timeutil"

// TimeAggregate is an immutable tuple (timestamp, min, max, sum, count,
// integral_ns, active_time_ns). Mean is derived: integral/active_time when
// active_time > 0, else sum/count.
type TimeAggregate struct {
	Timestamp  timeutil.Timestamp
	Min        float64
	Max        float64
	Sum        float64
	Count      int64
	IntegralNS float64
	ActiveNS   float64
}

// AggregateFromValue constructs a single-sample aggregate: count=1,
// integral=0, active_time=0.
func AggregateFromValue(t timeutil.Timestamp, v float64) TimeAggregate {
	return TimeAggregate{
		Timestamp: t,
		Min:       v,
		Max:       v,
		Sum:       v,
		Count:     1,
	}
}

// AggregateFromValuePair constructs an aggregate from a value held over the
// interval (tBefore, t]: integral = delta_ns * v, active_time = delta_ns.
func AggregateFromValuePair(tBefore, t timeutil.Timestamp, v float64) TimeAggregate {
	deltaNS := float64(t.Sub(tBefore).NS())
	return TimeAggregate{
		Timestamp:  t,
		Min:        v,
		Max:        v,
		Sum:        v,
		Count:      1,
		IntegralNS: deltaNS * v,
		ActiveNS:   deltaNS,
	}
}

// Mean returns integral/active_time when active_time > 0, else sum/count.
func (a TimeAggregate) Mean() float64 {
	if a.ActiveNS > 0 {
		return a.IntegralNS / a.ActiveNS
	}
	if a.Count > 0 {
		return a.Sum / float64(a.Count)
	}
	return 0
}
