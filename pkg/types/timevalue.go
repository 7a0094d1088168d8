// Package types holds the immutable value types shared across MetricQ roles:
// TimeValue and TimeAggregate.
package types

import "github.com/metricq/metricq-go/pkg/timeutil"

// TimeValue is an immutable (Timestamp, float64) pair.
type TimeValue struct {
	Timestamp timeutil.Timestamp
	Value     float64
}
