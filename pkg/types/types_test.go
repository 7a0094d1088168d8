package types

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/metricq/metricq-go/pkg/timeutil"
)

func TestAggregateFromValue(t *testing.T) {
	a := AggregateFromValue(timeutil.FromNanoseconds(100), 4.0)
	assert.Equal(t, int64(1), a.Count)
	assert.Equal(t, 0.0, a.IntegralNS)
	assert.Equal(t, 0.0, a.ActiveNS)
	assert.Equal(t, 4.0, a.Mean())
}

func TestAggregateFromValuePair(t *testing.T) {
	before := timeutil.FromNanoseconds(0)
	at := timeutil.FromNanoseconds(1000)
	a := AggregateFromValuePair(before, at, 2.0)
	assert.Equal(t, 2000.0, a.IntegralNS)
	assert.Equal(t, 1000.0, a.ActiveNS)
	assert.Equal(t, 2.0, a.Mean())
}

func TestAggregateMeanFallsBackToSumOverCount(t *testing.T) {
	a := TimeAggregate{Sum: 9, Count: 3}
	assert.Equal(t, 3.0, a.Mean())
}

func TestAggregateMeanZeroCount(t *testing.T) {
	a := TimeAggregate{}
	assert.Equal(t, 0.0, a.Mean())
}
