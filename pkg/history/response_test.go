package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metricq/metricq-go/pkg/wire"
)

func TestResponseRejectsInconsistentLengths(t *testing.T) {
	_, err := NewResponse(&wire.HistoryResponse{
		TimeDelta: []int64{0, 1000},
		Value:     []float64{1},
	}, 0)
	assert.Error(t, err)
}

func TestResponseValuesDirect(t *testing.T) {
	raw := &wire.HistoryResponse{
		TimeDelta: []int64{0, 1000, 1000},
		Value:     []float64{1, 2, 3},
	}
	resp, err := NewResponse(raw, 0)
	require.NoError(t, err)
	assert.Equal(t, wire.ModeValues, resp.Mode())

	values, err := resp.Values(false)
	require.NoError(t, err)
	require.Len(t, values, 3)
	assert.Equal(t, 3.0, values[2].Value)
}

func TestResponseAggregatesFromValuesConvertSkipsFirstPoint(t *testing.T) {
	raw := &wire.HistoryResponse{
		TimeDelta: []int64{0, 1000, 2000},
		Value:     []float64{10, 20, 30},
	}
	resp, err := NewResponse(raw, 0)
	require.NoError(t, err)

	_, err = resp.Aggregates(false)
	assert.Error(t, err, "wrong mode without convert must fail")

	aggs, err := resp.Aggregates(true)
	require.NoError(t, err)
	require.Len(t, aggs, 2)

	assert.Equal(t, 1000.0, aggs[0].ActiveNS)
	assert.Equal(t, 20000.0, aggs[0].IntegralNS)
	assert.Equal(t, 20.0, aggs[0].Mean())

	assert.Equal(t, 2000.0, aggs[1].ActiveNS)
	assert.Equal(t, 60000.0, aggs[1].IntegralNS)
}

func TestResponseValuesFromAggregatesConvertUsesMean(t *testing.T) {
	sum, count := 30.0, uint64(3)
	raw := &wire.HistoryResponse{
		TimeDelta: []int64{0, 1000},
		Aggregate: []*wire.Aggregate{
			{Sum: &sum, Count: &count},
			{Sum: &sum, Count: &count},
		},
	}
	resp, err := NewResponse(raw, 0)
	require.NoError(t, err)
	assert.Equal(t, wire.ModeAggregates, resp.Mode())

	values, err := resp.Values(true)
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Equal(t, 10.0, values[0].Value)
}

func TestResponseLegacyModeConvertsWithZeroedActiveTime(t *testing.T) {
	raw := &wire.HistoryResponse{
		TimeDelta: []int64{0, 1000},
		ValueMin:  []float64{1, 2},
		ValueMax:  []float64{3, 4},
		ValueAvg:  []float64{2, 3},
	}
	resp, err := NewResponse(raw, 0)
	require.NoError(t, err)
	assert.Equal(t, wire.ModeLegacy, resp.Mode())

	values, err := resp.Values(true)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3}, []float64{values[0].Value, values[1].Value})

	aggs, err := resp.Aggregates(true)
	require.NoError(t, err)
	assert.Equal(t, 0.0, aggs[0].ActiveNS)
	assert.Equal(t, 0.0, aggs[0].IntegralNS)
	assert.Equal(t, 1.0, aggs[0].Min)
	assert.Equal(t, 3.0, aggs[0].Max)
}
