package wire

import (
	"github.com/metricq/metricq-go/pkg/timeutil"
	"github.com/metricq/metricq-go/pkg/types"
)

// EncodeChunk delta-encodes a run of same-metric samples into a DataChunk.
// The caller must supply samples in increasing-timestamp order; the first
// emitted delta is the first sample's absolute timestamp (deltas run from 0
// inside a chunk, per §3).
func EncodeChunk(samples []types.TimeValue) *DataChunk {
	c := &DataChunk{
		TimeDelta: make([]int64, len(samples)),
		Value:     make([]float64, len(samples)),
	}
	var previous timeutil.Timestamp
	for i, s := range samples {
		c.TimeDelta[i] = s.Timestamp.Sub(previous).NS()
		c.Value[i] = s.Value
		previous = s.Timestamp
	}
	return c
}

// DecodeChunk restores absolute timestamps from a DataChunk by running-sum
// over the delta-encoded field, yielding the original (timestamp, value)
// pairs. Returns an error if TimeDelta and Value have mismatched lengths.
func DecodeChunk(c *DataChunk) ([]types.TimeValue, error) {
	if len(c.TimeDelta) != len(c.Value) {
		return nil, errLengthMismatch(len(c.TimeDelta), len(c.Value))
	}
	out := make([]types.TimeValue, len(c.TimeDelta))
	var absolute timeutil.Timestamp
	for i, delta := range c.TimeDelta {
		absolute = absolute.Add(timeutil.Timedelta(delta))
		out[i] = types.TimeValue{Timestamp: absolute, Value: c.Value[i]}
	}
	return out, nil
}

func errLengthMismatch(timeDeltaLen, valueLen int) error {
	return &ChunkLengthMismatchError{TimeDeltaLen: timeDeltaLen, ValueLen: valueLen}
}

// ChunkLengthMismatchError reports a DataChunk whose TimeDelta and Value
// fields disagree in length, violating the chunk invariant in §3.
type ChunkLengthMismatchError struct {
	TimeDeltaLen int
	ValueLen     int
}

func (e *ChunkLengthMismatchError) Error() string {
	return "wire: data chunk time_delta/value length mismatch"
}
