package history

import (
	"fmt"

	"github.com/metricq/metricq-go/pkg/timeutil"
	"github.com/metricq/metricq-go/pkg/types"
	"github.com/metricq/metricq-go/pkg/wire"
)

// Response wraps one decoded HistoryResponse plus the server-reported
// request duration (from the "x-request-duration" header, §6), and
// transparently re-projects between the wire's three payload modes (§3,
// §4.8, P8).
type Response struct {
	raw      *wire.HistoryResponse
	mode     wire.ResponseMode
	Duration float64
}

// NewResponse determines raw's mode and wraps it. Returns an error if the
// response's repeated fields are internally inconsistent (§3).
func NewResponse(raw *wire.HistoryResponse, duration float64) (*Response, error) {
	mode, err := raw.Mode()
	if err != nil {
		return nil, err
	}
	return &Response{raw: raw, mode: mode, Duration: duration}, nil
}

// Mode reports which of the three wire shapes this response carries.
func (r *Response) Mode() wire.ResponseMode { return r.mode }

func decodeTimestamps(timeDelta []int64) []timeutil.Timestamp {
	out := make([]timeutil.Timestamp, len(timeDelta))
	var absolute timeutil.Timestamp
	for i, delta := range timeDelta {
		absolute = absolute.Add(timeutil.Timedelta(delta))
		out[i] = absolute
	}
	return out
}

// Values returns the response as a (timestamp, value) series. With
// convert=false, the response must already be in VALUES mode or this fails;
// with convert=true, AGGREGATES is re-projected to its mean and LEGACY to
// its stored average (§4.8).
func (r *Response) Values(convert bool) ([]types.TimeValue, error) {
	timestamps := decodeTimestamps(r.raw.TimeDelta)

	switch r.mode {
	case wire.ModeValues:
		out := make([]types.TimeValue, len(timestamps))
		for i, t := range timestamps {
			out[i] = types.TimeValue{Timestamp: t, Value: r.raw.Value[i]}
		}
		return out, nil
	case wire.ModeAggregates:
		if !convert {
			return nil, fmt.Errorf("history: response is in aggregates mode, not values (pass convert=true to re-project)")
		}
		out := make([]types.TimeValue, len(timestamps))
		for i, t := range timestamps {
			out[i] = types.TimeValue{Timestamp: t, Value: aggregateMean(r.raw.Aggregate[i])}
		}
		return out, nil
	case wire.ModeLegacy:
		if !convert {
			return nil, fmt.Errorf("history: response is in legacy mode, not values (pass convert=true to re-project)")
		}
		out := make([]types.TimeValue, len(timestamps))
		for i, t := range timestamps {
			out[i] = types.TimeValue{Timestamp: t, Value: r.raw.ValueAvg[i]}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("history: unhandled response mode %v", r.mode)
	}
}

// Aggregates returns the response as a (timestamp, TimeAggregate) series.
// With convert=false, the response must already be in AGGREGATES mode; with
// convert=true, VALUES is re-projected into one-point aggregates over
// successive deltas (skipping the first point, since it has no predecessor,
// per P8), and LEGACY is re-projected with integral=active_time=0 (§4.8).
func (r *Response) Aggregates(convert bool) ([]types.TimeAggregate, error) {
	timestamps := decodeTimestamps(r.raw.TimeDelta)

	switch r.mode {
	case wire.ModeAggregates:
		out := make([]types.TimeAggregate, len(timestamps))
		for i, t := range timestamps {
			out[i] = aggregateFromWire(t, r.raw.Aggregate[i])
		}
		return out, nil
	case wire.ModeValues:
		if !convert {
			return nil, fmt.Errorf("history: response is in values mode, not aggregates (pass convert=true to re-project)")
		}
		if len(timestamps) == 0 {
			return nil, nil
		}
		out := make([]types.TimeAggregate, 0, len(timestamps)-1)
		for i := 1; i < len(timestamps); i++ {
			out = append(out, types.AggregateFromValuePair(timestamps[i-1], timestamps[i], r.raw.Value[i]))
		}
		return out, nil
	case wire.ModeLegacy:
		if !convert {
			return nil, fmt.Errorf("history: response is in legacy mode, not aggregates (pass convert=true to re-project)")
		}
		out := make([]types.TimeAggregate, len(timestamps))
		for i, t := range timestamps {
			out[i] = types.TimeAggregate{
				Timestamp: t,
				Min:       r.raw.ValueMin[i],
				Max:       r.raw.ValueMax[i],
				Sum:       r.raw.ValueAvg[i],
				Count:     1,
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("history: unhandled response mode %v", r.mode)
	}
}

func aggregateMean(a *wire.Aggregate) float64 {
	if a.GetActiveTime() > 0 {
		return a.GetIntegral() / a.GetActiveTime()
	}
	if a.GetCount() > 0 {
		return a.GetSum() / float64(a.GetCount())
	}
	return 0
}

func aggregateFromWire(t timeutil.Timestamp, a *wire.Aggregate) types.TimeAggregate {
	return types.TimeAggregate{
		Timestamp:  t,
		Min:        a.GetMin(),
		Max:        a.GetMax(),
		Sum:        a.GetSum(),
		Count:      int64(a.GetCount()),
		IntegralNS: a.GetIntegral(),
		ActiveNS:   a.GetActiveTime(),
	}
}
