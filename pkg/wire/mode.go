package wire

import "fmt"

// ResponseMode identifies which of the three HistoryResponse payload shapes
// is populated (§3).
type ResponseMode int

const (
	ModeAggregates ResponseMode = iota
	ModeValues
	ModeLegacy
)

func (m ResponseMode) String() string {
	switch m {
	case ModeAggregates:
		return "aggregates"
	case ModeValues:
		return "values"
	case ModeLegacy:
		return "legacy"
	default:
		return "unknown"
	}
}

// Mode determines the response's mode by checking which repeated field(s)
// have non-zero length equal to len(TimeDelta). Exactly one of the three
// shapes may be populated; any other combination (none populated, more than
// one populated, or a populated field of the wrong length) is a protocol
// error.
func (m *HistoryResponse) Mode() (ResponseMode, error) {
	n := len(m.TimeDelta)
	if n == 0 {
		return 0, fmt.Errorf("wire: empty HistoryResponse has no determinable mode")
	}

	aggregates := len(m.Aggregate) == n
	values := len(m.Value) == n
	legacy := len(m.ValueMin) == n && len(m.ValueMax) == n && len(m.ValueAvg) == n &&
		len(m.ValueMin) > 0

	count := 0
	var mode ResponseMode
	if aggregates {
		count++
		mode = ModeAggregates
	}
	if values {
		count++
		mode = ModeValues
	}
	if legacy {
		count++
		mode = ModeLegacy
	}

	if count != 1 {
		return 0, fmt.Errorf(
			"wire: inconsistent HistoryResponse: time_delta=%d aggregate=%d value=%d value_min=%d value_max=%d value_avg=%d",
			n, len(m.Aggregate), len(m.Value), len(m.ValueMin), len(m.ValueMax), len(m.ValueAvg),
		)
	}
	return mode, nil
}
