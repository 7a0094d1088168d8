// Package wire holds the protobuf wire types shared with the MetricQ broker
// and history store: DataChunk, HistoryRequest, and HistoryResponse (§6).
//
// These messages are hand-maintained in the classic gogo/protobuf reflection
// style (struct tags + proto.Message, no protoc-gen-gogo codegen step) so
// they marshal/unmarshal via github.com/gogo/protobuf/proto without a build
// step, the way older non-gogofaster messages in this ecosystem are written.
package wire

import "github.com/gogo/protobuf/proto"

// DataChunk is a run of same-metric values with delta-encoded timestamps.
// Invariant: len(TimeDelta) == len(Value); the first element's absolute time
// is TimeDelta[0] (deltas run from 0 inside a chunk).
type DataChunk struct {
	TimeDelta []int64   `protobuf:"zigzag64,1,rep,packed,name=time_delta,json=timeDelta" json:"time_delta,omitempty"`
	Value     []float64 `protobuf:"fixed64,2,rep,packed,name=value" json:"value,omitempty"`
}

func (m *DataChunk) Reset()         { *m = DataChunk{} }
func (m *DataChunk) String() string { return proto.CompactTextString(m) }
func (*DataChunk) ProtoMessage()    {}

func (m *DataChunk) GetTimeDelta() []int64 {
	if m != nil {
		return m.TimeDelta
	}
	return nil
}

func (m *DataChunk) GetValue() []float64 {
	if m != nil {
		return m.Value
	}
	return nil
}

// MarshalChunk encodes a DataChunk to its protobuf wire form.
func MarshalChunk(c *DataChunk) ([]byte, error) {
	return proto.Marshal(c)
}

// UnmarshalChunk decodes a protobuf-encoded DataChunk.
func UnmarshalChunk(data []byte) (*DataChunk, error) {
	c := &DataChunk{}
	if err := proto.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return c, nil
}

func init() {
	proto.RegisterType((*DataChunk)(nil), "metricq.DataChunk")
}
