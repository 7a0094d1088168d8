package wire

import "github.com/gogo/protobuf/proto"

// HistoryRequest_Type enumerates the four kinds of history request.
type HistoryRequest_Type int32

const (
	HistoryRequest_AGGREGATE_TIMELINE HistoryRequest_Type = 0
	HistoryRequest_AGGREGATE          HistoryRequest_Type = 1
	HistoryRequest_LAST_VALUE         HistoryRequest_Type = 2
	HistoryRequest_FLEX_TIMELINE      HistoryRequest_Type = 3
)

var HistoryRequest_Type_name = map[int32]string{
	0: "AGGREGATE_TIMELINE",
	1: "AGGREGATE",
	2: "LAST_VALUE",
	3: "FLEX_TIMELINE",
}

func (t HistoryRequest_Type) String() string {
	if n, ok := HistoryRequest_Type_name[int32(t)]; ok {
		return n
	}
	return "UNKNOWN"
}

// HistoryRequest is the wire request for historic data. StartTime, EndTime
// and IntervalMax are optional (proto2-style pointers) so that a
// last-value request can omit all three, per §4.8.
type HistoryRequest struct {
	StartTime   *int64               `protobuf:"varint,1,opt,name=start_time,json=startTime" json:"start_time,omitempty"`
	EndTime     *int64               `protobuf:"varint,2,opt,name=end_time,json=endTime" json:"end_time,omitempty"`
	IntervalMax *int64               `protobuf:"varint,3,opt,name=interval_max,json=intervalMax" json:"interval_max,omitempty"`
	Type        *HistoryRequest_Type `protobuf:"varint,4,opt,name=type,enum=metricq.HistoryRequest_Type" json:"type,omitempty"`
}

func (m *HistoryRequest) Reset()         { *m = HistoryRequest{} }
func (m *HistoryRequest) String() string { return proto.CompactTextString(m) }
func (*HistoryRequest) ProtoMessage()    {}

func (m *HistoryRequest) GetStartTime() int64 {
	if m != nil && m.StartTime != nil {
		return *m.StartTime
	}
	return 0
}

func (m *HistoryRequest) GetEndTime() int64 {
	if m != nil && m.EndTime != nil {
		return *m.EndTime
	}
	return 0
}

func (m *HistoryRequest) GetIntervalMax() int64 {
	if m != nil && m.IntervalMax != nil {
		return *m.IntervalMax
	}
	return 0
}

func (m *HistoryRequest) GetType() HistoryRequest_Type {
	if m != nil && m.Type != nil {
		return *m.Type
	}
	return HistoryRequest_AGGREGATE_TIMELINE
}

// Aggregate is one point of a HistoryResponse in AGGREGATES mode.
type Aggregate struct {
	Min        *float64 `protobuf:"fixed64,1,opt,name=min" json:"min,omitempty"`
	Max        *float64 `protobuf:"fixed64,2,opt,name=max" json:"max,omitempty"`
	Sum        *float64 `protobuf:"fixed64,3,opt,name=sum" json:"sum,omitempty"`
	Count      *uint64  `protobuf:"varint,4,opt,name=count" json:"count,omitempty"`
	Integral   *float64 `protobuf:"fixed64,5,opt,name=integral" json:"integral,omitempty"`
	ActiveTime *float64 `protobuf:"fixed64,6,opt,name=active_time,json=activeTime" json:"active_time,omitempty"`
}

func (m *Aggregate) Reset()         { *m = Aggregate{} }
func (m *Aggregate) String() string { return proto.CompactTextString(m) }
func (*Aggregate) ProtoMessage()    {}

func (m *Aggregate) GetMin() float64 {
	if m != nil && m.Min != nil {
		return *m.Min
	}
	return 0
}

func (m *Aggregate) GetMax() float64 {
	if m != nil && m.Max != nil {
		return *m.Max
	}
	return 0
}

func (m *Aggregate) GetSum() float64 {
	if m != nil && m.Sum != nil {
		return *m.Sum
	}
	return 0
}

func (m *Aggregate) GetCount() uint64 {
	if m != nil && m.Count != nil {
		return *m.Count
	}
	return 0
}

func (m *Aggregate) GetIntegral() float64 {
	if m != nil && m.Integral != nil {
		return *m.Integral
	}
	return 0
}

func (m *Aggregate) GetActiveTime() float64 {
	if m != nil && m.ActiveTime != nil {
		return *m.ActiveTime
	}
	return 0
}

// HistoryResponse is one of three modes, determined by which repeated field
// has non-zero length equal to len(TimeDelta): AGGREGATES (Aggregate
// populated), VALUES (Value populated), or LEGACY (ValueMin/ValueMax/ValueAvg
// all populated). Any other combination is a protocol error (§3).
type HistoryResponse struct {
	TimeDelta []int64      `protobuf:"zigzag64,1,rep,packed,name=time_delta,json=timeDelta" json:"time_delta,omitempty"`
	Value     []float64    `protobuf:"fixed64,2,rep,packed,name=value" json:"value,omitempty"`
	Aggregate []*Aggregate `protobuf:"bytes,3,rep,name=aggregate" json:"aggregate,omitempty"`
	ValueMin  []float64    `protobuf:"fixed64,4,rep,packed,name=value_min,json=valueMin" json:"value_min,omitempty"`
	ValueMax  []float64    `protobuf:"fixed64,5,rep,packed,name=value_max,json=valueMax" json:"value_max,omitempty"`
	ValueAvg  []float64    `protobuf:"fixed64,6,rep,packed,name=value_avg,json=valueAvg" json:"value_avg,omitempty"`
}

func (m *HistoryResponse) Reset()         { *m = HistoryResponse{} }
func (m *HistoryResponse) String() string { return proto.CompactTextString(m) }
func (*HistoryResponse) ProtoMessage()    {}

// MarshalHistoryRequest encodes a HistoryRequest to its protobuf wire form.
func MarshalHistoryRequest(r *HistoryRequest) ([]byte, error) {
	return proto.Marshal(r)
}

// UnmarshalHistoryRequest decodes a protobuf-encoded HistoryRequest.
func UnmarshalHistoryRequest(data []byte) (*HistoryRequest, error) {
	r := &HistoryRequest{}
	if err := proto.Unmarshal(data, r); err != nil {
		return nil, err
	}
	return r, nil
}

// MarshalHistoryResponse encodes a HistoryResponse to its protobuf wire form.
func MarshalHistoryResponse(r *HistoryResponse) ([]byte, error) {
	return proto.Marshal(r)
}

// UnmarshalHistoryResponse decodes a protobuf-encoded HistoryResponse.
func UnmarshalHistoryResponse(data []byte) (*HistoryResponse, error) {
	r := &HistoryResponse{}
	if err := proto.Unmarshal(data, r); err != nil {
		return nil, err
	}
	return r, nil
}

func init() {
	proto.RegisterType((*HistoryRequest)(nil), "metricq.HistoryRequest")
	proto.RegisterType((*Aggregate)(nil), "metricq.Aggregate")
	proto.RegisterType((*HistoryResponse)(nil), "metricq.HistoryResponse")
}
