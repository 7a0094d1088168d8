package source

import (
	"sync"

	"github.com/metricq/metricq-go/pkg/timeutil"
	"github.com/metricq/metricq-go/pkg/wire"
)

// flushFunc publishes a finished chunk for a metric (§4.6 _send).
type flushFunc func(metric string, chunk *wire.DataChunk) error

// Metric is the per-metric chunk builder a Source owns (§3 SourceMetric):
// (id, previousTimestamp, chunk, chunkSize). previousTimestamp is the
// absolute time of the last appended sample, reset to 0 on flush, so the
// first sample after a flush encodes its absolute time as its delta.
type Metric struct {
	id        string
	chunkSize int
	flush     flushFunc

	mu       sync.Mutex
	previous timeutil.Timestamp
	chunk    *wire.DataChunk
}

func newMetric(id string, chunkSize int, flush flushFunc) *Metric {
	return &Metric{id: id, chunkSize: chunkSize, flush: flush, chunk: &wire.DataChunk{}}
}

// Append records one sample, auto-flushing per §4.6: chunkSize<=1 flushes
// every sample; chunkSize=k>1 flushes once the chunk reaches k samples.
func (m *Metric) Append(t timeutil.Timestamp, v float64) error {
	toFlush := m.appendLocked(t, v)
	if toFlush == nil {
		return nil
	}
	return m.flush(m.id, toFlush)
}

func (m *Metric) appendLocked(t timeutil.Timestamp, v float64) *wire.DataChunk {
	m.mu.Lock()
	defer m.mu.Unlock()

	delta := t.Sub(m.previous).NS()
	m.previous = t
	m.chunk.TimeDelta = append(m.chunk.TimeDelta, delta)
	m.chunk.Value = append(m.chunk.Value, v)

	if m.chunkSize <= 1 || len(m.chunk.Value) >= m.chunkSize {
		return m.takeChunkLocked()
	}
	return nil
}

// takeChunkLocked must be called with mu held.
func (m *Metric) takeChunkLocked() *wire.DataChunk {
	out := m.chunk
	m.chunk = &wire.DataChunk{}
	m.previous = 0
	return out
}

// Flush force-flushes any buffered, non-empty chunk. A no-op when empty.
func (m *Metric) Flush() error {
	m.mu.Lock()
	if len(m.chunk.Value) == 0 {
		m.mu.Unlock()
		return nil
	}
	out := m.takeChunkLocked()
	m.mu.Unlock()
	return m.flush(m.id, out)
}
