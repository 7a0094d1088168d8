package source

import (
	"context"
	"sync"
	"testing"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metricq/metricq-go/internal/broker"
	"github.com/metricq/metricq-go/pkg/agent"
	"github.com/metricq/metricq-go/pkg/dataclient"
	"github.com/metricq/metricq-go/pkg/timeutil"
	"github.com/metricq/metricq-go/pkg/wire"
)

type fakeConn struct{ channel broker.Channel }

func (f *fakeConn) Channel() (broker.Channel, error) { return f.channel, nil }
func (f *fakeConn) NotifyClose() <-chan *amqp.Error  { return make(chan *amqp.Error) }
func (f *fakeConn) Close() error                     { return nil }

// fakeChannel records every published chunk body for a metric so chunking
// behavior can be asserted without a broker.
type fakeChannel struct {
	mu        sync.Mutex
	published map[string][]*wire.DataChunk
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{published: make(map[string][]*wire.DataChunk)}
}

func (f *fakeChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	chunk, err := wire.UnmarshalChunk(msg.Body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.published[key] = append(f.published[key], chunk)
	f.mu.Unlock()
	return nil
}
func (f *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	return make(chan amqp.Delivery), nil
}
func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	return amqp.Queue{Name: name}, nil
}
func (f *fakeChannel) QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	return amqp.Queue{Name: name}, nil
}
func (f *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	return nil
}
func (f *fakeChannel) ExchangeDeclarePassive(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	return nil
}
func (f *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error { return nil }
func (f *fakeChannel) Confirm(noWait bool) error                              { return nil }
func (f *fakeChannel) Close() error                                           { return nil }

var _ broker.Conn = (*fakeConn)(nil)
var _ broker.Channel = (*fakeChannel)(nil)

// newTestSource builds a Source with its data connection already open
// against a fakeChannel, bypassing the real source.register RPC round trip
// the way dataclient_test's newTestDataClient bypasses Agent.Connect.
func newTestSource(t *testing.T) (*Source, *fakeChannel) {
	t.Helper()
	s := New(dataclient.Config{Config: agent.Config{URL: "amqp://unused", Token: "test-source"}}, nil, nil)
	ch := newFakeChannel()
	s.SetDialer(func(ctx context.Context, url string) (broker.Conn, broker.Channel, error) {
		return &fakeConn{channel: ch}, ch, nil
	})
	_, err := s.OpenDataConnection(context.Background(), "amqp://data.example/")
	require.NoError(t, err)

	s.mu.Lock()
	s.dataExchange = "metricq.data"
	s.mu.Unlock()

	return s, ch
}

func TestSendFlushesEverySampleWhenChunkSizeOne(t *testing.T) {
	s, ch := newTestSource(t)

	require.NoError(t, s.Send("m", timeutil.FromNanoseconds(1000), 1, 1))
	require.NoError(t, s.Send("m", timeutil.FromNanoseconds(2000), 2, 1))

	chunks := ch.published["m"]
	require.Len(t, chunks, 2)
	assert.Equal(t, []float64{1}, chunks[0].Value)
	assert.Equal(t, []float64{2}, chunks[1].Value)
}

func TestSendBuffersUntilChunkSizeReached(t *testing.T) {
	s, ch := newTestSource(t)

	require.NoError(t, s.Send("m", timeutil.FromNanoseconds(1000), 1, 3))
	require.NoError(t, s.Send("m", timeutil.FromNanoseconds(2000), 2, 3))
	assert.Empty(t, ch.published["m"])

	require.NoError(t, s.Send("m", timeutil.FromNanoseconds(3000), 3, 3))
	require.Len(t, ch.published["m"], 1)
	assert.Equal(t, []float64{1, 2, 3}, ch.published["m"][0].Value)
}

func TestFlushPublishesPartialChunk(t *testing.T) {
	s, ch := newTestSource(t)

	require.NoError(t, s.Send("m", timeutil.FromNanoseconds(1000), 1, 10))
	assert.Empty(t, ch.published["m"])

	require.NoError(t, s.Flush())
	require.Len(t, ch.published["m"], 1)
}

func TestFlushIsNoopWithNoBufferedSamples(t *testing.T) {
	s, _ := newTestSource(t)
	require.NoError(t, s.Flush())
}

func TestSendRoutesDistinctMetricsIndependently(t *testing.T) {
	s, ch := newTestSource(t)

	require.NoError(t, s.Send("a", timeutil.FromNanoseconds(1000), 1, 1))
	require.NoError(t, s.Send("b", timeutil.FromNanoseconds(1000), 2, 1))

	assert.Len(t, ch.published["a"], 1)
	assert.Len(t, ch.published["b"], 1)
}
