package broker

import (
	"testing"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChannel records every call topology.go makes so binding/declare order
// can be asserted without a broker.
type fakeChannel struct {
	calls []string
	bound []string
}

func (f *fakeChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return nil
}
func (f *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	return nil, nil
}
func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.calls = append(f.calls, "QueueDeclare:"+name)
	return amqp.Queue{Name: name}, nil
}
func (f *fakeChannel) QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	return amqp.Queue{Name: name}, nil
}
func (f *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	f.calls = append(f.calls, "QueueBind:"+name+":"+exchange)
	f.bound = append(f.bound, name)
	return nil
}
func (f *fakeChannel) ExchangeDeclarePassive(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.calls = append(f.calls, "ExchangeDeclarePassive:"+name)
	return nil
}
func (f *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error { return nil }
func (f *fakeChannel) Confirm(noWait bool) error                              { return nil }
func (f *fakeChannel) Close() error                                           { return nil }

var _ Channel = (*fakeChannel)(nil)

func TestDeclareRPCQueueDoesNotBindToBroadcast(t *testing.T) {
	ch := &fakeChannel{}
	_, err := DeclareRPCQueue(ch, "tok", false)
	require.NoError(t, err)
	assert.Empty(t, ch.bound, "bare Agent.Connect must not bind the RPC queue to the broadcast exchange")
}

func TestBindRPCQueueToBroadcastBindsWithWildcardKey(t *testing.T) {
	ch := &fakeChannel{}
	require.NoError(t, BindRPCQueueToBroadcast(ch, "tok-rpc"))
	require.Len(t, ch.bound, 1)
	assert.Equal(t, []string{"QueueBind:tok-rpc:" + BroadcastExchange}, ch.calls)
}
