package agent

import (
	"context"
	"encoding/json"
	"syscall"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metricq/metricq-go/internal/broker"
	"github.com/metricq/metricq-go/internal/mqerr"
	"github.com/metricq/metricq-go/pkg/rpc"
)

// fakeChannel is a minimal broker.Channel double: it records every Publish
// and lets tests push synthetic deliveries into whatever queue was consumed.
type fakeChannel struct {
	published   chan amqp.Publishing
	publishedTo chan string
	deliveries  chan amqp.Delivery
	closed      bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		published:   make(chan amqp.Publishing, 16),
		publishedTo: make(chan string, 16),
		deliveries:  make(chan amqp.Delivery, 16),
	}
}

func (f *fakeChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.published <- msg
	f.publishedTo <- key
	return nil
}

func (f *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	return f.deliveries, nil
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
func (f *fakeChannel) Close() error                                           { f.closed = true; return nil }

var _ broker.Channel = (*fakeChannel)(nil)

// fakeAcknowledger records Ack/Nack calls so handleDelivery's acking
// behavior can be asserted without a live broker.
type fakeAcknowledger struct {
	acked  []uint64
	nacked []uint64
	reqs   []bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.acked = append(f.acked, tag)
	return nil
}
func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.nacked = append(f.nacked, tag)
	f.reqs = append(f.reqs, requeue)
	return nil
}
func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error { return nil }

func newTestAgent(t *testing.T, registry *rpc.Registry) (*Agent, *fakeChannel) {
	t.Helper()
	a := New(Config{URL: "amqp://unused", Token: "test-agent"}, registry, nil)
	ch := newFakeChannel()
	a.mu.Lock()
	a.channel = ch
	a.rpcQueue = amqp.Queue{Name: a.RPCQueueName()}
	a.mu.Unlock()
	a.setState(StateReady)
	return a, ch
}

func TestRPCFutureModeResolvesOnReply(t *testing.T) {
	a, ch := newTestAgent(t, nil)

	resultCh := make(chan rpc.Args, 1)
	errCh := make(chan error, 1)
	go func() {
		res, err := a.RPC(context.Background(), "metricq.management", "some.function", "some.function", rpc.Args{"x": 1})
		resultCh <- res
		errCh <- err
	}()

	var pub amqp.Publishing
	select {
	case pub = <-ch.published:
	case <-time.After(time.Second):
		t.Fatal("expected a publish")
	}

	var body rpc.Args
	require.NoError(t, json.Unmarshal(pub.Body, &body))
	assert.Equal(t, "some.function", body["function"])
	assert.Equal(t, float64(1), body["x"])

	reply, _ := json.Marshal(rpc.Args{"answer": float64(42)})
	ch.deliveries <- amqp.Delivery{
		Acknowledger:  &fakeAcknowledger{},
		CorrelationId: pub.CorrelationId,
		Body:          reply,
	}
	go a.consumeLoop(context.Background(), ch.deliveries)

	select {
	case res := <-resultCh:
		assert.Equal(t, float64(42), res["answer"])
		assert.NoError(t, <-errCh)
	case <-time.After(time.Second):
		t.Fatal("RPC did not resolve")
	}
}

func TestRPCTimesOutWhenNoReply(t *testing.T) {
	a, ch := newTestAgent(t, nil)
	_ = ch

	_, err := a.RPC(context.Background(), "ex", "rk", "fn", nil, WithTimeout(10*time.Millisecond))
	assert.Error(t, err)
}

func TestRPCRejectsCleanupFalseWithoutCallback(t *testing.T) {
	a, _ := newTestAgent(t, nil)
	_, err := a.RPC(context.Background(), "ex", "rk", "fn", nil, WithCleanupOnResponse(false))
	assert.ErrorIs(t, err, errCleanupRequiresCallback)
}

func TestRPCCallbackModeReturnsImmediately(t *testing.T) {
	a, ch := newTestAgent(t, nil)

	done := make(chan struct{})
	var gotArgs rpc.Args
	var gotErr error
	res, err := a.RPC(context.Background(), "ex", "rk", "fn", nil, WithCallback(func(args rpc.Args, err error) {
		gotArgs, gotErr = args, err
		close(done)
	}))
	require.NoError(t, err)
	assert.Nil(t, res)

	pub := <-ch.published
	reply, _ := json.Marshal(rpc.Args{"ok": true})
	go a.consumeLoop(context.Background(), ch.deliveries)
	ch.deliveries <- amqp.Delivery{
		Acknowledger:  &fakeAcknowledger{},
		CorrelationId: pub.CorrelationId,
		Body:          reply,
	}

	select {
	case <-done:
		assert.NoError(t, gotErr)
		assert.Equal(t, true, gotArgs["ok"])
	case <-time.After(time.Second):
		t.Fatal("callback never fired")
	}
}

func TestHandleDeliveryDispatchesRequestAndReplies(t *testing.T) {
	registry := rpc.NewRegistry()
	registry.On("echo", func(ctx context.Context, args rpc.Args) (rpc.Args, error) {
		return rpc.Args{"from_token": args["from_token"]}, nil
	})
	a, ch := newTestAgent(t, registry)

	reqBody, _ := json.Marshal(rpc.Args{"function": "echo"})
	ack := &fakeAcknowledger{}
	a.handleDelivery(context.Background(), amqp.Delivery{
		Acknowledger:  ack,
		CorrelationId: "corr-1",
		ReplyTo:       "caller-queue",
		AppId:         "caller-token",
		Body:          reqBody,
	})

	require.Len(t, ack.acked, 1)
	require.Empty(t, ack.nacked)

	pub := <-ch.published
	routingKey := <-ch.publishedTo
	assert.Equal(t, "caller-queue", routingKey)
	assert.Equal(t, "corr-1", pub.CorrelationId)

	var replyBody rpc.Args
	require.NoError(t, json.Unmarshal(pub.Body, &replyBody))
	assert.Equal(t, "caller-token", replyBody["from_token"])
}

func TestHandleDeliveryUnknownRpcRepliesWithError(t *testing.T) {
	a, ch := newTestAgent(t, nil)

	reqBody, _ := json.Marshal(rpc.Args{"function": "nope"})
	a.handleDelivery(context.Background(), amqp.Delivery{
		Acknowledger:  &fakeAcknowledger{},
		CorrelationId: "corr-2",
		ReplyTo:       "caller-queue",
		Body:          reqBody,
	})

	pub := <-ch.published
	var replyBody rpc.Args
	require.NoError(t, json.Unmarshal(pub.Body, &replyBody))
	assert.Contains(t, replyBody["error"], "unknown rpc")
}

func TestHandleDeliveryDropsMalformedBody(t *testing.T) {
	a, _ := newTestAgent(t, nil)
	ack := &fakeAcknowledger{}
	a.handleDelivery(context.Background(), amqp.Delivery{
		Acknowledger: ack,
		Body:         []byte("not json"),
	})
	assert.Len(t, ack.nacked, 1)
	assert.False(t, ack.reqs[0])
}

func TestHandleDeliveryDropsUnknownCorrelation(t *testing.T) {
	a, _ := newTestAgent(t, nil)
	ack := &fakeAcknowledger{}
	body, _ := json.Marshal(rpc.Args{"answer": 1})
	a.handleDelivery(context.Background(), amqp.Delivery{
		Acknowledger:  ack,
		CorrelationId: "never-registered",
		Body:          body,
	})
	assert.Len(t, ack.acked, 1)
	assert.Empty(t, ack.nacked)
}

func TestStopFailsPendingRPCsWithAgentStopped(t *testing.T) {
	a, _ := newTestAgent(t, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := a.RPC(context.Background(), "ex", "rk", "fn", nil, WithTimeout(time.Minute))
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)

	a.Stop(nil)

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("pending rpc was not failed on Stop")
	}
	assert.Equal(t, StateStopped, a.State())
}

func TestStopIsIdempotent(t *testing.T) {
	a, _ := newTestAgent(t, nil)
	a.Stop(nil)
	a.Stop(nil)
	assert.Equal(t, StateStopped, a.State())
}

// TestSignalStopCauseSigintIsClean covers the SIGINT branch of Run's signal
// handling (S6): Ctrl-C stops the agent with a nil cause.
func TestSignalStopCauseSigintIsClean(t *testing.T) {
	assert.NoError(t, SignalStopCause(syscall.SIGINT))
}

// TestSignalStopCauseOtherSignalIsTagged covers the non-SIGINT branch (S6):
// a supervisor sending SIGTERM stops the agent with a ReceivedSignal cause
// so callers can tell it apart from an operator-requested shutdown.
func TestSignalStopCauseOtherSignalIsTagged(t *testing.T) {
	err := SignalStopCause(syscall.SIGTERM)
	require.Error(t, err)
	var recv *mqerr.ReceivedSignal
	require.ErrorAs(t, err, &recv)
	assert.Equal(t, syscall.SIGTERM.String(), recv.Name)
}

// TestRunSignalGoroutineStopsAgentOnSignal exercises the goroutine Run
// installs around sigCh/a.stopped without going through a real Connect
// dial: it reproduces Run's select body directly against a test agent.
func TestRunSignalGoroutineStopsAgentOnSignal(t *testing.T) {
	a, _ := newTestAgent(t, nil)

	sigCh := make(chan syscall.Signal, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case sig := <-sigCh:
			a.Stop(SignalStopCause(sig))
		case <-a.stopped:
		}
	}()

	sigCh <- syscall.SIGTERM

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("signal goroutine did not observe the signal")
	}
	assert.Equal(t, StateStopped, a.State())
}
