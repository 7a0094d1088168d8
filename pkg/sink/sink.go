// Package sink implements the Sink role (§4.7): subscribes to metrics,
// consumes DataChunks on a manager-assigned queue, and resubscribes after a
// data-connection reconnect.
package sink

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"github.com/metricq/metricq-go/internal/broker"
	"github.com/metricq/metricq-go/internal/mlog"
	"github.com/metricq/metricq-go/internal/mqerr"
	"github.com/metricq/metricq-go/pkg/agent"
	"github.com/metricq/metricq-go/pkg/dataclient"
	"github.com/metricq/metricq-go/pkg/rpc"
	"github.com/metricq/metricq-go/pkg/timeutil"
	"github.com/metricq/metricq-go/pkg/wire"
)

// NewRegistry returns a registry for Sink roles. Sink registers no RPC
// handlers of its own beyond whatever base already carries (discover, and
// any "config" handling the embedding application added); callers typically
// pass a registry built from client.NewRegistry so discover is answered.
func NewRegistry(base *rpc.Registry) *rpc.Registry {
	if base == nil {
		return rpc.NewRegistry()
	}
	return base.Extend()
}

// DataHandler is the single user-override point (§4.7 on_data): invoked once
// per (time, value) pair decoded from a delivered DataChunk, with the
// reconstructed absolute timestamp.
type DataHandler func(metric string, t timeutil.Timestamp, v float64)

type rpcFunc func(ctx context.Context, function string, args rpc.Args, opts ...agent.RPCOption) (rpc.Args, error)

// Sink subscribes to metrics and delivers decoded samples to a DataHandler.
type Sink struct {
	*dataclient.DataClient

	onData DataHandler
	rpc    rpcFunc

	mu            sync.Mutex
	subscribed    map[string]struct{}
	dataQueueName string
	consumerTag   string
	subscribeArgs rpc.Args

	resubMu     sync.Mutex
	resubCancel context.CancelFunc
}

// New constructs a Sink. onData may be nil for a sink that only wants the
// broker-side bookkeeping (tests, pass-through relays).
func New(cfg dataclient.Config, registry *rpc.Registry, onData DataHandler, log *mlog.Logger) *Sink {
	s := &Sink{
		DataClient: dataclient.New(cfg, registry, log),
		onData:     onData,
		subscribed: make(map[string]struct{}),
	}
	s.rpc = s.Client.RPC
	s.SetReconnectHook(s.resubscribeHook)
	return s
}

// Subscribe issues sink.subscribe for metrics (plus any caller-supplied
// options, e.g. "expires" or metadata flags), remembering the merged
// arguments as subscribeArgs. The first successful subscribe also opens the
// data connection and begins consuming (§4.7 steps 1-3).
func (s *Sink) Subscribe(ctx context.Context, metrics []string, opts rpc.Args) error {
	args := rpc.Args{}
	for k, v := range opts {
		args[k] = v
	}
	args["metrics"] = metrics

	s.mu.Lock()
	haveQueue := s.dataQueueName != ""
	if haveQueue {
		args["dataQueue"] = s.dataQueueName
	}
	s.mu.Unlock()

	reply, err := s.rpc(ctx, "sink.subscribe", args)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.subscribeArgs = args
	for _, m := range metrics {
		s.subscribed[m] = struct{}{}
	}
	s.mu.Unlock()

	if haveQueue {
		return nil
	}
	return s.openDataQueue(ctx, reply)
}

// openDataQueue performs the first-time data-connection setup a subscribe
// reply with no existing data queue triggers (§4.7 step 2).
func (s *Sink) openDataQueue(ctx context.Context, reply rpc.Args) error {
	dataQueue, _ := reply["dataQueue"].(string)
	dataServerAddress, _ := reply["dataServerAddress"].(string)

	ch, err := s.OpenDataConnection(ctx, dataServerAddress)
	if err != nil {
		return err
	}

	q, err := broker.DeclareDataQueuePassive(ch, dataQueue)
	if err != nil {
		return &mqerr.ConnectFailed{Cause: err}
	}

	consumerTag := "metricq-sink-" + uuid.New().String()
	deliveries, err := ch.Consume(q.Name, consumerTag, false, false, false, false, nil)
	if err != nil {
		return &mqerr.ConnectFailed{Cause: err}
	}

	s.mu.Lock()
	s.dataQueueName = q.Name
	s.consumerTag = consumerTag
	s.mu.Unlock()

	go s.consumeLoop(ctx, deliveries)
	return nil
}

// Unsubscribe issues sink.unsubscribe and drops metrics from the subscribed
// set, resetting subscribeArgs once the set is empty (§4.7).
func (s *Sink) Unsubscribe(ctx context.Context, metrics []string) error {
	s.mu.Lock()
	dataQueue := s.dataQueueName
	s.mu.Unlock()

	_, err := s.rpc(ctx, "sink.unsubscribe", rpc.Args{"dataQueue": dataQueue, "metrics": metrics})
	if err != nil {
		return err
	}

	s.mu.Lock()
	for _, m := range metrics {
		delete(s.subscribed, m)
	}
	if len(s.subscribed) == 0 {
		s.subscribeArgs = rpc.Args{}
	}
	s.mu.Unlock()
	return nil
}

// SubscribedMetrics returns a snapshot of the currently subscribed set.
func (s *Sink) SubscribedMetrics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subscribed))
	for m := range s.subscribed {
		out = append(out, m)
	}
	return out
}

func (s *Sink) consumeLoop(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			s.handleChunk(d)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sink) handleChunk(d amqp.Delivery) {
	chunk, err := wire.UnmarshalChunk(d.Body)
	if err != nil {
		s.Log().Warnf("sink: dropping malformed chunk: %v", err)
		_ = d.Nack(false, false)
		return
	}

	samples, err := wire.DecodeChunk(chunk)
	if err != nil {
		s.Log().Warnf("sink: dropping chunk with inconsistent lengths: %v", err)
		_ = d.Nack(false, false)
		return
	}

	if s.onData != nil {
		metric := d.RoutingKey
		for _, sample := range samples {
			s.onData(metric, sample.Timestamp, sample.Value)
		}
	}
	_ = d.Ack(false)
}

// resubscribeHook is DataClient's ReconnectHook: after a fresh data channel
// is dialed, re-issue sink.subscribe for the pre-disconnect metric set and
// data queue, re-declare the (possibly renamed) queue, and restart consume
// under the same consumer tag, before the watchdog is allowed back to
// established (§4.7's hardest contract, steps 1-5).
func (s *Sink) resubscribeHook(ctx context.Context, ch broker.Channel) error {
	s.resubMu.Lock()
	if s.resubCancel != nil {
		s.resubCancel()
	}
	resubCtx, cancel := context.WithCancel(ctx)
	s.resubCancel = cancel
	s.resubMu.Unlock()

	s.mu.Lock()
	metrics := make([]string, 0, len(s.subscribed))
	for m := range s.subscribed {
		metrics = append(metrics, m)
	}
	dataQueueName := s.dataQueueName
	consumerTag := s.consumerTag
	subscribeArgs := s.subscribeArgs
	s.mu.Unlock()

	if len(metrics) == 0 {
		return nil
	}

	args := rpc.Args{}
	for k, v := range subscribeArgs {
		args[k] = v
	}
	args["metrics"] = metrics
	args["dataQueue"] = dataQueueName

	reply, err := s.rpc(resubCtx, "sink.subscribe", args)
	if err != nil {
		return &mqerr.SinkResubscribeError{Cause: err}
	}

	newQueueName, _ := reply["dataQueue"].(string)
	if newQueueName == "" {
		newQueueName = dataQueueName
	}

	q, err := broker.DeclareDataQueuePassive(ch, newQueueName)
	if err != nil {
		return &mqerr.SinkResubscribeError{Cause: err}
	}

	deliveries, err := ch.Consume(q.Name, consumerTag, false, false, false, false, nil)
	if err != nil {
		return &mqerr.SinkResubscribeError{Cause: err}
	}

	s.mu.Lock()
	s.dataQueueName = q.Name
	s.mu.Unlock()

	go s.consumeLoop(resubCtx, deliveries)
	return nil
}
