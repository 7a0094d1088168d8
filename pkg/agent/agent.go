// Package agent implements the Agent runtime (§3/§4.2/§5) every MetricQ role
// is built on: a single management connection multiplexing JSON-RPC over
// AMQP, a correlation table for outstanding requests, and an RPC dispatcher
// fed from deliveries on the agent's own exclusive queue.
package agent

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/streadway/amqp"
	"go.uber.org/atomic"

	"github.com/metricq/metricq-go/internal/broker"
	"github.com/metricq/metricq-go/internal/mlog"
	"github.com/metricq/metricq-go/internal/mqerr"
	"github.com/metricq/metricq-go/pkg/rpc"
	"github.com/metricq/metricq-go/pkg/timeutil"
)

var errCleanupRequiresCallback = pkgerrors.New("rpc: cleanup_on_response=false requires an explicit callback")

// Config configures an Agent's management connection.
type Config struct {
	URL string
	// Token identifies this agent on the broker. Durable roles (Source,
	// DurableSink) pass a bare, stable token; non-durable roles (Sink, by
	// default) should already have a UUID suffix applied by the caller.
	Token string
	// Durable marks the agent's RPC queue as durable+non-auto-delete,
	// matching the owning role's durability policy (§4.2).
	Durable bool
	// RPCTimeout is the default timeout for RPC, used when a call doesn't
	// override it. Zero means 60s.
	RPCTimeout time.Duration
}

func (c Config) rpcTimeout() time.Duration {
	if c.RPCTimeout <= 0 {
		return 60 * time.Second
	}
	return c.RPCTimeout
}

type correlationEntry struct {
	cleanupOnResponse bool
	callback          func(rpc.Args, error)
}

// Agent is the shared runtime for Source, Sink, HistoryClient and Client.
// The zero value is not usable; construct with New.
type Agent struct {
	log      *mlog.Logger
	cfg      Config
	registry *rpc.Registry

	// reportTaskError is how background goroutines (consume loops, periodic
	// drivers) surface an unexpected error; set via Run's cancelOnException.
	cancelOnException atomic.Bool

	state atomic.Int32

	mu       sync.Mutex
	conn     *broker.Connection
	channel  broker.Channel
	rpcQueue amqp.Queue
	started  timeutil.Timestamp

	corrMu       sync.Mutex
	correlations map[string]*correlationEntry

	runCtx    context.Context
	runCancel context.CancelFunc

	stopOnce sync.Once
	stopErr  error
	stopped  chan struct{}
}

// New constructs an Agent. registry may be nil (no RPC handlers).
func New(cfg Config, registry *rpc.Registry, log *mlog.Logger) *Agent {
	if log == nil {
		log = mlog.NOP()
	}
	if registry == nil {
		registry = rpc.NewRegistry()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Agent{
		log:          log,
		cfg:          cfg,
		registry:     registry,
		correlations: make(map[string]*correlationEntry),
		runCtx:       ctx,
		runCancel:    cancel,
		stopped:      make(chan struct{}),
	}
}

// Token is this agent's broker identity.
func (a *Agent) Token() string { return a.cfg.Token }

// State reports the agent's current lifecycle state.
func (a *Agent) State() State { return State(a.state.Load()) }

func (a *Agent) setState(s State) { a.state.Store(int32(s)) }

// Log exposes the agent's logger to embedding roles.
func (a *Agent) Log() *mlog.Logger { return a.log }

// Registry exposes the dispatcher embedding roles register additional
// handlers on (via Registry().On or a fresh Registry().Extend()).
func (a *Agent) Registry() *rpc.Registry { return a.registry }

// RPCQueueName is the name of this agent's exclusive management queue.
func (a *Agent) RPCQueueName() string { return broker.RPCQueueName(a.cfg.Token) }

// Connect dials the management connection, opens a channel and declares the
// agent's exclusive RPC queue (§3: INIT -> CONNECTING -> READY).
func (a *Agent) Connect(ctx context.Context) error {
	a.setState(StateConnecting)

	conn, err := broker.DialWithBackoff(ctx, a.cfg.URL, a.log.With("connection"))
	if err != nil {
		a.setState(StateStopped)
		return &mqerr.ConnectFailed{Cause: err}
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		a.setState(StateStopped)
		return &mqerr.ConnectFailed{Cause: err}
	}

	q, err := broker.DeclareRPCQueue(ch, a.cfg.Token, a.cfg.Durable)
	if err != nil {
		ch.Close()
		conn.Close()
		a.setState(StateStopped)
		return &mqerr.ConnectFailed{Cause: err}
	}

	a.mu.Lock()
	a.conn = conn
	a.channel = ch
	a.rpcQueue = q
	a.started = timeutil.Now()
	a.mu.Unlock()

	if err := a.RPCConsume(a.runCtx); err != nil {
		a.setState(StateStopped)
		return &mqerr.ConnectFailed{Cause: err}
	}

	a.setState(StateReady)
	return nil
}

// Channel exposes the underlying management channel to embedding roles (the
// Client uses it to declare/bind the management and broadcast exchanges;
// Source/Sink use it to publish declare_metrics/register RPCs).
func (a *Agent) Channel() broker.Channel {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.channel
}

// RPCConsume begins consuming the agent's own RPC queue plus any extra
// queues (the Client adds nothing; Sink's data-queue consumption lives in
// pkg/sink instead, since it runs on the separate data connection).
func (a *Agent) RPCConsume(ctx context.Context, extraQueues ...string) error {
	queues := append([]string{a.rpcQueue.Name}, extraQueues...)
	for _, qn := range queues {
		deliveries, err := a.channel.Consume(qn, "", false, false, false, false, nil)
		if err != nil {
			return err
		}
		go a.consumeLoop(ctx, deliveries)
	}
	return nil
}

func (a *Agent) consumeLoop(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			a.handleDelivery(ctx, d)
		case <-ctx.Done():
			return
		}
	}
}

// handleDelivery classifies an inbound message as an RPC request or an RPC
// response (§4.2) and routes it accordingly. Malformed bodies are dropped
// without requeue; unknown-correlation responses are logged and dropped.
func (a *Agent) handleDelivery(ctx context.Context, d amqp.Delivery) {
	body, err := rpc.DecodeBody(d.Body)
	if err != nil {
		a.log.Warnf("dropping malformed delivery: %v", err)
		_ = d.Nack(false, false)
		return
	}

	if rpc.IsRequest(body) {
		a.handleRequest(ctx, d, body)
		return
	}
	a.handleResponse(d, body)
}

func (a *Agent) handleRequest(ctx context.Context, d amqp.Delivery, body rpc.Args) {
	tag, _ := rpc.Function(body)
	args := rpc.Args{}
	for k, v := range body {
		if k == rpc.FunctionKey {
			continue
		}
		args[k] = v
	}
	args["from_token"] = d.AppId

	result, dispatchErr := a.registry.Dispatch(ctx, tag, args)

	if d.ReplyTo != "" {
		var replyBody []byte
		if dispatchErr != nil {
			a.log.Warnf("rpc %q failed: %v", tag, dispatchErr)
			replyBody = rpc.EncodeErrorReply(dispatchErr.Error())
		} else {
			replyBody, _ = rpc.EncodeReply(result)
		}
		if err := a.publish("", d.ReplyTo, amqp.Publishing{
			ContentType:   "application/json",
			CorrelationId: d.CorrelationId,
			AppId:         a.cfg.Token,
			Body:          replyBody,
		}); err != nil {
			a.log.Errorf("failed to publish rpc reply for %q: %v", tag, err)
		}
	}

	_ = d.Ack(false)
}

func (a *Agent) handleResponse(d amqp.Delivery, body rpc.Args) {
	entry, ok := a.lookupCorrelation(d.CorrelationId)
	if !ok {
		a.log.Warnf("dropping response with unknown correlation id %q", d.CorrelationId)
		_ = d.Ack(false)
		return
	}
	_ = d.Ack(false)

	if msg, isErr := rpc.ReplyError(body); isErr {
		entry.callback(nil, &mqerr.RpcError{Message: msg})
		return
	}
	entry.callback(body, nil)
}

func (a *Agent) storeCorrelation(id string, cleanupOnResponse bool, cb func(rpc.Args, error)) {
	a.corrMu.Lock()
	defer a.corrMu.Unlock()
	a.correlations[id] = &correlationEntry{cleanupOnResponse: cleanupOnResponse, callback: cb}
}

// lookupCorrelation resolves a response's correlation id, removing the entry
// when it's marked cleanup-on-response.
func (a *Agent) lookupCorrelation(id string) (*correlationEntry, bool) {
	a.corrMu.Lock()
	defer a.corrMu.Unlock()
	e, ok := a.correlations[id]
	if !ok {
		return nil, false
	}
	if e.cleanupOnResponse {
		delete(a.correlations, id)
	}
	return e, true
}

// takeCorrelation unconditionally removes and returns an entry, used by the
// timeout path: whichever of {response arrival, timeout} gets there first
// under corrMu wins; the other is a no-op.
func (a *Agent) takeCorrelation(id string) (*correlationEntry, bool) {
	a.corrMu.Lock()
	defer a.corrMu.Unlock()
	e, ok := a.correlations[id]
	if ok {
		delete(a.correlations, id)
	}
	return e, ok
}

func (a *Agent) publish(exchange, routingKey string, msg amqp.Publishing) error {
	a.mu.Lock()
	ch := a.channel
	a.mu.Unlock()
	return ch.Publish(exchange, routingKey, false, false, msg)
}

// RPCOption customises a single RPC call.
type RPCOption func(*rpcOptions)

type rpcOptions struct {
	timeout           time.Duration
	cleanupOnResponse bool
	callback          func(rpc.Args, error)
	extraArgs         rpc.Args
}

// WithArg merges an additional key/value into the RPC's argument body,
// alongside whatever was passed as the args parameter (the Python original's
// rpc() accepts both a positional arguments map and named kwargs; this is
// the Go equivalent of the latter).
func WithArg(key string, val interface{}) RPCOption {
	return func(o *rpcOptions) {
		if o.extraArgs == nil {
			o.extraArgs = rpc.Args{}
		}
		o.extraArgs[key] = val
	}
}

// WithTimeout overrides the agent's default RPC timeout (Config.RPCTimeout,
// 60s when unset).
func WithTimeout(d time.Duration) RPCOption { return func(o *rpcOptions) { o.timeout = d } }

// WithCallback makes the RPC call asynchronous: the callback fires from the
// consume loop goroutine when a reply resolves it (from the timer goroutine
// on timeout, or from Stop when the agent stops first), and RPC itself
// returns immediately with a nil, nil result.
func WithCallback(cb func(rpc.Args, error)) RPCOption {
	return func(o *rpcOptions) { o.callback = cb }
}

// WithCleanupOnResponse controls whether the correlation entry is removed
// after the first reply. false requires WithCallback (P2): a future-backed
// call has no way to observe more than one reply, so it is always
// self-cleaning.
func WithCleanupOnResponse(b bool) RPCOption {
	return func(o *rpcOptions) { o.cleanupOnResponse = b }
}

type rpcResult struct {
	args rpc.Args
	err  error
}

// RPC sends an RPC request (§4.2): body is {"function": function, ...args}.
// With no WithCallback option, RPC blocks until a reply, ctx cancellation or
// timeout resolves it (the "future" path). With WithCallback, RPC returns
// immediately and the callback is invoked later from the consume loop.
func (a *Agent) RPC(ctx context.Context, exchange, routingKey, function string, args rpc.Args, opts ...RPCOption) (rpc.Args, error) {
	o := &rpcOptions{timeout: a.cfg.rpcTimeout(), cleanupOnResponse: true}
	for _, opt := range opts {
		opt(o)
	}
	if !o.cleanupOnResponse && o.callback == nil {
		return nil, errCleanupRequiresCallback
	}
	if len(o.extraArgs) > 0 {
		merged := rpc.Args{}
		for k, v := range args {
			merged[k] = v
		}
		for k, v := range o.extraArgs {
			merged[k] = v
		}
		args = merged
	}

	body, err := rpc.EncodeRequest(function, args)
	if err != nil {
		return nil, err
	}

	correlationID := rpc.NewCorrelationID(a.cfg.Token)

	futureMode := o.callback == nil
	var resultCh chan rpcResult
	if futureMode {
		resultCh = make(chan rpcResult, 1)
	}

	var timer *time.Timer
	deliver := func(res rpc.Args, deliverErr error) {
		if timer != nil {
			timer.Stop()
		}
		if o.callback != nil {
			o.callback(res, deliverErr)
			return
		}
		select {
		case resultCh <- rpcResult{res, deliverErr}:
		default:
		}
	}

	a.storeCorrelation(correlationID, o.cleanupOnResponse, deliver)

	timer = time.AfterFunc(o.timeout, func() {
		if _, existed := a.takeCorrelation(correlationID); existed {
			deliver(nil, &mqerr.Timeout{Tag: function})
		}
	})

	pubErr := a.publish(exchange, routingKey, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: correlationID,
		ReplyTo:       a.RPCQueueName(),
		AppId:         a.cfg.Token,
		Body:          body,
	})
	if pubErr != nil {
		a.takeCorrelation(correlationID)
		timer.Stop()
		return nil, &mqerr.RpcRequestError{Cause: pubErr}
	}

	if !futureMode {
		return nil, nil
	}

	select {
	case res := <-resultCh:
		return res.args, res.err
	case <-ctx.Done():
		a.takeCorrelation(correlationID)
		timer.Stop()
		return nil, ctx.Err()
	}
}

// RunTask runs fn on its own goroutine, scoped to the agent's internal
// lifetime context. Any error fn returns is handled per Run's
// cancelOnException policy: stop the agent with it as cause, or log and
// keep going. Source's user task() and IntervalSource's periodic driver are
// both started this way.
func (a *Agent) RunTask(fn func(ctx context.Context) error) {
	go func() {
		if err := fn(a.runCtx); err != nil {
			a.reportTaskError(err)
		}
	}()
}

// reportTaskError is how internal goroutines (periodic drivers, consume
// loops) surface an error outside the normal RPC/dispatch path: with
// cancelOnException it stops the agent with err as the cause; otherwise it
// logs and the goroutine is expected to continue.
func (a *Agent) reportTaskError(err error) {
	if err == nil {
		return
	}
	if a.cancelOnException.Load() {
		a.Stop(err)
		return
	}
	a.log.Errorf("unhandled background error (continuing): %v", err)
}

// Run connects, installs signal handling (SIGINT stops cleanly; any other
// caught signal stops with ReceivedSignal) and blocks until Stop is called,
// returning the stop cause wrapped in AgentStopped.
func (a *Agent) Run(ctx context.Context, catchSignals []os.Signal, cancelOnException bool) error {
	a.cancelOnException.Store(cancelOnException)

	if len(catchSignals) == 0 {
		catchSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, catchSignals...)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			a.Stop(SignalStopCause(sig))
		case <-a.stopped:
		}
	}()

	if err := a.Connect(ctx); err != nil {
		return err
	}

	if err := a.Wait(); err != nil {
		return &mqerr.AgentStopped{Cause: err}
	}
	return nil
}

// SignalStopCause maps a caught OS signal to the cause Run stops the agent
// with: SIGINT is treated as a clean shutdown request, anything else is
// tagged so callers can distinguish an operator Ctrl-C from a supervisor
// sending SIGTERM. cmd/* entry points that can't call Run directly (because
// a role's own Connect must run instead of Agent.Connect) use this to
// replicate Run's signal-to-cause mapping.
func SignalStopCause(sig os.Signal) error {
	if sig == syscall.SIGINT {
		return nil
	}
	return &mqerr.ReceivedSignal{Name: sig.String()}
}

// Wait blocks until the agent has fully stopped, returning the stop cause.
func (a *Agent) Wait() error {
	<-a.stopped
	return a.stopErr
}

// Stopped reports whether the agent has stopped (non-blocking).
func (a *Agent) Stopped() <-chan struct{} { return a.stopped }

// Stop tears the agent down: STOPPING -> close channel/connection -> fail
// every pending RPC with AgentStopped -> STOPPED. Idempotent; the first
// caller's cause wins.
func (a *Agent) Stop(cause error) {
	a.stopOnce.Do(func() {
		a.setState(StateStopping)
		a.stopErr = cause
		a.runCancel()

		a.mu.Lock()
		ch := a.channel
		conn := a.conn
		a.mu.Unlock()
		if ch != nil {
			_ = ch.Close()
		}
		if conn != nil {
			_ = conn.Close()
		}

		a.failPendingCorrelations(cause)

		a.setState(StateStopped)
		close(a.stopped)
	})
}

func (a *Agent) failPendingCorrelations(cause error) {
	a.corrMu.Lock()
	pending := a.correlations
	a.correlations = make(map[string]*correlationEntry)
	a.corrMu.Unlock()

	stopped := &mqerr.AgentStopped{Cause: cause}
	for _, e := range pending {
		e.callback(nil, stopped)
	}
}
