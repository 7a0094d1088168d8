// Package history implements the HistoryClient role (§4.8): a third
// (history) connection used to request stored time-series data, with
// replies correlated by ID the way the management RPC channel is, but
// carrying protobuf-encoded HistoryResponse bodies instead of JSON.
package history

import (
	"context"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/metricq/metricq-go/internal/broker"
	"github.com/metricq/metricq-go/internal/mlog"
	"github.com/metricq/metricq-go/internal/mqerr"
	"github.com/metricq/metricq-go/pkg/dataclient"
	"github.com/metricq/metricq-go/pkg/rpc"
	"github.com/metricq/metricq-go/pkg/types"
	"github.com/metricq/metricq-go/pkg/wire"
)

// NewRegistry returns a registry for the HistoryClient role. There are
// currently no history-specific inbound RPC tags beyond what base carries;
// callers pass client.NewRegistry() so discover is answered. A nil base
// yields an empty registry.
func NewRegistry(base *rpc.Registry) *rpc.Registry {
	if base == nil {
		return rpc.NewRegistry()
	}
	return base.Extend()
}

type historyFuture struct {
	resultCh chan historyResult
}

type historyResult struct {
	resp *Response
	err  error
}

// Client requests historic time-series data over a manager-assigned history
// exchange/queue opened via history.register.
type Client struct {
	*dataclient.DataClient

	mu              sync.Mutex
	historyExchange string
	historyQueue    string

	corrMu  sync.Mutex
	pending map[string]*historyFuture
}

// New constructs a HistoryClient.
func New(cfg dataclient.Config, registry *rpc.Registry, log *mlog.Logger) *Client {
	return &Client{
		DataClient: dataclient.New(cfg, registry, log),
		pending:    make(map[string]*historyFuture),
	}
}

// Connect dials the management connection, then opens the history
// connection via history.register (§4.8): the reply carries
// dataServerAddress, historyExchange, historyQueue, and an optional config
// dispatched like Source's post-register config.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.DataClient.Connect(ctx); err != nil {
		return err
	}

	reply, err := c.RPC(ctx, "history.register", nil)
	if err != nil {
		return err
	}

	dataServerAddress, _ := reply["dataServerAddress"].(string)
	historyExchange, _ := reply["historyExchange"].(string)
	historyQueue, _ := reply["historyQueue"].(string)

	ch, err := c.OpenDataConnection(ctx, dataServerAddress)
	if err != nil {
		return err
	}

	if err := broker.DeclareDataExchange(ch, historyExchange); err != nil {
		return &mqerr.ConnectFailed{Cause: err}
	}

	q, err := broker.DeclareDataQueuePassive(ch, historyQueue)
	if err != nil {
		return &mqerr.ConnectFailed{Cause: err}
	}

	c.mu.Lock()
	c.historyExchange = historyExchange
	c.historyQueue = q.Name
	c.mu.Unlock()

	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return &mqerr.ConnectFailed{Cause: err}
	}
	go c.consumeLoop(ctx, deliveries)

	if cfg, ok := reply["config"].(map[string]interface{}); ok && len(cfg) > 0 {
		if _, err := c.Registry().Dispatch(ctx, "config", cfg); err != nil {
			c.Log().Warnf("history: config dispatch failed: %v", err)
		}
	}

	return nil
}

func (c *Client) consumeLoop(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			c.handleDelivery(d)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) handleDelivery(d amqp.Delivery) {
	f, ok := c.takeFuture(d.CorrelationId)
	if !ok {
		c.Log().Warnf("history: dropping response with unknown correlation id %q", d.CorrelationId)
		_ = d.Ack(false)
		return
	}

	raw, err := wire.UnmarshalHistoryResponse(d.Body)
	if err != nil {
		_ = d.Nack(false, false)
		f.resultCh <- historyResult{err: err}
		return
	}

	duration, _ := d.Headers["x-request-duration"].(float64)
	resp, err := NewResponse(raw, duration)
	if err != nil {
		_ = d.Nack(false, false)
		f.resultCh <- historyResult{err: err}
		return
	}

	_ = d.Ack(false)
	f.resultCh <- historyResult{resp: resp}
}

func (c *Client) storeFuture(id string) *historyFuture {
	f := &historyFuture{resultCh: make(chan historyResult, 1)}
	c.corrMu.Lock()
	c.pending[id] = f
	c.corrMu.Unlock()
	return f
}

func (c *Client) takeFuture(id string) (*historyFuture, bool) {
	c.corrMu.Lock()
	defer c.corrMu.Unlock()
	f, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	return f, ok
}

// Request describes a history_data_request's parameters (§4.8). StartTime,
// EndTime and IntervalMax are optional: a nil pointer omits the field,
// matching the proto2-style optional wire fields.
type Request struct {
	Metric      string
	StartTime   *int64
	EndTime     *int64
	IntervalMax *int64
	Type        wire.HistoryRequest_Type
	Timeout     time.Duration
}

func (r Request) timeout() time.Duration {
	if r.Timeout <= 0 {
		return 60 * time.Second
	}
	return r.Timeout
}

// HistoryDataRequest serialises req as a HistoryRequest protobuf, publishes
// it on the history exchange with routingKey=metric and the history
// response queue as replyTo, and awaits the correlated reply (§4.8).
func (c *Client) HistoryDataRequest(ctx context.Context, req Request) (*Response, error) {
	wireReq := &wire.HistoryRequest{
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		IntervalMax: req.IntervalMax,
		Type:        &req.Type,
	}
	body, err := wire.MarshalHistoryRequest(wireReq)
	if err != nil {
		return nil, err
	}

	correlationID := rpc.NewCorrelationID(c.Token())

	c.mu.Lock()
	exchange := c.historyExchange
	replyTo := c.historyQueue
	c.mu.Unlock()

	f := c.storeFuture(correlationID)

	ch := c.DataChannel()
	if ch == nil {
		c.takeFuture(correlationID)
		return nil, &mqerr.HistoryRequestError{Cause: context.Canceled}
	}

	pubErr := ch.Publish(exchange, req.Metric, false, false, amqp.Publishing{
		ContentType:   "application/x-protobuf",
		CorrelationId: correlationID,
		ReplyTo:       replyTo,
		AppId:         c.Token(),
		Body:          body,
	})
	if pubErr != nil {
		c.takeFuture(correlationID)
		return nil, &mqerr.HistoryRequestError{Cause: pubErr}
	}

	timer := time.NewTimer(req.timeout())
	defer timer.Stop()

	select {
	case res := <-f.resultCh:
		return res.resp, res.err
	case <-timer.C:
		c.takeFuture(correlationID)
		return nil, &mqerr.Timeout{Tag: "history_data_request:" + req.Metric}
	case <-ctx.Done():
		c.takeFuture(correlationID)
		return nil, ctx.Err()
	}
}

// LastValue issues history_last_value(metric): an AGGREGATE_TIMELINE-style
// request with all times and interval omitted and type LAST_VALUE,
// expecting exactly one VALUES-mode result (§4.8, S4).
func (c *Client) LastValue(ctx context.Context, metric string) (types.TimeValue, error) {
	resp, err := c.HistoryDataRequest(ctx, Request{
		Metric: metric,
		Type:   wire.HistoryRequest_LAST_VALUE,
	})
	if err != nil {
		return types.TimeValue{}, err
	}

	values, err := resp.Values(true)
	if err != nil {
		return types.TimeValue{}, err
	}
	if len(values) != 1 {
		return types.TimeValue{}, &mqerr.HistoryRequestError{
			Cause: historyResultCountError{metric: metric, got: len(values)},
		}
	}
	return values[0], nil
}

type historyResultCountError struct {
	metric string
	got    int
}

func (e historyResultCountError) Error() string {
	return "history: expected exactly one value for last_value(" + e.metric + ")"
}
