// Package client implements the generic management-plane Client role (§4.4):
// an Agent specialised to bind the broadcast/management exchanges, answer
// discover, and issue management RPCs.
package client

import (
	"context"
	"time"

	"github.com/metricq/metricq-go/internal/broker"
	"github.com/metricq/metricq-go/internal/mlog"
	"github.com/metricq/metricq-go/internal/mqerr"
	"github.com/metricq/metricq-go/pkg/agent"
	"github.com/metricq/metricq-go/pkg/rpc"
	"github.com/metricq/metricq-go/pkg/timeutil"
)

// Client wraps an *agent.Agent, wiring the management/broadcast exchanges
// and the discover handler every role (Source, Sink, HistoryClient, and bare
// Client users) inherits.
type Client struct {
	*agent.Agent
}

// NewRegistry returns a registry with the discover handler every Client
// (and anything embedding one) inherits. Embedding roles extend this with
// registry.Extend() before adding their own handlers (§4.1).
func NewRegistry() *rpc.Registry {
	r := rpc.NewRegistry()
	r.On("discover", handleDiscover)
	return r
}

var processStart = timeutil.Now()

func handleDiscover(ctx context.Context, args rpc.Args) (rpc.Args, error) {
	now := timeutil.Now()
	return rpc.Args{
		"alive":  true,
		"uptime": int64(now.Sub(processStart)),
		"time":   int64(now),
	}, nil
}

// New constructs a Client. registry should derive from NewRegistry() (or a
// further Extend() of it) so discover remains answered.
func New(cfg agent.Config, registry *rpc.Registry, log *mlog.Logger) *Client {
	return &Client{Agent: agent.New(cfg, registry, log)}
}

// Connect dials the management connection (via the embedded Agent, which
// also starts RPC consume on the agent's queue), then declares the
// broadcast exchange, binds the RPC queue to it, and declares the
// management exchange, per §4.4.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.Agent.Connect(ctx); err != nil {
		return err
	}
	ch := c.Channel()
	if err := broker.DeclareBroadcastExchange(ch); err != nil {
		return &mqerr.ConnectFailed{Cause: err}
	}
	if err := broker.BindRPCQueueToBroadcast(ch, c.RPCQueueName()); err != nil {
		return &mqerr.ConnectFailed{Cause: err}
	}
	if err := broker.DeclareManagementExchange(ch); err != nil {
		return &mqerr.ConnectFailed{Cause: err}
	}
	return nil
}

// RPC issues a management-plane RPC: publishes to the management exchange
// with routingKey = function (§4.4). Management readiness in this runtime is
// implied by the embedded Agent already being READY (there is no separate
// "management" sub-watchdog at the bare Client level; DataClient adds one
// for the data connection).
func (c *Client) RPC(ctx context.Context, function string, args rpc.Args, opts ...agent.RPCOption) (rpc.Args, error) {
	res, err := c.Agent.RPC(ctx, broker.ManagementExchange, function, function, args, opts...)
	if err != nil {
		if _, ok := err.(*mqerr.RpcRequestError); ok {
			return nil, &mqerr.ManagementRpcPublishError{Cause: err}
		}
		return nil, err
	}
	return res, nil
}

// GetMetricsFilter holds the get_metrics RPC's filter arguments (§4.4).
type GetMetricsFilter struct {
	Selector string
	Prefix   string
	Infix    string
	Historic bool
	Limit    int
	Timeout  time.Duration
	Metadata bool
}

// GetMetrics is a typed wrapper over the get_metrics RPC. With
// Metadata=false it returns a plain metric-name list; with Metadata=true it
// returns a name->metadata map, per §4.4 and scenario S3.
func (c *Client) GetMetrics(ctx context.Context, f GetMetricsFilter) (interface{}, error) {
	args := rpc.Args{"format": "array"}
	if f.Metadata {
		args["format"] = "object"
	}
	if f.Selector != "" {
		args["selector"] = f.Selector
	}
	if f.Prefix != "" {
		args["prefix"] = f.Prefix
	}
	if f.Infix != "" {
		args["infix"] = f.Infix
	}
	if f.Historic {
		args["historic"] = true
	}
	if f.Limit > 0 {
		args["limit"] = f.Limit
	}

	opts := []agent.RPCOption{}
	if f.Timeout > 0 {
		opts = append(opts, agent.WithTimeout(f.Timeout))
	}

	reply, err := c.RPC(ctx, "get_metrics", args, opts...)
	if err != nil {
		return nil, err
	}
	return reply["metrics"], nil
}
