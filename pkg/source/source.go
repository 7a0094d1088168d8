// Package source implements the Source role (§4.6): declares metrics,
// chunks sampled values per metric, and publishes DataChunks on the data
// exchange.
package source

import (
	"context"
	"sync"

	"github.com/streadway/amqp"

	"github.com/metricq/metricq-go/internal/broker"
	"github.com/metricq/metricq-go/internal/mlog"
	"github.com/metricq/metricq-go/internal/mqerr"
	"github.com/metricq/metricq-go/pkg/dataclient"
	"github.com/metricq/metricq-go/pkg/rpc"
	"github.com/metricq/metricq-go/pkg/timeutil"
	"github.com/metricq/metricq-go/pkg/wire"
)

// NewRegistry returns a registry for Source roles: an Extend of base (pass
// client.NewRegistry() so discover is answered) to which the embedding
// application adds its config handling via On("config", ...). A nil base
// yields an empty registry. Source itself registers no RPC handlers of its
// own.
func NewRegistry(base *rpc.Registry) *rpc.Registry {
	if base == nil {
		return rpc.NewRegistry()
	}
	return base.Extend()
}

// Source declares metrics and publishes chunked values on the data
// exchange, built atop DataClient's second connection.
type Source struct {
	*dataclient.DataClient

	mu           sync.Mutex
	dataExchange string
	metrics      map[string]*Metric
}

// New constructs a Source. registry should carry the base discover handler,
// e.g. NewRegistry(client.NewRegistry()) (see pkg/client).
func New(cfg dataclient.Config, registry *rpc.Registry, log *mlog.Logger) *Source {
	return &Source{
		DataClient: dataclient.New(cfg, registry, log),
		metrics:    make(map[string]*Metric),
	}
}

// Connect performs the management handshake (inherited from DataClient's
// embedded Client), then source.register, opens the data connection,
// declares the (manager-owned) data exchange, and runs any config the
// register reply carried through the RPC dispatcher (§4.6).
func (s *Source) Connect(ctx context.Context) error {
	if err := s.DataClient.Connect(ctx); err != nil {
		return err
	}

	reply, err := s.RPC(ctx, "source.register", nil)
	if err != nil {
		return err
	}

	dataServerAddress, _ := reply["dataServerAddress"].(string)
	dataExchange, _ := reply["dataExchange"].(string)

	ch, err := s.OpenDataConnection(ctx, dataServerAddress)
	if err != nil {
		return err
	}
	if err := broker.DeclareDataExchange(ch, dataExchange); err != nil {
		return &mqerr.ConnectFailed{Cause: err}
	}

	s.mu.Lock()
	s.dataExchange = dataExchange
	s.mu.Unlock()

	if cfg, ok := reply["config"].(map[string]interface{}); ok && len(cfg) > 0 {
		if _, err := s.Registry().Dispatch(ctx, "config", cfg); err != nil {
			s.Log().Warnf("source: config dispatch failed: %v", err)
		}
	}

	return nil
}

// DeclareMetrics issues the source.declare_metrics management RPC, passing
// each metric's metadata through unchanged (§4.6, §9 Open Questions: the
// metadata schema is role-policy-specific).
func (s *Source) DeclareMetrics(ctx context.Context, metadata map[string]interface{}) error {
	_, err := s.RPC(ctx, "source.declare_metrics", rpc.Args{"metrics": metadata})
	return err
}

func (s *Source) metricFor(id string, chunkSize int) *Metric {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.metrics[id]
	if !ok {
		m = newMetric(id, chunkSize, s.sendChunk)
		s.metrics[id] = m
	}
	return m
}

// Send appends (timestamp, value) to metric's chunk builder, auto-flushing
// per the chunkSize policy on first lookup of the metric (§3, §4.6).
func (s *Source) Send(metric string, t timeutil.Timestamp, v float64, chunkSize int) error {
	return s.metricFor(metric, chunkSize).Append(t, v)
}

// Flush flushes every non-empty metric concurrently (§4.6).
func (s *Source) Flush() error {
	s.mu.Lock()
	metrics := make([]*Metric, 0, len(s.metrics))
	for _, m := range s.metrics {
		metrics = append(metrics, m)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, len(metrics))
	for i, m := range metrics {
		wg.Add(1)
		go func(i int, m *Metric) {
			defer wg.Done()
			errs[i] = m.Flush()
		}(i, m)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// sendChunk is the internal _send of §4.6: it waits for the data watchdog's
// established() before publishing, so chunks aren't dropped during a
// transient reconnect window that the watchdog is already bridging.
func (s *Source) sendChunk(metric string, chunk *wire.DataChunk) error {
	ctx := context.Background()
	if err := s.Watchdog().WaitEstablished(ctx); err != nil {
		return &mqerr.MetricSendError{Metric: metric, Cause: err}
	}

	body, err := wire.MarshalChunk(chunk)
	if err != nil {
		return &mqerr.MetricSendError{Metric: metric, Cause: err}
	}

	s.mu.Lock()
	exchange := s.dataExchange
	s.mu.Unlock()

	ch := s.DataChannel()
	if ch == nil {
		return &mqerr.MetricSendError{Metric: metric, Cause: context.Canceled}
	}

	// mandatory=false: an unroutable publish (no subscribed sink) is simply
	// dropped by the broker, not an error (§4.6). A connection that drops
	// between the watchdog check above and this call surfaces here as one
	// lost chunk per disconnect, a documented TOCTOU the caller tolerates.
	if err := ch.Publish(exchange, metric, false, false, amqp.Publishing{
		ContentType: "application/octet-stream",
		Body:        body,
	}); err != nil {
		return &mqerr.MetricSendError{Metric: metric, Cause: err}
	}
	return nil
}
