// Package dataclient implements the DataClient role (§4.5): a Client that
// opens a second (data) connection on demand, guarded by its own watchdog,
// with credentials inherited from the management URL.
package dataclient

import (
	"context"
	"sync"
	"time"

	"github.com/metricq/metricq-go/internal/broker"
	"github.com/metricq/metricq-go/internal/mlog"
	"github.com/metricq/metricq-go/internal/mqerr"
	"github.com/metricq/metricq-go/pkg/agent"
	"github.com/metricq/metricq-go/pkg/client"
	"github.com/metricq/metricq-go/pkg/rpc"
	"github.com/metricq/metricq-go/pkg/watchdog"
)

// DefaultPrefetch is the data channel's default bounded prefetch (§4.5).
const DefaultPrefetch = 400

// Config adds data-connection policy to agent.Config.
type Config struct {
	agent.Config
	ConnectionTimeout time.Duration
	Prefetch          int
	PublisherConfirms bool
}

func (c Config) connectionTimeout() time.Duration {
	if c.ConnectionTimeout <= 0 {
		return 60 * time.Second
	}
	return c.ConnectionTimeout
}

func (c Config) prefetch() int {
	if c.Prefetch <= 0 {
		return DefaultPrefetch
	}
	return c.Prefetch
}

// ReconnectHook runs after the data socket is redialed but before the
// watchdog is flipped back to established, letting a role (the Sink) redo
// whatever steady-state the fresh channel needs (resubscribe) before
// publishers/consumers treat the connection as live again (§4.7 step 5).
type ReconnectHook func(ctx context.Context, ch broker.Channel) error

// DataClient extends Client with a second, on-demand data connection.
type DataClient struct {
	*client.Client

	managementURL     string
	connectionTimeout time.Duration
	prefetch          int
	publisherConfirms bool

	watchdog *watchdog.Watchdog

	mu                sync.Mutex
	dataConn          broker.Conn
	dataChannel       broker.Channel
	dataServerAddress string

	reconnectMu sync.Mutex
	onReconnect ReconnectHook

	// dialFunc opens a fresh data connection+channel for url. Overridable
	// per-instance so tests can substitute a fake without a live broker;
	// defaults to dialDefault.
	dialFunc func(ctx context.Context, url string) (broker.Conn, broker.Channel, error)
}

// New constructs a DataClient.
func New(cfg Config, registry *rpc.Registry, log *mlog.Logger) *DataClient {
	if log == nil {
		log = mlog.NOP()
	}
	d := &DataClient{
		Client:            client.New(cfg.Config, registry, log),
		managementURL:     cfg.URL,
		connectionTimeout: cfg.connectionTimeout(),
		prefetch:          cfg.prefetch(),
		publisherConfirms: cfg.PublisherConfirms,
		watchdog:          watchdog.New(log.With("data-watchdog")),
	}
	d.dialFunc = d.dialDefault
	return d
}

// SetReconnectHook installs the hook run after a data-connection redial,
// before the watchdog re-enters established. Only Sink uses this (resubscribe);
// Source leaves it nil.
func (d *DataClient) SetReconnectHook(h ReconnectHook) {
	d.reconnectMu.Lock()
	defer d.reconnectMu.Unlock()
	d.onReconnect = h
}

// Watchdog exposes the data-connection watchdog so Source/Sink can defer
// publishing/consuming on established() (§4.6/§4.7).
func (d *DataClient) Watchdog() *watchdog.Watchdog { return d.watchdog }

// SetDialer overrides how OpenDataConnection/redial open the data socket.
// Exported for Source/Sink tests in other packages that need to exercise
// the full open/reconnect path without a live broker.
func (d *DataClient) SetDialer(f func(ctx context.Context, url string) (broker.Conn, broker.Channel, error)) {
	d.dialFunc = f
}

// DataChannel returns the current data channel, or nil if none is open.
func (d *DataClient) DataChannel() broker.Channel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dataChannel
}

// DataServerAddress returns the manager-assigned address the data
// connection was (or would be) opened against.
func (d *DataClient) DataServerAddress() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dataServerAddress
}

// OpenDataConnection opens the data connection described by
// dataServerAddress, applying the management connection's credentials
// (§4.5). Reopening with a different address while a connection already
// exists is refused: logged, existing channel returned unchanged — rationale
// is in-flight chunking/subscriptions would be invalidated.
func (d *DataClient) OpenDataConnection(ctx context.Context, dataServerAddress string) (broker.Channel, error) {
	d.mu.Lock()
	if d.dataChannel != nil {
		existing, existingAddr := d.dataChannel, d.dataServerAddress
		d.mu.Unlock()
		if existingAddr != dataServerAddress {
			d.Log().Warnf("ignoring data_config with new dataServerAddress %q; already connected to %q", dataServerAddress, existingAddr)
		}
		return existing, nil
	}
	d.mu.Unlock()

	url, err := broker.ApplyCredentials(d.managementURL, dataServerAddress)
	if err != nil {
		return nil, mqerr.Wrap(err, "data: invalid dataServerAddress")
	}

	conn, ch, err := d.dialFunc(ctx, url)
	if err != nil {
		return nil, &mqerr.ConnectFailed{Cause: err}
	}

	d.mu.Lock()
	d.dataConn = conn
	d.dataChannel = ch
	d.dataServerAddress = dataServerAddress
	d.mu.Unlock()

	d.watchdog.Start(ctx, d.connectionTimeout, "data", func(*watchdog.Watchdog) {
		d.Stop(&mqerr.ReconnectTimeout{Name: "data"})
	})
	d.watchdog.SetEstablished()

	go d.watchConnection(ctx, conn)

	return ch, nil
}

func (d *DataClient) dialDefault(ctx context.Context, url string) (broker.Conn, broker.Channel, error) {
	conn, err := broker.DialWithBackoff(ctx, url, d.Log().With("data-connection"))
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	// Publisher confirms are disabled by default to match the observed
	// behaviour of the source implementation (§9 Open Questions); callers
	// that need delivery confirmation set PublisherConfirms explicitly.
	if d.publisherConfirms {
		if err := ch.Confirm(false); err != nil {
			ch.Close()
			conn.Close()
			return nil, nil, err
		}
	}
	if err := ch.Qos(d.prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

func (d *DataClient) watchConnection(ctx context.Context, conn broker.Conn) {
	select {
	case <-conn.NotifyClose():
		d.watchdog.SetClosed()
		d.redial(ctx)
	case <-ctx.Done():
	}
}

func (d *DataClient) redial(ctx context.Context) {
	d.mu.Lock()
	addr := d.dataServerAddress
	d.mu.Unlock()

	url, err := broker.ApplyCredentials(d.managementURL, addr)
	if err != nil {
		d.Log().Errorf("data: cannot redial, invalid address %q: %v", addr, err)
		return
	}

	conn, ch, err := d.dialFunc(ctx, url)
	if err != nil {
		// ctx cancellation (agent stopping) surfaces here too; either way the
		// watchdog's own timeout governs whether this becomes fatal.
		d.Log().Warnf("data: redial failed: %v", err)
		return
	}

	d.reconnectMu.Lock()
	hook := d.onReconnect
	d.reconnectMu.Unlock()

	if hook != nil {
		if err := hook(ctx, ch); err != nil {
			d.Log().Errorf("data: reconnect hook failed: %v", &mqerr.SinkResubscribeError{Cause: err})
			ch.Close()
			conn.Close()
			return
		}
	}

	d.mu.Lock()
	d.dataConn = conn
	d.dataChannel = ch
	d.mu.Unlock()

	d.watchdog.SetEstablished()
	go d.watchConnection(ctx, conn)
}

// Stop tears down the data channel and connection before delegating to the
// embedded Client's Stop, matching the reverse-of-creation teardown order of
// §5 (history -> data -> management).
func (d *DataClient) Stop(cause error) {
	d.watchdog.Stop()

	d.mu.Lock()
	ch := d.dataChannel
	conn := d.dataConn
	d.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}
	if conn != nil {
		_ = conn.Close()
	}

	d.Client.Stop(cause)
}
