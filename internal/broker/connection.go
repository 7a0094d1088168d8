package broker

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/streadway/amqp"

	"github.com/metricq/metricq-go/internal/mlog"
)

// Conn is the subset of *Connection's API that DataClient/HistoryClient's
// reconnect logic depends on, extracted so tests can substitute a fake
// connection without a live broker. *Connection satisfies this as-is.
type Conn interface {
	Channel() (Channel, error)
	NotifyClose() <-chan *amqp.Error
	Close() error
}

// Connection wraps a single AMQP connection, exposing the pieces MetricQ's
// Agent/DataClient/HistoryClient need: channel creation and a close
// notification the owning watchdog listens on.
type Connection struct {
	log     *mlog.Logger
	conn    *amqp.Connection
	closeCh chan *amqp.Error
}

// Dial opens a single AMQP connection with no retry; callers that need the
// bounded-backoff initial connect of §4.2 should use DialWithBackoff.
func Dial(url string, log *mlog.Logger) (*Connection, error) {
	if log == nil {
		log = mlog.NOP()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	c := &Connection{
		log:     log,
		conn:    conn,
		closeCh: conn.NotifyClose(make(chan *amqp.Error, 1)),
	}
	return c, nil
}

// DialWithBackoff retries the initial dial with bounded exponential backoff
// until ctx is done, surfacing the last error as ConnectFailed's cause to
// the caller (wrapping happens one level up, in agent.Connect).
func DialWithBackoff(ctx context.Context, url string, log *mlog.Logger) (*Connection, error) {
	var result *Connection
	op := func() error {
		c, err := Dial(url, log)
		if err != nil {
			return err
		}
		result = c
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 0 // bounded by ctx instead of a fixed wall clock

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return result, nil
}

// Channel opens a fresh AMQP channel on this connection.
func (c *Connection) Channel() (Channel, error) {
	return c.conn.Channel()
}

// NotifyClose returns the channel the underlying amqp.Connection posts its
// terminal error to (or nil, on a clean Close).
func (c *Connection) NotifyClose() <-chan *amqp.Error {
	return c.closeCh
}

// Close closes the underlying connection.
func (c *Connection) Close() error {
	return c.conn.Close()
}
