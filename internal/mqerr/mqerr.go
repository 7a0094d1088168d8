// Package mqerr defines the MetricQ error taxonomy (§7): a family of typed
// errors for connect/transport failures, RPC failures, publish failures,
// subscription failures, and lifecycle events. Every type wraps its cause
// (where it has one) so both stdlib errors.Unwrap/errors.As and
// github.com/pkg/errors-style Cause() chains resolve it.
package mqerr

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// ConnectFailed wraps any error raised by the initial connect().
type ConnectFailed struct {
	Cause error
}

func (e *ConnectFailed) Error() string { return fmt.Sprintf("metricq: connect failed: %v", e.Cause) }
func (e *ConnectFailed) Unwrap() error { return e.Cause }

// ReconnectTimeout reports that a connection watchdog's timeout elapsed
// without the connection being (re-)established.
type ReconnectTimeout struct {
	Name string
}

func (e *ReconnectTimeout) Error() string {
	return fmt.Sprintf("metricq: reconnect timeout on connection %q", e.Name)
}

// UnknownRpc reports dispatch of an RPC tag with no registered handler.
type UnknownRpc struct {
	Tag string
}

func (e *UnknownRpc) Error() string { return fmt.Sprintf("metricq: unknown rpc %q", e.Tag) }

// AmbiguousRpcReturn reports more than one handler for a tag returning a
// non-empty value.
type AmbiguousRpcReturn struct {
	Tag string
}

func (e *AmbiguousRpcReturn) Error() string {
	return fmt.Sprintf("metricq: ambiguous rpc return for %q: more than one handler returned a value", e.Tag)
}

// HandlerPanic reports a recovered panic from an inbound RPC handler, so the
// consume loop survives a bad handler instead of crashing the process.
type HandlerPanic struct {
	Tag   string
	Value interface{}
}

func (e *HandlerPanic) Error() string {
	return fmt.Sprintf("metricq: rpc handler for %q panicked: %v", e.Tag, e.Value)
}

// RpcError wraps a remote {"error": "<message>"} reply.
type RpcError struct {
	Message string
}

func (e *RpcError) Error() string { return fmt.Sprintf("metricq: rpc error: %s", e.Message) }

// RpcRequestError reports a local publish failure while sending an RPC
// request.
type RpcRequestError struct {
	Cause error
}

func (e *RpcRequestError) Error() string {
	return fmt.Sprintf("metricq: rpc request publish failed: %v", e.Cause)
}
func (e *RpcRequestError) Unwrap() error { return e.Cause }

// RpcReplyError reports a local publish failure while sending an RPC reply.
type RpcReplyError struct {
	Cause error
}

func (e *RpcReplyError) Error() string {
	return fmt.Sprintf("metricq: rpc reply publish failed: %v", e.Cause)
}
func (e *RpcReplyError) Unwrap() error { return e.Cause }

// Timeout reports that an RPC's wall-clock timeout elapsed before a reply
// arrived.
type Timeout struct {
	Tag string
}

func (e *Timeout) Error() string { return fmt.Sprintf("metricq: rpc %q timed out", e.Tag) }

// MetricSendError reports a Source publish failure on the data channel.
type MetricSendError struct {
	Metric string
	Cause  error
}

func (e *MetricSendError) Error() string {
	return fmt.Sprintf("metricq: failed to send chunk for metric %q: %v", e.Metric, e.Cause)
}
func (e *MetricSendError) Unwrap() error { return e.Cause }

// SinkResubscribeError reports a failed resubscribe attempt after a data
// connection reconnect.
type SinkResubscribeError struct {
	Cause error
}

func (e *SinkResubscribeError) Error() string {
	return fmt.Sprintf("metricq: sink resubscribe failed: %v", e.Cause)
}
func (e *SinkResubscribeError) Unwrap() error { return e.Cause }

// HistoryRequestError reports a local publish failure while sending a
// history_data_request.
type HistoryRequestError struct {
	Cause error
}

func (e *HistoryRequestError) Error() string {
	return fmt.Sprintf("metricq: history request publish failed: %v", e.Cause)
}
func (e *HistoryRequestError) Unwrap() error { return e.Cause }

// AgentStopped wraps the cause (if any) an agent's run loop stopped with.
type AgentStopped struct {
	Cause error
}

func (e *AgentStopped) Error() string {
	if e.Cause == nil {
		return "metricq: agent stopped"
	}
	return fmt.Sprintf("metricq: agent stopped: %v", e.Cause)
}
func (e *AgentStopped) Unwrap() error { return e.Cause }

// ReceivedSignal reports that the agent stopped because it caught an OS
// signal other than SIGINT.
type ReceivedSignal struct {
	Name string
}

func (e *ReceivedSignal) Error() string { return fmt.Sprintf("metricq: received signal %s", e.Name) }

// ManagementRpcPublishError reports a failed publish to the management
// exchange (§4.4).
type ManagementRpcPublishError struct {
	Cause error
}

func (e *ManagementRpcPublishError) Error() string {
	return fmt.Sprintf("metricq: management rpc publish failed: %v", e.Cause)
}
func (e *ManagementRpcPublishError) Unwrap() error { return e.Cause }

// Wrap annotates err with a message the way pkg/errors.Wrap does, used at
// the boundaries where a cause needs context without changing its type
// (e.g. lower-level amqp errors bubbling out of internal/broker).
func Wrap(err error, message string) error {
	return pkgerrors.Wrap(err, message)
}
