package broker

import "github.com/streadway/amqp"

// Exchange names from the shared broker topology (§6).
const (
	ManagementExchange = "metricq.management"
	BroadcastExchange  = "metricq.broadcast"
)

// DeclareManagementExchange passively declares the topic exchange
// management RPCs are published on. Passive: the manager owns its creation.
func DeclareManagementExchange(ch Channel) error {
	return ch.ExchangeDeclarePassive(ManagementExchange, "topic", true, false, false, false, nil)
}

// DeclareBroadcastExchange passively declares the fanout exchange management
// broadcasts are published on.
func DeclareBroadcastExchange(ch Channel) error {
	return ch.ExchangeDeclarePassive(BroadcastExchange, "fanout", true, false, false, false, nil)
}

// DeclareDataExchange passively declares a data exchange; the manager must
// have already created it (§4.6).
func DeclareDataExchange(ch Channel, name string) error {
	return ch.ExchangeDeclarePassive(name, "topic", true, false, false, false, nil)
}

// RPCQueueName returns the per-agent exclusive queue name for token.
func RPCQueueName(token string) string {
	return token + "-rpc"
}

// DeclareRPCQueue declares the agent's exclusive RPC queue (§4.2). durable
// mirrors the role's durability policy: durable roles (Source, DurableSink)
// keep a bare token; non-durable roles (Sink, by default) pass an
// already-UUID-suffixed token from the caller. Binding the queue to the
// broadcast exchange is a Client-role concern, not a bare-Agent one; see
// BindRPCQueueToBroadcast.
func DeclareRPCQueue(ch Channel, token string, durable bool) (amqp.Queue, error) {
	return ch.QueueDeclare(RPCQueueName(token), durable, !durable, true, false, nil)
}

// BindRPCQueueToBroadcast binds an already-declared RPC queue to the
// broadcast exchange with routing key "#" so the agent observes every
// broadcast (§4.4). Called by Client.Connect, after the broadcast exchange
// itself has been declared, not by bare Agent.Connect.
func BindRPCQueueToBroadcast(ch Channel, queueName string) error {
	return ch.QueueBind(queueName, "#", BroadcastExchange, false, nil)
}

// DeclareDataQueuePassive re-declares a manager-assigned data queue by name,
// used by the Sink on both initial subscribe and resubscribe-after-reconnect
// (§4.7).
func DeclareDataQueuePassive(ch Channel, name string) (amqp.Queue, error) {
	return ch.QueueDeclarePassive(name, true, false, false, false, nil)
}
