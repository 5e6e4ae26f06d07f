package validator

import (
	"github.com/google/uuid"
	"github.com/rmacdonaldsmith/meshbroker-go/pkg/envelope"
)

// Subscriptions validates subscribe and unsubscribe. Peers also name the
// client the subscription belongs to.
func Subscriptions(data map[string]any, ctx envelope.Context) Bag {
	rules := append(sessionOnly(ctx, id("client_id")), str("channel"))
	return check(data, rules...)
}

// IsSubscribed validates is_subscribed.
func IsSubscribed(data map[string]any) Bag {
	return check(data, str("channel"))
}

// Broadcast validates broadcast. Peers name the originating client.
func Broadcast(data map[string]any, ctx envelope.Context) Bag {
	rules := append(sessionOnly(ctx, id("client_id")), object("payload"))
	return check(data, rules...)
}

// Publish validates publish. Peers name the originating client.
func Publish(data map[string]any, ctx envelope.Context) Bag {
	rules := append([]rule{str("channel"), object("payload")}, sessionOnly(ctx, id("client_id"))...)
	return check(data, rules...)
}

// Send validates send. Peers name the sending client explicitly.
func Send(data map[string]any, ctx envelope.Context) Bag {
	rules := append([]rule{object("payload"), id("to_client_id")}, sessionOnly(ctx, id("from_client_id"))...)
	return check(data, rules...)
}

// Register validates the register announcement of a peer.
func Register(data map[string]any) Bag {
	return check(data, port("sessions_port"), port("clients_port"), boolean("registered"))
}

// Session validates a session directive.
func Session(data map[string]any) Bag {
	return check(data, str("host"), port("sessions_port"), port("clients_port"))
}

// Identifier validates actions that only carry an id, such as join and leave.
func Identifier(data map[string]any, name string) Bag {
	return check(data, id(name))
}

func canonical(value string) string {
	return uuid.MustParse(value).String()
}
