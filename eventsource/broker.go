// Package eventsource defines the publish/subscribe contract that the events gateway
// builds on. The local and nats subpackages implement it.
package eventsource

import (
	"context"
	"strings"
	"time"
)

// Broker both publishes and subscribes.
type Broker interface {
	Publisher
	Subscriber
}

// Publisher hands events to a broker. A nil error only means the broker accepted the
// event; it says nothing about whether anyone received it.
type Publisher interface {
	Publish(ctx context.Context, key string, payload []byte) error
}

// Subscriber registers handlers for events whose key matches a pattern (see Matches).
type Subscriber interface {
	// Subscribe runs the handler for every matching event.
	Subscribe(ctx context.Context, key string, handlerFunc EventHandlerFunc) (Subscription, error)
	// SubscribeGroup joins a consumer group: each matching event goes to only one member
	// of the group (a NATS queue group, a Kafka consumer group).
	SubscribeGroup(ctx context.Context, key string, group string, handlerFunc EventHandlerFunc) (Subscription, error)
}

// Subscription stops the handler from receiving further events once closed.
type Subscription interface {
	Close() error
}

// EventHandlerFunc processes a delivered event.
type EventHandlerFunc func(ctx context.Context, evt *EventMessage) error

// EventMessage is what subscribers receive.
type EventMessage struct {
	Timestamp time.Time
	// Key is the concrete event key, such as "Calculator.Add".
	Key string
	// Payload is already encoded; brokers never look inside it.
	Payload []byte
}

// Namespace is the first token of a dotted key, or "" when there is only one token.
//
//	Namespace("Added")                 // ""
//	Namespace("Calculator.Add.Error")  // "Calculator"
func Namespace(key string) string {
	if namespace, _, ok := strings.Cut(key, "."); ok {
		return namespace
	}
	return ""
}

// Matches reports whether key is selected by pattern using NATS subject rules: tokens
// are separated by ".", "*" matches any single token, and a final ">" matches one or
// more trailing tokens.
//
//	Matches("Calculator.*", "Calculator.Add")        // true
//	Matches("Calculator.*", "Calculator.Add.Error")  // false
//	Matches("Calculator.>", "Calculator.Add.Error")  // true
func Matches(pattern string, key string) bool {
	if pattern == "" || key == "" {
		return false
	}

	want := strings.Split(pattern, ".")
	got := strings.Split(key, ".")
	last := len(want) - 1

	for i, token := range want {
		switch {
		case token == ">" && i == last:
			return len(got) > i
		case i >= len(got):
			return false
		case token != "*" && token != got[i]:
			return false
		}
	}
	return len(want) == len(got)
}
