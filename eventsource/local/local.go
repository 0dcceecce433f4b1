// Package local provides an in-process eventsource.Broker. Events never leave the
// process, which makes it handy for tests and single-binary deployments.
package local

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bridgekit-io/mathteacher/eventsource"
	"github.com/bridgekit-io/mathteacher/fail"
	"github.com/bridgekit-io/mathteacher/logging"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Broker creates an in-memory broker. Every matching group receives each published
// event once, and the members of a group take turns handling them.
func Broker(options ...BrokerOption) eventsource.Broker {
	b := &broker{
		pools:  map[poolKey]*pool{},
		clock:  time.Now,
		logger: logging.Discard(),
	}
	for _, option := range options {
		option(b)
	}
	if b.onError == nil {
		b.onError = func(err error) {
			b.logger.Warn("Local broker delivery error", "error", err)
		}
	}
	return b
}

type broker struct {
	mutex   sync.Mutex
	pools   map[poolKey]*pool
	clock   func() time.Time
	logger  *slog.Logger
	onError fail.ErrorHandler
}

// poolKey identifies the subscribers that share work for one pattern.
type poolKey struct {
	pattern string
	group   string
}

// pool is a consumer group. Deliveries rotate through its members.
type pool struct {
	key     poolKey
	members []*member
	cursor  int
}

func (p *pool) take() *member {
	if len(p.members) == 0 {
		return nil
	}
	p.cursor %= len(p.members)
	m := p.members[p.cursor]
	p.cursor++
	return m
}

type member struct {
	broker  *broker
	pool    *pool
	handler eventsource.EventHandlerFunc
	once    sync.Once
}

func (m *member) Close() error {
	m.once.Do(func() { m.broker.leave(m) })
	return nil
}

func (b *broker) Publish(ctx context.Context, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("local broker publish: %w", err)
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	for _, p := range b.pools {
		if !eventsource.Matches(p.key.pattern, key) {
			continue
		}
		if m := p.take(); m != nil {
			msg := eventsource.EventMessage{Timestamp: b.clock(), Key: key, Payload: payload}
			go b.deliver(m, msg)
		}
	}
	return nil
}

// deliver runs the member's handler on a fresh context; the publisher's context usually
// belongs to a request that is about to end.
func (b *broker) deliver(m *member, msg eventsource.EventMessage) {
	pattern := m.pool.key.pattern
	defer func() {
		if recovery := recover(); recovery != nil {
			b.onError(fmt.Errorf("local broker deliver: %s: panic: %v", pattern, recovery))
		}
	}()
	if err := m.handler(context.Background(), &msg); err != nil {
		b.onError(fmt.Errorf("local broker deliver: %s: %w", pattern, err))
	}
}

// Subscribe puts the handler in a group of its own so it sees every matching event.
func (b *broker) Subscribe(ctx context.Context, key string, handlerFunc eventsource.EventHandlerFunc) (eventsource.Subscription, error) {
	return b.SubscribeGroup(ctx, key, "isolated."+uuid.NewString(), handlerFunc)
}

func (b *broker) SubscribeGroup(ctx context.Context, key string, group string, handlerFunc eventsource.EventHandlerFunc) (eventsource.Subscription, error) {
	switch {
	case ctx.Err() != nil:
		return nil, fmt.Errorf("local broker subscribe: %w", ctx.Err())
	case key == "":
		return nil, fmt.Errorf("local broker subscribe: empty key")
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	k := poolKey{pattern: key, group: group}
	p, ok := b.pools[k]
	if !ok {
		p = &pool{key: k}
		b.pools[k] = p
	}
	m := &member{broker: b, pool: p, handler: handlerFunc}
	p.members = append(p.members, m)
	return m, nil
}

func (b *broker) leave(m *member) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	m.pool.members = lo.Without(m.pool.members, m)
	if len(m.pool.members) == 0 {
		delete(b.pools, m.pool.key)
	}
}

// BrokerOption customizes the local broker.
type BrokerOption func(*broker)

// WithErrorHandler receives every error returned (or panic raised) by a subscriber.
// By default they are logged as warnings.
func WithErrorHandler(handler fail.ErrorHandler) BrokerOption {
	return func(b *broker) {
		b.onError = handler
	}
}

// WithLogger sets the logger the default error handler writes to.
func WithLogger(logger *slog.Logger) BrokerOption {
	return func(b *broker) {
		if logger != nil {
			b.logger = logger
		}
	}
}
