// Package nats implements eventsource.Broker on NATS JetStream so that events published
// by one server process reach subscribers in others.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bridgekit-io/mathteacher/eventsource"
	"github.com/bridgekit-io/mathteacher/logging"
	"github.com/nats-io/nats.go"
)

// ErrInvalidNamespace means the key has no usable namespace to name a stream after
// (e.g. "calculator" instead of "Calculator.Add").
var ErrInvalidNamespace = errors.New("key does not have valid namespace: e.g. 'calculator' instead of 'Calculator.Add'")

// Broker connects to NATS and returns a JetStream-backed broker. Each key namespace gets
// its own stream, created on first use: stream "Calculator" holds "Calculator.Add" and
// "Calculator.Add.Error" alike. An unreachable server is reported right away.
func Broker(options ...Option) (*Client, error) {
	c := &Client{
		uri:            nats.DefaultURL,
		name:           "mathteacher",
		connectTimeout: 2 * time.Second,
		logger:         logging.Discard(),
		streams:        map[string]struct{}{},
		retention:      retention{maxAge: 7 * 24 * time.Hour, maxMsgs: -1, maxBytes: -1},
	}
	for _, option := range options {
		option(c)
	}

	conn, err := nats.Connect(c.uri, nats.Name(c.name), nats.Timeout(c.connectTimeout))
	if err != nil {
		return nil, fmt.Errorf("nats connect error: %s: %w", c.uri, err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("nats jetstream error: %w", err)
	}
	c.conn, c.jetstream = conn, js
	return c, nil
}

// Client is the NATS eventsource.Broker. Create one using Broker().
type Client struct {
	uri            string
	name           string
	connectTimeout time.Duration
	logger         *slog.Logger
	retention      retention

	mutex   sync.Mutex
	streams map[string]struct{}

	conn      *nats.Conn
	jetstream nats.JetStreamContext
}

// retention limits how much history each stream keeps. Negative values mean unlimited.
type retention struct {
	maxAge   time.Duration
	maxMsgs  int64
	maxBytes int64
}

func (r retention) matches(config nats.StreamConfig) bool {
	return r.maxAge == config.MaxAge && r.maxMsgs == config.MaxMsgs && r.maxBytes == config.MaxBytes
}

func (r retention) apply(config nats.StreamConfig) *nats.StreamConfig {
	config.MaxAge = r.maxAge
	config.MaxMsgs = r.maxMsgs
	config.MaxBytes = r.maxBytes
	return &config
}

func (c *Client) Publish(ctx context.Context, key string, payload []byte) error {
	if err := c.ensureStream(key); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	if _, err := c.jetstream.Publish(key, payload, nats.Context(ctx)); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

func (c *Client) Subscribe(_ context.Context, key string, handlerFunc eventsource.EventHandlerFunc) (eventsource.Subscription, error) {
	if err := c.ensureStream(key); err != nil {
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}
	sub, err := c.jetstream.Subscribe(key, c.dispatch(handlerFunc), nats.DeliverNew())
	if err != nil {
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}
	return subscription{sub}, nil
}

// SubscribeGroup maps the consumer group onto a NATS queue group.
func (c *Client) SubscribeGroup(_ context.Context, key string, group string, handlerFunc eventsource.EventHandlerFunc) (eventsource.Subscription, error) {
	if err := c.ensureStream(key); err != nil {
		return nil, fmt.Errorf("nats subscribe group: %w", err)
	}
	sub, err := c.jetstream.QueueSubscribe(key, queueName(group), c.dispatch(handlerFunc), nats.DeliverNew())
	if err != nil {
		return nil, fmt.Errorf("nats subscribe group: %w", err)
	}
	return subscription{sub}, nil
}

// Close drains pending publishes and subscriptions, then disconnects.
func (c *Client) Close() error {
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	return c.conn.Drain()
}

// dispatch adapts a handler to NATS. The event is stamped with the time JetStream stored it.
func (c *Client) dispatch(handlerFunc eventsource.EventHandlerFunc) nats.MsgHandler {
	return func(m *nats.Msg) {
		evt := &eventsource.EventMessage{Timestamp: time.Now(), Key: m.Subject, Payload: m.Data}
		if meta, err := m.Metadata(); err == nil {
			evt.Timestamp = meta.Timestamp
		}
		if err := handlerFunc(context.Background(), evt); err != nil {
			c.logger.Warn("Error handling subscription", "key", m.Subject, "error", err)
		}
	}
}

// streamName is the stream that holds the key: its namespace, which can't be a wildcard.
func streamName(key string) (string, error) {
	namespace := eventsource.Namespace(key)
	if namespace == "" || strings.ContainsAny(namespace, "*>") {
		return "", ErrInvalidNamespace
	}
	return namespace, nil
}

// ensureStream creates the key's stream, or brings an existing one's retention up to date.
// The server is only consulted the first time a namespace comes up.
func (c *Client) ensureStream(key string) error {
	name, err := streamName(key)
	if err != nil {
		return err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if _, ok := c.streams[name]; ok {
		return nil
	}

	info, err := c.jetstream.StreamInfo(name)
	switch {
	case errors.Is(err, nats.ErrStreamNotFound):
		_, err = c.jetstream.AddStream(c.retention.apply(nats.StreamConfig{
			Name:      name,
			Subjects:  []string{name + ".>"},
			Retention: nats.LimitsPolicy,
		}))
	case err == nil && !c.retention.matches(info.Config):
		_, err = c.jetstream.UpdateStream(c.retention.apply(info.Config))
	}
	if err != nil {
		return fmt.Errorf("load stream: %w", err)
	}
	c.streams[name] = struct{}{}
	return nil
}

// queueName makes a consumer group usable as a queue name, which can't contain periods:
// "Audit.Calculator.Add" becomes "Audit_Calculator_Add".
func queueName(group string) string {
	return strings.ReplaceAll(group, ".", "_")
}

type subscription struct {
	*nats.Subscription
}

func (s subscription) Close() error {
	err := s.Unsubscribe()
	if errors.Is(err, nats.ErrConnectionClosed) {
		return nil
	}
	return err
}

// Option customizes the NATS broker.
type Option func(c *Client)

// WithAddress sets the server to connect to, with or without a scheme
// ("localhost:4222", "nats://localhost:4222").
func WithAddress(address string) Option {
	return func(c *Client) {
		if _, hostPort, ok := strings.Cut(address, "://"); ok {
			address = hostPort
		}
		c.uri = "nats://" + address
	}
}

// WithName is the connection name shown in the server's monitoring endpoints.
func WithName(name string) Option {
	return func(c *Client) {
		c.name = name
	}
}

func WithConnectTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.connectTimeout = timeout
	}
}

// WithLogger sets where subscriber failures are reported.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMaxAge limits how long a stream keeps events.
func WithMaxAge(ttl time.Duration) Option {
	return func(c *Client) {
		c.retention.maxAge = ttl
	}
}

// WithMaxBytes limits the total size of the events a stream keeps.
func WithMaxBytes(maxBytes int64) Option {
	return func(c *Client) {
		c.retention.maxBytes = maxBytes
	}
}

// WithMaxMsgs limits how many events a stream keeps.
func WithMaxMsgs(maxMsgs int64) Option {
	return func(c *Client) {
		c.retention.maxMsgs = maxMsgs
	}
}
