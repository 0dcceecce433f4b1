package events

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/bridgekit-io/mathteacher/codec"
	"github.com/bridgekit-io/mathteacher/eventsource"
	"github.com/bridgekit-io/mathteacher/fail"
	"github.com/bridgekit-io/mathteacher/metadata"
	"github.com/bridgekit-io/mathteacher/services"
)

// publishTimeout bounds how long a single event may take to reach the broker.
const publishTimeout = 10 * time.Second

// message is the envelope published after every service call.
type message struct {
	// Key is "Service.Method", or "Service.Method.Error" for failed calls.
	Key         string
	ServiceName string
	Name        string
	// Metadata follows the call into whatever handles the event (trace id, caller address).
	Metadata metadata.EncodedBytes
	// Payload is the encoded result on success and the encoded request on failure. It is
	// decoded into the subscribing endpoint's input.
	Payload []byte
	Error   *fail.StatusError `json:",omitempty" msgpack:",omitempty"`
}

// newMessage describes a finished call. It returns the envelope along with the value that
// belongs in its payload.
func newMessage(ctx context.Context, req any, res any, err error) (message, any) {
	route := metadata.Route(ctx)
	msg := message{
		Key:         route.QualifiedName(),
		ServiceName: route.ServiceName,
		Name:        route.Name,
		Metadata:    metadata.Encode(ctx),
	}
	if err == nil {
		return msg, res
	}

	status := fail.New(fail.Status(err), "%s", err.Error())
	msg.Key += ".Error"
	msg.Error = &status
	return msg, req
}

// encode writes the payload into the envelope and then encodes the envelope itself.
func (msg message) encode(encoder codec.Encoder, payload any) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := encoder.Encode(buf, payload); err != nil {
		return nil, fmt.Errorf("event payload encode error: %w", err)
	}
	msg.Payload = bytes.Clone(buf.Bytes())

	buf.Reset()
	if err := encoder.Encode(buf, msg); err != nil {
		return nil, fmt.Errorf("event encode error: %w", err)
	}
	return buf.Bytes(), nil
}

// publishMiddleware publishes an event once the endpoint finishes, no matter which gateway the
// call came through. Publishing happens in the background so the caller never waits on the
// broker; failures go to the error listener.
func publishMiddleware(publisher eventsource.Publisher, encoder codec.Encoder, errorListener ErrorListener) services.MiddlewareFunc {
	return func(ctx context.Context, req any, next services.HandlerFunc) (any, error) {
		res, err := next(ctx, req)

		msg, payload := newMessage(ctx, req, res, err)
		route := metadata.Route(ctx)
		go func() {
			data, encodeErr := msg.encode(encoder, payload)
			if encodeErr != nil {
				errorListener(route, encodeErr)
				return
			}

			// The caller's context is probably gone by now.
			pubCtx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			defer cancel()
			if pubErr := publisher.Publish(pubCtx, msg.Key, data); pubErr != nil {
				errorListener(route, fmt.Errorf("event publish error: %w", pubErr))
			}
		}()
		return res, err
	}
}
