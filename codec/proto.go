package codec

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

// ProtoName is the gRPC content-subtype handled by ProtoCodec. It matches the name of the
// codec that stock gRPC clients use, so "application/grpc+proto" traffic flows through it.
const ProtoName = "proto"

// Message is a value that knows how to convert itself to/from the protocol buffer binary wire
// format without any generated code. Service request/response types implement this so that
// they can travel over gRPC.
type Message interface {
	// MarshalWire returns the protobuf binary encoding of the value.
	MarshalWire() ([]byte, error)
	// UnmarshalWire overwrites the value with the decoded protobuf binary data.
	UnmarshalWire(data []byte) error
}

// ProtoCodec is a gRPC codec (google.golang.org/grpc/encoding.Codec) that encodes Message values
// using their own wire methods. Generated protobuf messages (e.g. the ones used by the standard
// health checking service) are encoded using the standard proto package.
type ProtoCodec struct{}

// Name returns "proto".
func (ProtoCodec) Name() string {
	return ProtoName
}

// Marshal converts the value into protobuf binary data.
func (ProtoCodec) Marshal(value any) ([]byte, error) {
	switch msg := value.(type) {
	case Message:
		return msg.MarshalWire()
	case proto.Message:
		return proto.Marshal(msg)
	default:
		return nil, fmt.Errorf("proto codec: unable to marshal type %T", value)
	}
}

// Unmarshal decodes the protobuf binary data onto the 'out' value.
func (ProtoCodec) Unmarshal(data []byte, out any) error {
	switch msg := out.(type) {
	case Message:
		return msg.UnmarshalWire(data)
	case proto.Message:
		return proto.Unmarshal(data, msg)
	default:
		return fmt.Errorf("proto codec: unable to unmarshal type %T", out)
	}
}
