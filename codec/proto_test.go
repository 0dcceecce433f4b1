//go:build unit

package codec_test

import (
	"testing"

	"github.com/bridgekit-io/mathteacher/codec"
	"github.com/stretchr/testify/suite"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestProtoSuite(t *testing.T) {
	suite.Run(t, new(ProtoSuite))
}

type ProtoSuite struct {
	suite.Suite
}

func (suite *ProtoSuite) TestName() {
	suite.Equal("proto", codec.ProtoCodec{}.Name())
}

func (suite *ProtoSuite) TestMessage() {
	data, err := codec.ProtoCodec{}.Marshal(&testMessage{Text: "Hello"})
	suite.Require().NoError(err)

	// Should be indistinguishable from the equivalent generated message.
	expected, _ := proto.Marshal(wrapperspb.String("Hello"))
	suite.Equal(expected, data)

	out := &testMessage{}
	suite.Require().NoError(codec.ProtoCodec{}.Unmarshal(data, out))
	suite.Equal("Hello", out.Text)
}

func (suite *ProtoSuite) TestProtoMessage() {
	data, err := codec.ProtoCodec{}.Marshal(wrapperspb.Int64(-21))
	suite.Require().NoError(err)

	out := &wrapperspb.Int64Value{}
	suite.Require().NoError(codec.ProtoCodec{}.Unmarshal(data, out))
	suite.Equal(int64(-21), out.GetValue())
}

func (suite *ProtoSuite) TestUnsupportedTypes() {
	_, err := codec.ProtoCodec{}.Marshal("Hello")
	suite.Error(err)

	_, err = codec.ProtoCodec{}.Marshal(struct{ Num1 int32 }{Num1: 2})
	suite.Error(err)

	var text string
	suite.Error(codec.ProtoCodec{}.Unmarshal([]byte{}, &text))
}

func (suite *ProtoSuite) TestUnmarshal_malformed() {
	suite.Error(codec.ProtoCodec{}.Unmarshal([]byte{0x0A, 0x05, 'H'}, &testMessage{}))
}

// testMessage has a single string field #1, just like wrapperspb.StringValue.
type testMessage struct {
	Text string
}

func (m *testMessage) MarshalWire() ([]byte, error) {
	var data []byte
	if m.Text != "" {
		data = protowire.AppendTag(data, 1, protowire.BytesType)
		data = protowire.AppendString(data, m.Text)
	}
	return data, nil
}

func (m *testMessage) UnmarshalWire(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		if num == 1 && typ == protowire.BytesType {
			text, n := protowire.ConsumeString(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.Text = text
			data = data[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
	}
	return nil
}
