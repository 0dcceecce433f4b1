package calculator

import (
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	fieldNum1   = protowire.Number(1)
	fieldNum2   = protowire.Number(2)
	fieldResult = protowire.Number(1)
)

// MarshalWire encodes the operands in the protobuf binary format. Zero values are omitted
// and negative values are sign-extended to 64 bits, exactly like a generated int32 field.
func (n *Numbers) MarshalWire() ([]byte, error) {
	var data []byte
	data = appendVarintField(data, fieldNum1, int64(n.Num1))
	data = appendVarintField(data, fieldNum2, int64(n.Num2))
	return data, nil
}

// UnmarshalWire decodes protobuf binary data onto the operands. Unknown fields are skipped.
func (n *Numbers) UnmarshalWire(data []byte) error {
	*n = Numbers{}
	return consumeVarintFields(data, func(num protowire.Number, value uint64) {
		switch num {
		case fieldNum1:
			n.Num1 = int32(value)
		case fieldNum2:
			n.Num2 = int32(value)
		}
	})
}

// MarshalWire encodes the result in the protobuf binary format.
func (r *Result) MarshalWire() ([]byte, error) {
	return appendVarintField(nil, fieldResult, r.Result), nil
}

// UnmarshalWire decodes protobuf binary data onto the result. Unknown fields are skipped.
func (r *Result) UnmarshalWire(data []byte) error {
	*r = Result{}
	return consumeVarintFields(data, func(num protowire.Number, value uint64) {
		if num == fieldResult {
			r.Result = int64(value)
		}
	})
}

func appendVarintField(data []byte, num protowire.Number, value int64) []byte {
	if value == 0 {
		return data
	}
	data = protowire.AppendTag(data, num, protowire.VarintType)
	return protowire.AppendVarint(data, uint64(value))
}

// consumeVarintFields walks every field in the message, handing varint fields to 'apply'. Fields
// of any other wire type are validated and skipped, just like unknown fields in generated code.
func consumeVarintFields(data []byte, apply func(num protowire.Number, value uint64)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		if typ == protowire.VarintType {
			value, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			apply(num, value)
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
