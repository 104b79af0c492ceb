package shard

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/turbot/shardpipe/types"
)

// protobuf field numbers of a serialized sample
const (
	fieldId      protowire.Number = 1
	fieldImage   protowire.Number = 2
	fieldFormat  protowire.Number = 3
	fieldHeight  protowire.Number = 4
	fieldWidth   protowire.Number = 5
	fieldBoxes   protowire.Number = 6
	fieldClasses protowire.Number = 7
)

// MarshalSample appends the protobuf wire encoding of the sample to b
// The sample is validated first - an invalid sample is never serialized
func MarshalSample(b []byte, s *types.Sample) ([]byte, error) {
	if s == nil {
		return nil, errors.New("cannot marshal nil sample")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	b = protowire.AppendTag(b, fieldId, protowire.BytesType)
	b = protowire.AppendString(b, s.Id)
	b = protowire.AppendTag(b, fieldImage, protowire.BytesType)
	b = protowire.AppendBytes(b, s.Image)
	if s.Format != "" {
		b = protowire.AppendTag(b, fieldFormat, protowire.BytesType)
		b = protowire.AppendString(b, s.Format)
	}
	b = protowire.AppendTag(b, fieldHeight, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.Height))
	b = protowire.AppendTag(b, fieldWidth, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.Width))

	if len(s.Boxes) > 0 {
		var packed []byte
		for _, box := range s.Boxes {
			for _, v := range box {
				packed = protowire.AppendFixed32(packed, math.Float32bits(v))
			}
		}
		b = protowire.AppendTag(b, fieldBoxes, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)

		packed = packed[:0]
		for _, c := range s.Classes {
			packed = protowire.AppendVarint(packed, uint64(uint32(c)))
		}
		b = protowire.AppendTag(b, fieldClasses, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	return b, nil
}

// UnmarshalSample decodes a sample serialized by MarshalSample
func UnmarshalSample(b []byte) (*types.Sample, error) {
	s := &types.Sample{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %w", ErrCorruptRecord, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldId && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, consumeError(num, n)
			}
			s.Id = v
			b = b[n:]
		case num == fieldImage && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, consumeError(num, n)
			}
			s.Image = append([]byte(nil), v...)
			b = b[n:]
		case num == fieldFormat && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, consumeError(num, n)
			}
			s.Format = v
			b = b[n:]
		case (num == fieldHeight || num == fieldWidth) && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, consumeError(num, n)
			}
			if num == fieldHeight {
				s.Height = int(v)
			} else {
				s.Width = int(v)
			}
			b = b[n:]
		case num == fieldBoxes && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, consumeError(num, n)
			}
			boxes, err := unpackBoxes(v)
			if err != nil {
				return nil, err
			}
			s.Boxes = boxes
			b = b[n:]
		case num == fieldClasses && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, consumeError(num, n)
			}
			for len(v) > 0 {
				c, m := protowire.ConsumeVarint(v)
				if m < 0 {
					return nil, consumeError(num, m)
				}
				s.Classes = append(s.Classes, int32(uint32(c)))
				v = v[m:]
			}
			b = b[n:]
		default:
			// skip unknown fields
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, consumeError(num, n)
			}
			b = b[n:]
		}
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}
	return s, nil
}

func unpackBoxes(v []byte) ([]types.Box, error) {
	const boxSize = 4 * 4
	if len(v)%boxSize != 0 {
		return nil, fmt.Errorf("%w: packed boxes length %d is not a multiple of %d", ErrCorruptRecord, len(v), boxSize)
	}
	boxes := make([]types.Box, 0, len(v)/boxSize)
	for len(v) > 0 {
		var box types.Box
		for i := range box {
			bits, n := protowire.ConsumeFixed32(v)
			if n < 0 {
				return nil, consumeError(fieldBoxes, n)
			}
			box[i] = math.Float32frombits(bits)
			v = v[n:]
		}
		boxes = append(boxes, box)
	}
	return boxes, nil
}

func consumeError(num protowire.Number, n int) error {
	return fmt.Errorf("%w: field %d: %w", ErrCorruptRecord, num, protowire.ParseError(n))
}
