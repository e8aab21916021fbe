package frames

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the Frame oneof in frames.proto
const (
	fieldText          = 1
	fieldAudio         = 2
	fieldTranscription = 3
)

// Marshal encodes a frame into its protobuf wire representation
func Marshal(f Frame) ([]byte, error) {
	switch m := f.(type) {
	case *TextFrame:
		return appendMessage(nil, fieldText, marshalText(m)), nil
	case *AudioFrame:
		if len(m.Audio) == 0 {
			return nil, fmt.Errorf("audio frame has empty payload")
		}
		return appendMessage(nil, fieldAudio, marshalAudio(m)), nil
	case *TranscriptionFrame:
		return appendMessage(nil, fieldTranscription, marshalTranscription(m)), nil
	default:
		return nil, fmt.Errorf("unsupported frame type %T", f)
	}
}

// Unmarshal decodes a protobuf wire message into a frame
func Unmarshal(data []byte) (Frame, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty frame")
	}

	num, typ, n := protowire.ConsumeTag(data)
	if n < 0 {
		return nil, fmt.Errorf("malformed frame tag: %w", protowire.ParseError(n))
	}
	if typ != protowire.BytesType {
		return nil, fmt.Errorf("unexpected wire type %d for frame field %d", typ, num)
	}

	body, m := protowire.ConsumeBytes(data[n:])
	if m < 0 {
		return nil, fmt.Errorf("malformed frame body: %w", protowire.ParseError(m))
	}

	switch num {
	case fieldText:
		return unmarshalText(body)
	case fieldAudio:
		return unmarshalAudio(body)
	case fieldTranscription:
		return unmarshalTranscription(body)
	default:
		return nil, fmt.Errorf("unknown frame field %d", num)
	}
}

func marshalText(f *TextFrame) []byte {
	var b []byte
	b = appendUint64(b, 1, f.ID)
	b = appendString(b, 2, f.Name)
	b = appendString(b, 3, f.Text)
	return b
}

func marshalAudio(f *AudioFrame) []byte {
	var b []byte
	b = appendUint64(b, 1, f.ID)
	b = appendString(b, 2, f.Name)
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendBytes(b, f.Audio)
	b = appendUint32(b, 4, f.SampleRate)
	b = appendUint32(b, 5, f.NumChannels)
	return b
}

func marshalTranscription(f *TranscriptionFrame) []byte {
	var b []byte
	b = appendUint64(b, 1, f.ID)
	b = appendString(b, 2, f.Name)
	b = appendString(b, 3, f.Text)
	b = appendString(b, 4, f.UserID)
	b = appendString(b, 5, f.Timestamp)
	return b
}

func unmarshalText(data []byte) (*TextFrame, error) {
	f := &TextFrame{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, payload []byte) error {
		switch num {
		case 1:
			f.ID = decodeUint64(payload, typ)
		case 2:
			f.Name = string(payload)
		case 3:
			f.Text = string(payload)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("malformed text frame: %w", err)
	}
	return f, nil
}

func unmarshalAudio(data []byte) (*AudioFrame, error) {
	f := &AudioFrame{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, payload []byte) error {
		switch num {
		case 1:
			f.ID = decodeUint64(payload, typ)
		case 2:
			f.Name = string(payload)
		case 3:
			f.Audio = append([]byte(nil), payload...)
		case 4:
			f.SampleRate = uint32(decodeUint64(payload, typ))
		case 5:
			f.NumChannels = uint32(decodeUint64(payload, typ))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("malformed audio frame: %w", err)
	}
	if len(f.Audio) == 0 {
		return nil, fmt.Errorf("audio frame has empty payload")
	}
	return f, nil
}

func unmarshalTranscription(data []byte) (*TranscriptionFrame, error) {
	f := &TranscriptionFrame{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, payload []byte) error {
		switch num {
		case 1:
			f.ID = decodeUint64(payload, typ)
		case 2:
			f.Name = string(payload)
		case 3:
			f.Text = string(payload)
		case 4:
			f.UserID = string(payload)
		case 5:
			f.Timestamp = string(payload)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("malformed transcription frame: %w", err)
	}
	return f, nil
}

// walkFields iterates over the fields of an embedded message, handing each
// field's payload to fn. Varint payloads are re-encoded so fn can decode
// them uniformly; unknown fields are skipped.
func walkFields(data []byte, fn func(num protowire.Number, typ protowire.Type, payload []byte) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return protowire.ParseError(m)
			}
			if err := fn(num, typ, protowire.AppendVarint(nil, v)); err != nil {
				return err
			}
			data = data[m:]
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return protowire.ParseError(m)
			}
			if err := fn(num, typ, v); err != nil {
				return err
			}
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return protowire.ParseError(m)
			}
			data = data[m:]
		}
	}
	return nil
}

func decodeUint64(payload []byte, typ protowire.Type) uint64 {
	if typ != protowire.VarintType {
		return 0
	}
	v, n := protowire.ConsumeVarint(payload)
	if n < 0 {
		return 0
	}
	return v
}

func appendUint64(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendUint32(b []byte, num protowire.Number, v uint32) []byte {
	return appendUint64(b, num, uint64(v))
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}
