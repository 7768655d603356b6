// Package encoding turns handler values into response payloads.
package encoding

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// Content types produced by the encoders.
const (
	ContentTypeJSON     = "application/json"
	ContentTypeProtobuf = "application/x-protobuf"
)

var (
	// ErrEncode marks every failure to encode a value.
	ErrEncode = errors.New("encode failed")

	// ErrUnsupportedEncoder is returned by ForName for unknown names.
	ErrUnsupportedEncoder = errors.New("unsupported encoder")
)

// Encoder encodes a value into a payload and names its content type.
type Encoder interface {
	Encode(v any) (data []byte, contentType string, err error)

	// Name returns the encoder name
	Name() string
}

// ForName returns an encoder by name: "json", "protobuf" or "protojson".
func ForName(name string) (Encoder, error) {
	switch name {
	case "json":
		return JSON{}, nil
	case "protobuf":
		return Protobuf{}, nil
	case "protojson":
		return ProtoJSON{}, nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedEncoder, "%q", name)
	}
}

// JSON encodes values with encoding/json.
type JSON struct{}

func (JSON) Encode(v any) ([]byte, string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, "", errors.Mark(errors.Wrap(err, "json"), ErrEncode)
	}
	return data, ContentTypeJSON, nil
}

func (JSON) Name() string { return "json" }

// Protobuf encodes proto messages in binary wire format.
type Protobuf struct{}

func (Protobuf) Encode(v any) ([]byte, string, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, "", errors.Wrapf(ErrEncode, "protobuf: value must implement proto.Message, got %T", v)
	}

	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, "", errors.Mark(errors.Wrap(err, "protobuf"), ErrEncode)
	}
	return data, ContentTypeProtobuf, nil
}

func (Protobuf) Name() string { return "protobuf" }

// ProtoJSON encodes proto messages with the canonical JSON mapping.
type ProtoJSON struct {
	Options protojson.MarshalOptions
}

func (p ProtoJSON) Encode(v any) ([]byte, string, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, "", errors.Wrapf(ErrEncode, "protojson: value must implement proto.Message, got %T", v)
	}

	data, err := p.Options.Marshal(msg)
	if err != nil {
		return nil, "", errors.Mark(errors.Wrap(err, "protojson"), ErrEncode)
	}
	return data, ContentTypeJSON, nil
}

func (ProtoJSON) Name() string { return "protojson" }
