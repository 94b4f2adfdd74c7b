// Package codec implements the bus's encode/decode boundary over arbitrary
// serializable values, with a JSON codec (stdlib, portable) and a
// MessagePack codec (github.com/vmihailenco/msgpack/v5, compact binary).
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Op identifies which codec operation failed, for CodecError.
type Op string

const (
	OpEncode Op = "encode"
	OpDecode Op = "decode"
)

// CodecError wraps an underlying encode/decode failure with the operation
// and codec name.
type CodecError struct {
	Codec string
	Op    Op
	Err   error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("codec %s: %s failed: %v", e.Codec, e.Op, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }

// Codec is the serialize/deserialize boundary. Name is exposed for
// telemetry (bus publish events report codecUsed).
type Codec interface {
	Name() string
	Encode(value any) ([]byte, error)
	Decode(data []byte, out any) error
}

// JSON is the default, human-readable codec.
type JSON struct{}

func (JSON) Name() string { return "json" }

func (c JSON) Encode(value any) ([]byte, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return nil, &CodecError{Codec: c.Name(), Op: OpEncode, Err: err}
	}
	return b, nil
}

func (c JSON) Decode(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return &CodecError{Codec: c.Name(), Op: OpDecode, Err: err}
	}
	return nil
}

// Binary is a compact MessagePack-backed codec, used when payload size or
// encode/decode latency matters more than human readability.
type Binary struct{}

func (Binary) Name() string { return "binary" }

func (c Binary) Encode(value any) ([]byte, error) {
	b, err := msgpack.Marshal(value)
	if err != nil {
		return nil, &CodecError{Codec: c.Name(), Op: OpEncode, Err: err}
	}
	return b, nil
}

func (c Binary) Decode(data []byte, out any) error {
	if err := msgpack.Unmarshal(data, out); err != nil {
		return &CodecError{Codec: c.Name(), Op: OpDecode, Err: err}
	}
	return nil
}

// ByName resolves a codec by its configuration name. "custom" is not
// resolvable here, callers supplying a custom codec construct it directly
// and never go through ByName.
func ByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON{}, nil
	case "binary", "msgpack":
		return Binary{}, nil
	default:
		return nil, fmt.Errorf("codec: unsupported codec name %q", name)
	}
}
